// Package reconciler rebuilds the assistant message a client displays from
// the event stream, and persists the conversation it belongs to.
package reconciler

import (
	"time"

	"github.com/alexschlessinger/pollyquery/steps"
)

// Role of a message author
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is the client-side view of one conversation turn
type Message struct {
	ID             string                `json:"id"`
	Role           Role                  `json:"role"`
	Content        string                `json:"content"`
	ReasoningSteps []steps.ReasoningStep `json:"reasoning_steps,omitempty"`
	IsStreaming    bool                  `json:"is_streaming"`
	GeneratedQuery *string               `json:"generated_query,omitempty"`
	ResultRows     [][]any               `json:"result_rows,omitempty"`
	Columns        []string              `json:"columns,omitempty"`
	Failed         bool                  `json:"failed,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// Clone returns a deep copy of m
func (m Message) Clone() Message {
	out := m
	if m.ReasoningSteps != nil {
		out.ReasoningSteps = make([]steps.ReasoningStep, len(m.ReasoningSteps))
		for i, s := range m.ReasoningSteps {
			out.ReasoningSteps[i] = s.Clone()
		}
	}
	if m.GeneratedQuery != nil {
		q := *m.GeneratedQuery
		out.GeneratedQuery = &q
	}
	out.ResultRows = cloneRows(m.ResultRows)
	if m.Columns != nil {
		out.Columns = append([]string(nil), m.Columns...)
	}
	return out
}

func cloneRows(rows [][]any) [][]any {
	if rows == nil {
		return nil
	}
	out := make([][]any, len(rows))
	for i, row := range rows {
		if row != nil {
			out[i] = append([]any(nil), row...)
		}
	}
	return out
}
