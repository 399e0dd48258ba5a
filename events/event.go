// Package events defines the wire-level stream events and their
// line-oriented "data: <json>\n\n" framing.
package events

import (
	"fmt"

	"github.com/alexschlessinger/pollyquery/steps"
)

// Type is the wire "type" discriminator of a frame
type Type string

const (
	// TypeReasoningStep carries one reasoning step
	TypeReasoningStep Type = "reasoning_step"
	// TypeAnswerToken carries one fragment of incremental answer text
	TypeAnswerToken Type = "chat_token"
	// TypeAnswerComplete marks the end of token streaming
	TypeAnswerComplete Type = "chat_done"
	// TypeFinalResult is the successful terminal event
	TypeFinalResult Type = "final_result"
	// TypeError is the failed terminal event
	TypeError Type = "error"
)

// Known reports whether t is a recognised event type
func (t Type) Known() bool {
	switch t {
	case TypeReasoningStep, TypeAnswerToken, TypeAnswerComplete, TypeFinalResult, TypeError:
		return true
	}
	return false
}

// FinalResult is the structured payload of a successful stream.
// Row cells are JSON-native values: string, bool, nil or json.Number.
type FinalResult struct {
	Summary        string
	Answer         string
	GeneratedQuery *string
	Rows           [][]any
	Columns        []string
}

// Event is one unit of the stream. Which fields are set depends on Type:
// Step for reasoning_step, Text for chat_token and error, Result for final_result.
type Event struct {
	Type   Type
	Step   *steps.ReasoningStep
	Text   string
	Result *FinalResult
}

// StepEvent wraps a reasoning step
func StepEvent(step steps.ReasoningStep) Event {
	s := step.Clone()
	return Event{Type: TypeReasoningStep, Step: &s}
}

// TokenEvent wraps an answer fragment
func TokenEvent(text string) Event {
	return Event{Type: TypeAnswerToken, Text: text}
}

// CompleteEvent marks the end of answer tokens
func CompleteEvent() Event {
	return Event{Type: TypeAnswerComplete}
}

// ResultEvent wraps a final result
func ResultEvent(result FinalResult) Event {
	return Event{Type: TypeFinalResult, Result: &result}
}

// ErrorEvent wraps a human-readable failure message
func ErrorEvent(message string) Event {
	return Event{Type: TypeError, Text: message}
}

// IsTerminal reports whether no event may follow e
func (e Event) IsTerminal() bool {
	return e.Type == TypeFinalResult || e.Type == TypeError
}

// String renders a short description for logs
func (e Event) String() string {
	switch e.Type {
	case TypeReasoningStep:
		if e.Step == nil {
			return "reasoning_step <nil>"
		}
		return "reasoning_step " + e.Step.String()
	case TypeAnswerToken:
		return fmt.Sprintf("chat_token %q", e.Text)
	case TypeFinalResult:
		if e.Result == nil {
			return "final_result <nil>"
		}
		return fmt.Sprintf("final_result rows=%d columns=%d", len(e.Result.Rows), len(e.Result.Columns))
	case TypeError:
		return "error " + e.Text
	default:
		return string(e.Type)
	}
}
