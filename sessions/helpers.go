package sessions

import (
	"fmt"
	"strings"

	"dario.cat/mergo"
	"github.com/alexschlessinger/pollyquery/reconciler"
)

// UpsertMessage replaces the message with msg's ID or appends msg
func UpsertMessage(history []reconciler.Message, msg reconciler.Message) []reconciler.Message {
	for i := range history {
		if history[i].ID == msg.ID {
			history[i] = msg.Clone()
			return history
		}
	}
	return append(history, msg.Clone())
}

// TrimHistory keeps the most recent maxMessages messages. A leading
// assistant message is dropped so the history always starts with a question.
func TrimHistory(history []reconciler.Message, maxMessages int) []reconciler.Message {
	if maxMessages <= 0 || len(history) <= maxMessages {
		return history
	}
	history = history[len(history)-maxMessages:]
	for len(history) > 0 && history[0].Role != reconciler.RoleUser {
		history = history[1:]
	}
	return history
}

// CopyHistory returns a deep copy of history
func CopyHistory(history []reconciler.Message) []reconciler.Message {
	result := make([]reconciler.Message, len(history))
	for i, m := range history {
		result[i] = m.Clone()
	}
	return result
}

// MergeMetadata returns existing with the non-zero fields of update applied.
// Name and Created are never overwritten.
func MergeMetadata(existing, update *Metadata) *Metadata {
	if existing == nil {
		existing = &Metadata{}
	}
	out := *existing
	if update == nil {
		return &out
	}

	patch := *update
	patch.Name = ""
	patch.Created = out.Created
	if patch.LastUsed.IsZero() {
		patch.LastUsed = out.LastUsed
	}
	if err := mergo.Merge(&out, patch, mergo.WithOverride); err != nil {
		return existing
	}
	return &out
}

// ValidateName checks that name is safe to use as a file name
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("conversation name cannot be empty")
	}
	if strings.ContainsAny(name, "/\\:*?\"<>|") {
		return fmt.Errorf("conversation name contains invalid characters (/, \\, :, *, ?, \", <, >, |)")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("conversation name cannot be '.' or '..'")
	}
	if strings.HasPrefix(name, " ") || strings.HasSuffix(name, " ") {
		return fmt.Errorf("conversation name cannot start or end with spaces")
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return fmt.Errorf("conversation name cannot start or end with dots")
	}
	for _, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("conversation name contains control characters")
		}
	}
	return nil
}
