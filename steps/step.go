// Package steps models the intermediate reasoning steps a reasoning loop
// produces and the recorder that hands them to the stream orchestrator.
package steps

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedStep is returned when a step fails validation
var ErrMalformedStep = errors.New("malformed reasoning step")

// Kind identifies what a step represents
type Kind string

const (
	// KindThought is free-text reasoning emitted between tool calls
	KindThought Kind = "thought"
	// KindAction is a tool invocation with its input
	KindAction Kind = "action"
	// KindObservation is the output of a tool invocation
	KindObservation Kind = "observation"
)

// Known reports whether k is one of the closed set of step kinds
func (k Kind) Known() bool {
	switch k {
	case KindThought, KindAction, KindObservation:
		return true
	}
	return false
}

// ReasoningStep is one observed unit of agent activity.
// Input is a pointer so an action invoked with no arguments ("") can be
// told apart from an action whose input is missing.
type ReasoningStep struct {
	Kind    Kind    `json:"type"`
	Content string  `json:"content,omitempty"`
	Tool    string  `json:"tool,omitempty"`
	Input   *string `json:"input,omitempty"`
}

// Thought creates a thought step
func Thought(content string) ReasoningStep {
	return ReasoningStep{Kind: KindThought, Content: content}
}

// Action creates an action step
func Action(tool, input string) ReasoningStep {
	return ReasoningStep{Kind: KindAction, Tool: tool, Input: &input}
}

// Observation creates an observation step
func Observation(content string) ReasoningStep {
	return ReasoningStep{Kind: KindObservation, Content: content}
}

// Validate checks the step invariant: the kind is known, actions carry
// both a tool and an input, every other kind carries content.
func (s ReasoningStep) Validate() error {
	if !s.Kind.Known() {
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedStep, s.Kind)
	}

	if s.Kind == KindAction {
		if strings.TrimSpace(s.Tool) == "" {
			return fmt.Errorf("%w: action without tool", ErrMalformedStep)
		}
		if s.Input == nil {
			return fmt.Errorf("%w: action %q without input", ErrMalformedStep, s.Tool)
		}
		return nil
	}

	if s.Content == "" {
		return fmt.Errorf("%w: %s without content", ErrMalformedStep, s.Kind)
	}
	return nil
}

// InputString returns the action input, or "" when absent
func (s ReasoningStep) InputString() string {
	if s.Input == nil {
		return ""
	}
	return *s.Input
}

// Equal compares two steps by value, including input presence
func (s ReasoningStep) Equal(o ReasoningStep) bool {
	if s.Kind != o.Kind || s.Content != o.Content || s.Tool != o.Tool {
		return false
	}
	if (s.Input == nil) != (o.Input == nil) {
		return false
	}
	return s.Input == nil || *s.Input == *o.Input
}

// Clone returns a copy that shares no memory with s
func (s ReasoningStep) Clone() ReasoningStep {
	if s.Input != nil {
		in := *s.Input
		s.Input = &in
	}
	return s
}

// String renders the step for logs and terminal traces
func (s ReasoningStep) String() string {
	switch s.Kind {
	case KindAction:
		return fmt.Sprintf("action %s(%s)", s.Tool, s.InputString())
	default:
		return fmt.Sprintf("%s %s", s.Kind, s.Content)
	}
}

// Sink is the write capability handed to a reasoning loop. Record
// receives reasoning steps, Token receives fragments of answer text.
type Sink interface {
	Record(step ReasoningStep)
	Token(text string)
}
