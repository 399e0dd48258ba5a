package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alexschlessinger/pollyquery/steps"
)

// ErrMalformedFrame is returned when a received frame cannot be decoded
var ErrMalformedFrame = errors.New("malformed frame")

// ErrEncode is returned when an event's payload cannot be rendered as JSON,
// e.g. a result cell holding NaN
var ErrEncode = errors.New("event not encodable")

const dataPrefix = "data:"

// wireEvent is the JSON object carried by one frame
type wireEvent struct {
	Type         Type                 `json:"type"`
	Step         *steps.ReasoningStep `json:"step,omitempty"`
	Content      *string              `json:"content,omitempty"`
	Summary      *string              `json:"summary,omitempty"`
	Answer       string               `json:"answer,omitempty"`
	SQLQuery     *string              `json:"sql_query,omitempty"`
	QueryResults *[][]any             `json:"query_results,omitempty"`
	Columns      *[]string            `json:"columns,omitempty"`
}

// Encode renders an event as one frame: "data: <json>\n\n". JSON string
// escaping keeps newlines and control characters out of the frame body.
// A reasoning_step whose step is invalid yields a nil frame and an error
// wrapping steps.ErrMalformedStep; a payload json cannot represent wraps
// ErrEncode.
func Encode(ev Event) ([]byte, error) {
	w, err := toWire(ev)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncode, ev.Type, err)
	}

	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}

func toWire(ev Event) (*wireEvent, error) {
	w := &wireEvent{Type: ev.Type}

	switch ev.Type {
	case TypeReasoningStep:
		if ev.Step == nil {
			return nil, fmt.Errorf("%w: reasoning_step without step", steps.ErrMalformedStep)
		}
		if err := ev.Step.Validate(); err != nil {
			return nil, err
		}
		w.Step = ev.Step

	case TypeAnswerToken, TypeError:
		text := ev.Text
		w.Content = &text

	case TypeAnswerComplete:

	case TypeFinalResult:
		result := ev.Result
		if result == nil {
			result = &FinalResult{}
		}
		summary := result.Summary
		w.Summary = &summary
		w.Answer = result.Answer
		w.SQLQuery = result.GeneratedQuery
		// nil stays off the wire, an empty list is sent as []
		if result.Rows != nil {
			w.QueryResults = &result.Rows
		}
		if result.Columns != nil {
			w.Columns = &result.Columns
		}

	default:
		return nil, fmt.Errorf("encode: unknown event type %q", ev.Type)
	}

	return w, nil
}

// Decode parses a single frame produced by Encode. Trailing blank lines
// are optional. Any failure wraps ErrMalformedFrame.
func Decode(frame []byte) (Event, error) {
	line := bytes.TrimRight(frame, "\r\n")
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return Event{}, fmt.Errorf("%w: missing %q prefix", ErrMalformedFrame, dataPrefix)
	}
	body := bytes.TrimPrefix(line[len(dataPrefix):], []byte(" "))

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var w wireEvent
	if err := dec.Decode(&w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if dec.More() {
		return Event{}, fmt.Errorf("%w: trailing data after object", ErrMalformedFrame)
	}

	return fromWire(&w)
}

func fromWire(w *wireEvent) (Event, error) {
	ev := Event{Type: w.Type}

	switch w.Type {
	case TypeReasoningStep:
		if w.Step == nil {
			return Event{}, fmt.Errorf("%w: reasoning_step without step", ErrMalformedFrame)
		}
		if err := w.Step.Validate(); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		ev.Step = w.Step

	case TypeAnswerToken, TypeError:
		if w.Content != nil {
			ev.Text = *w.Content
		}

	case TypeAnswerComplete:

	case TypeFinalResult:
		result := FinalResult{
			Answer:         w.Answer,
			GeneratedQuery: w.SQLQuery,
		}
		if w.Summary != nil {
			result.Summary = *w.Summary
		} else {
			result.Summary = w.Answer
		}
		if w.QueryResults != nil {
			result.Rows = *w.QueryResults
		}
		if w.Columns != nil {
			result.Columns = *w.Columns
		}
		ev.Result = &result

	default:
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, w.Type)
	}

	return ev, nil
}
