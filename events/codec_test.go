package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/alexschlessinger/pollyquery/steps"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// awkward is appended to generated text so escaping is always exercised
const awkward = "line1\nline2\r\n\t\"quoted\" \\   \x00 data: x\n\n"

// buildEvent derives a valid event deterministically from generator output
func buildEvent(selector int, a, b string, n int, withSpecials bool) Event {
	if withSpecials {
		a += awkward
	}

	switch selector % 8 {
	case 0:
		return StepEvent(steps.Thought("t" + a))
	case 1:
		return StepEvent(steps.Action("sql_db_query", a))
	case 2:
		return StepEvent(steps.Observation("o" + b))
	case 3:
		return TokenEvent(a)
	case 4:
		return CompleteEvent()
	case 5:
		return ErrorEvent(a)
	case 6:
		// general answer: no query, no rows
		return ResultEvent(FinalResult{Summary: a, Answer: b})
	default:
		query := "SELECT name, total FROM t WHERE x = '" + b + "'"
		var rows [][]any
		if n == 0 && len(b)%2 == 1 {
			// the query ran and matched nothing
			rows = [][]any{}
		}
		for i := 0; i < n; i++ {
			rows = append(rows, []any{a, json.Number(fmt.Sprint(i * 7)), i%2 == 0, nil})
		}
		var columns []string
		if rows != nil {
			columns = []string{"name", "total", "flag", "missing"}
		}
		return ResultEvent(FinalResult{
			Summary:        b,
			Answer:         a,
			GeneratedQuery: &query,
			Rows:           rows,
			Columns:        columns,
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("decode(encode(e)) == e", prop.ForAll(
		func(selector int, a, b string, n int, specials bool) bool {
			ev := buildEvent(selector, a, b, n, specials)
			frame, err := Encode(ev)
			if err != nil {
				return false
			}
			got, err := Decode(frame)
			if err != nil {
				return false
			}
			return assert.ObjectsAreEqual(ev, got)
		},
		gen.IntRange(0, 7),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.IntRange(0, 5),
		gen.Bool(),
	))

	properties.Property("frames contain no newline before the terminator", prop.ForAll(
		func(selector int, a, b string) bool {
			frame, err := Encode(buildEvent(selector, a, b, 2, true))
			if err != nil {
				return false
			}
			s := string(frame)
			return strings.HasPrefix(s, "data: ") &&
				strings.HasSuffix(s, "\n\n") &&
				!strings.ContainsAny(s[:len(s)-2], "\r\n")
		},
		gen.IntRange(0, 7),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestEncodeWireTypes(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"step", StepEvent(steps.Thought("hmm")), `{"type":"reasoning_step","step":{"type":"thought","content":"hmm"}}`},
		{"action with empty input", StepEvent(steps.Action("sql_db_list_tables", "")), `{"type":"reasoning_step","step":{"type":"action","tool":"sql_db_list_tables","input":""}}`},
		{"token", TokenEvent("Hel"), `{"type":"chat_token","content":"Hel"}`},
		{"done", CompleteEvent(), `{"type":"chat_done"}`},
		{"error", ErrorEvent("boom"), `{"type":"error","content":"boom"}`},
		{"general result", ResultEvent(FinalResult{Summary: "Hello"}), `{"type":"final_result","summary":"Hello"}`},
		{"empty result", ResultEvent(FinalResult{Summary: "s", Rows: [][]any{}, Columns: []string{"a"}}), `{"type":"final_result","summary":"s","query_results":[],"columns":["a"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.ev)
			require.NoError(t, err)
			assert.Equal(t, "data: "+tt.want+"\n\n", string(frame))
		})
	}
}

func TestEncodeRejectsMalformedStep(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
	}{
		{"empty thought", Event{Type: TypeReasoningStep, Step: &steps.ReasoningStep{Kind: steps.KindThought}}},
		{"action without input", Event{Type: TypeReasoningStep, Step: &steps.ReasoningStep{Kind: steps.KindAction, Tool: "x"}}},
		{"nil step", Event{Type: TypeReasoningStep}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.ev)
			assert.Nil(t, frame)
			assert.True(t, errors.Is(err, steps.ErrMalformedStep), "got %v", err)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"no prefix", `{"type":"chat_done"}`},
		{"bad json", `data: {"type":`},
		{"unknown type", `data: {"type":"progress"}`},
		{"invalid step", `data: {"type":"reasoning_step","step":{"type":"thought"}}`},
		{"missing step", `data: {"type":"reasoning_step"}`},
		{"unknown step kind", `data: {"type":"reasoning_step","step":{"type":"plan","content":"x"}}`},
		{"trailing garbage", `data: {"type":"chat_done"} {}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			assert.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

func TestDecodeLenientForms(t *testing.T) {
	// no space after the colon, no trailing blank line
	ev, err := Decode([]byte(`data:{"type":"chat_token","content":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, TokenEvent("x"), ev)

	// summary missing: fall back to the answer
	ev, err = Decode([]byte(`data: {"type":"final_result","answer":"42"}` + "\n\n"))
	require.NoError(t, err)
	require.NotNil(t, ev.Result)
	assert.Equal(t, "42", ev.Result.Summary)
	assert.Nil(t, ev.Result.GeneratedQuery)

	// explicit nulls decode to absent
	ev, err = Decode([]byte(`data: {"type":"final_result","summary":"s","sql_query":null,"query_results":null,"columns":null}`))
	require.NoError(t, err)
	assert.Nil(t, ev.Result.GeneratedQuery)
	assert.Nil(t, ev.Result.Rows)
	assert.Nil(t, ev.Result.Columns)
}

func TestEmptyResultSurvivesRoundTrip(t *testing.T) {
	query := "SELECT a FROM t WHERE 0"
	ev := ResultEvent(FinalResult{Summary: "s", GeneratedQuery: &query, Rows: [][]any{}, Columns: []string{"a"}})

	frame, err := Encode(ev)
	require.NoError(t, err)
	got, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, ev, got)
	require.NotNil(t, got.Result.Rows)
	assert.Empty(t, got.Result.Rows)
}

func TestEncodeUnrepresentableResult(t *testing.T) {
	tests := []struct {
		name string
		cell any
	}{
		{"nan", math.NaN()},
		{"inf", math.Inf(1)},
		{"channel", make(chan int)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(ResultEvent(FinalResult{Summary: "s", Rows: [][]any{{tt.cell}}, Columns: []string{"x"}}))
			assert.Nil(t, frame)
			assert.ErrorIs(t, err, ErrEncode)
			assert.False(t, errors.Is(err, steps.ErrMalformedStep))
		})
	}
}

func TestDecodeKeepsNumbersExact(t *testing.T) {
	ev, err := Decode([]byte(`data: {"type":"final_result","summary":"s","query_results":[[9007199254740993, 1.50, "a"]],"columns":["a","b","c"]}`))
	require.NoError(t, err)
	require.Len(t, ev.Result.Rows, 1)
	assert.Equal(t, json.Number("9007199254740993"), ev.Result.Rows[0][0])
	assert.Equal(t, json.Number("1.50"), ev.Result.Rows[0][1])
}
