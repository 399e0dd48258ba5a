package events

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/alexschlessinger/pollyquery/steps"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriterDropsMalformedStepAndContinues(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec, "run_id", "run_test")

	require.NoError(t, w.Emit(StepEvent(steps.Thought("first"))))
	require.NoError(t, w.Emit(Event{Type: TypeReasoningStep, Step: &steps.ReasoningStep{Kind: steps.KindObservation}}))
	require.NoError(t, w.Emit(StepEvent(steps.Observation("second"))))
	require.NoError(t, w.Emit(ResultEvent(FinalResult{Summary: "done"})))

	assert.Equal(t, 1, w.Dropped())
	assert.Equal(t, 3, w.Frames())
	assert.True(t, rec.Flushed)

	p := NewParser()
	got := p.Feed(rec.Body.Bytes())
	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0].Step.Content)
	assert.Equal(t, "second", got[1].Step.Content)
	assert.Equal(t, TypeFinalResult, got[2].Type)
}

func TestWriterRefusesAfterTerminal(t *testing.T) {
	for _, terminal := range []Event{ErrorEvent("boom"), ResultEvent(FinalResult{Summary: "ok"})} {
		t.Run(string(terminal.Type), func(t *testing.T) {
			var buf bytes.Buffer
			w := NewWriter(&buf)

			require.NoError(t, w.Emit(terminal))
			assert.True(t, w.Closed())
			n := buf.Len()

			assert.ErrorIs(t, w.Emit(TokenEvent("late")), ErrStreamClosed)
			assert.ErrorIs(t, w.Emit(terminal), ErrStreamClosed)
			assert.Equal(t, n, buf.Len(), "nothing may follow a terminal event")
		})
	}
}

func TestWriterPropagatesWriteErrors(t *testing.T) {
	w := NewWriter(failingWriter{})
	err := w.Emit(TokenEvent("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
	assert.False(t, w.Closed())
}

// chunk splits data into pieces whose sizes cycle through sizes
func chunk(data []byte, sizes []int) [][]byte {
	if len(sizes) == 0 {
		return [][]byte{data}
	}
	var out [][]byte
	for i := 0; len(data) > 0; i++ {
		n := sizes[i%len(sizes)]
		if n > len(data) {
			n = len(data)
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

func TestParserChunkingInvariance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 150
	properties := gopter.NewProperties(parameters)

	properties.Property("any chunking yields the same events", prop.ForAll(
		func(texts []string, sizes []int) bool {
			var want []Event
			var stream bytes.Buffer
			for i, text := range texts {
				ev := buildEvent(i, text, text, i%3, i%2 == 0)
				frame, err := Encode(ev)
				if err != nil {
					return false
				}
				want = append(want, ev)
				stream.Write(frame)
			}

			p := NewParser()
			var got []Event
			for _, piece := range chunk(stream.Bytes(), sizes) {
				got = append(got, p.Feed(piece)...)
			}
			got = append(got, p.Flush()...)

			return p.Skipped() == 0 && assert.ObjectsAreEqual(want, got)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.IntRange(1, 17)),
	))

	properties.TestingRun(t)
}

func TestParserIgnoresNoise(t *testing.T) {
	stream := ": keep-alive\n" +
		"\n" +
		"event: message\n" +
		"id: 7\r\n" +
		"data: {\"type\":\"chat_token\",\"content\":\"Hel\"}\r\n\r\n" +
		"data: {not json}\n\n" +
		"data: {\"type\":\"chat_token\",\"content\":\"lo\"}\n\n"

	p := NewParser()
	got := p.Feed([]byte(stream))

	require.Len(t, got, 2)
	assert.Equal(t, "Hel", got[0].Text)
	assert.Equal(t, "lo", got[1].Text)
	assert.Equal(t, 1, p.Skipped())
	assert.Equal(t, 0, p.Buffered())
}

func TestParserHoldsPartialLine(t *testing.T) {
	frame, err := Encode(TokenEvent("partial"))
	require.NoError(t, err)

	p := NewParser()
	assert.Empty(t, p.Feed(frame[:10]))
	assert.Equal(t, 10, p.Buffered())

	got := p.Feed(frame[10:])
	require.Len(t, got, 1)
	assert.Equal(t, "partial", got[0].Text)
}

func TestParserFlushUnterminatedLine(t *testing.T) {
	p := NewParser()
	assert.Empty(t, p.Feed([]byte(`data: {"type":"error","content":"late"}`)))

	got := p.Flush()
	require.Len(t, got, 1)
	assert.Equal(t, ErrorEvent("late"), got[0])
	assert.Empty(t, p.Flush())
}
