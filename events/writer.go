package events

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/alexschlessinger/pollyquery/steps"
	"go.uber.org/zap"
)

// ErrStreamClosed is returned for any write after a terminal event
var ErrStreamClosed = errors.New("stream already terminated")

// Writer frames events onto an io.Writer. If the writer is also an
// http.Flusher every frame is flushed as soon as it is written.
// A Writer is not safe for concurrent use.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
	fields  []any

	closed  bool
	frames  int
	dropped int
}

// NewWriter creates a writer. fields are extra zap key/value pairs attached
// to every log line (typically the run id).
func NewWriter(w io.Writer, fields ...any) *Writer {
	ew := &Writer{w: w, fields: fields}
	if f, ok := w.(http.Flusher); ok {
		ew.flusher = f
	}
	return ew
}

// Emit encodes and writes one event. Malformed reasoning steps are logged
// and dropped without error so the stream continues.
func (w *Writer) Emit(ev Event) error {
	if w.closed {
		return ErrStreamClosed
	}

	frame, err := Encode(ev)
	if err != nil {
		if errors.Is(err, steps.ErrMalformedStep) {
			w.dropped++
			zap.S().Warnw("reasoning_step_dropped", append([]any{"error", err}, w.fields...)...)
			return nil
		}
		return err
	}

	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("write %s frame: %w", ev.Type, err)
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	w.frames++

	if ev.IsTerminal() {
		w.closed = true
	}
	return nil
}

// Closed reports whether a terminal event has been written
func (w *Writer) Closed() bool { return w.closed }

// Frames returns the number of frames written
func (w *Writer) Frames() int { return w.frames }

// Dropped returns the number of malformed steps discarded
func (w *Writer) Dropped() int { return w.dropped }
