package events

import (
	"bytes"

	"go.uber.org/zap"
)

// Parser turns an arbitrarily chunked byte stream back into events.
// Only complete lines are interpreted; a trailing partial line stays
// buffered until the next Feed or Flush.
type Parser struct {
	buf     []byte
	skipped int
}

// NewParser creates an empty parser
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends chunk and returns the events decoded from every line it completed
func (p *Parser) Feed(chunk []byte) []Event {
	p.buf = append(p.buf, chunk...)

	var out []Event
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := p.buf[:i]
		p.buf = p.buf[i+1:]
		if ev, ok := p.line(line); ok {
			out = append(out, ev)
		}
	}

	if len(p.buf) == 0 {
		p.buf = nil
	} else {
		p.buf = append([]byte(nil), p.buf...)
	}
	return out
}

// Flush interprets whatever is left in the buffer as a final line
func (p *Parser) Flush() []Event {
	rest := p.buf
	p.buf = nil
	if ev, ok := p.line(rest); ok {
		return []Event{ev}
	}
	return nil
}

// Skipped returns the number of malformed data lines dropped so far
func (p *Parser) Skipped() int { return p.skipped }

// Buffered returns the number of bytes waiting for a newline
func (p *Parser) Buffered() int { return len(p.buf) }

func (p *Parser) line(line []byte) (Event, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(bytes.TrimSpace(line)) == 0 {
		return Event{}, false
	}
	// comment / keep-alive
	if line[0] == ':' {
		return Event{}, false
	}
	// event:, id:, retry: carry nothing we use
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return Event{}, false
	}

	ev, err := Decode(line)
	if err != nil {
		p.skipped++
		zap.S().Warnw("frame_skipped", "error", err, "bytes", len(line))
		return Event{}, false
	}
	return ev, true
}
