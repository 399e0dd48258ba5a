package streaming

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// ThinkFilter splits <think>...</think> blocks out of streamed content.
// Tags may be split across chunks; a possible partial tag is held back
// until the next chunk decides it.
type ThinkFilter struct {
	inThink bool
	pending string
}

// Split returns the visible text and the thinking text carried by chunk
func (f *ThinkFilter) Split(chunk string) (content, reasoning string) {
	var out, think strings.Builder
	s := f.pending + chunk
	f.pending = ""

	for s != "" {
		tag := thinkOpen
		bucket := &out
		if f.inThink {
			tag = thinkClose
			bucket = &think
		}

		if idx := strings.Index(s, tag); idx >= 0 {
			bucket.WriteString(s[:idx])
			s = s[idx+len(tag):]
			f.inThink = !f.inThink
			continue
		}

		held := partialSuffix(s, tag)
		bucket.WriteString(s[:len(s)-held])
		f.pending = s[len(s)-held:]
		break
	}
	return out.String(), think.String()
}

// Flush releases any held-back text at the end of the stream
func (f *ThinkFilter) Flush() (content, reasoning string) {
	rest := f.pending
	f.pending = ""
	if f.inThink {
		return "", rest
	}
	return rest, ""
}

// Thinking reports whether the filter is inside a think block
func (f *ThinkFilter) Thinking() bool {
	return f.inThink
}

// partialSuffix is the length of the longest suffix of s that is a proper prefix of tag
func partialSuffix(s, tag string) int {
	n := len(tag) - 1
	if len(s) < n {
		n = len(s)
	}
	for ; n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
