// Package utf8buf turns a stream of raw token bytes into text fragments
// without splitting multi-byte codepoints.
package utf8buf

import "unicode/utf8"

// Reassembler buffers the bytes of an unfinished codepoint between pushes.
// The zero value is ready to use.
//
// Invalid bytes are never held back: they are emitted as U+FFFD one byte at
// a time, so concatenating every fragment (including Flush) yields exactly
// string([]rune(string(all bytes pushed))).
type Reassembler struct {
	pending []byte
}

// Push appends raw and returns every byte that can be decoded now. Only a
// trailing prefix of a valid multi-byte sequence is kept for the next call.
func (r *Reassembler) Push(raw []byte) string {
	if len(raw) == 0 && len(r.pending) == 0 {
		return ""
	}
	buf := append(r.pending, raw...)
	cut := incompleteTail(buf)

	out := decode(buf[:cut])
	r.pending = append(r.pending[:0:0], buf[cut:]...)
	return out
}

// Flush emits whatever is still pending. The boolean reports whether those
// bytes never formed a complete codepoint.
func (r *Reassembler) Flush() (string, bool) {
	if len(r.pending) == 0 {
		return "", false
	}
	out := decode(r.pending)
	r.pending = nil
	return out, true
}

// Pending returns the number of buffered bytes.
func (r *Reassembler) Pending() int { return len(r.pending) }

// Reset drops buffered bytes.
func (r *Reassembler) Reset() { r.pending = nil }

// incompleteTail returns the offset of a trailing, valid but unfinished
// UTF-8 sequence, or len(b) when there is none.
func incompleteTail(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-(utf8.UTFMax-1); i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}

func decode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return string([]rune(string(b)))
}
