package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

type StreamMode string

const (
	StreamInstant    StreamMode = "instant"
	StreamSmooth     StreamMode = "smooth"
	StreamTypewriter StreamMode = "typewriter"
	StreamQuiet      StreamMode = "quiet"
)

func parseStreamMode(s string) (StreamMode, error) {
	switch m := StreamMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return StreamInstant, nil
	case StreamInstant, StreamSmooth, StreamTypewriter, StreamQuiet:
		return m, nil
	default:
		return "", fmt.Errorf("unknown stream mode %q (instant, smooth, typewriter, quiet)", s)
	}
}

// StreamWriter prints generated fragments as they arrive. Smooth mode batches
// them by word count or time; quiet mode prints everything on Flush.
type StreamWriter struct {
	mode StreamMode
	raw  bool
	out  *bufio.Writer

	mu            sync.Mutex
	text          strings.Builder
	pending       strings.Builder
	lastFlush     time.Time
	flushInterval time.Duration
	batchWords    int

	stop chan struct{}
	once sync.Once
}

func NewStreamWriter(w io.Writer, mode StreamMode, raw bool) *StreamWriter {
	s := &StreamWriter{
		mode:          mode,
		raw:           raw,
		out:           bufio.NewWriterSize(w, 4096),
		lastFlush:     time.Now(),
		flushInterval: 50 * time.Millisecond,
		batchWords:    5,
		stop:          make(chan struct{}),
	}
	if mode == StreamSmooth {
		go s.tick()
	}
	return s
}

func (s *StreamWriter) Write(fragment string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text.WriteString(fragment)

	switch s.mode {
	case StreamInstant:
		s.emit(fragment)
	case StreamSmooth:
		s.pending.WriteString(fragment)
		words := strings.Count(s.pending.String(), " ") + 1
		if words >= s.batchWords || time.Since(s.lastFlush) >= s.flushInterval {
			s.flushPending()
		}
	case StreamTypewriter:
		for _, r := range fragment {
			s.emit(string(r))
		}
	}
}

// Flush writes anything still buffered and returns the full text written so
// far. It also stops the smooth-mode ticker.
func (s *StreamWriter) Flush() string {
	s.once.Do(func() { close(s.stop) })
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.mode {
	case StreamQuiet:
		s.emit(s.text.String())
	case StreamSmooth:
		s.flushPending()
	}
	_ = s.out.Flush()
	return s.text.String()
}

// emit must be called with mu held.
func (s *StreamWriter) emit(text string) {
	if s.raw {
		text = escapeRawOutput(text)
	}
	_, _ = s.out.WriteString(text)
	_ = s.out.Flush()
}

func (s *StreamWriter) flushPending() {
	if s.pending.Len() == 0 {
		return
	}
	s.emit(s.pending.String())
	s.pending.Reset()
	s.lastFlush = time.Now()
}

func (s *StreamWriter) tick() {
	t := time.NewTicker(s.flushInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.mu.Lock()
			if time.Since(s.lastFlush) >= s.flushInterval {
				s.flushPending()
			}
			s.mu.Unlock()
		}
	}
}

// escapeRawOutput makes control characters visible.
func escapeRawOutput(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\\':
			b.WriteString(`\\`)
		default:
			if strconv.IsPrint(r) {
				b.WriteRune(r)
			} else {
				fmt.Fprintf(&b, `\u%04x`, r)
			}
		}
	}
	return b.String()
}
