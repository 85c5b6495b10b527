package api

import (
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// SSEStreamWriter writes server-sent events as `data: <json>` frames and
// flushes after each one.
type SSEStreamWriter struct {
	w       io.Writer
	flusher func()
	seq     int
	done    bool
}

func NewSSEStreamWriter(c *echo.Context) (*SSEStreamWriter, error) {
	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	return &SSEStreamWriter{w: res, flusher: flusher.Flush}, nil
}

// Send writes one event.
func (s *SSEStreamWriter) Send(payload any) error {
	if s.done {
		return fmt.Errorf("stream already finished")
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	s.seq++
	s.flush()
	return nil
}

// Fail writes an error event. The stream stays open for Done.
func (s *SSEStreamWriter) Fail(err error) error {
	_, errType := classify(err)
	return s.Send(map[string]any{"error": ResponseError{Message: err.Error(), Type: errType}})
}

// Done writes the terminating [DONE] frame.
func (s *SSEStreamWriter) Done() error {
	if s.done {
		return nil
	}
	s.done = true
	_, err := fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flush()
	return err
}

// Sent is the number of events written so far.
func (s *SSEStreamWriter) Sent() int { return s.seq }

func (s *SSEStreamWriter) flush() {
	if s.flusher != nil {
		s.flusher()
	}
}
