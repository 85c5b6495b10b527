package api

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/hearth/internal/chat"
	"github.com/samcharles93/hearth/internal/inference"
	"github.com/samcharles93/hearth/internal/logger"
)

func (s *Server) handleMessages(c *echo.Context) error {
	if s.chat == nil {
		return writeFailure(c, chat.ErrNoModel)
	}
	return c.JSON(http.StatusOK, MessagesResponse{
		Messages:   nonNil(s.chat.Messages()),
		Generating: s.chat.IsGenerating(),
	})
}

func (s *Server) handleStop(c *echo.Context) error {
	if s.chat == nil {
		return writeFailure(c, chat.ErrNoModel)
	}
	s.chat.Stop()
	return s.handleMessages(c)
}

func (s *Server) handleReset(c *echo.Context) error {
	if s.chat == nil {
		return writeFailure(c, chat.ErrNoModel)
	}
	if err := s.chat.Reset(); err != nil {
		logger.FromContext(c.Request().Context()).Error("reset failed", "error", err)
		return writeFailure(c, err)
	}
	return s.handleMessages(c)
}

func (s *Server) handleTurn(c *echo.Context) error {
	req, err := decodeJSON[TurnRequest](c.Request().Body)
	if err != nil {
		return writeFailure(c, err)
	}
	if strings.TrimSpace(req.Text) == "" {
		return writeBadRequest(c, "text is required and must not be empty")
	}
	if s.chat == nil {
		return writeFailure(c, chat.ErrNoModel)
	}
	cfg, err := s.turnConfig(req)
	if err != nil {
		return writeFailure(c, err)
	}
	if boolValue(req.Stream) {
		return s.streamTurn(c, req.Text, cfg)
	}

	run, err := s.chat.AppendTurn(c.Request().Context(), req.Text, cfg)
	if err != nil {
		return writeFailure(c, err)
	}
	if err := run.Wait(); err != nil {
		return writeFailure(c, err)
	}
	return c.JSON(http.StatusOK, TurnResponse{
		ID:         run.ID.String(),
		State:      run.State().String(),
		Messages:   nonNil(s.chat.Messages()),
		Generating: s.chat.IsGenerating(),
		Usage:      usageOf(run.Stats()),
	})
}

func (s *Server) turnConfig(req TurnRequest) (chat.TurnConfig, error) {
	cfg := s.turn
	if req.Instruction != nil {
		cfg.Instruction = *req.Instruction
	}
	if req.UserPrefix != nil {
		cfg.UserPrefix = *req.UserPrefix
	}
	if req.AIPrefix != nil {
		cfg.AIPrefix = *req.AIPrefix
	}
	if req.ReversePrompt != nil {
		cfg.ReversePrompt = *req.ReversePrompt
	}
	if len(req.Examples) > 0 {
		cfg.Examples = make([]chat.Message, 0, len(req.Examples))
		for i, ex := range req.Examples {
			role := chat.Role(ex.Role)
			if role != chat.RoleUser && role != chat.RoleAI {
				return chat.TurnConfig{}, newInvalidRequest(fmt.Sprintf("examples[%d]: role must be %q or %q", i, chat.RoleUser, chat.RoleAI))
			}
			cfg.Examples = append(cfg.Examples, chat.NewMessage(role, ex.Text))
		}
	}
	resolved := inference.ResolveRequest(req.SamplingParams.options(""), s.defaults)
	cfg.MaxTokens = resolved.MaxTokens
	cfg.Sampling = &resolved.Sampling
	return cfg, nil
}

// snapshotQueue keeps only the latest log snapshot; the stream writer may
// skip intermediate ones but always sees the last.
type snapshotQueue struct {
	mu     sync.Mutex
	latest []chat.Message
	ready  chan struct{}
}

func newSnapshotQueue() *snapshotQueue {
	return &snapshotQueue{ready: make(chan struct{}, 1)}
}

func (q *snapshotQueue) push(m []chat.Message) {
	q.mu.Lock()
	q.latest = m
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *snapshotQueue) take() []chat.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := q.latest
	q.latest = nil
	return m
}

func (s *Server) streamTurn(c *echo.Context, text string, cfg chat.TurnConfig) error {
	q := newSnapshotQueue()
	cfg.OnUpdate = q.push

	run, err := s.chat.AppendTurn(c.Request().Context(), text, cfg)
	if err != nil {
		return writeFailure(c, err)
	}
	sw, err := NewSSEStreamWriter(c)
	if err != nil {
		s.chat.Stop()
		return writeBadRequest(c, err.Error())
	}
	log := logger.FromContext(c.Request().Context())

	send := func() error {
		if m := q.take(); m != nil {
			return sw.Send(ChatUpdate{Type: "chat.update", Messages: m, Generating: true})
		}
		return nil
	}
loop:
	for {
		select {
		case <-q.ready:
			if err := send(); err != nil {
				log.Warn("stream write failed", "error", err)
				s.chat.Stop()
				<-run.Done()
				return nil
			}
		case <-run.Done():
			break loop
		}
	}

	final := ChatUpdate{
		Type:       "chat.done",
		Messages:   nonNil(s.chat.Messages()),
		Generating: s.chat.IsGenerating(),
	}
	if err := run.Err(); err != nil {
		_ = sw.Fail(err)
	} else {
		final.State = run.State().String()
	}
	if err := sw.Send(final); err != nil {
		return nil
	}
	return sw.Done()
}

func nonNil(m []chat.Message) []chat.Message {
	if m == nil {
		return []chat.Message{}
	}
	return m
}
