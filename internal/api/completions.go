package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/hearth/internal/chat"
	"github.com/samcharles93/hearth/internal/inference"
	"github.com/samcharles93/hearth/internal/logger"
)

func (s *Server) handleCompletion(c *echo.Context) error {
	req, err := decodeJSON[CompletionRequest](c.Request().Body)
	if err != nil {
		return writeFailure(c, err)
	}
	if req.Prompt == "" {
		return writeBadRequest(c, "prompt is required and must not be empty")
	}
	gr, err := resolveGrammar(req.Grammar, req.GrammarName)
	if err != nil {
		return writeFailure(c, err)
	}
	if s.chat == nil {
		return writeFailure(c, chat.ErrNoModel)
	}

	ireq := inference.ResolveRequest(req.SamplingParams.options(req.Prompt), s.defaults)
	ireq.Grammar = gr
	resp := CompletionResponse{
		ID:      newCompletionID(),
		Object:  "text_completion",
		Created: s.clock().Unix(),
	}
	if boolValue(req.Stream) {
		return s.streamCompletion(c, ireq, resp)
	}

	text, last, err := inference.Collect(s.chat.Generate(c.Request().Context(), ireq))
	if err != nil {
		return writeFailure(c, err)
	}
	resp.Text = text
	resp.State = last.State.String()
	resp.Usage = usageOf(last.Stats)
	s.store.Put(resp)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) streamCompletion(c *echo.Context, ireq inference.Request, resp CompletionResponse) error {
	sw, err := NewSSEStreamWriter(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	log := logger.FromContext(c.Request().Context())

	var sb strings.Builder
	for frag, err := range s.chat.Generate(c.Request().Context(), ireq) {
		if err != nil {
			log.Error("completion failed", "id", resp.ID, "error", err)
			_ = sw.Fail(err)
			break
		}
		sb.WriteString(frag.Text)
		chunk := CompletionChunk{ID: resp.ID, Object: "text_completion.chunk", Text: frag.Text}
		if frag.State.Stopped() {
			usage := usageOf(frag.Stats)
			chunk.State = frag.State.String()
			chunk.Usage = &usage
			resp.State = chunk.State
			resp.Usage = usage
		}
		if err := sw.Send(chunk); err != nil {
			log.Warn("stream write failed", "id", resp.ID, "error", err)
			return nil
		}
	}
	resp.Text = sb.String()
	if resp.State != "" {
		s.store.Put(resp)
	}
	return sw.Done()
}

func (s *Server) handleGetCompletion(c *echo.Context) error {
	resp, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "completion not found")
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteCompletion(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "completion not found")
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "object": "text_completion.deleted", "deleted": true})
}
