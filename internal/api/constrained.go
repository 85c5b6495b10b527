package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/hearth/internal/chat"
)

func (s *Server) handleConstrained(c *echo.Context) error {
	req, err := decodeJSON[ConstrainedRequest](c.Request().Body)
	if err != nil {
		return writeFailure(c, err)
	}
	if req.Prompt == "" {
		return writeBadRequest(c, "prompt is required and must not be empty")
	}
	if req.Grammar == nil && req.GrammarName == nil {
		return writeBadRequest(c, "one of grammar or grammar_name is required")
	}
	gr, err := resolveGrammar(req.Grammar, req.GrammarName)
	if err != nil {
		return writeFailure(c, err)
	}
	if s.chat == nil {
		return writeFailure(c, chat.ErrNoModel)
	}
	text, err := s.chat.GenerateConstrained(c.Request().Context(), req.Prompt, gr)
	if err != nil {
		return writeFailure(c, err)
	}
	return c.JSON(http.StatusOK, ConstrainedResponse{Text: text})
}

func (s *Server) handleVehicle(c *echo.Context) error {
	req, err := decodeJSON[VehicleRequest](c.Request().Body)
	if err != nil {
		return writeFailure(c, err)
	}
	if strings.TrimSpace(req.Request) == "" {
		return writeBadRequest(c, "request is required and must not be empty")
	}
	if s.assist == nil {
		return writeFailure(c, chat.ErrNoModel)
	}
	resp, err := s.assist.Vehicle(c.Request().Context(), req.Request)
	if err != nil {
		return writeFailure(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEmotion(c *echo.Context) error {
	req, err := decodeJSON[EmotionRequest](c.Request().Body)
	if err != nil {
		return writeFailure(c, err)
	}
	if strings.TrimSpace(req.Review) == "" {
		return writeBadRequest(c, "review is required and must not be empty")
	}
	if s.assist == nil {
		return writeFailure(c, chat.ErrNoModel)
	}
	e, err := s.assist.Emotion(c.Request().Context(), req.Review)
	if err != nil {
		return writeFailure(c, err)
	}
	return c.JSON(http.StatusOK, e)
}
