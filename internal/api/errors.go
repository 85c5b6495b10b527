package api

import (
	"errors"
	"net/http"

	"github.com/samcharles93/hearth/internal/assistant"
	"github.com/samcharles93/hearth/internal/backend"
	"github.com/samcharles93/hearth/internal/chat"
	"github.com/samcharles93/hearth/internal/grammar"
	"github.com/samcharles93/hearth/internal/session"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// classify maps an error from the generation stack to an HTTP status and an
// error type.
func classify(err error) (int, string) {
	var (
		tokErr  *session.TokenizeError
		synErr  *grammar.SyntaxError
		respErr *assistant.ResponseError
		decErr  *session.DecodeError
		loadErr *backend.ModelLoadError
		ctxErr  *backend.ContextInitError
	)
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.As(err, &tokErr),
		errors.As(err, &synErr),
		errors.Is(err, grammar.ErrNoRoot),
		errors.Is(err, grammar.ErrLeftRecursion),
		errors.Is(err, session.ErrEmptyPrompt):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, chat.ErrNoModel),
		errors.As(err, &loadErr),
		errors.As(err, &ctxErr):
		return http.StatusServiceUnavailable, "model_unavailable"
	case errors.Is(err, chat.ErrCancelled):
		return http.StatusConflict, "cancelled"
	case errors.As(err, &respErr):
		return http.StatusUnprocessableEntity, "invalid_model_output"
	case errors.As(err, &decErr):
		return http.StatusInternalServerError, "decode_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
