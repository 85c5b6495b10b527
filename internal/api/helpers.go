package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/hearth/internal/grammar"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

// writeFailure reports err with the status classify picks for it.
func writeFailure(c *echo.Context, err error) error {
	status, errType := classify(err)
	return writeError(c, status, errType, err.Error(), "", "")
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	data, err := io.ReadAll(r)
	if err != nil {
		return out, fmt.Errorf("read request: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, newInvalidRequest("request body is empty")
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, newInvalidRequest(fmt.Sprintf("decode request: %v", err))
	}
	return out, nil
}

// resolveGrammar picks an inline grammar or a builtin by name. Both unset
// means no grammar.
func resolveGrammar(src, name *string) (*grammar.Grammar, error) {
	switch {
	case src != nil && name != nil:
		return nil, newInvalidRequest("grammar and grammar_name are mutually exclusive")
	case src != nil:
		g, err := grammar.Parse(*src)
		if err != nil {
			return nil, fmt.Errorf("grammar: %w", err)
		}
		return g, nil
	case name != nil:
		g, ok := grammar.Builtin(*name)
		if !ok {
			return nil, newInvalidRequest(fmt.Sprintf("unknown grammar %q (builtin: %s)", *name, strings.Join(grammar.BuiltinNames(), ", ")))
		}
		return g, nil
	}
	return nil, nil
}

func boolValue(p *bool) bool { return p != nil && *p }

func newCompletionID() string { return "cmpl-" + uuid.NewString() }
