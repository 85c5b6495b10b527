package backend

import (
	"errors"
	"fmt"
)

var (
	ErrBatchFull  = errors.New("batch is full")
	ErrBatchOrder = errors.New("batch positions out of order")
	ErrClosed     = errors.New("handle is closed")
)

// ModelLoadError reports that a model file could not be opened or parsed.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %q: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// ContextInitError reports that a decode context could not be allocated.
type ContextInitError struct {
	Params ContextParams
	Err    error
}

func (e *ContextInitError) Error() string {
	return fmt.Sprintf("init context (n_ctx=%d): %v", e.Params.ContextSize, e.Err)
}

func (e *ContextInitError) Unwrap() error { return e.Err }

// StatusError carries a non-zero status code returned by a decode call.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("decode returned status %d", e.Code)
}
