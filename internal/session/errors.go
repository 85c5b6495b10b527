package session

import (
	"errors"
	"fmt"
)

var (
	// ErrContextOverflow means the prompt plus the requested generation does
	// not fit in the context.
	ErrContextOverflow = errors.New("context overflow")
	// ErrEmptyPrompt is returned when the prompt encodes to no tokens.
	ErrEmptyPrompt = errors.New("empty prompt")
	// ErrNeedsReset is returned by CompletionInit when the session already
	// holds decoded tokens.
	ErrNeedsReset = errors.New("session must be reset before a new completion")
	// ErrNoContext means a previous reset failed to rebuild the context.
	ErrNoContext = errors.New("session has no decode context")
	// ErrNoLogits means nothing flagged for logits has been decoded yet.
	ErrNoLogits = errors.New("no logits available")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
)

// TokenizeError rejects a completion request before anything is decoded.
type TokenizeError struct {
	PromptTokens int
	Requested    int
	Capacity     int
	Err          error
}

func (e *TokenizeError) Error() string {
	return fmt.Sprintf("prompt of %d tokens with %d requested exceeds context of %d: %v",
		e.PromptTokens, e.Requested, e.Capacity, e.Err)
}

func (e *TokenizeError) Unwrap() error { return e.Err }

// Fits reports whether the prompt alone fits with room for at least one
// generated token, which makes the request recoverable by asking for less.
func (e *TokenizeError) Fits() bool {
	return e.PromptTokens > 0 && e.PromptTokens < e.Capacity
}

// DecodeError reports a failed decode step. The context state is no longer
// trustworthy after one.
type DecodeError struct {
	Pos int
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode at position %d: %v", e.Pos, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
