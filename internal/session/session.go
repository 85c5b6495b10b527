// Package session owns one decode context bound to a shared model and the
// append-only position bookkeeping around it.
package session

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/samcharles93/hearth/internal/backend"
	"github.com/samcharles93/hearth/internal/logger"
)

// Session is the per-conversation decode state. The model is shared and
// owned by the caller; the context belongs to the session alone.
type Session struct {
	mu     sync.Mutex
	model  backend.Model
	params backend.ContextParams
	log    logger.Logger

	ctx       backend.Context
	batch     *backend.Batch
	nCur      int
	nDecode   int
	tokens    []int
	logitsIdx int
	closed    bool

	pieceMu sync.Mutex
	pieces  [][]byte
}

// New allocates a context for model. It fails with *backend.ContextInitError.
func New(model backend.Model, params backend.ContextParams, log logger.Logger) (*Session, error) {
	params = params.WithDefaults()
	s := &Session{
		model:     model,
		params:    params,
		log:       logger.Component(log, "session"),
		batch:     backend.NewBatch(min(params.BatchSize, params.ContextSize)),
		logitsIdx: -1,
	}
	ctx, err := newContext(model, params)
	if err != nil {
		return nil, err
	}
	s.ctx = ctx
	s.log.Debug("context ready", "n_ctx", ctx.Size(), "n_batch", s.batch.Cap(), "threads", params.Threads)
	return s, nil
}

func newContext(model backend.Model, params backend.ContextParams) (backend.Context, error) {
	ctx, err := safeNewContext(model, params)
	if err != nil {
		var initErr *backend.ContextInitError
		if errors.As(err, &initErr) {
			return nil, err
		}
		return nil, &backend.ContextInitError{Params: params, Err: err}
	}
	return ctx, nil
}

// Capacity is the context size in tokens.
func (s *Session) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return s.params.ContextSize
	}
	return s.ctx.Size()
}

// Pos is the number of tokens held by the context.
func (s *Session) Pos() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nCur
}

// Decoded is the number of tokens accepted since the last completion init.
func (s *Session) Decoded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nDecode
}

// Tokens returns a copy of the token history.
func (s *Session) Tokens() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tokens)
}

func (s *Session) EOS() int       { return s.model.EOS() }
func (s *Session) BOS() int       { return s.model.BOS() }
func (s *Session) VocabSize() int { return s.model.VocabSize() }

// Params returns the context parameters in effect.
func (s *Session) Params() backend.ContextParams { return s.params }

func (s *Session) usable() error {
	if s.closed {
		return ErrClosed
	}
	if s.ctx == nil {
		return ErrNoContext
	}
	return nil
}

// CompletionInit encodes prompt with BOS and decodes it as one logical
// batch, reserving maxTokens positions for generation. A request that does
// not fit is rejected with *TokenizeError before anything is decoded. It
// returns the number of prompt tokens.
func (s *Session) CompletionInit(prompt string, maxTokens int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return 0, err
	}
	if s.nCur != 0 {
		return 0, ErrNeedsReset
	}

	tokens, err := safeTokenize(s.model, prompt)
	if err != nil {
		return 0, fmt.Errorf("tokenize prompt: %w", err)
	}
	capacity := s.ctx.Size()
	requested := max(maxTokens, 0)
	switch {
	case len(tokens) == 0:
		return 0, &TokenizeError{Requested: requested, Capacity: capacity, Err: ErrEmptyPrompt}
	case len(tokens)+requested > capacity || len(tokens) >= capacity:
		return 0, &TokenizeError{PromptTokens: len(tokens), Requested: requested, Capacity: capacity, Err: ErrContextOverflow}
	}

	s.log.Debug("completion init", "prompt_tokens", len(tokens), "max_tokens", requested)
	// Prompts longer than the batch are fed in chunks; only the final
	// entry asks for logits.
	for start := 0; start < len(tokens); start += s.batch.Cap() {
		end := min(start+s.batch.Cap(), len(tokens))
		s.batch.Clear()
		for i := start; i < end; i++ {
			if err := s.batch.Add(tokens[i], i, 0, i == len(tokens)-1); err != nil {
				return 0, err
			}
		}
		if err := safeDecode(s.ctx, s.batch); err != nil {
			return 0, &DecodeError{Pos: start, Err: err}
		}
		s.nCur = end
	}
	s.logitsIdx = s.batch.LastLogits()
	s.tokens = append(s.tokens[:0], tokens...)
	return len(tokens), nil
}

// Logits returns a copy of the scores produced for the most recent position.
func (s *Session) Logits() ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	if s.logitsIdx < 0 {
		return nil, ErrNoLogits
	}
	scores := s.ctx.Logits(s.logitsIdx)
	if scores == nil {
		return nil, ErrNoLogits
	}
	return slices.Clone(scores), nil
}

// Accept decodes token at the current position and advances it.
func (s *Session) Accept(token int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	if s.nCur >= s.ctx.Size() {
		return &DecodeError{Pos: s.nCur, Err: ErrContextOverflow}
	}
	s.batch.Clear()
	if err := s.batch.Add(token, s.nCur, 0, true); err != nil {
		return &DecodeError{Pos: s.nCur, Err: err}
	}
	if err := safeDecode(s.ctx, s.batch); err != nil {
		return &DecodeError{Pos: s.nCur, Err: err}
	}
	s.logitsIdx = 0
	s.tokens = append(s.tokens, token)
	s.nCur++
	s.nDecode++
	return nil
}

// Reset discards the context and installs a fresh one with the same
// parameters. When that fails the session has no context until the next
// successful Reset.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.ctx != nil {
		if err := safeClose(s.ctx); err != nil && !errors.Is(err, backend.ErrClosed) {
			s.log.Warn("close context", "error", err)
		}
		s.ctx = nil
	}
	s.nCur, s.nDecode, s.logitsIdx = 0, 0, -1
	s.tokens = s.tokens[:0]
	s.batch.Clear()

	ctx, err := newContext(s.model, s.params)
	if err != nil {
		s.log.Error("rebuild context", "error", err)
		return err
	}
	s.ctx = ctx
	s.log.Debug("session reset")
	return nil
}

// Close releases the context. It is safe to call more than once; the model
// stays open.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ctx == nil {
		return nil
	}
	err := safeClose(s.ctx)
	s.ctx = nil
	return err
}

// TokenBytes returns the raw bytes of id, which may be a fragment of a
// multi-byte codepoint. Results are cached per id.
func (s *Session) TokenBytes(id int) []byte {
	s.pieceMu.Lock()
	defer s.pieceMu.Unlock()
	if s.pieces == nil {
		s.pieces = make([][]byte, s.model.VocabSize())
	}
	if id < 0 || id >= len(s.pieces) {
		return nil
	}
	if p := s.pieces[id]; p != nil {
		return p
	}
	p := backend.TokenBytes(s.model, id)
	if p == nil {
		p = []byte{}
	}
	s.pieces[id] = p
	return p
}

// Pieces returns the byte table of the whole vocabulary.
func (s *Session) Pieces() [][]byte {
	out := make([][]byte, s.model.VocabSize())
	for id := range out {
		out[id] = s.TokenBytes(id)
	}
	return out
}

func safeTokenize(m backend.Model, text string) (ids []int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Tokenize: %v", rec)
		}
	}()
	return m.Tokenize(text, true)
}

func safeDecode(ctx backend.Context, b *backend.Batch) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Decode: %v", rec)
		}
	}()
	return ctx.Decode(b)
}

func safeNewContext(m backend.Model, params backend.ContextParams) (ctx backend.Context, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in NewContext: %v", rec)
		}
	}()
	return m.NewContext(params)
}

func safeClose(ctx backend.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Close: %v", rec)
		}
	}()
	return ctx.Close()
}
