// Package backendtest provides a scripted backend for exercising the session
// engine in tests.
package backendtest

import (
	"fmt"
	"sync"

	"github.com/samcharles93/hearth/internal/backend"
)

// Vocabulary layout: byte tokens, BOS, EOS, then any extra multi-byte pieces.
const (
	BOS        = 256
	EOS        = 257
	firstExtra = 258
)

// Model is a deterministic model whose scores follow a fixed script: after
// the prompt, the k-th generated position scores Script[k] highest and every
// position past the end of the script scores EOS highest.
type Model struct {
	Script []int
	Extra  []string

	// FailDecodeAt makes the n-th Decode call (1-based, counted per context)
	// return a StatusError. Zero disables it.
	FailDecodeAt int
	// FailContext makes NewContext fail.
	FailContext bool
	// OnDecode runs before every decode; tests use it to block or observe steps.
	OnDecode func(step int)

	mu       sync.Mutex
	opened   int
	closed   int
	modelEnd bool
}

// NewModel returns a model that generates text as a script of pieces. Each
// piece becomes one token; pieces longer than one byte become extra tokens.
func NewModel(pieces ...string) *Model {
	m := &Model{}
	for _, p := range pieces {
		m.Script = append(m.Script, m.tokenFor(p))
	}
	return m
}

// NewRawModel scripts raw byte tokens, which lets tests split multi-byte
// codepoints across steps.
func NewRawModel(raw []byte) *Model {
	m := &Model{}
	for _, b := range raw {
		m.Script = append(m.Script, int(b))
	}
	return m
}

func (m *Model) tokenFor(p string) int {
	if len(p) == 1 {
		return int(p[0])
	}
	for i, e := range m.Extra {
		if e == p {
			return firstExtra + i
		}
	}
	m.Extra = append(m.Extra, p)
	return firstExtra + len(m.Extra) - 1
}

// Token returns the id of piece p, adding it to the vocabulary when needed.
func (m *Model) Token(p string) int { return m.tokenFor(p) }

func (m *Model) VocabSize() int { return firstExtra + len(m.Extra) }
func (m *Model) BOS() int { return BOS }
func (m *Model) EOS() int { return EOS }

func (m *Model) Tokenize(text string, addBOS bool) ([]int, error) {
	out := make([]int, 0, len(text)+1)
	if addBOS {
		out = append(out, BOS)
	}
	for i := 0; i < len(text); i++ {
		out = append(out, int(text[i]))
	}
	return out, nil
}

func (m *Model) Piece(id int, buf []byte) int {
	var p string
	switch {
	case id >= 0 && id < BOS:
		p = string([]byte{byte(id)})
	case id >= firstExtra && id < firstExtra+len(m.Extra):
		p = m.Extra[id-firstExtra]
	default:
		return 0
	}
	if len(buf) < len(p) {
		return -len(p)
	}
	return copy(buf, p)
}

func (m *Model) NewContext(params backend.ContextParams) (backend.Context, error) {
	if m.FailContext {
		return nil, &backend.ContextInitError{Params: params, Err: fmt.Errorf("scripted failure")}
	}
	m.mu.Lock()
	m.opened++
	m.mu.Unlock()
	return &Context{model: m, size: params.ContextSize}, nil
}

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.modelEnd {
		return backend.ErrClosed
	}
	m.modelEnd = true
	return nil
}

// Handles reports how many contexts were opened and closed.
func (m *Model) Handles() (opened, closed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened, m.closed
}

// Context replays the model script.
type Context struct {
	model   *Model
	size    int
	n       int
	prompt  int
	decodes int
	last    []float32
	lastIdx int
	closed  bool
}

func (c *Context) Size() int { return c.size }

func (c *Context) Decode(b *backend.Batch) error {
	if c.closed {
		return backend.ErrClosed
	}
	c.decodes++
	if c.model.OnDecode != nil {
		c.model.OnDecode(c.decodes)
	}
	if c.model.FailDecodeAt > 0 && c.decodes == c.model.FailDecodeAt {
		return &backend.StatusError{Code: 1}
	}
	for i, e := range b.Entries() {
		if e.Pos != c.n {
			return fmt.Errorf("entry %d: position %d does not follow %d", i, e.Pos, c.n)
		}
		if e.Pos >= c.size {
			return &backend.StatusError{Code: 1}
		}
		c.n++
	}
	c.lastIdx = b.LastLogits()
	if c.lastIdx < 0 {
		c.last = nil
		return nil
	}
	// The prompt ends at the first position that asks for logits.
	if c.prompt == 0 {
		c.prompt = c.n
	}
	c.last = c.scores(c.n - c.prompt)
	return nil
}

func (c *Context) scores(step int) []float32 {
	out := make([]float32, c.model.VocabSize())
	next := EOS
	if step < len(c.model.Script) {
		next = c.model.Script[step]
	}
	for i := range out {
		out[i] = float32(i%7) * 0.01
	}
	out[next] = 20
	return out
}

func (c *Context) Logits(i int) []float32 {
	if i != c.lastIdx {
		return nil
	}
	return c.last
}

func (c *Context) Close() error {
	if c.closed {
		return backend.ErrClosed
	}
	c.closed = true
	c.model.mu.Lock()
	c.model.closed++
	c.model.mu.Unlock()
	return nil
}
