// Package backend defines the boundary between the session engine and the
// component that actually executes a language model. Everything numeric
// lives behind Model and Context; the rest of hearth only sees token ids,
// raw token bytes and per-vocabulary scores.
package backend

import (
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync"
)

const (
	Toy  = "toy"
	Auto = "auto"
)

// Model is a loaded, immutable model. It may be shared read-only between
// sessions; each session owns its own Context.
type Model interface {
	VocabSize() int
	BOS() int
	EOS() int

	// Tokenize encodes text, optionally prefixed with the BOS token.
	Tokenize(text string, addBOS bool) ([]int, error)

	// Piece writes the raw bytes of token id into buf and returns the
	// number of bytes written. When buf is too small it writes nothing and
	// returns the negated required size.
	Piece(id int, buf []byte) int

	NewContext(params ContextParams) (Context, error)
	Close() error
}

// Context is the mutable decode state bound to one Model.
type Context interface {
	// Size is the context capacity in tokens.
	Size() int

	// Decode evaluates every entry of b. A non-nil error means the context
	// state can no longer be trusted.
	Decode(b *Batch) error

	// Logits returns the scores produced for batch index i of the most
	// recent Decode. Only entries flagged for logits have scores.
	Logits(i int) []float32

	Close() error
}

// Loader opens model files.
type Loader interface {
	Load(path string) (Model, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(path string) (Model, error)

func (f LoaderFunc) Load(path string) (Model, error) { return f(path) }

// ContextParams mirrors the knobs a backend needs when allocating a context.
type ContextParams struct {
	ContextSize int    `yaml:"context_size"`
	BatchSize   int    `yaml:"batch_size"`
	Threads     int    `yaml:"threads"`
	Seed        uint32 `yaml:"seed"`
}

// DefaultContextParams returns a 2048 token context, a 1024 token batch and
// between one and eight threads, leaving two cores to the host.
func DefaultContextParams() ContextParams {
	return ContextParams{
		ContextSize: 2048,
		BatchSize:   1024,
		Threads:     max(1, min(8, runtime.NumCPU()-2)),
		Seed:        1234,
	}
}

// WithDefaults fills every unset field from DefaultContextParams.
func (p ContextParams) WithDefaults() ContextParams {
	d := DefaultContextParams()
	if p.ContextSize <= 0 {
		p.ContextSize = d.ContextSize
	}
	if p.BatchSize <= 0 {
		p.BatchSize = d.BatchSize
	}
	if p.Threads <= 0 {
		p.Threads = d.Threads
	}
	if p.Seed == 0 {
		p.Seed = d.Seed
	}
	return p
}

// TokenBytes returns the raw bytes of id. It probes with a small buffer and
// grows it when the model reports that more room is needed.
func TokenBytes(m Model, id int) []byte {
	buf := make([]byte, 8)
	for range 4 {
		n := m.Piece(id, buf)
		if n >= 0 {
			return slices.Clone(buf[:min(n, len(buf))])
		}
		buf = make([]byte, -n)
	}
	return nil
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Loader{}
)

// Register makes a loader available under name. Registering the same name
// twice replaces the earlier loader.
func Register(name string, l Loader) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = l
}

// Normalize lowercases name and maps the empty string to Auto.
func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" || backend == Auto {
		return Auto, nil
	}
	registryMu.RLock()
	_, ok := registry[backend]
	registryMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown backend %q (available: %s)", backend, Available())
	}
	return backend, nil
}

// Open returns the loader registered under name. Auto picks the first
// registered backend in lexical order.
func Open(name string) (Loader, error) {
	backend, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	if backend == Auto {
		names := availableLocked()
		if len(names) == 0 {
			return nil, fmt.Errorf("no backends registered")
		}
		backend = names[0]
	}
	return registry[backend], nil
}

// Available returns a comma-separated list of registered backends.
func Available() string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return strings.Join(availableLocked(), ",")
}

func availableLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
