// Package toy is a small deterministic backend: a byte-level n-gram model
// trained at load time from the documents listed in a YAML descriptor. It
// exists so the CLI, the HTTP server and the tests can run the full session
// engine without native model weights.
package toy

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/hearth/internal/backend"
)

// Vocabulary layout: one token per byte value followed by BOS and EOS.
const (
	BOS       = 256
	EOS       = 257
	VocabSize = 258
)

// Builtin names the descriptor compiled into the binary.
const Builtin = "builtin"

//go:embed default.yaml
var defaultDescriptor []byte

func init() {
	backend.Register(backend.Toy, Loader{})
}

// Descriptor is the on-disk description of a toy model.
type Descriptor struct {
	Name      string   `yaml:"name"`
	Seed      int64    `yaml:"seed"`
	Order     int      `yaml:"order"`
	Hidden    int      `yaml:"hidden"`
	Noise     float32  `yaml:"noise"`
	Smoothing float64  `yaml:"smoothing"`
	Documents []string `yaml:"documents"`
}

// Loader loads descriptors from disk. An empty path or Builtin selects the
// embedded descriptor.
type Loader struct{}

func (Loader) Load(path string) (backend.Model, error) {
	data := defaultDescriptor
	if path != "" && path != Builtin {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, &backend.ModelLoadError{Path: path, Err: err}
		}
		data = b
	}
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, &backend.ModelLoadError{Path: path, Err: fmt.Errorf("parse descriptor: %w", err)}
	}
	m, err := New(d)
	if err != nil {
		return nil, &backend.ModelLoadError{Path: path, Err: err}
	}
	return m, nil
}

// Model is an immutable n-gram table. It is safe for concurrent use.
type Model struct {
	desc   Descriptor
	tables []map[string][]float32 // tables[o] maps an o-token context to next-token counts
	proj   *projection

	mu     sync.Mutex
	closed bool
}

// New trains a model from d.
func New(d Descriptor) (*Model, error) {
	if len(d.Documents) == 0 {
		return nil, errors.New("descriptor has no documents")
	}
	if d.Order <= 0 {
		d.Order = 3
	}
	if d.Smoothing <= 0 {
		d.Smoothing = 0.01
	}
	m := &Model{
		desc:   d,
		tables: make([]map[string][]float32, d.Order+1),
	}
	for o := range m.tables {
		m.tables[o] = map[string][]float32{}
	}
	for _, doc := range d.Documents {
		seq := make([]int, 0, len(doc)+2)
		seq = append(seq, BOS)
		for i := 0; i < len(doc); i++ {
			seq = append(seq, int(doc[i]))
		}
		seq = append(seq, EOS)
		for i := 1; i < len(seq); i++ {
			for o := 0; o <= d.Order && o <= i; o++ {
				key := contextKey(seq[i-o : i])
				row := m.tables[o][key]
				if row == nil {
					row = make([]float32, VocabSize)
					m.tables[o][key] = row
				}
				row[seq[i]]++
			}
		}
	}
	if d.Hidden > 0 && d.Noise != 0 {
		m.proj = newProjection(VocabSize, d.Hidden, d.Seed)
	}
	return m, nil
}

func contextKey(toks []int) string {
	var b strings.Builder
	b.Grow(len(toks) * 2)
	for _, t := range toks {
		b.WriteByte(byte(t >> 8))
		b.WriteByte(byte(t))
	}
	return b.String()
}

func (m *Model) Name() string { return m.desc.Name }
func (m *Model) VocabSize() int { return VocabSize }
func (m *Model) BOS() int { return BOS }
func (m *Model) EOS() int { return EOS }

// Tokenize maps every byte of text to its own token.
func (m *Model) Tokenize(text string, addBOS bool) ([]int, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
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
	if id < 0 || id >= BOS {
		return 0
	}
	if len(buf) < 1 {
		return -1
	}
	buf[0] = byte(id)
	return 1
}

func (m *Model) NewContext(params backend.ContextParams) (backend.Context, error) {
	if err := m.checkOpen(); err != nil {
		return nil, &backend.ContextInitError{Params: params, Err: err}
	}
	if params.ContextSize <= 0 {
		return nil, &backend.ContextInitError{Params: params, Err: errors.New("context size must be positive")}
	}
	return &Context{
		model:   m,
		size:    params.ContextSize,
		history: make([]int, 0, params.ContextSize),
	}, nil
}

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Model) checkOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return backend.ErrClosed
	}
	return nil
}

// scores backs off from the longest matching context to the unigram table.
func (m *Model) scores(history []int, out []float32) {
	var row []float32
	for o := min(m.desc.Order, len(history)); o >= 0; o-- {
		if r, ok := m.tables[o][contextKey(history[len(history)-o:])]; ok {
			row = r
			break
		}
	}
	var total float64
	for _, c := range row {
		total += float64(c)
	}
	denom := total + m.desc.Smoothing*VocabSize
	for v := range out {
		var c float64
		if row != nil {
			c = float64(row[v])
		}
		out[v] = float32(math.Log((c + m.desc.Smoothing) / denom))
	}
	if len(history) > 0 {
		m.proj.addTo(out, history[len(history)-1], m.desc.Noise)
	}
	out[BOS] = -1e4
}

// Context is the decode state of one session: the tokens evaluated so far
// stand in for a KV cache.
type Context struct {
	model   *Model
	size    int
	history []int
	logits  map[int][]float32
	closed  bool
}

func (c *Context) Size() int { return c.size }

func (c *Context) Decode(b *backend.Batch) error {
	if c.closed {
		return backend.ErrClosed
	}
	logits := make(map[int][]float32)
	for i, e := range b.Entries() {
		if e.Pos != len(c.history) {
			return fmt.Errorf("entry %d: position %d does not follow %d", i, e.Pos, len(c.history))
		}
		if e.Pos >= c.size {
			return &backend.StatusError{Code: 1}
		}
		if e.Token < 0 || e.Token >= VocabSize {
			return fmt.Errorf("entry %d: token %d out of range", i, e.Token)
		}
		c.history = append(c.history, e.Token)
		if e.Logits {
			out := make([]float32, VocabSize)
			c.model.scores(c.history, out)
			logits[i] = out
		}
	}
	c.logits = logits
	return nil
}

func (c *Context) Logits(i int) []float32 {
	return c.logits[i]
}

func (c *Context) Close() error {
	if c.closed {
		return backend.ErrClosed
	}
	c.closed = true
	c.history = nil
	c.logits = nil
	return nil
}
