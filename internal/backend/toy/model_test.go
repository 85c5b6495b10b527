package toy

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/hearth/internal/backend"
)

func argmax(x []float32) int {
	best := 0
	for i := range x {
		if x[i] > x[best] {
			best = i
		}
	}
	return best
}

func TestBuiltinLoads(t *testing.T) {
	t.Parallel()

	m, err := Loader{}.Load("")
	if err != nil {
		t.Fatalf("load builtin: %v", err)
	}
	defer func() { _ = m.Close() }()

	if m.VocabSize() != VocabSize || m.EOS() != EOS || m.BOS() != BOS {
		t.Fatalf("unexpected vocabulary layout")
	}
	if m.(*Model).Name() != "hearth-toy" {
		t.Fatalf("unexpected name %q", m.(*Model).Name())
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Loader{}.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	var loadErr *backend.ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected ModelLoadError, got %v", err)
	}
}

func TestLoadDescriptorFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "m.yaml")
	body := "name: tiny\norder: 2\ndocuments:\n  - abcabc\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := Loader{}.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.(*Model).Name() != "tiny" {
		t.Fatalf("unexpected name")
	}
}

func TestNGramPrediction(t *testing.T) {
	t.Parallel()

	m, err := New(Descriptor{Order: 2, Documents: []string{"abcabcabc"}})
	if err != nil {
		t.Fatal(err)
	}
	ctx, err := m.NewContext(backend.ContextParams{ContextSize: 32})
	if err != nil {
		t.Fatal(err)
	}
	toks, _ := m.Tokenize("ab", true)
	b := backend.NewBatch(32)
	for i, tok := range toks {
		if err := b.Add(tok, i, 0, i == len(toks)-1); err != nil {
			t.Fatal(err)
		}
	}
	if err := ctx.Decode(b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := argmax(ctx.Logits(b.LastLogits())); got != 'c' {
		t.Fatalf("expected 'c' after \"ab\", got %d", got)
	}
	if ctx.Logits(0) != nil {
		t.Fatalf("entries without the logits flag must not carry scores")
	}
}

func TestDecodeRejectsGapsAndOverflow(t *testing.T) {
	t.Parallel()

	m, _ := New(Descriptor{Documents: []string{"x"}})
	ctx, _ := m.NewContext(backend.ContextParams{ContextSize: 1})

	b := backend.NewBatch(4)
	_ = b.Add('x', 1, 0, true)
	if err := ctx.Decode(b); err == nil {
		t.Fatalf("expected position error")
	}

	b.Clear()
	_ = b.Add('x', 0, 0, true)
	if err := ctx.Decode(b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	b.Clear()
	_ = b.Add('x', 1, 0, true)
	var status *backend.StatusError
	if err := ctx.Decode(b); !errors.As(err, &status) {
		t.Fatalf("expected StatusError on full context, got %v", err)
	}
}

func TestContextCloseOnce(t *testing.T) {
	t.Parallel()

	m, _ := New(Descriptor{Documents: []string{"x"}})
	ctx, _ := m.NewContext(backend.ContextParams{ContextSize: 4})
	if err := ctx.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := ctx.Close(); !errors.Is(err, backend.ErrClosed) {
		t.Fatalf("second close: %v", err)
	}
}

func TestProjectionDeterministic(t *testing.T) {
	t.Parallel()

	a := newProjection(8, 4, 5)
	b := newProjection(8, 4, 5)
	outA := make([]float32, 8)
	outB := make([]float32, 8)
	a.addTo(outA, 3, 1)
	b.addTo(outB, 3+8, 1)
	for i := range outA {
		if math.Abs(float64(outA[i]-outB[i])) > 1e-6 {
			t.Fatalf("projection mismatch at %d: %f vs %f", i, outA[i], outB[i])
		}
	}
}

func TestPieceBytes(t *testing.T) {
	t.Parallel()

	m, _ := New(Descriptor{Documents: []string{"x"}})
	if got := backend.TokenBytes(m, 'h'); string(got) != "h" {
		t.Fatalf("piece: %q", got)
	}
	if got := backend.TokenBytes(m, EOS); len(got) != 0 {
		t.Fatalf("EOS should have no bytes, got %q", got)
	}
}
