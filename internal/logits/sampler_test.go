package logits

import (
	"errors"
	"testing"
)

// TestSamplerDeterminism ensures that two samplers configured identically
// produce identical results when sampling the same scores.
func TestSamplerDeterminism(t *testing.T) {
	t.Parallel()

	scores := []float32{0, 1, 2, 3, 4, 5}
	s1 := NewSampler(SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	s2 := NewSampler(SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	for i := range 20 {
		a, err := s1.Sample(scores, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		b, err := s2.Sample(scores, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if a != b {
			t.Fatalf("draw %d: expected deterministic sample, got %d vs %d", i, a, b)
		}
	}
}

func TestSamplerGreedy(t *testing.T) {
	t.Parallel()

	scores := []float32{-1, 5, 3, 7, 2}
	for _, cfg := range []SamplerConfig{
		{Seed: 99, Temperature: 0},
		{Seed: 99, Temperature: 1.0, TopK: 1, TopP: 1.0},
	} {
		idx, err := NewSampler(cfg).Sample(scores, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if idx != 3 {
			t.Fatalf("%+v: expected greedy index 3, got %d", cfg, idx)
		}
	}
}

// In this example the cumulative probability after the first element is
// above TopP, so only the first index should ever be returned.
func TestSamplerTopP(t *testing.T) {
	t.Parallel()

	scores := []float32{10, 0, 0, 0, 0}
	s := NewSampler(SamplerConfig{Seed: 7, Temperature: 1.0, TopK: 5, TopP: 0.5})
	for range 10 {
		idx, err := s.Sample(scores, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if idx != 0 {
			t.Fatalf("top-p sampling returned unexpected index %d", idx)
		}
	}
}

func TestSamplerMinP(t *testing.T) {
	t.Parallel()

	// Index 2 sits far below 0.5 of the best probability.
	scores := []float32{3, 3, -4}
	s := NewSampler(SamplerConfig{Seed: 3, Temperature: 5, TopK: 3, TopP: 1, MinP: 0.5})
	for range 200 {
		idx, err := s.Sample(scores, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if idx == 2 {
			t.Fatalf("min-p should have removed index 2")
		}
	}
}

func TestSamplerRepeatPenalty(t *testing.T) {
	t.Parallel()

	scores := []float32{2, 1.9, 0}
	s := NewSampler(SamplerConfig{Temperature: 0, RepeatPenalty: 2})
	idx, err := s.Sample(scores, []int{0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 1 {
		t.Fatalf("expected penalised token 0 to lose, got %d", idx)
	}
	if scores[0] != 2 {
		t.Fatalf("sample must not modify the caller's scores")
	}
}

type allowList struct {
	allowed  map[int]bool
	accepted []int
	err      error
}

func (a *allowList) Apply(cands []Candidate) ([]Candidate, error) {
	if a.err != nil {
		return nil, a.err
	}
	out := cands[:0]
	for _, c := range cands {
		if a.allowed[c.ID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (a *allowList) Accept(id int) error {
	a.accepted = append(a.accepted, id)
	return nil
}

func TestSamplerConstraintMask(t *testing.T) {
	t.Parallel()

	scores := []float32{9, 8, 1, 0.5, 7}
	c := &allowList{allowed: map[int]bool{2: true, 3: true}}
	s := NewSampler(DefaultSamplerConfig())
	for range 50 {
		idx, err := s.Sample(scores, nil, c)
		if err != nil {
			t.Fatal(err)
		}
		if !c.allowed[idx] {
			t.Fatalf("sampled masked id %d", idx)
		}
	}
	if len(c.accepted) != 50 {
		t.Fatalf("accept should run once per draw, got %d calls", len(c.accepted))
	}
}

func TestSamplerEmptyAfterMask(t *testing.T) {
	t.Parallel()

	s := NewSampler(DefaultSamplerConfig())
	_, err := s.Sample([]float32{1, 2}, nil, &allowList{})
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}

	exhausted := errors.New("exhausted")
	_, err = s.Sample([]float32{1, 2}, nil, &allowList{err: exhausted})
	if !errors.Is(err, exhausted) {
		t.Fatalf("constraint error should surface unchanged, got %v", err)
	}
}

func TestDefaultSamplerConfig(t *testing.T) {
	t.Parallel()

	cfg := NewSampler(SamplerConfig{}).Config()
	if cfg.TopK != 40 || cfg.MinKeep != 1 || cfg.RepeatPenalty != 1 {
		t.Fatalf("unexpected normalised config %+v", cfg)
	}
	d := DefaultSamplerConfig()
	if d.TopK != 40 || d.TopP != 0.95 || d.MinP != 0.05 || d.Temperature != 0.8 {
		t.Fatalf("unexpected defaults %+v", d)
	}
}
