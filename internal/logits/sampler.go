// Package logits turns per-vocabulary scores into a sampled token id.
package logits

import (
	"errors"
	"math"
	"math/rand"
)

// ErrNoCandidates is returned when every token has been masked out.
var ErrNoCandidates = errors.New("no candidate tokens")

// Candidate is one scored token. P is only meaningful after a softmax.
type Candidate struct {
	ID    int
	Logit float32
	P     float32
}

// Constraint restricts which tokens may be drawn. Apply removes forbidden
// candidates and may return an error when nothing can follow; Accept is
// called exactly once with the drawn id.
type Constraint interface {
	Apply(cands []Candidate) ([]Candidate, error)
	Accept(id int) error
}

// SamplerConfig configures the behaviour of a Sampler.
type SamplerConfig struct {
	Seed          int64   `yaml:"seed"`
	Temperature   float32 `yaml:"temperature"`
	TopK          int     `yaml:"top_k"`
	TopP          float32 `yaml:"top_p"`
	MinP          float32 `yaml:"min_p"`
	RepeatPenalty float32 `yaml:"repeat_penalty"`
	RepeatLastN   int     `yaml:"repeat_last_n"`
	MinKeep       int     `yaml:"min_keep"`
}

// DefaultSamplerConfig returns top-k 40, top-p 0.95, min-p 0.05 and
// temperature 0.8 with repetition penalty disabled.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Seed:          1234,
		Temperature:   0.8,
		TopK:          40,
		TopP:          0.95,
		MinP:          0.05,
		RepeatPenalty: 1.0,
		RepeatLastN:   64,
		MinKeep:       1,
	}
}

type Sampler struct {
	rng       *rand.Rand
	cfg       SamplerConfig
	greedy    bool
	cands     []Candidate
	top       []Candidate
	seenMark  []uint32
	seenEpoch uint32
	seenList  []int
}

// NewSampler returns a new sampler with the provided configuration. A
// temperature of zero or below selects greedy decoding.
func NewSampler(cfg SamplerConfig) *Sampler {
	greedy := cfg.Temperature <= 0
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 40
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	if cfg.MinP < 0 || cfg.MinP >= 1 {
		cfg.MinP = 0
	}
	if cfg.RepeatPenalty <= 0 {
		cfg.RepeatPenalty = 1.0
	}
	if cfg.RepeatLastN <= 0 {
		cfg.RepeatLastN = 64
	}
	if cfg.MinKeep <= 0 {
		cfg.MinKeep = 1
	}
	return &Sampler{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		greedy: greedy,
	}
}

// Config returns the normalised configuration.
func (s *Sampler) Config() SamplerConfig { return s.cfg }

// Sample draws a token id from scores. The steps run in a fixed order:
//
//  1. Repetition penalty over the last RepeatLastN ids of recent.
//  2. The constraint mask, when c is non-nil.
//  3. Top-k, then top-p over the softmax of the survivors.
//  4. Min-p relative to the most likely survivor.
//  5. Temperature scaling and a seeded draw (or argmax when greedy).
//
// The constraint's Accept runs once with the drawn id before Sample returns.
func (s *Sampler) Sample(scores []float32, recent []int, c Constraint) (int, error) {
	if cap(s.cands) < len(scores) {
		s.cands = make([]Candidate, len(scores))
	}
	cands := s.cands[:len(scores)]
	for i, v := range scores {
		cands[i] = Candidate{ID: i, Logit: v}
	}
	s.penalize(cands, recent)

	if c != nil {
		var err error
		if cands, err = c.Apply(cands); err != nil {
			return -1, err
		}
	}
	if len(cands) == 0 {
		return -1, ErrNoCandidates
	}

	id := s.pick(cands)
	if c != nil {
		if err := c.Accept(id); err != nil {
			return id, err
		}
	}
	return id, nil
}

func (s *Sampler) pick(cands []Candidate) int {
	if s.greedy || s.cfg.TopK == 1 {
		return argmax(cands).ID
	}

	k := min(max(s.cfg.TopK, s.cfg.MinKeep), len(cands))
	top := s.topK(cands, k)
	softmax(top, 1)

	if s.cfg.TopP < 1 {
		var cum float64
		for i := range top {
			cum += float64(top[i].P)
			if float32(cum) >= s.cfg.TopP && i+1 >= s.cfg.MinKeep {
				top = top[:i+1]
				break
			}
		}
	}

	if s.cfg.MinP > 0 {
		threshold := top[0].P * s.cfg.MinP
		n := 0
		for i := range top {
			if top[i].P >= threshold || n < s.cfg.MinKeep {
				top[n] = top[i]
				n++
			}
		}
		top = top[:n]
	}

	softmax(top, 1/s.cfg.Temperature)

	r := s.rng.Float64()
	var cum float64
	for i := range top {
		cum += float64(top[i].P)
		if r <= cum {
			return top[i].ID
		}
	}
	return top[len(top)-1].ID
}

func (s *Sampler) penalize(cands []Candidate, recent []int) {
	if s.cfg.RepeatPenalty == 1.0 || len(recent) == 0 {
		return
	}
	start := max(len(recent)-s.cfg.RepeatLastN, 0)

	if len(s.seenMark) < len(cands) {
		s.seenMark = make([]uint32, len(cands))
	}
	s.seenEpoch++
	if s.seenEpoch == 0 {
		clear(s.seenMark)
		s.seenEpoch = 1
	}
	s.seenList = s.seenList[:0]
	for _, id := range recent[start:] {
		if id >= 0 && id < len(cands) && s.seenMark[id] != s.seenEpoch {
			s.seenMark[id] = s.seenEpoch
			s.seenList = append(s.seenList, id)
		}
	}

	for _, id := range s.seenList {
		if cands[id].Logit > 0 {
			cands[id].Logit /= s.cfg.RepeatPenalty
		} else {
			cands[id].Logit *= s.cfg.RepeatPenalty
		}
	}
}

// softmax fills P from Logit scaled by invTemp.
func softmax(cands []Candidate, invTemp float32) {
	maxv := cands[0].Logit
	for _, c := range cands[1:] {
		maxv = max(maxv, c.Logit)
	}
	var sum float64
	for i := range cands {
		e := math.Exp(float64((cands[i].Logit - maxv) * invTemp))
		cands[i].P = float32(e)
		sum += e
	}
	if sum == 0 {
		return
	}
	for i := range cands {
		cands[i].P = float32(float64(cands[i].P) / sum)
	}
}

// argmax returns the candidate with the highest logit, preferring the first
// on ties.
func argmax(cands []Candidate) Candidate {
	best := cands[0]
	for _, c := range cands[1:] {
		if c.Logit > best.Logit {
			best = c
		}
	}
	return best
}

// topK returns the k highest-scoring candidates ordered from largest to
// smallest. This is an O(V*K) insertion pass suitable for small K.
func (s *Sampler) topK(cands []Candidate, k int) []Candidate {
	if cap(s.top) < k+1 {
		s.top = make([]Candidate, 0, k+1)
	}
	top := s.top[:0]
	for _, c := range cands {
		pos := len(top)
		for pos > 0 && top[pos-1].Logit < c.Logit {
			pos--
		}
		if pos >= k {
			continue
		}
		top = append(top, Candidate{})
		copy(top[pos+1:], top[pos:])
		top[pos] = c
		if len(top) > k {
			top = top[:k]
		}
	}
	s.top = top
	return top
}
