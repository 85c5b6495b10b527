package grammar

import (
	"fmt"

	"github.com/samcharles93/hearth/internal/logits"
)

// maxCachedStates bounds the per-state mask cache of a Constraint.
const maxCachedStates = 256

// Vocabulary exposes the raw bytes of each token.
type Vocabulary interface {
	TokenBytes(id int) []byte
	EOS() int
}

// Constraint adapts a Matcher to logits.Constraint. Apply masks every
// candidate whose bytes the grammar cannot accept next; the end-of-sequence
// token is allowed only once the grammar is complete.
type Constraint struct {
	m     *Matcher
	vocab Vocabulary
	cache map[string]map[int]bool
}

var _ logits.Constraint = (*Constraint)(nil)

// NewConstraint starts a fresh parse of g over vocab.
func NewConstraint(g *Grammar, vocab Vocabulary) *Constraint {
	return &Constraint{
		m:     g.NewMatcher(),
		vocab: vocab,
		cache: make(map[string]map[int]bool),
	}
}

// Done reports whether the text accepted so far is a complete sentence.
func (c *Constraint) Done() bool { return c.m.Done() }

// Apply filters cands in place. It returns ErrExhausted when nothing
// survives.
func (c *Constraint) Apply(cands []logits.Candidate) ([]logits.Candidate, error) {
	key := c.m.key()
	allowed, ok := c.cache[key]
	if !ok {
		if len(c.cache) >= maxCachedStates {
			clear(c.cache)
		}
		allowed = make(map[int]bool)
		c.cache[key] = allowed
	}

	eos := c.vocab.EOS()
	var ids []int
	var pieces [][]byte
	for _, cand := range cands {
		if cand.ID == eos {
			continue
		}
		if _, seen := allowed[cand.ID]; !seen {
			ids = append(ids, cand.ID)
			pieces = append(pieces, c.vocab.TokenBytes(cand.ID))
		}
	}
	if len(ids) > 0 {
		for i, rejected := range c.m.reject(pieces) {
			allowed[ids[i]] = !rejected
		}
	}

	done := c.m.Done()
	out := cands[:0]
	for _, cand := range cands {
		if cand.ID == eos && done || cand.ID != eos && allowed[cand.ID] {
			out = append(out, cand)
		}
	}
	if len(out) == 0 {
		return nil, ErrExhausted
	}
	return out, nil
}

// Accept advances the parse over token id.
func (c *Constraint) Accept(id int) error {
	if id == c.vocab.EOS() {
		if c.m.Done() {
			return nil
		}
		return fmt.Errorf("%w: end of sequence before the grammar completed", ErrExhausted)
	}
	return c.m.AcceptBytes(c.vocab.TokenBytes(id))
}
