package toy

import "math/rand"

// projection is a seeded embedding matrix and output projection. It turns
// the previous token into a small deterministic perturbation of the n-gram
// scores so that different seeds produce different but reproducible text.
type projection struct {
	vocab  int
	hidden int

	emb []float32 // [vocab x hidden]
	w   []float32 // [hidden x vocab]
}

func newProjection(vocab, hidden int, seed int64) *projection {
	p := &projection{
		vocab:  vocab,
		hidden: hidden,
		emb:    make([]float32, vocab*hidden),
		w:      make([]float32, hidden*vocab),
	}
	fillRand(p.emb, seed+11)
	fillRand(p.w, seed+23)
	return p
}

func fillRand(dst []float32, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range dst {
		dst[i] = rng.Float32()*2 - 1
	}
}

// addTo accumulates scale * (emb[tok] x W) into out. Tokens outside the
// vocabulary wrap around.
func (p *projection) addTo(out []float32, tok int, scale float32) {
	if p == nil || scale == 0 {
		return
	}
	tok %= p.vocab
	if tok < 0 {
		tok += p.vocab
	}
	h := p.emb[tok*p.hidden : (tok+1)*p.hidden]
	for j := 0; j < p.vocab && j < len(out); j++ {
		var sum float32
		for i, hv := range h {
			sum += hv * p.w[i*p.vocab+j]
		}
		out[j] += scale * sum
	}
}
