// Package inference runs the sample-decode loop over a session and streams
// the generated text as UTF-8 safe fragments.
package inference

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samcharles93/hearth/internal/grammar"
	"github.com/samcharles93/hearth/internal/logger"
	"github.com/samcharles93/hearth/internal/logits"
	"github.com/samcharles93/hearth/internal/session"
	"github.com/samcharles93/hearth/internal/utf8buf"
)

// Session is the decode state a Generator drives. *session.Session
// implements it.
type Session interface {
	CompletionInit(prompt string, maxTokens int) (int, error)
	Logits() ([]float32, error)
	Accept(token int) error
	Reset() error
	Pos() int
	Capacity() int
	TokenBytes(id int) []byte
	EOS() int
}

var _ Session = (*session.Session)(nil)

// Generator runs one generation at a time over a session.
type Generator struct {
	mu   sync.Mutex
	sess Session
	log  logger.Logger
}

func NewGenerator(sess Session, log logger.Logger) *Generator {
	return &Generator{sess: sess, log: logger.Component(log, "inference")}
}

// Reset clears the session, waiting for any running generation to finish.
func (g *Generator) Reset() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sess.Reset()
}

// Generate returns a lazy stream of fragments. Nothing happens until the
// stream is ranged over, and it may be ranged over only once. The last
// fragment of a successful run carries a terminal State; a fatal error is
// yielded as the final element instead. Breaking out of the range cancels
// the run.
func (g *Generator) Generate(ctx context.Context, req Request) iter.Seq2[Completion, error] {
	var consumed atomic.Bool
	return func(yield func(Completion, error) bool) {
		if consumed.Swap(true) {
			yield(Completion{}, ErrStreamConsumed)
			return
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		g.run(ctx, req, yield)
	}
}

// GenerateConstrained is Generate with every token restricted to gr.
func (g *Generator) GenerateConstrained(ctx context.Context, req Request, gr *grammar.Grammar) iter.Seq2[Completion, error] {
	req.Grammar = gr
	return g.Generate(ctx, req)
}

func (g *Generator) run(ctx context.Context, req Request, yield func(Completion, error) bool) {
	start := time.Now()
	if g.sess.Pos() != 0 {
		if err := g.sess.Reset(); err != nil {
			yield(Completion{}, err)
			return
		}
	}

	promptTokens, limit, err := g.init(req)
	if err != nil {
		yield(Completion{}, err)
		return
	}

	sampler := logits.NewSampler(req.Sampling)
	var constraint logits.Constraint
	if req.Grammar != nil {
		constraint = grammar.NewConstraint(req.Grammar, g.sess)
	}

	var (
		rb     utf8buf.Reassembler
		recent []int
		stats  = Stats{PromptTokens: promptTokens}
		eos    = g.sess.EOS()
	)
	finish := func(state State) {
		// A cancelled run drops an incomplete character rather than
		// replacing it, so its text stays a prefix of the full run.
		var text string
		if state == StateCancelled {
			if n := rb.Pending(); n > 0 {
				g.log.Debug("incomplete character dropped on cancel", "bytes", n)
				rb.Reset()
			}
		} else {
			var lossy bool
			text, lossy = rb.Flush()
			if lossy {
				g.log.Warn("undecodable bytes at end of generation", "bytes", len(text))
			}
		}
		stats.Duration = time.Since(start)
		if stats.Duration > 0 {
			stats.TPS = float64(stats.TokensGenerated) / stats.Duration.Seconds()
		}
		g.log.Debug("generation stopped", "state", state, "tokens", stats.TokensGenerated, "duration", stats.Duration)
		yield(Completion{Text: text, State: state, Stats: stats}, nil)
	}

	for {
		if ctx.Err() != nil {
			finish(StateCancelled)
			return
		}
		if g.sess.Pos() >= limit {
			finish(StateMaxLength)
			return
		}

		scores, err := g.sess.Logits()
		if err != nil {
			yield(Completion{}, err)
			return
		}
		id, err := sampler.Sample(scores, recent, constraint)
		if err != nil {
			if errors.Is(err, grammar.ErrExhausted) || errors.Is(err, logits.ErrNoCandidates) {
				g.log.Debug("grammar exhausted", "error", err)
				finish(StateGrammarExhausted)
				return
			}
			yield(Completion{}, err)
			return
		}
		if id == eos {
			finish(StateEOS)
			return
		}
		text := rb.Push(g.sess.TokenBytes(id))
		if err := g.sess.Accept(id); err != nil {
			g.log.Error("decode failed", "error", err)
			yield(Completion{}, err)
			return
		}
		stats.TokensGenerated++
		recent = append(recent, id)

		if text == "" {
			continue
		}
		if !yield(Completion{Text: text, State: StateDecoding}, nil) {
			g.log.Debug("generation cancelled by consumer", "tokens", stats.TokensGenerated)
			return
		}
	}
}

// init decodes the prompt and returns its token count and the position
// limit. An oversized generation request is shrunk to the space left after
// the prompt.
func (g *Generator) init(req Request) (int, int, error) {
	n, err := g.sess.CompletionInit(req.Prompt, req.MaxTokens)
	var tokErr *session.TokenizeError
	if errors.As(err, &tokErr) && tokErr.Fits() && req.MaxTokens > 0 {
		shrunk := tokErr.Capacity - tokErr.PromptTokens
		g.log.Warn("generation request exceeds context, shrinking",
			"prompt_tokens", tokErr.PromptTokens, "requested", req.MaxTokens, "max_tokens", shrunk)
		req.MaxTokens = shrunk
		n, err = g.sess.CompletionInit(req.Prompt, req.MaxTokens)
	}
	if err != nil {
		return 0, 0, err
	}
	limit := g.sess.Capacity()
	if req.MaxTokens > 0 {
		limit = min(limit, n+req.MaxTokens)
	}
	return n, limit, nil
}

// Collect drains seq and returns the concatenated text and the final
// fragment.
func Collect(seq iter.Seq2[Completion, error]) (string, Completion, error) {
	var sb strings.Builder
	var last Completion
	for c, err := range seq {
		if err != nil {
			return sb.String(), last, err
		}
		sb.WriteString(c.Text)
		last = c
	}
	return sb.String(), last, nil
}
