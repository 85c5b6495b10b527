package inference

import (
	"errors"
	"time"

	"github.com/samcharles93/hearth/internal/grammar"
	"github.com/samcharles93/hearth/internal/logits"
)

// ErrStreamConsumed is yielded when a completion stream is ranged over a
// second time.
var ErrStreamConsumed = errors.New("completion stream already consumed")

// State is the lifecycle of one generation run.
type State int

const (
	StateReady State = iota
	StateDecoding
	StateEOS
	StateMaxLength
	StateCancelled
	StateGrammarExhausted
	// StateReversePrompt ends a chat turn whose output ran into the reverse
	// prompt. The generator itself never reports it.
	StateReversePrompt
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateDecoding:
		return "decoding"
	case StateEOS:
		return "eos"
	case StateMaxLength:
		return "max_length"
	case StateCancelled:
		return "cancelled"
	case StateGrammarExhausted:
		return "grammar_exhausted"
	case StateReversePrompt:
		return "reverse_prompt"
	default:
		return "unknown"
	}
}

// Stopped reports whether s is terminal.
func (s State) Stopped() bool { return s >= StateEOS }

// Normal reports whether the run ended on its own rather than by
// cancellation or an exhausted grammar.
func (s State) Normal() bool {
	return s == StateEOS || s == StateMaxLength || s == StateReversePrompt
}

type Stats struct {
	PromptTokens    int
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
}

// Completion is one fragment of generated text. The last fragment of a run
// carries the terminal State and the run Stats.
type Completion struct {
	Text  string
	State State
	Stats Stats
}

// Request describes one generation run. MaxTokens at or below zero lets the
// run continue until the context is full.
type Request struct {
	Prompt    string
	MaxTokens int
	Sampling  logits.SamplerConfig
	Grammar   *grammar.Grammar
}
