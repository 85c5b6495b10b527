package inference

import "github.com/samcharles93/hearth/internal/logits"

// RequestOptions carries per-request overrides; nil fields fall back to
// Defaults and then to the built-in sampler defaults.
type RequestOptions struct {
	Prompt string

	MaxTokens *int
	Seed      *int64

	Temperature   *float64
	TopK          *int
	TopP          *float64
	MinP          *float64
	RepeatPenalty *float64
	RepeatLastN   *int
}

// Defaults are the generation defaults configured for a model.
type Defaults struct {
	MaxTokens     *int     `yaml:"max_tokens"`
	Seed          *int64   `yaml:"seed"`
	Temperature   *float64 `yaml:"temperature"`
	TopK          *int     `yaml:"top_k"`
	TopP          *float64 `yaml:"top_p"`
	MinP          *float64 `yaml:"min_p"`
	RepeatPenalty *float64 `yaml:"repeat_penalty"`
}

func ResolveRequest(opts RequestOptions, defaults Defaults) Request {
	cfg := logits.DefaultSamplerConfig()
	req := Request{
		Prompt:    opts.Prompt,
		MaxTokens: 256,
	}

	if defaults.MaxTokens != nil {
		req.MaxTokens = *defaults.MaxTokens
	}
	if defaults.Seed != nil {
		cfg.Seed = *defaults.Seed
	}
	if defaults.Temperature != nil && *defaults.Temperature >= 0 {
		cfg.Temperature = float32(*defaults.Temperature)
	}
	if defaults.TopK != nil && *defaults.TopK > 0 {
		cfg.TopK = *defaults.TopK
	}
	if defaults.TopP != nil && *defaults.TopP > 0 && *defaults.TopP <= 1 {
		cfg.TopP = float32(*defaults.TopP)
	}
	if defaults.MinP != nil && *defaults.MinP >= 0 && *defaults.MinP < 1 {
		cfg.MinP = float32(*defaults.MinP)
	}
	if defaults.RepeatPenalty != nil && *defaults.RepeatPenalty > 0 {
		cfg.RepeatPenalty = float32(*defaults.RepeatPenalty)
	}

	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}
	if opts.Seed != nil {
		cfg.Seed = *opts.Seed
	}
	if opts.Temperature != nil {
		cfg.Temperature = float32(*opts.Temperature)
	}
	if opts.TopK != nil {
		cfg.TopK = *opts.TopK
	}
	if opts.TopP != nil {
		cfg.TopP = float32(*opts.TopP)
	}
	if opts.MinP != nil {
		cfg.MinP = float32(*opts.MinP)
	}
	if opts.RepeatPenalty != nil {
		cfg.RepeatPenalty = float32(*opts.RepeatPenalty)
	}
	if opts.RepeatLastN != nil {
		cfg.RepeatLastN = *opts.RepeatLastN
	}

	req.Sampling = cfg
	return req
}
