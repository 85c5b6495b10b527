package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hearth/internal/backend"
	"github.com/samcharles93/hearth/internal/logits"
)

var (
	configFile  string
	modelPath   string
	modelsPath  string
	backendName string
	contextSize int64
	batchSize   int64
	threads     int64
	logLevel    string
	logFormat   string
	debug       bool
)

func commonModelFlags() []cli.Flag {
	d := backend.DefaultContextParams()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to a model file (empty selects the builtin toy model)",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "directory to pick a model from when --model is unset",
			Destination: &modelsPath,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "model backend",
			Value:       backend.Toy,
			Destination: &backendName,
		},
		&cli.Int64Flag{
			Name:        "ctx-size",
			Aliases:     []string{"ctx", "c"},
			Usage:       "context size in tokens",
			Value:       int64(d.ContextSize),
			Destination: &contextSize,
		},
		&cli.Int64Flag{
			Name:        "batch-size",
			Aliases:     []string{"b"},
			Usage:       "prompt batch size in tokens",
			Value:       int64(d.BatchSize),
			Destination: &batchSize,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Usage:       "decode threads",
			Value:       int64(d.Threads),
			Destination: &threads,
		},
	}
}

// samplingOptions collects the sampler flags of one command.
type samplingOptions struct {
	maxTokens     int64
	seed          int64
	temp          float64
	topK          int64
	topP          float64
	minP          float64
	repeatPenalty float64
	repeatLastN   int64
}

func (o *samplingOptions) flags() []cli.Flag {
	d := logits.DefaultSamplerConfig()
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "max-tokens",
			Aliases:     []string{"n"},
			Usage:       "tokens to generate (0 = until the context is full)",
			Value:       256,
			Destination: &o.maxTokens,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampling RNG seed",
			Value:       d.Seed,
			Destination: &o.seed,
		},
		&cli.Float64Flag{
			Name:        "temp",
			Aliases:     []string{"temperature", "t"},
			Usage:       "sampling temperature (0 = greedy)",
			Value:       float64(d.Temperature),
			Destination: &o.temp,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Usage:       "top-k sampling parameter",
			Value:       int64(d.TopK),
			Destination: &o.topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Usage:       "top-p sampling parameter",
			Value:       float64(d.TopP),
			Destination: &o.topP,
		},
		&cli.Float64Flag{
			Name:        "min-p",
			Usage:       "min-p sampling parameter (0.0 = disabled)",
			Value:       float64(d.MinP),
			Destination: &o.minP,
		},
		&cli.Float64Flag{
			Name:        "repeat-penalty",
			Usage:       "repetition penalty (1.0 = disabled)",
			Value:       float64(d.RepeatPenalty),
			Destination: &o.repeatPenalty,
		},
		&cli.Int64Flag{
			Name:        "repeat-last-n",
			Usage:       "last n tokens to penalize",
			Value:       int64(d.RepeatLastN),
			Destination: &o.repeatLastN,
		},
	}
}

func (o *samplingOptions) config() logits.SamplerConfig {
	cfg := logits.DefaultSamplerConfig()
	cfg.Seed = o.seed
	cfg.Temperature = float32(o.temp)
	cfg.TopK = int(o.topK)
	cfg.TopP = float32(o.topP)
	cfg.MinP = float32(o.minP)
	cfg.RepeatPenalty = float32(o.repeatPenalty)
	cfg.RepeatLastN = int(o.repeatLastN)
	return cfg
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "config file (default ~/.config/hearth/config.yaml)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
