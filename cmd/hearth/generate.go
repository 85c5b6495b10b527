package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hearth/internal/grammar"
	"github.com/samcharles93/hearth/internal/inference"
)

func generateCmd() *cli.Command {
	var (
		sampling    samplingOptions
		prompt      string
		grammarFile string
		grammarName string
		streamMode  string
		raw         bool
	)
	flags := append(commonModelFlags(), sampling.flags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt text (read from stdin when empty)",
			Destination: &prompt,
		},
		&cli.StringFlag{
			Name:        "grammar",
			Aliases:     []string{"g"},
			Usage:       "constrain output with the grammar in this file",
			Destination: &grammarFile,
		},
		&cli.StringFlag{
			Name:        "grammar-name",
			Usage:       "constrain output with a builtin grammar (" + strings.Join(grammar.BuiltinNames(), ", ") + ")",
			Destination: &grammarName,
		},
		&cli.StringFlag{
			Name:        "stream-mode",
			Usage:       "output mode (instant, smooth, typewriter, quiet)",
			Value:       string(StreamInstant),
			Destination: &streamMode,
		},
		&cli.BoolFlag{
			Name:        "raw",
			Usage:       "escape control characters in the output",
			Destination: &raw,
		},
	)

	return &cli.Command{
		Name:  "generate",
		Usage: "Complete a prompt",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, fileConfig)
			applySamplingConfig(cmd, fileConfig, &sampling)
			applyStreamConfig(cmd, fileConfig, &streamMode)

			mode, err := parseStreamMode(streamMode)
			if err != nil {
				return err
			}
			gr, err := loadGrammar(grammarFile, grammarName)
			if err != nil {
				return err
			}
			if prompt == "" {
				b, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read prompt: %w", err)
				}
				prompt = trimTrailingNewline(string(b))
			}
			if prompt == "" {
				return errors.New("empty prompt")
			}

			o, err := openChat(ctx, sampling.seed)
			if err != nil {
				return err
			}
			defer func() { _ = o.Close() }()

			req := inference.Request{
				Prompt:    prompt,
				MaxTokens: int(sampling.maxTokens),
				Sampling:  sampling.config(),
				Grammar:   gr,
			}
			sw := NewStreamWriter(os.Stdout, mode, raw)
			var last inference.Completion
			for c, err := range o.Generate(ctx, req) {
				if err != nil {
					sw.Flush()
					return err
				}
				sw.Write(c.Text)
				last = c
			}
			sw.Flush()
			fmt.Fprintln(os.Stdout)

			st := last.Stats
			fmt.Fprintf(os.Stderr, "Stats: %.2f TPS (%d tokens in %s, stop: %s)\n", st.TPS, st.TokensGenerated, st.Duration, last.State)
			return nil
		},
	}
}

// loadGrammar reads a grammar file or looks up a builtin. At most one of the
// two may be given; neither means unconstrained.
func loadGrammar(file, name string) (*grammar.Grammar, error) {
	switch {
	case file != "" && name != "":
		return nil, errors.New("--grammar and --grammar-name are mutually exclusive")
	case file != "":
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		gr, err := grammar.Parse(string(src))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		return gr, nil
	case name != "":
		gr, ok := grammar.Builtin(name)
		if !ok {
			return nil, fmt.Errorf("unknown grammar %q (%s)", name, strings.Join(grammar.BuiltinNames(), ", "))
		}
		return gr, nil
	}
	return nil, nil
}
