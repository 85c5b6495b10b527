package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hearth/internal/chat"
	"github.com/samcharles93/hearth/internal/logger"
)

// chatOptions are the prompt-shaping flags of the chat and serve commands.
type chatOptions struct {
	instruction   string
	userPrefix    string
	aiPrefix      string
	reversePrompt string
	budget        int64
}

func (o *chatOptions) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "instruction",
			Usage:       "text placed before the conversation in every prompt",
			Destination: &o.instruction,
		},
		&cli.StringFlag{
			Name:        "user-prefix",
			Usage:       "prefix of user lines",
			Value:       "User:",
			Destination: &o.userPrefix,
		},
		&cli.StringFlag{
			Name:        "ai-prefix",
			Usage:       "prefix of model lines",
			Value:       "AI:",
			Destination: &o.aiPrefix,
		},
		&cli.StringFlag{
			Name:        "reverse-prompt",
			Aliases:     []string{"r"},
			Usage:       "stop a reply once the model writes this (default: the user prefix)",
			Destination: &o.reversePrompt,
		},
		&cli.Int64Flag{
			Name:        "budget",
			Usage:       "bytes of conversation history replayed per turn",
			Value:       chat.DefaultBudget,
			Destination: &o.budget,
		},
	}
}

func (o *chatOptions) turnConfig(s *samplingOptions) chat.TurnConfig {
	sampling := s.config()
	return chat.TurnConfig{
		Instruction:   o.instruction,
		UserPrefix:    o.userPrefix,
		AIPrefix:      o.aiPrefix,
		ReversePrompt: o.reversePrompt,
		MaxTokens:     int(s.maxTokens),
		Sampling:      &sampling,
	}
}

func (o *chatOptions) reverse() string {
	if o.reversePrompt != "" {
		return o.reversePrompt
	}
	return o.userPrefix
}

func chatCmd() *cli.Command {
	var (
		sampling samplingOptions
		opts     chatOptions
	)
	flags := append(commonModelFlags(), sampling.flags()...)
	flags = append(flags, opts.flags()...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Chat with a model in the terminal",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, fileConfig)
			applySamplingConfig(cmd, fileConfig, &sampling)
			applyChatConfig(cmd, fileConfig, &opts)

			o, err := openChat(ctx, sampling.seed, chat.WithBudget(int(opts.budget)))
			if err != nil {
				return err
			}
			defer func() { _ = o.Close() }()

			r := &repl{
				chat:   o,
				opts:   &opts,
				turn:   opts.turnConfig(&sampling),
				editor: newLineEditor(),
				out:    os.Stdout,
				errOut: os.Stderr,
				log:    logger.FromContext(ctx),
			}
			return r.run(ctx)
		},
	}
}

type repl struct {
	chat   *chat.Orchestrator
	opts   *chatOptions
	turn   chat.TurnConfig
	editor *lineEditor
	out    io.Writer
	errOut io.Writer
	log    logger.Logger
}

func (r *repl) run(ctx context.Context) error {
	fmt.Fprintln(r.out, "Type /exit to quit, /reset to clear the conversation, /messages to show it.")
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := r.editor.ReadLine(r.opts.userPrefix + " ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch line {
		case "/exit", "/quit":
			return nil
		case "/reset":
			if err := r.chat.Reset(); err != nil {
				return err
			}
			fmt.Fprintln(r.out, "Conversation cleared.")
			continue
		case "/messages":
			for _, m := range r.chat.Messages() {
				fmt.Fprintf(r.out, "[%s] %s\n", m.Role, m.Text)
			}
			continue
		}

		if err := r.reply(ctx, line); err != nil {
			return err
		}
	}
}

func (r *repl) reply(ctx context.Context, line string) error {
	p := &replyPrinter{w: r.out, hold: len(r.opts.reverse())}
	from := len(r.chat.Messages()) + 1
	cfg := r.turn
	cfg.OnUpdate = func(msgs []chat.Message) { p.update(msgs, from) }

	fmt.Fprint(r.out, r.opts.aiPrefix+" ")
	run, err := r.chat.AppendTurn(ctx, line, cfg)
	if err != nil {
		return err
	}
	if err := run.Wait(); err != nil {
		fmt.Fprintln(r.out)
		r.log.Error("reply failed", "error", err)
		fmt.Fprintf(r.errOut, "error: %v\n", err)
		return nil
	}
	p.finish(r.chat.Messages(), from)
	fmt.Fprintln(r.out)

	stats := run.Stats()
	if stats.TokensGenerated > 0 {
		fmt.Fprintf(r.errOut, "Stats: %.2f TPS (%d tokens in %s)\n", stats.TPS, stats.TokensGenerated, stats.Duration)
	}
	return nil
}

// replyPrinter writes a reply to the terminal as it grows. The last hold
// bytes stay back because a reverse prompt may still cut them.
type replyPrinter struct {
	w       io.Writer
	hold    int
	printed string
}

func replyText(msgs []chat.Message, from int) string {
	if from > len(msgs) {
		return ""
	}
	var parts []string
	for _, m := range msgs[from:] {
		if m.Role == chat.RoleAI {
			parts = append(parts, m.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (p *replyPrinter) update(msgs []chat.Message, from int) {
	text := replyText(msgs, from)
	safe := len(text) - p.hold
	for safe > 0 && safe < len(text) && !utf8.RuneStart(text[safe]) {
		safe--
	}
	if safe <= len(p.printed) {
		return
	}
	p.emit(text[:safe])
}

func (p *replyPrinter) finish(msgs []chat.Message, from int) {
	p.emit(replyText(msgs, from))
}

func (p *replyPrinter) emit(text string) {
	if !strings.HasPrefix(text, p.printed) {
		return
	}
	_, _ = io.WriteString(p.w, text[len(p.printed):])
	p.printed = text
}
