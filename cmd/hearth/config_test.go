package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/urfave/cli/v3"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		if err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
		if diff := cmp.Diff(Config{}, cfg); diff != "" {
			t.Fatalf("config (-want +got):\n%s", diff)
		}
	})

	t.Run("malformed file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("ctx_size: [1, 2\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("expected parse error")
		}
	})

	t.Run("fields", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "config.yaml")
		src := "backend: toy\nctx_size: 4096\ntemperature: 0.2\nchat:\n  user_prefix: \"Q:\"\n  budget: 128\n"
		if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
		if cfg.Backend != "toy" || *cfg.ContextSize != 4096 || *cfg.Temperature != 0.2 {
			t.Fatalf("unexpected config %+v", cfg)
		}
		if *cfg.Chat.UserPrefix != "Q:" || *cfg.Chat.Budget != 128 {
			t.Fatalf("unexpected chat config %+v", cfg.Chat)
		}
	})
}

func TestApplyChatConfigRespectsFlags(t *testing.T) {
	t.Parallel()

	userPrefix := "Q:"
	aiPrefix := "A:"
	budget := int64(64)
	cfg := Config{Chat: ChatConfig{UserPrefix: &userPrefix, AIPrefix: &aiPrefix, Budget: &budget}}

	var opts chatOptions
	cmd := &cli.Command{
		Name:  "chat",
		Flags: opts.flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyChatConfig(c, cfg, &opts)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), []string{"chat", "--ai-prefix", "Bot:"}); err != nil {
		t.Fatal(err)
	}

	want := chatOptions{userPrefix: "Q:", aiPrefix: "Bot:", budget: 64}
	if diff := cmp.Diff(want, opts, cmp.AllowUnexported(chatOptions{})); diff != "" {
		t.Fatalf("options (-want +got):\n%s", diff)
	}
}

func TestApplySamplingConfig(t *testing.T) {
	t.Parallel()

	temp := 0.1
	topK := int64(7)
	cfg := Config{Temperature: &temp, TopK: &topK}

	var opts samplingOptions
	cmd := &cli.Command{
		Name:  "generate",
		Flags: opts.flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			applySamplingConfig(c, cfg, &opts)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), []string{"generate", "--top-k", "3"}); err != nil {
		t.Fatal(err)
	}
	got := opts.config()
	if got.Temperature != 0.1 || got.TopK != 3 {
		t.Fatalf("sampler %+v", got)
	}
	if opts.maxTokens != 256 {
		t.Fatalf("max tokens default %d", opts.maxTokens)
	}
}
