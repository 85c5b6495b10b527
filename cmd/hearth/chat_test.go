package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/hearth/internal/backend"
	"github.com/samcharles93/hearth/internal/backend/backendtest"
	"github.com/samcharles93/hearth/internal/chat"
	"github.com/samcharles93/hearth/internal/inference"
	"github.com/samcharles93/hearth/internal/logger"
	"github.com/samcharles93/hearth/internal/session"
)

func TestReplyPrinterHoldsBackReversePrompt(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := &replyPrinter{w: &buf, hold: len("User:")}
	user := chat.NewMessage(chat.RoleUser, "hi")
	for _, partial := range []string{"Hel", "Hello th", "Hello there\nUs"} {
		p.update([]chat.Message{user, chat.NewMessage(chat.RoleAI, partial)}, 1)
	}
	if got := buf.String(); got != "Hello " {
		t.Fatalf("printed %q before the reply settled", got)
	}
	p.finish([]chat.Message{user, chat.NewMessage(chat.RoleAI, "Hello there")}, 1)
	if got := buf.String(); got != "Hello there" {
		t.Fatalf("final output %q", got)
	}
}

func TestReplyPrinterJoinsSplitMessages(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := &replyPrinter{w: &buf}
	msgs := []chat.Message{
		chat.NewMessage(chat.RoleUser, "count"),
		chat.NewMessage(chat.RoleAI, "one"),
		chat.NewMessage(chat.RoleAI, "two"),
	}
	p.finish(msgs, 1)
	if got := buf.String(); got != "one\ntwo" {
		t.Fatalf("output %q", got)
	}
}

func TestReplyPrinterKeepsRuneBoundaries(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := &replyPrinter{w: &buf, hold: 1}
	p.update([]chat.Message{chat.NewMessage(chat.RoleAI, "aあ")}, 0)
	if got := buf.String(); got != "a" {
		t.Fatalf("output %q", got)
	}
}

func TestREPLReply(t *testing.T) {
	t.Parallel()

	m := backendtest.NewModel("Hi", " there", "\nUser:", " more")
	sess, err := session.New(m, backend.ContextParams{ContextSize: 512}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	o := chat.New(inference.NewGenerator(sess, logger.Nop()))
	t.Cleanup(func() { _ = sess.Close() })

	opts := &chatOptions{userPrefix: "User:", aiPrefix: "AI:"}
	sampling := &samplingOptions{maxTokens: 32, topK: 40, topP: 0.95, repeatPenalty: 1}
	var out, errOut bytes.Buffer
	r := &repl{
		chat:   o,
		opts:   opts,
		turn:   opts.turnConfig(sampling),
		out:    &out,
		errOut: &errOut,
		log:    logger.Nop(),
	}
	if err := r.reply(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "AI: Hi there\n" {
		t.Fatalf("output %q", got)
	}
	msgs := o.Messages()
	if len(msgs) != 2 || msgs[1].Text != "Hi there" {
		t.Fatalf("log %+v", msgs)
	}
}

func TestLoadGrammar(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "yes.gbnf")
	if err := os.WriteFile(path, []byte(`root ::= "yes" | "no"`), 0o644); err != nil {
		t.Fatal(err)
	}

	gr, err := loadGrammar(path, "")
	if err != nil {
		t.Fatalf("loadGrammar(file): %v", err)
	}
	if !gr.Matches("yes") || gr.Matches("maybe") {
		t.Fatalf("grammar from file matches wrongly")
	}
	if gr, err := loadGrammar("", "json"); err != nil || gr == nil {
		t.Fatalf("builtin json: %v", err)
	}
	if gr, err := loadGrammar("", ""); err != nil || gr != nil {
		t.Fatalf("no grammar should be unconstrained, got %v %v", gr, err)
	}
	if _, err := loadGrammar(path, "json"); err == nil {
		t.Fatalf("expected an error for both sources")
	}
	if _, err := loadGrammar("", "yaml"); err == nil {
		t.Fatalf("expected an error for an unknown builtin")
	}
}
