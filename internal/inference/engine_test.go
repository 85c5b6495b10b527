package inference

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/samcharles93/hearth/internal/backend"
	"github.com/samcharles93/hearth/internal/backend/backendtest"
	"github.com/samcharles93/hearth/internal/grammar"
	"github.com/samcharles93/hearth/internal/logger"
	"github.com/samcharles93/hearth/internal/logits"
	"github.com/samcharles93/hearth/internal/session"
)

func newTestGenerator(t *testing.T, m *backendtest.Model, nCtx int) (*Generator, *session.Session) {
	t.Helper()
	sess, err := session.New(m, backend.ContextParams{ContextSize: nCtx}, logger.Nop())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return NewGenerator(sess, logger.Nop()), sess
}

func request(prompt string, maxTokens int) Request {
	return Request{Prompt: prompt, MaxTokens: maxTokens, Sampling: logits.DefaultSamplerConfig()}
}

func TestGenerateFollowsScriptToEOS(t *testing.T) {
	t.Parallel()

	g, _ := newTestGenerator(t, backendtest.NewModel("h", "e", "l", "l", "o"), 64)
	text, last, err := Collect(g.Generate(context.Background(), request("say hi", 32)))
	if err != nil {
		t.Fatal(err)
	}
	if text != "hello" {
		t.Fatalf("text %q", text)
	}
	if last.State != StateEOS || !last.State.Stopped() || !last.State.Normal() {
		t.Fatalf("final state %v", last.State)
	}
	if last.Stats.TokensGenerated != 5 || last.Stats.PromptTokens != 7 {
		t.Fatalf("stats %+v", last.Stats)
	}
}

func TestGenerateIsDeterministicAcrossRuns(t *testing.T) {
	t.Parallel()

	g, sess := newTestGenerator(t, backendtest.NewModel("a", "b", "c"), 64)
	req := request("prompt", 16)
	req.Sampling.Temperature = 1.2

	first, _, err := Collect(g.Generate(context.Background(), req))
	if err != nil {
		t.Fatal(err)
	}
	if sess.Pos() == 0 {
		t.Fatalf("session should hold the previous run until the next one starts")
	}
	second, _, err := Collect(g.Generate(context.Background(), req))
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("runs differ: %q vs %q", first, second)
	}
}

func TestGenerateStopsAtMaxTokens(t *testing.T) {
	t.Parallel()

	g, _ := newTestGenerator(t, backendtest.NewModel("a", "b", "c", "d", "e"), 64)
	text, last, err := Collect(g.Generate(context.Background(), request("x", 3)))
	if err != nil {
		t.Fatal(err)
	}
	if text != "abc" || last.State != StateMaxLength || last.Stats.TokensGenerated != 3 {
		t.Fatalf("text %q state %v stats %+v", text, last.State, last.Stats)
	}
}

func TestGenerateShrinksOversizedRequest(t *testing.T) {
	t.Parallel()

	g, _ := newTestGenerator(t, backendtest.NewModel("a", "b", "c", "d", "e", "f", "g", "h"), 16)
	text, last, err := Collect(g.Generate(context.Background(), request("0123456789", 100)))
	if err != nil {
		t.Fatalf("oversized request should be shrunk, got %v", err)
	}
	if text != "abcde" || last.State != StateMaxLength {
		t.Fatalf("text %q state %v", text, last.State)
	}
}

func TestGenerateRejectsPromptLargerThanContext(t *testing.T) {
	t.Parallel()

	g, _ := newTestGenerator(t, backendtest.NewModel("a"), 8)
	_, _, err := Collect(g.Generate(context.Background(), request("0123456789", 1)))
	var tokErr *session.TokenizeError
	if !errors.As(err, &tokErr) {
		t.Fatalf("expected TokenizeError, got %v", err)
	}
}

func TestGenerateCancelYieldsPrefix(t *testing.T) {
	t.Parallel()

	g, _ := newTestGenerator(t, backendtest.NewModel("a", "b", "c", "d"), 64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fragments []string
	var last Completion
	for c, err := range g.Generate(ctx, request("x", 16)) {
		if err != nil {
			t.Fatal(err)
		}
		fragments = append(fragments, c.Text)
		last = c
		if len(fragments) == 2 {
			cancel()
		}
	}
	if last.State != StateCancelled {
		t.Fatalf("expected cancelled, got %v", last.State)
	}
	if diff := cmp.Diff([]string{"a", "b", ""}, fragments); diff != "" {
		t.Fatalf("fragments (-want +got):\n%s", diff)
	}
}

func TestGenerateCancelInsideCodepointYieldsPrefix(t *testing.T) {
	t.Parallel()

	uncancelled, _ := newTestGenerator(t, backendtest.NewRawModel([]byte("あい")), 64)
	full, _, err := Collect(uncancelled.Generate(context.Background(), request("x", 16)))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := backendtest.NewRawModel([]byte("あい"))
	// Decode 1 is the prompt; decode 5 accepts the first byte of い.
	m.OnDecode = func(step int) {
		if step == 5 {
			cancel()
		}
	}
	g, _ := newTestGenerator(t, m, 64)
	var fragments []string
	var last Completion
	for c, err := range g.Generate(ctx, request("x", 16)) {
		if err != nil {
			t.Fatal(err)
		}
		fragments = append(fragments, c.Text)
		last = c
	}
	if last.State != StateCancelled {
		t.Fatalf("expected cancelled, got %v", last.State)
	}
	got := strings.Join(fragments, "")
	if got != "あ" || !strings.HasPrefix(full, got) {
		t.Fatalf("cancelled text %q is not a prefix of %q", got, full)
	}
}

func TestGenerateConsumerBreakReleasesGenerator(t *testing.T) {
	t.Parallel()

	g, _ := newTestGenerator(t, backendtest.NewModel("a", "b", "c"), 64)
	for c, err := range g.Generate(context.Background(), request("x", 16)) {
		if err != nil {
			t.Fatal(err)
		}
		if c.Text == "a" {
			break
		}
	}
	text, _, err := Collect(g.Generate(context.Background(), request("x", 16)))
	if err != nil {
		t.Fatal(err)
	}
	if text != "abc" {
		t.Fatalf("second run should start fresh, got %q", text)
	}
}

func TestGenerateSingleConsumption(t *testing.T) {
	t.Parallel()

	g, _ := newTestGenerator(t, backendtest.NewModel("a"), 64)
	seq := g.Generate(context.Background(), request("x", 4))
	if _, _, err := Collect(seq); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Collect(seq); !errors.Is(err, ErrStreamConsumed) {
		t.Fatalf("expected ErrStreamConsumed, got %v", err)
	}
}

func TestGenerateDecodeErrorEndsRun(t *testing.T) {
	t.Parallel()

	m := backendtest.NewModel("a", "b", "c")
	m.FailDecodeAt = 3
	g, _ := newTestGenerator(t, m, 64)

	text, _, err := Collect(g.Generate(context.Background(), request("x", 16)))
	var decErr *session.DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if text != "a" {
		t.Fatalf("text before failure %q", text)
	}
}

func TestGenerateReassemblesSplitCodepoints(t *testing.T) {
	t.Parallel()

	g, _ := newTestGenerator(t, backendtest.NewRawModel([]byte("あい")), 64)
	var fragments []string
	for c, err := range g.Generate(context.Background(), request("x", 16)) {
		if err != nil {
			t.Fatal(err)
		}
		fragments = append(fragments, c.Text)
	}
	if diff := cmp.Diff([]string{"あ", "い", ""}, fragments); diff != "" {
		t.Fatalf("fragments (-want +got):\n%s", diff)
	}
}

func TestGenerateConstrained(t *testing.T) {
	t.Parallel()

	g, _ := newTestGenerator(t, backendtest.NewModel("a", "x", "y"), 64)
	gr := grammar.MustParse(`root ::= "ab"`)
	text, last, err := Collect(g.GenerateConstrained(context.Background(), request("p", 16), gr))
	if err != nil {
		t.Fatal(err)
	}
	if text != "ab" || last.State != StateEOS {
		t.Fatalf("text %q state %v", text, last.State)
	}
}

// blindSession reports no bytes for any token, so a grammar can never
// accept anything.
type blindSession struct{ *session.Session }

func (blindSession) TokenBytes(int) []byte { return nil }

func TestGenerateGrammarExhausted(t *testing.T) {
	t.Parallel()

	_, sess := newTestGenerator(t, backendtest.NewModel("a"), 64)
	g := NewGenerator(blindSession{sess}, logger.Nop())
	req := request("p", 16)
	req.Grammar = grammar.MustParse(`root ::= "a"`)
	text, last, err := Collect(g.Generate(context.Background(), req))
	if err != nil {
		t.Fatal(err)
	}
	if text != "" || last.State != StateGrammarExhausted || last.State.Normal() {
		t.Fatalf("text %q state %v", text, last.State)
	}
}

// countingSession counts the score lookups, one per sampled token.
type countingSession struct {
	*session.Session
	lookups int
}

func (s *countingSession) Logits() ([]float32, error) {
	s.lookups++
	return s.Session.Logits()
}

func TestGenerateMaxLengthSamplesNoExtraToken(t *testing.T) {
	t.Parallel()

	_, sess := newTestGenerator(t, backendtest.NewModel("a", "b", "c"), 64)
	counting := &countingSession{Session: sess}
	g := NewGenerator(counting, logger.Nop())
	req := request("p", 2)
	req.Grammar = grammar.MustParse(`root ::= "abc"`)
	text, last, err := Collect(g.Generate(context.Background(), req))
	if err != nil {
		t.Fatal(err)
	}
	if text != "ab" || last.State != StateMaxLength {
		t.Fatalf("text %q state %v", text, last.State)
	}
	if counting.lookups != 2 {
		t.Fatalf("sampled %d tokens for a two token run", counting.lookups)
	}
}

func TestResolveRequest(t *testing.T) {
	t.Parallel()

	temp := 0.2
	topK := 5
	maxTok := 64
	defTemp := 0.5
	defTopP := 0.7
	req := ResolveRequest(
		RequestOptions{Prompt: "p", Temperature: &temp, MaxTokens: &maxTok},
		Defaults{Temperature: &defTemp, TopP: &defTopP, TopK: &topK},
	)
	want := logits.DefaultSamplerConfig()
	want.Temperature = 0.2
	want.TopP = 0.7
	want.TopK = 5
	if diff := cmp.Diff(want, req.Sampling); diff != "" {
		t.Fatalf("sampling (-want +got):\n%s", diff)
	}
	if req.MaxTokens != 64 || req.Prompt != "p" {
		t.Fatalf("request %+v", req)
	}
}
