// Package chat keeps the chat log and turns each user message into a
// generation run: it builds the replay window, watches the streamed text for
// the reverse prompt and the AI prefix, and writes the result back into the
// log.
package chat

import (
	"context"
	"errors"
	"io"
	"iter"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/samcharles93/hearth/internal/grammar"
	"github.com/samcharles93/hearth/internal/inference"
	"github.com/samcharles93/hearth/internal/logger"
	"github.com/samcharles93/hearth/internal/logits"
)

const (
	DefaultBudget   = 512
	DefaultLookback = 10
)

var (
	// ErrNoModel is returned when no generator is attached.
	ErrNoModel = errors.New("no model loaded")
	// ErrCancelled is returned by GenerateConstrained when its run was
	// stopped or replaced.
	ErrCancelled = errors.New("generation cancelled")
)

// Generator is the generation capability the orchestrator drives.
// *inference.Generator implements it.
type Generator interface {
	Generate(ctx context.Context, req inference.Request) iter.Seq2[inference.Completion, error]
	Reset() error
}

// ModelLoader opens a model and binds a generator to it.
// inference.Loader implements it.
type ModelLoader interface {
	Load(path string) (*inference.LoadResult, error)
}

// TurnConfig shapes the prompt of a chat turn and how its output is split.
type TurnConfig struct {
	Instruction string
	Examples    []Message
	UserPrefix  string
	AIPrefix    string
	// ReversePrompt ends the turn when the model starts writing it.
	// Empty means UserPrefix.
	ReversePrompt string
	MaxTokens     int
	Sampling      *logits.SamplerConfig
	// OnUpdate receives a snapshot of the log after every change made by
	// this turn. It runs on the run's goroutine, so it must not call
	// AppendTurn, Generate, GenerateConstrained or Reset: those wait for the
	// run to finish and would deadlock.
	OnUpdate func([]Message)
}

func (c TurnConfig) reversePrompt() string {
	if c.ReversePrompt != "" {
		return c.ReversePrompt
	}
	return c.UserPrefix
}

func (c TurnConfig) request(prompt string) inference.Request {
	sampling := logits.DefaultSamplerConfig()
	if c.Sampling != nil {
		sampling = *c.Sampling
	}
	return inference.Request{Prompt: prompt, MaxTokens: c.MaxTokens, Sampling: sampling}
}

// Run is one use of the generator. Its target is the message the run
// writes into; a run whose target is no longer the last message is stale.
type Run struct {
	ID     uuid.UUID
	target uuid.UUID
	cancel context.CancelFunc
	done   chan struct{}

	err   error
	state inference.State
	stats inference.Stats
}

func newRun(cancel context.CancelFunc, target uuid.UUID) *Run {
	return &Run{ID: uuid.New(), target: target, cancel: cancel, done: make(chan struct{})}
}

// Done is closed once the run has finished and its results are final.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes and returns its fatal error, if any.
func (r *Run) Wait() error {
	<-r.done
	return r.err
}

// Err is the fatal error of a finished run.
func (r *Run) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// State is the terminal state of a finished run. A run that failed has no
// terminal state; Err reports why it ended.
func (r *Run) State() inference.State {
	select {
	case <-r.done:
		return r.state
	default:
		return inference.StateDecoding
	}
}

// Stats are the generation statistics of a finished run.
func (r *Run) Stats() inference.Stats {
	<-r.done
	return r.stats
}

// Observer is told about every change of the log. It may run on a run's
// goroutine and must not start, replace or reset runs from there.
type Observer func(messages []Message, generating bool)

type Option func(*Orchestrator)

func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger.Component(l, "chat") }
}

// WithBudget sets the byte budget of the replay window.
func WithBudget(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.budget = n
		}
	}
}

// WithLookback sets how many bytes before the reverse prompt are searched
// for it in each update.
func WithLookback(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.lookback = n
		}
	}
}

func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// Orchestrator owns the chat log and serializes generation runs: starting a
// run cancels and awaits the previous one.
type Orchestrator struct {
	mu         sync.Mutex
	gen        Generator
	closer     io.Closer
	messages   []Message
	generating bool
	active     *Run

	budget   int
	lookback int
	logger   logger.Logger
	observer Observer
}

// New returns an orchestrator driving gen, which may be nil until Attach or
// Load.
func New(gen Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gen:      gen,
		budget:   DefaultBudget,
		lookback: DefaultLookback,
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Attach replaces the generator. closer, when non-nil, is closed by Close.
func (o *Orchestrator) Attach(gen Generator, closer io.Closer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gen = gen
	o.closer = closer
}

// Load opens path through l and attaches the result, recording progress as
// system messages.
func (o *Orchestrator) Load(l ModelLoader, path string) error {
	o.AppendSystem("Loading model...")
	res, err := l.Load(path)
	name := filepath.Base(path)
	if path == "" {
		name = "builtin"
	}
	if err != nil {
		o.logger.Error("load model", "path", path, "error", err)
		o.AppendSystem("Could not load model " + name + ": " + err.Error())
		return err
	}
	o.Attach(res.Generator, res)
	o.AppendSystem("Loaded model " + name)
	o.logger.Info("model loaded", "path", path)
	return nil
}

// Close stops any run and releases the attached model.
func (o *Orchestrator) Close() error {
	o.cancelActive()
	o.mu.Lock()
	closer := o.closer
	o.closer, o.gen = nil, nil
	o.mu.Unlock()
	if closer != nil {
		return closer.Close()
	}
	return nil
}

// Messages returns a copy of the log.
func (o *Orchestrator) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.messages)
}

func (o *Orchestrator) IsGenerating() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generating
}

// AppendSystem adds a system notice. System messages are never replayed to
// the model.
func (o *Orchestrator) AppendSystem(text string) {
	o.mu.Lock()
	o.messages = append(o.messages, NewMessage(RoleSystem, text))
	snap, gen := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap, gen, nil)
}

// AppendTurn records a user message and an empty AI message, then starts a
// run that streams the reply into the AI message. The returned Run finishes
// when the reply is complete, stopped or failed.
func (o *Orchestrator) AppendTurn(ctx context.Context, text string, cfg TurnConfig) (*Run, error) {
	o.awaitIdleLocked()
	if o.gen == nil {
		o.mu.Unlock()
		return nil, ErrNoModel
	}
	gen := o.gen

	user := NewMessage(RoleUser, text)
	ai := NewMessage(RoleAI, "")
	o.messages = append(o.messages, user, ai)
	prompt := renderPrompt(cfg, window(o.messages, o.budget))

	runCtx, cancel := context.WithCancel(ctx)
	run := newRun(cancel, ai.ID)
	o.active = run
	o.generating = true
	snap, generating := o.snapshotLocked()
	o.mu.Unlock()

	o.logger.Debug("turn started", "run", run.ID, "prompt_bytes", len(prompt))
	o.notify(snap, generating, cfg.OnUpdate)
	go o.drive(runCtx, gen, run, cfg, prompt)
	return run, nil
}

func (o *Orchestrator) drive(ctx context.Context, gen Generator, run *Run, cfg TurnConfig, prompt string) {
	defer close(run.done)
	defer run.cancel()

	reverse := cfg.reversePrompt()
	var carry string
	for c, err := range gen.Generate(ctx, cfg.request(prompt)) {
		if err != nil {
			o.logger.Error("turn failed", "run", run.ID, "error", err)
			run.err = err
			break
		}
		if c.State.Stopped() {
			run.state, run.stats = c.State, c.Stats
		}

		text := carry + c.Text
		reversed := false
		if reverse != "" {
			tail := text[max(0, len(text)-len(reverse)-o.lookback):]
			if strings.Contains(tail, reverse) {
				text = strings.TrimSuffix(text[:strings.LastIndex(text, reverse)], "\n")
				reversed = true
			}
		}

		var ok bool
		if cfg.AIPrefix != "" && strings.Contains(text, cfg.AIPrefix) {
			parts := strings.Split(text, cfg.AIPrefix)
			ok = o.split(run, parts, cfg.OnUpdate)
			carry = parts[len(parts)-1]
		} else {
			ok = o.replace(run, text, cfg.OnUpdate)
			carry = text
		}
		if !ok {
			o.logger.Debug("stale run dropped", "run", run.ID)
			break
		}
		if reversed {
			run.state = inference.StateReversePrompt
			break
		}
	}

	if run.err == nil && ctx.Err() == nil {
		if err := gen.Reset(); err != nil {
			o.logger.Warn("reset after turn", "error", err)
		}
	} else if ctx.Err() != nil && run.err == nil {
		run.state = inference.StateCancelled
	}

	o.mu.Lock()
	if o.active == run {
		o.active = nil
		o.generating = false
	}
	snap, generating := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap, generating, nil)
	o.logger.Debug("turn finished", "run", run.ID, "state", run.state)
}

// replace sets the text of the run's target message.
func (o *Orchestrator) replace(run *Run, text string, onUpdate func([]Message)) bool {
	o.mu.Lock()
	if !o.isTargetLocked(run) {
		o.mu.Unlock()
		return false
	}
	o.messages[len(o.messages)-1].Text = text
	snap, generating := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap, generating, onUpdate)
	return true
}

// split writes each segment into its own AI message. Every segment but the
// last loses one trailing newline and opens a new message.
func (o *Orchestrator) split(run *Run, parts []string, onUpdate func([]Message)) bool {
	o.mu.Lock()
	if !o.isTargetLocked(run) {
		o.mu.Unlock()
		return false
	}
	for i, part := range parts {
		if i < len(parts)-1 {
			part = strings.TrimSuffix(part, "\n")
		}
		o.messages[len(o.messages)-1].Text = part
		if i < len(parts)-1 {
			next := NewMessage(RoleAI, "")
			o.messages = append(o.messages, next)
			run.target = next.ID
		}
	}
	snap, generating := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap, generating, onUpdate)
	return true
}

func (o *Orchestrator) isTargetLocked(run *Run) bool {
	n := len(o.messages)
	return n > 0 && o.messages[n-1].ID == run.target
}

// Stop cancels the active run without waiting for it. The log is kept.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.generating {
		o.mu.Unlock()
		return
	}
	o.generating = false
	run := o.active
	snap, generating := o.snapshotLocked()
	o.mu.Unlock()
	if run != nil {
		run.cancel()
	}
	o.notify(snap, generating, nil)
}

// Reset clears the log, cancels and awaits any run and resets the session.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	o.messages = nil
	o.generating = false
	o.mu.Unlock()
	o.cancelActive()

	o.mu.Lock()
	gen := o.gen
	snap, generating := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap, generating, nil)
	if gen == nil {
		return nil
	}
	return gen.Reset()
}

// GenerateConstrained runs prompt under gr and returns the text once a
// newline appears or the run ends. Any previous run is cancelled first.
func (o *Orchestrator) GenerateConstrained(ctx context.Context, prompt string, gr *grammar.Grammar) (string, error) {
	req := inference.Request{Prompt: prompt, Sampling: logits.DefaultSamplerConfig(), Grammar: gr}
	var sb strings.Builder
	var last inference.Completion
	for c, err := range o.Generate(ctx, req) {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(c.Text)
		last = c
		if strings.Contains(sb.String(), "\n") {
			break
		}
	}
	if last.State == inference.StateCancelled {
		return sb.String(), ErrCancelled
	}
	return sb.String(), nil
}

// Generate streams a raw completion through the orchestrator, so it takes
// part in cancel-then-replace with chat turns. The log is not touched.
func (o *Orchestrator) Generate(ctx context.Context, req inference.Request) iter.Seq2[inference.Completion, error] {
	return func(yield func(inference.Completion, error) bool) {
		o.awaitIdleLocked()
		if o.gen == nil {
			o.mu.Unlock()
			yield(inference.Completion{}, ErrNoModel)
			return
		}
		gen := o.gen
		runCtx, cancel := context.WithCancel(ctx)
		run := newRun(cancel, uuid.Nil)
		o.active = run
		o.generating = true
		o.mu.Unlock()

		consumerDone := false
		defer func() {
			if run.err == nil && runCtx.Err() == nil && !consumerDone {
				if err := gen.Reset(); err != nil {
					o.logger.Warn("reset after generation", "error", err)
				}
			}
			o.mu.Lock()
			if o.active == run {
				o.active = nil
				o.generating = false
			}
			o.mu.Unlock()
			cancel()
			close(run.done)
		}()

		for c, err := range gen.Generate(runCtx, req) {
			if err != nil {
				run.err = err
			}
			if c.State.Stopped() {
				run.state, run.stats = c.State, c.Stats
			}
			if !yield(c, err) {
				consumerDone = true
				return
			}
		}
	}
}

// awaitIdleLocked cancels and waits for the active run until none is left,
// and returns with o.mu held.
func (o *Orchestrator) awaitIdleLocked() {
	for {
		o.mu.Lock()
		run := o.active
		if run == nil {
			return
		}
		o.mu.Unlock()
		run.cancel()
		<-run.done
	}
}

func (o *Orchestrator) cancelActive() {
	o.mu.Lock()
	run := o.active
	o.mu.Unlock()
	if run != nil {
		run.cancel()
		<-run.done
	}
}

func (o *Orchestrator) snapshotLocked() ([]Message, bool) {
	return slices.Clone(o.messages), o.generating
}

func (o *Orchestrator) notify(snap []Message, generating bool, onUpdate func([]Message)) {
	if o.observer != nil {
		o.observer(snap, generating)
	}
	if onUpdate != nil {
		onUpdate(snap)
	}
}
