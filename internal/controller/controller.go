// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-chat/internal/conversation"
	"github.com/jeranaias/rigrun-chat/internal/transcript"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Labels are the section headers written to the transcript.
type Labels struct {
	User      string
	Assistant string
	System    string
}

// Options configures a Controller. Zero values take the defaults.
type Options struct {
	// HealthTimeout bounds the liveness probe (default: 5s).
	HealthTimeout time.Duration
	// StreamIdleTimeout bounds opening the stream and each wait between
	// chunks (default: 2m).
	StreamIdleTimeout time.Duration
	// TurnTimeout bounds a whole turn; 0 disables it.
	TurnTimeout time.Duration

	Labels Labels

	RecallMode conversation.RecallMode
	RecallSize int

	Logger *slog.Logger
}

// DefaultOptions returns the default controller options.
func DefaultOptions() Options {
	return Options{
		HealthTimeout:     5 * time.Second,
		StreamIdleTimeout: 2 * time.Minute,
		Labels:            Labels{User: "USER", Assistant: "LLM", System: "SYSTEM"},
		RecallMode:        conversation.RecallSingle,
	}
}

func (o *Options) fillDefaults() {
	d := DefaultOptions()
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = d.HealthTimeout
	}
	if o.StreamIdleTimeout <= 0 {
		o.StreamIdleTimeout = d.StreamIdleTimeout
	}
	if o.TurnTimeout < 0 {
		o.TurnTimeout = 0
	}
	if o.Labels.User == "" {
		o.Labels.User = d.Labels.User
	}
	if o.Labels.Assistant == "" {
		o.Labels.Assistant = d.Labels.Assistant
	}
	if o.Labels.System == "" {
		o.Labels.System = d.Labels.System
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// closingDelimiter ends every assistant section.
const closingDelimiter = "\n\n"

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller runs chat turns against a Backend one at a time.
type Controller struct {
	backend  Backend
	observer Observer
	history  *conversation.History
	recall   *conversation.Recall
	logger   *slog.Logger

	// emitMu keeps events in order across the caller and worker goroutines.
	emitMu sync.Mutex

	mu              sync.Mutex
	opts            Options
	phase           Phase
	awaiting        bool
	complete        bool
	cancelRequested bool
	closed          bool
	turnID          string
	abortStream     context.CancelFunc
	done            chan struct{}

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// New creates an idle Controller. observer may be nil.
func New(backend Backend, observer Observer, opts Options) *Controller {
	opts.fillDefaults()
	if observer == nil {
		observer = func(Event) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		backend:    backend,
		observer:   observer,
		history:    conversation.NewHistory(),
		recall:     conversation.NewRecall(opts.RecallMode, opts.RecallSize),
		logger:     opts.Logger,
		opts:       opts,
		phase:      PhaseIdle,
		complete:   true,
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// =============================================================================
// ACTIONS
// =============================================================================

// Submit starts a turn with text. It returns false, changing nothing, when
// text is empty, a turn is already outstanding, or the controller is closed.
func (c *Controller) Submit(text string) bool {
	if text == "" {
		return false
	}

	c.mu.Lock()
	if c.awaiting || c.closed {
		c.mu.Unlock()
		return false
	}

	id := uuid.NewString()
	c.turnID = id
	c.awaiting = true
	c.complete = false
	c.cancelRequested = false
	c.phase = PhaseSending
	done := make(chan struct{})
	c.done = done
	opts := c.opts
	status := c.statusLocked()

	c.emitMu.Lock()
	c.mu.Unlock()

	c.recall.Record(text)
	c.emit(TextAppended{TurnID: id, Kind: transcript.KindUser, Text: section(opts.Labels.User, text)})
	c.emit(StateChanged{Status: status})
	c.emitMu.Unlock()

	c.logger.Debug("turn submitted", "turn", id, "chars", len(text))

	go c.run(id, text, opts, done)
	return true
}

// Cancel asks the in-flight turn to stop after the current chunk. It returns
// false when no turn is outstanding.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	if !c.awaiting {
		c.mu.Unlock()
		return false
	}
	if c.cancelRequested {
		c.mu.Unlock()
		return true
	}

	c.cancelRequested = true
	if c.abortStream != nil {
		c.abortStream()
	}
	status := c.statusLocked()

	c.emitMu.Lock()
	c.mu.Unlock()
	c.emit(StateChanged{Status: status})
	c.emitMu.Unlock()

	c.logger.Debug("cancel requested", "turn", status.TurnID)
	return true
}

// Reset clears the conversation history and the transcript. It returns false,
// changing nothing, while a turn is outstanding.
func (c *Controller) Reset() bool {
	c.mu.Lock()
	if !c.complete || c.awaiting {
		c.mu.Unlock()
		return false
	}

	c.history.Clear()
	c.phase = PhaseIdle
	status := c.statusLocked()

	c.emitMu.Lock()
	c.mu.Unlock()
	c.emit(TranscriptCleared{})
	c.emit(StateChanged{Status: status})
	c.emitMu.Unlock()

	c.logger.Debug("conversation reset")
	return true
}

// Recall returns the most recently submitted input, or "".
func (c *Controller) Recall() string {
	return c.recall.Recall()
}

// RecallEntries returns every retained input, oldest first.
func (c *Controller) RecallEntries() []string {
	return c.recall.Entries()
}

// =============================================================================
// QUERIES
// =============================================================================

// Status returns a snapshot of the session flags.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	return Status{
		Phase:            c.phase,
		AwaitingResponse: c.awaiting,
		ResponseComplete: c.complete,
		CancelRequested:  c.cancelRequested,
		TurnID:           c.turnID,
	}
}

// History returns a copy of the conversation history.
func (c *Controller) History() []conversation.Message {
	return c.history.Snapshot()
}

// LastReply returns the most recent assistant message content.
func (c *Controller) LastReply() (string, bool) {
	return c.history.LastAssistant()
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// SetTimeouts replaces the timeouts used by turns started afterwards.
// Non-positive health and idle values keep the current setting.
func (c *Controller) SetTimeouts(health, idle, turn time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if health > 0 {
		c.opts.HealthTimeout = health
	}
	if idle > 0 {
		c.opts.StreamIdleTimeout = idle
	}
	if turn >= 0 {
		c.opts.TurnTimeout = turn
	}
}

// Wait blocks until no turn is in flight.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Close cancels any in-flight turn, waits for it to finalize, and rejects
// further Submits.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	if c.awaiting {
		c.cancelRequested = true
	}
	c.mu.Unlock()

	c.baseCancel()
	c.Wait()
}

// =============================================================================
// TURN WORKER
// =============================================================================

func (c *Controller) run(id, text string, opts Options, done chan struct{}) {
	defer close(done)

	log := c.logger.With("turn", id)
	started := time.Now()

	ctx := c.baseCtx
	if opts.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.TurnTimeout)
		defer cancel()
	}

	// Health check. The pending user entry is only committed once it passes.
	hctx, hcancel := context.WithTimeout(ctx, opts.HealthTimeout)
	err := c.backend.HealthCheck(hctx)
	hcancel()
	// A health check that fails after Cancel or Close is not reported.
	cancelled := err != nil && c.cancelPending()
	if err != nil && !cancelled {
		log.Warn("health check failed", "error", err)
		c.emitText(id, transcript.KindSystem, section(opts.Labels.System, noticeFor(err)))
		c.finish(TurnFinished{TurnID: id, Outcome: OutcomeAborted, Err: err, Duration: time.Since(started)})
		return
	}

	if err := c.history.Append(conversation.UserMessage(text)); err != nil {
		log.Error("history rejected user turn", "error", err)
		c.emitText(id, transcript.KindSystem, section(opts.Labels.System, "Conversation history is inconsistent; start a new chat."))
		c.finish(TurnFinished{TurnID: id, Outcome: OutcomeAborted, Err: err, Duration: time.Since(started)})
		return
	}

	c.emitText(id, transcript.KindAssistant, opts.Labels.Assistant+":\n")

	sctx, abort := context.WithCancel(ctx)
	defer abort()
	idle := newIdleTimer(opts.StreamIdleTimeout, abort)
	defer idle.Stop()

	c.mu.Lock()
	c.phase = PhaseStreaming
	c.abortStream = abort
	if c.cancelRequested {
		abort()
	}
	status := c.statusLocked()
	c.mu.Unlock()
	c.emitState(status)

	var acc strings.Builder
	chunks := 0
	commit := func(outcome Outcome, cause error) {
		reply := acc.String()
		var msg conversation.Message
		if outcome == OutcomeCompleted {
			msg = conversation.AssistantMessage(reply)
		} else {
			msg = conversation.InterruptedMessage(reply)
		}
		if err := c.history.Append(msg); err != nil {
			log.Error("history rejected assistant turn", "error", err)
		}

		c.emitText(id, transcript.KindAssistant, closingDelimiter)
		if outcome == OutcomeInterrupted {
			c.emitText(id, transcript.KindSystem, section(opts.Labels.System, interruptNotice(cause, idle, opts.StreamIdleTimeout)))
		}
		c.finish(TurnFinished{
			TurnID:   id,
			Outcome:  outcome,
			Reply:    reply,
			Chunks:   chunks,
			Duration: time.Since(started),
			Err:      cause,
		})
		log.Debug("turn finished", "outcome", outcome, "chunks", chunks, "chars", len(reply))
	}

	if cancelled {
		commit(OutcomeCancelled, nil)
		return
	}

	stream, err := c.backend.StreamChat(sctx, c.history.Snapshot())
	if err != nil {
		if c.cancelPending() {
			commit(OutcomeCancelled, nil)
			return
		}
		log.Warn("stream failed to open", "error", err)
		commit(OutcomeInterrupted, err)
		return
	}
	defer stream.Close()

	for {
		if c.cancelPending() {
			commit(OutcomeCancelled, nil)
			return
		}

		chunk, err := stream.Next()
		// Streams need not honor ctx, so a chunk that arrives after
		// Cancel is dropped.
		if c.cancelPending() {
			commit(OutcomeCancelled, nil)
			return
		}
		if errors.Is(err, io.EOF) {
			commit(OutcomeCompleted, nil)
			return
		}
		if err != nil {
			log.Warn("stream interrupted", "error", err, "chunks", chunks)
			commit(OutcomeInterrupted, err)
			return
		}

		idle.Reset()
		if chunk == "" {
			continue
		}
		chunks++
		acc.WriteString(chunk)
		c.emitText(id, transcript.KindAssistant, chunk)
	}
}

// cancelPending reports whether Cancel was called for the current turn.
func (c *Controller) cancelPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelRequested
}

// finish returns the session to Idle and publishes the outcome.
func (c *Controller) finish(tf TurnFinished) {
	c.mu.Lock()
	c.phase = tf.Outcome.phase()
	c.awaiting = false
	c.complete = true
	c.cancelRequested = false
	c.abortStream = nil
	ended := c.statusLocked()
	c.phase = PhaseIdle
	idle := c.statusLocked()

	c.emitMu.Lock()
	c.mu.Unlock()
	if ended.Phase != PhaseIdle {
		c.emit(StateChanged{Status: ended})
	}
	c.emit(tf)
	c.emit(StateChanged{Status: idle})
	c.emitMu.Unlock()
}

// =============================================================================
// EMIT HELPERS
// =============================================================================

// emit must be called with emitMu held.
func (c *Controller) emit(ev Event) {
	c.observer(ev)
}

func (c *Controller) emitText(id string, kind transcript.Kind, text string) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.emit(TextAppended{TurnID: id, Kind: kind, Text: text})
}

func (c *Controller) emitState(status Status) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.emit(StateChanged{Status: status})
}

// section formats a labelled transcript block.
func section(label, body string) string {
	return label + ":\n" + body + "\n\n"
}

func interruptNotice(err error, idle *idleTimer, limit time.Duration) string {
	if idle.Fired() {
		return fmt.Sprintf("Response interrupted: no data from the backend for %s.", limit)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Response interrupted: turn timed out."
	}
	var n Noticer
	if errors.As(err, &n) {
		return "Response interrupted: " + n.Notice()
	}
	return "Response interrupted: " + err.Error()
}

// =============================================================================
// IDLE TIMER
// =============================================================================

// idleTimer aborts the stream when no chunk arrives within its window.
type idleTimer struct {
	d     time.Duration
	t     *time.Timer
	mu    sync.Mutex
	fired bool
}

func newIdleTimer(d time.Duration, abort context.CancelFunc) *idleTimer {
	it := &idleTimer{d: d}
	it.t = time.AfterFunc(d, func() {
		it.mu.Lock()
		it.fired = true
		it.mu.Unlock()
		abort()
	})
	return it
}

// Reset restarts the window unless it already expired.
func (it *idleTimer) Reset() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if !it.fired {
		it.t.Reset(it.d)
	}
}

func (it *idleTimer) Stop() {
	it.t.Stop()
}

func (it *idleTimer) Fired() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.fired
}
