// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package controller

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/conversation"
	"github.com/jeranaias/rigrun-chat/internal/transcript"
)

// =============================================================================
// FAKE BACKEND
// =============================================================================

// fakeStream yields whatever the test sends on chunks; closing chunks ends the
// stream, a value on errs fails it.
type fakeStream struct {
	ctx    context.Context
	chunks chan string
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeStream(ctx context.Context) *fakeStream {
	return &fakeStream{
		ctx:    ctx,
		chunks: make(chan string),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Next() (string, error) {
	select {
	case c, ok := <-s.chunks:
		if !ok {
			return "", io.EOF
		}
		return c, nil
	case err := <-s.errs:
		return "", err
	case <-s.ctx.Done():
		return "", s.ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeBackend struct {
	healthErr   error
	healthGate  chan struct{} // when set, HealthCheck waits on it
	streamErr   error
	staticReply []string // when set, streams are pre-filled and closed

	mu       sync.Mutex
	requests [][]conversation.Message
	streams  chan *fakeStream
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{streams: make(chan *fakeStream, 4)}
}

func (b *fakeBackend) HealthCheck(ctx context.Context) error {
	if b.healthGate != nil {
		select {
		case <-b.healthGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return b.healthErr
}

func (b *fakeBackend) StreamChat(ctx context.Context, history []conversation.Message) (Stream, error) {
	b.mu.Lock()
	b.requests = append(b.requests, history)
	b.mu.Unlock()

	if b.streamErr != nil {
		return nil, b.streamErr
	}
	if b.staticReply != nil {
		return &staticStream{chunks: append([]string(nil), b.staticReply...)}, nil
	}

	s := newFakeStream(ctx)
	b.streams <- s
	return s, nil
}

func (b *fakeBackend) Requests() [][]conversation.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]conversation.Message(nil), b.requests...)
}

type staticStream struct {
	chunks []string
}

func (s *staticStream) Next() (string, error) {
	if len(s.chunks) == 0 {
		return "", io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *staticStream) Close() error { return nil }

// blindStream ignores its context, so only the controller's own cancel
// check can stop it. reading receives each time Next starts to wait.
type blindStream struct {
	chunks  chan string
	reading chan struct{}
}

func (s *blindStream) Next() (string, error) {
	s.reading <- struct{}{}
	c, ok := <-s.chunks
	if !ok {
		return "", io.EOF
	}
	return c, nil
}

func (s *blindStream) Close() error { return nil }

type blindBackend struct {
	stream *blindStream
}

func newBlindBackend() *blindBackend {
	return &blindBackend{stream: &blindStream{chunks: make(chan string), reading: make(chan struct{})}}
}

func (b *blindBackend) HealthCheck(context.Context) error { return nil }

func (b *blindBackend) StreamChat(context.Context, []conversation.Message) (Stream, error) {
	return b.stream, nil
}

type noticeError struct{ msg string }

func (e noticeError) Error() string  { return "probe failed: " + e.msg }
func (e noticeError) Notice() string { return e.msg }

// recorder collects events and mirrors them into a transcript buffer.
type recorder struct {
	mu     sync.Mutex
	events []Event
	buf    *transcript.Buffer
}

func newRecorder() *recorder {
	return &recorder{buf: transcript.NewBuffer()}
}

func (r *recorder) observe(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	ApplyTo(r.buf)(ev)
}

func (r *recorder) finished() []TurnFinished {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []TurnFinished
	for _, ev := range r.events {
		if tf, ok := ev.(TurnFinished); ok {
			out = append(out, tf)
		}
	}
	return out
}

func newTestController(t *testing.T, b Backend, opts Options) (*Controller, *recorder) {
	t.Helper()
	rec := newRecorder()
	c := New(b, rec.observe, opts)
	t.Cleanup(c.Close)
	return c, rec
}

func nextStream(t *testing.T, b *fakeBackend) *fakeStream {
	t.Helper()
	select {
	case s := <-b.streams:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("stream was never opened")
		return nil
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit_CompletesTurn(t *testing.T) {
	b := newFakeBackend()
	b.staticReply = []string{"Hel", "", "lo"}
	c, rec := newTestController(t, b, Options{})

	require.True(t, c.Submit("hi"))
	c.Wait()

	assert.Equal(t, []conversation.Message{
		conversation.UserMessage("hi"),
		conversation.AssistantMessage("Hello"),
	}, c.History())
	assert.Equal(t, "USER:\nhi\n\nLLM:\nHello\n\n", rec.buf.String())

	st := c.Status()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.False(t, st.AwaitingResponse)
	assert.True(t, st.ResponseComplete)
	assert.False(t, st.CancelRequested)

	fin := rec.finished()
	require.Len(t, fin, 1)
	assert.Equal(t, OutcomeCompleted, fin[0].Outcome)
	assert.Equal(t, "Hello", fin[0].Reply)
	assert.Equal(t, 2, fin[0].Chunks)
}

func TestSubmit_TwoTurnsKeepOrder(t *testing.T) {
	b := newFakeBackend()
	c, _ := newTestController(t, b, Options{})

	require.True(t, c.Submit("hi"))
	s := nextStream(t, b)
	s.chunks <- "A"
	close(s.chunks)
	c.Wait()

	require.True(t, c.Submit("there"))
	s = nextStream(t, b)
	s.chunks <- "B"
	close(s.chunks)
	c.Wait()

	assert.Equal(t, []conversation.Message{
		{Role: conversation.RoleUser, Content: "hi"},
		{Role: conversation.RoleAssistant, Content: "A"},
		{Role: conversation.RoleUser, Content: "there"},
		{Role: conversation.RoleAssistant, Content: "B"},
	}, c.History())

	reqs := b.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[0], 1)
	assert.Len(t, reqs[1], 3, "second turn carries the full history as context")
}

func TestSubmit_RejectsEmpty(t *testing.T) {
	c, rec := newTestController(t, newFakeBackend(), Options{})

	assert.False(t, c.Submit(""))
	assert.Equal(t, PhaseIdle, c.Status().Phase)
	assert.Equal(t, "", rec.buf.String())
	assert.Equal(t, "", c.Recall())
}

func TestSubmit_RejectedWhileAwaiting(t *testing.T) {
	b := newFakeBackend()
	c, rec := newTestController(t, b, Options{})

	require.True(t, c.Submit("first"))
	s := nextStream(t, b)

	before := c.Status()
	historyLen := len(c.History())
	transcriptLen := rec.buf.Len()

	assert.False(t, c.Submit("second"))
	assert.Equal(t, before, c.Status())
	assert.Len(t, c.History(), historyLen)
	assert.Equal(t, transcriptLen, rec.buf.Len())
	assert.Equal(t, "first", c.Recall())

	close(s.chunks)
	c.Wait()
	assert.Len(t, c.History(), 2)
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancel_KeepsChunksBeforeCancellation(t *testing.T) {
	b := newFakeBackend()
	c, rec := newTestController(t, b, Options{})

	require.True(t, c.Submit("tell me"))
	s := nextStream(t, b)
	s.chunks <- "par"
	s.chunks <- "tial"

	require.True(t, c.Cancel())
	c.Wait()

	select {
	case s.chunks <- "late":
		t.Fatal("a chunk was consumed after cancellation")
	case <-time.After(50 * time.Millisecond):
	}

	hist := c.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "partial", hist[1].Content)
	assert.True(t, hist[1].Interrupted)
	assert.True(t, strings.HasSuffix(rec.buf.String(), "LLM:\npartial\n\n"))

	st := c.Status()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.False(t, st.CancelRequested)
	assert.True(t, st.ResponseComplete)

	fin := rec.finished()
	require.Len(t, fin, 1)
	assert.Equal(t, OutcomeCancelled, fin[0].Outcome)

	<-s.closed
}

func TestCancel_StreamIgnoringContextStopsAtChunkBoundary(t *testing.T) {
	b := newBlindBackend()
	c, rec := newTestController(t, b, Options{})

	require.True(t, c.Submit("tell me"))
	<-b.stream.reading
	b.stream.chunks <- "a"
	<-b.stream.reading

	require.True(t, c.Cancel())
	close(b.stream.chunks)
	c.Wait()

	hist := c.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "a", hist[1].Content)
	assert.True(t, hist[1].Interrupted)

	fin := rec.finished()
	require.Len(t, fin, 1)
	assert.Equal(t, OutcomeCancelled, fin[0].Outcome, "end of stream after Cancel is not a completion")
	assert.Equal(t, "a", fin[0].Reply)
}

func TestCancel_DropsChunkArrivingAfterCancel(t *testing.T) {
	b := newBlindBackend()
	c, rec := newTestController(t, b, Options{})

	require.True(t, c.Submit("tell me"))
	<-b.stream.reading
	b.stream.chunks <- "a"
	<-b.stream.reading

	// Next is already blocked; its chunk lands after the cancel.
	require.True(t, c.Cancel())
	b.stream.chunks <- "b"
	c.Wait()

	hist := c.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "a", hist[1].Content)
	assert.True(t, strings.HasSuffix(rec.buf.String(), "LLM:\na\n\n"))

	fin := rec.finished()
	require.Len(t, fin, 1)
	assert.Equal(t, OutcomeCancelled, fin[0].Outcome)
	assert.Equal(t, 1, fin[0].Chunks)
}

func TestCancel_NoOpWhenIdle(t *testing.T) {
	c, rec := newTestController(t, newFakeBackend(), Options{})

	assert.False(t, c.Cancel())
	assert.False(t, c.Status().CancelRequested)
	assert.Empty(t, rec.events)
}

func TestCancel_DuringHealthCheck(t *testing.T) {
	b := newFakeBackend()
	b.healthGate = make(chan struct{})
	b.staticReply = []string{"never"}
	c, _ := newTestController(t, b, Options{})

	require.True(t, c.Submit("hi"))
	require.True(t, c.Cancel())
	assert.True(t, c.Status().CancelRequested)
	close(b.healthGate)
	c.Wait()

	hist := c.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "", hist[1].Content)
	assert.True(t, hist[1].Interrupted)
}

// =============================================================================
// RESET
// =============================================================================

func TestReset_ClearsWhenComplete(t *testing.T) {
	b := newFakeBackend()
	b.staticReply = []string{"A"}
	c, rec := newTestController(t, b, Options{})

	require.True(t, c.Submit("hi"))
	c.Wait()
	require.NotEmpty(t, rec.buf.String())

	assert.True(t, c.Reset())
	assert.Empty(t, c.History())
	assert.Equal(t, "", rec.buf.String())
	assert.Equal(t, "hi", c.Recall(), "reset does not clear recall")
}

func TestReset_IgnoredMidStream(t *testing.T) {
	b := newFakeBackend()
	c, rec := newTestController(t, b, Options{})

	require.True(t, c.Submit("hi"))
	s := nextStream(t, b)

	hist := c.History()
	text := rec.buf.String()

	assert.False(t, c.Reset())
	assert.Equal(t, hist, c.History())
	assert.Equal(t, text, rec.buf.String())

	close(s.chunks)
	c.Wait()
}

func TestReset_AllowedBeforeFirstTurn(t *testing.T) {
	c, _ := newTestController(t, newFakeBackend(), Options{})
	assert.True(t, c.Reset())
}

// =============================================================================
// RECALL
// =============================================================================

func TestRecall(t *testing.T) {
	b := newFakeBackend()
	b.staticReply = []string{"x"}
	c, _ := newTestController(t, b, Options{})

	assert.Equal(t, "", c.Recall())

	require.True(t, c.Submit("hello"))
	c.Wait()
	assert.Equal(t, "hello", c.Recall())
}

func TestRecall_StackMode(t *testing.T) {
	b := newFakeBackend()
	b.staticReply = []string{"x"}
	c, _ := newTestController(t, b, Options{RecallMode: conversation.RecallStack, RecallSize: 2})

	for _, in := range []string{"a", "b", "c"} {
		require.True(t, c.Submit(in))
		c.Wait()
	}

	assert.Equal(t, "c", c.Recall())
	assert.Equal(t, []string{"b", "c"}, c.RecallEntries())
}

// =============================================================================
// FAILURES
// =============================================================================

func TestHealthCheckFailure(t *testing.T) {
	b := newFakeBackend()
	b.healthErr = noticeError{msg: "Failed to connect to 127.0.0.1:11434\nIs Ollama running?"}
	c, rec := newTestController(t, b, Options{})

	require.True(t, c.Submit("hi"))
	c.Wait()

	assert.Empty(t, c.History())
	assert.Empty(t, b.Requests())

	text := rec.buf.String()
	assert.Equal(t, 1, strings.Count(text, "SYSTEM:\nFailed to connect"))
	assert.Equal(t, "USER:\nhi\n\nSYSTEM:\nFailed to connect to 127.0.0.1:11434\nIs Ollama running?\n\n", text)

	st := c.Status()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.True(t, st.ResponseComplete)
	assert.False(t, st.AwaitingResponse)

	fin := rec.finished()
	require.Len(t, fin, 1)
	assert.Equal(t, OutcomeAborted, fin[0].Outcome)

	// Recoverable: the same input can be retried.
	b.healthErr = nil
	b.staticReply = []string{"ok"}
	require.True(t, c.Submit(c.Recall()))
	c.Wait()
	assert.Len(t, c.History(), 2)
}

func TestHealthCheckFailure_PlainError(t *testing.T) {
	b := newFakeBackend()
	b.healthErr = errors.New("boom")
	c, rec := newTestController(t, b, Options{Labels: Labels{System: "SYS"}})

	require.True(t, c.Submit("hi"))
	c.Wait()

	assert.Contains(t, rec.buf.String(), "SYS:\nBackend unavailable: boom\n\n")
}

func TestMidStreamFailure_CommitsPartial(t *testing.T) {
	b := newFakeBackend()
	c, rec := newTestController(t, b, Options{})

	require.True(t, c.Submit("hi"))
	s := nextStream(t, b)
	s.chunks <- "par"
	s.errs <- errors.New("connection reset by peer")
	c.Wait()

	hist := c.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "par", hist[1].Content)
	assert.True(t, hist[1].Interrupted)

	text := rec.buf.String()
	assert.Contains(t, text, "LLM:\npar\n\nSYSTEM:\nResponse interrupted: connection reset by peer\n\n")

	fin := rec.finished()
	require.Len(t, fin, 1)
	assert.Equal(t, OutcomeInterrupted, fin[0].Outcome)
	assert.EqualError(t, fin[0].Err, "connection reset by peer")
	assert.Equal(t, PhaseIdle, c.Status().Phase)
}

func TestStreamOpenFailure(t *testing.T) {
	b := newFakeBackend()
	b.streamErr = errors.New("model not found")
	c, rec := newTestController(t, b, Options{})

	require.True(t, c.Submit("hi"))
	c.Wait()

	hist := c.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "", hist[1].Content)
	assert.Contains(t, rec.buf.String(), "Response interrupted: model not found")
}

func TestStreamOpenFailure_UsesNotice(t *testing.T) {
	b := newFakeBackend()
	b.streamErr = noticeError{msg: "Model \"x\" is not installed."}
	c, rec := newTestController(t, b, Options{})

	require.True(t, c.Submit("hi"))
	c.Wait()

	assert.Contains(t, rec.buf.String(), "SYSTEM:\nResponse interrupted: Model \"x\" is not installed.\n\n")
}

func TestStreamIdleTimeout(t *testing.T) {
	b := newFakeBackend()
	c, rec := newTestController(t, b, Options{StreamIdleTimeout: 50 * time.Millisecond})

	require.True(t, c.Submit("hi"))
	nextStream(t, b)
	c.Wait()

	hist := c.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "", hist[1].Content)
	assert.True(t, hist[1].Interrupted)
	assert.Contains(t, rec.buf.String(), "no data from the backend for 50ms")
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestClose_FinalizesInFlightTurn(t *testing.T) {
	b := newFakeBackend()
	c := New(b, nil, Options{})

	require.True(t, c.Submit("hi"))
	s := nextStream(t, b)
	s.chunks <- "a"

	c.Close()

	hist := c.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "a", hist[1].Content)
	assert.False(t, c.Submit("again"), "closed controller rejects submits")
}

func TestClose_DuringHealthCheckAddsNoNotice(t *testing.T) {
	b := newFakeBackend()
	b.healthGate = make(chan struct{})
	c, rec := newTestController(t, b, Options{})

	require.True(t, c.Submit("hi"))
	c.Close()

	assert.Equal(t, "USER:\nhi\n\nLLM:\n\n\n", rec.buf.String())
	assert.NotContains(t, rec.buf.String(), "SYSTEM:")

	fin := rec.finished()
	require.Len(t, fin, 1)
	assert.Equal(t, OutcomeCancelled, fin[0].Outcome)
	assert.Empty(t, b.Requests(), "no stream is opened after Close")
}

func TestSetTimeouts(t *testing.T) {
	c := New(newFakeBackend(), nil, Options{})
	defer c.Close()

	c.SetTimeouts(time.Second, 0, 3*time.Second)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, time.Second, c.opts.HealthTimeout)
	assert.Equal(t, DefaultOptions().StreamIdleTimeout, c.opts.StreamIdleTimeout)
	assert.Equal(t, 3*time.Second, c.opts.TurnTimeout)
}

func TestEvents_StateSequence(t *testing.T) {
	b := newFakeBackend()
	b.staticReply = []string{"A"}
	c, rec := newTestController(t, b, Options{})

	require.True(t, c.Submit("hi"))
	c.Wait()

	var phases []Phase
	rec.mu.Lock()
	for _, ev := range rec.events {
		if sc, ok := ev.(StateChanged); ok {
			phases = append(phases, sc.Status.Phase)
		}
	}
	rec.mu.Unlock()

	assert.Equal(t, []Phase{PhaseSending, PhaseStreaming, PhaseCompleted, PhaseIdle}, phases)
}

// =============================================================================
// PUMP
// =============================================================================

func TestPump_DeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	p := NewPump(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.(TextAppended).Text)
	})

	for _, s := range []string{"a", "b", "c", "d"} {
		p.Publish(TextAppended{Text: s})
	}
	p.Close()
	p.Publish(TextAppended{Text: "dropped"})
	p.Close()

	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestChain_SkipsNil(t *testing.T) {
	n := 0
	obs := Chain(nil, func(Event) { n++ }, func(Event) { n++ })
	obs(TranscriptCleared{})
	assert.Equal(t, 2, n)
}
