// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package controller

import (
	"sync"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/transcript"
)

// =============================================================================
// EVENTS
// =============================================================================

// Event is something the presentation layer should reflect.
type Event interface {
	event()
}

// TextAppended asks the owner of the transcript to append Text.
type TextAppended struct {
	TurnID string
	Kind   transcript.Kind
	Text   string
}

// TranscriptCleared asks the owner of the transcript to empty it.
type TranscriptCleared struct{}

// StateChanged carries the new session flags.
type StateChanged struct {
	Status Status
}

// TurnFinished is published once per accepted Submit, after history is final.
type TurnFinished struct {
	TurnID   string
	Outcome  Outcome
	Reply    string // assistant text committed to history ("" when aborted)
	Chunks   int
	Duration time.Duration
	Err      error // cause for aborted and interrupted turns
}

func (TextAppended) event()      {}
func (TranscriptCleared) event() {}
func (StateChanged) event()      {}
func (TurnFinished) event()      {}

// Observer receives events in publication order.
type Observer func(Event)

// ApplyTo returns an Observer that mirrors transcript events into buf.
func ApplyTo(buf *transcript.Buffer) Observer {
	return func(ev Event) {
		switch e := ev.(type) {
		case TextAppended:
			buf.Append(e.Kind, e.Text)
		case TranscriptCleared:
			buf.Clear()
		}
	}
}

// Chain fans one event out to several observers, in order. Nil entries are
// skipped.
func Chain(observers ...Observer) Observer {
	return func(ev Event) {
		for _, o := range observers {
			if o != nil {
				o(ev)
			}
		}
	}
}

// =============================================================================
// PUMP
// =============================================================================

// Pump moves events from the controller's goroutines onto a single delivery
// goroutine. Publish never blocks, so it is safe to use as the Observer even
// when the target (such as tea.Program.Send) must not be called from the
// goroutine that triggered the event.
type Pump struct {
	target Observer

	mu     sync.Mutex
	queue  []Event
	closed bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewPump starts a pump delivering to target.
func NewPump(target Observer) *Pump {
	p := &Pump{
		target: target,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish queues ev for delivery. Events published after Close are dropped.
func (p *Pump) Publish(ev Event) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, ev)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Close delivers anything still queued and stops the pump.
func (p *Pump) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stop)
	<-p.done
}

func (p *Pump) run() {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
			p.flush()
		case <-p.stop:
			p.flush()
			return
		}
	}
}

func (p *Pump) flush() {
	for {
		p.mu.Lock()
		batch := p.queue
		p.queue = nil
		p.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			p.target(ev)
		}
	}
}
