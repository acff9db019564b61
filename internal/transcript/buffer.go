// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transcript provides the visible, append-oriented conversation log.
//
// The Buffer is owned by whoever renders it (the TUI update loop, the REPL,
// a test). Writers outside that owner hand text over through events instead
// of touching the buffer directly; the buffer itself is still mutex-guarded so
// a renderer can read it while a headless owner appends.
package transcript

import (
	"strings"
	"sync"
)

// Kind tags the author of a transcript segment.
type Kind int

const (
	KindUser Kind = iota
	KindAssistant
	KindSystem
)

// String returns a lowercase name for the kind.
func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindAssistant:
		return "assistant"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Segment is a contiguous run of text written by one author.
type Segment struct {
	Kind Kind
	Text string
}

// Buffer is an append-only text log that can only be cleared as a whole.
type Buffer struct {
	mu     sync.RWMutex
	closed []Segment

	// The last segment grows in place while a reply streams.
	open     strings.Builder
	openKind Kind
	hasOpen  bool

	size    int
	version uint64
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds text to the end of the log. Consecutive appends of the same
// kind extend the last segment, so a streamed reply stays one segment.
func (b *Buffer) Append(kind Kind, text string) {
	if text == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hasOpen && b.openKind != kind {
		b.closed = append(b.closed, Segment{Kind: b.openKind, Text: b.open.String()})
		b.open.Reset()
	}
	b.open.WriteString(text)
	b.openKind = kind
	b.hasOpen = true
	b.size += len(text)
	b.version++
}

// Clear empties the log.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = nil
	b.open.Reset()
	b.hasOpen = false
	b.size = 0
	b.version++
}

// String returns the full log text.
func (b *Buffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var sb strings.Builder
	sb.Grow(b.size)
	for _, s := range b.closed {
		sb.WriteString(s.Text)
	}
	sb.WriteString(b.open.String())
	return sb.String()
}

// Segments returns a copy of the log split by author.
func (b *Buffer) Segments() []Segment {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Segment, len(b.closed), len(b.closed)+1)
	copy(out, b.closed)
	if b.hasOpen {
		out = append(out, Segment{Kind: b.openKind, Text: b.open.String()})
	}
	return out
}

// Len returns the log size in bytes.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Version increases on every mutation. Renderers compare it to skip redraws.
func (b *Buffer) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}
