// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"fmt"
	"sync"
)

// RecallMode selects how submitted inputs are retained.
type RecallMode string

const (
	// RecallSingle keeps only the most recent input.
	RecallSingle RecallMode = "single"
	// RecallStack keeps a bounded list of inputs; Recall still returns the tail.
	RecallStack RecallMode = "stack"
)

// DefaultStackSize bounds RecallStack when no size is given.
const DefaultStackSize = 50

// ParseRecallMode converts a config string into a RecallMode.
func ParseRecallMode(s string) (RecallMode, error) {
	switch RecallMode(s) {
	case RecallSingle, "":
		return RecallSingle, nil
	case RecallStack:
		return RecallStack, nil
	}
	return "", fmt.Errorf("unknown recall mode %q (want %q or %q)", s, RecallSingle, RecallStack)
}

// Recall stores previously submitted user input for one-step recall.
// It is independent of History: clearing the conversation does not clear it.
type Recall struct {
	mu      sync.Mutex
	mode    RecallMode
	max     int
	entries []string
}

// NewRecall creates a Recall. maxEntries is only used in stack mode.
func NewRecall(mode RecallMode, maxEntries int) *Recall {
	if mode != RecallStack {
		mode = RecallSingle
	}
	if maxEntries <= 0 {
		maxEntries = DefaultStackSize
	}
	return &Recall{mode: mode, max: maxEntries}
}

// Mode returns the retention mode.
func (r *Recall) Mode() RecallMode {
	return r.mode
}

// Record stores text as the most recent input.
func (r *Recall) Record(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mode == RecallSingle {
		r.entries = append(r.entries[:0], text)
		return
	}

	r.entries = append(r.entries, text)
	if len(r.entries) > r.max {
		r.entries = r.entries[len(r.entries)-r.max:]
	}
}

// Recall returns the most recent input, or "" if nothing was recorded.
func (r *Recall) Recall() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 {
		return ""
	}
	return r.entries[len(r.entries)-1]
}

// Entries returns a copy of the retained inputs, oldest first.
func (r *Recall) Entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.entries))
	copy(out, r.entries)
	return out
}
