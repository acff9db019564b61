// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"errors"
	"fmt"
	"sync"
)

// ErrRoleOrder is returned when an append would break user/assistant alternation.
var ErrRoleOrder = errors.New("conversation: roles must alternate starting with user")

// History is the ordered message sequence sent to the backend on each turn.
// It is append-only during a session and cleared as a whole on reset.
//
// History is safe for concurrent use.
type History struct {
	mu       sync.RWMutex
	messages []Message
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// Append adds msg to the end of the history.
// The first entry must be a user message and roles must alternate.
func (h *History) Append(msg Message) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("conversation: invalid role %q", msg.Role)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if msg.Role != h.nextRoleLocked() {
		return ErrRoleOrder
	}
	h.messages = append(h.messages, msg)
	return nil
}

func (h *History) nextRoleLocked() Role {
	if len(h.messages) == 0 || h.messages[len(h.messages)-1].Role == RoleAssistant {
		return RoleUser
	}
	return RoleAssistant
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Snapshot returns a copy of the messages in conversation order.
func (h *History) Snapshot() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// LastAssistant returns the content of the most recent assistant message.
func (h *History) LastAssistant() (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := len(h.messages) - 1; i >= 0; i-- {
		if h.messages[i].Role == RoleAssistant {
			return h.messages[i].Content, true
		}
	}
	return "", false
}

// Clear removes every message.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}
