// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

// =============================================================================
// ROLES
// =============================================================================

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the roles a history may contain.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// =============================================================================
// MESSAGE
// =============================================================================

// Message is one entry of the conversation history.
// Messages are values; once appended to a History they are never modified.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Interrupted marks an assistant reply that was finalized early by a
	// cancellation or a failed stream. It is local metadata and is never sent
	// to the backend.
	Interrupted bool `json:"-"`
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates a completed assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// InterruptedMessage creates an assistant message holding partial output.
func InterruptedMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content, Interrupted: true}
}
