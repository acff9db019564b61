// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation holds the role-tagged message history that is sent to
// the backend as context on every turn, and the last-input recall used to put
// the previous submission back into the input box.
//
// # Key Types
//
//   - Message: One immutable user or assistant entry
//   - History: Append-only, goroutine-safe ordered list of Messages
//   - Recall: Last submitted input, in single-value or stack mode
//
// # Usage
//
//	h := conversation.NewHistory()
//	h.Append(conversation.UserMessage("hi"))
//	h.Append(conversation.AssistantMessage("hello"))
//	msgs := h.Snapshot() // copy, safe to hand to a backend
//
//	r := conversation.NewRecall(conversation.RecallSingle, 0)
//	r.Record("hi")
//	last := r.Recall() // "hi"
package conversation
