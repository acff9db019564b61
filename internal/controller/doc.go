// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package controller implements the response-lifecycle state machine that
// drives a chat turn: health check, user turn, streamed reply, cancellation,
// and reset.
//
// A Controller owns the conversation history and session flags. Presentation
// layers never touch those directly; they call Submit, Cancel, Reset and
// Recall, and observe progress through Events delivered to an Observer.
//
// # States
//
//	Idle -> Sending -> Streaming -> (Completed | Cancelled | Interrupted) -> Idle
//
// Sending covers the health check. A failed health check returns straight to
// Idle after writing a system notice.
//
// # Concurrency
//
// Each accepted Submit runs in its own goroutine; at most one is in flight.
// Events are published in order. Observers run on the publishing goroutine and
// must not block or call back into the Controller; use a Pump to move events
// onto another goroutine (for example a Bubble Tea program).
package controller
