// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package controller

import (
	"context"
	"errors"

	"github.com/jeranaias/rigrun-chat/internal/conversation"
)

// Backend is the LLM server as seen by the controller.
type Backend interface {
	// HealthCheck returns nil iff the server answered with a success status.
	HealthCheck(ctx context.Context) error

	// StreamChat sends the full history and returns the reply as a stream.
	// Cancelling ctx should unblock a pending Stream.Next. When it does not,
	// the turn still ends at the next chunk boundary.
	StreamChat(ctx context.Context, history []conversation.Message) (Stream, error)
}

// Stream is a single-pass sequence of text chunks.
type Stream interface {
	// Next returns the next chunk, or io.EOF once the reply is complete.
	// Chunks may be empty.
	Next() (string, error)
	Close() error
}

// Noticer is implemented by errors that carry a message meant for the
// transcript rather than for logs.
type Noticer interface {
	Notice() string
}

// noticeFor picks the user-facing text for a failed health check.
func noticeFor(err error) string {
	var n Noticer
	if errors.As(err, &n) {
		return n.Notice()
	}
	return "Backend unavailable: " + err.Error()
}
