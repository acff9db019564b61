// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the full-screen chat interface.
//
// The Model never talks to the backend. It forwards key presses to a
// controller.Controller and redraws from controller events, which arrive as
// EventMsg values through the running tea.Program (see NewEventBridge).
// The transcript buffer is owned by the Update goroutine.
package chat
