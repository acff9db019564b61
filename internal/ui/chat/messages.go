// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/controller"
)

// =============================================================================
// MESSAGES
// =============================================================================

// EventMsg carries a controller event into Update.
type EventMsg struct {
	Event controller.Event
}

// ConfigReloadedMsg is sent when the config file changed on disk.
type ConfigReloadedMsg struct {
	Config *config.Config
	Err    error
}

// refreshTickMsg fires when a throttled redraw is due.
type refreshTickMsg struct{}

// copyResultMsg reports the outcome of a clipboard write.
type copyResultMsg struct {
	chars int
	err   error
}

// clearNoticeMsg hides the footer notice if it is still the one shown.
type clearNoticeMsg struct {
	id int
}
