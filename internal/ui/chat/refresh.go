// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/time/rate"
)

// =============================================================================
// REFRESH LIMITER
// =============================================================================

// DefaultMaxFPS caps transcript redraws while a reply streams in.
const DefaultMaxFPS = 30

// RefreshLimiter coalesces transcript redraws. Fast streams deliver hundreds
// of chunks per second; re-rendering the viewport for each causes flicker.
//
// It is used only from Update, so it needs no locking.
type RefreshLimiter struct {
	limiter  *rate.Limiter
	interval time.Duration
	pending  bool
}

// NewRefreshLimiter allows maxFPS redraws per second.
func NewRefreshLimiter(maxFPS int) *RefreshLimiter {
	if maxFPS <= 0 || maxFPS > 120 {
		maxFPS = DefaultMaxFPS
	}
	interval := time.Second / time.Duration(maxFPS)
	return &RefreshLimiter{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
	}
}

// Request asks for a redraw. It returns true when the caller may redraw now.
// Otherwise, the first deferred request returns a command that delivers a
// refreshTickMsg once the window has passed; later ones return nil.
func (r *RefreshLimiter) Request() (bool, tea.Cmd) {
	if r.limiter.Allow() {
		return true, nil
	}
	if r.pending {
		return false, nil
	}
	r.pending = true
	return false, tea.Tick(r.interval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

// Fired must be called when the scheduled refreshTickMsg arrives.
func (r *RefreshLimiter) Fired() {
	r.pending = false
}

// Pending reports whether a deferred redraw is scheduled.
func (r *RefreshLimiter) Pending() bool {
	return r.pending
}
