// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigrun-chat/internal/controller"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Starting rigrun-chat…"
	}

	parts := []string{m.headerView(), m.viewport.View(), m.inputView()}
	if m.opts.ShowStatusBar {
		parts = append(parts, m.statusView())
	}
	if m.showHelp {
		parts = append(parts, m.help.View(m.keys))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) headerView() string {
	t := m.opts.Theme
	brand := t.HeaderBrand.Render("rigrun-chat")
	where := fmt.Sprintf("%s @ %s (%s)", m.backend.Model(), m.backend.Host(), m.backend.Name())
	room := m.width - lipgloss.Width(brand) - 5
	model := t.HeaderModel.Render(util.TruncateWidth(where, room))
	return t.Header.Width(m.width).Render(brand + "  " + model)
}

func (m Model) inputView() string {
	return m.opts.Theme.InputContainer.Width(m.width).Render(m.input.View())
}

// statusView shows the session state on the left and either the transient
// notice, the last turn's stats or key hints on the right.
func (m Model) statusView() string {
	t := m.opts.Theme

	var state string
	switch {
	case m.status.CancelRequested:
		state = t.StatusCancel.Render(m.spinner.View() + " cancelling")
	case m.status.Phase == controller.PhaseSending:
		state = t.StatusBusy.Render(m.spinner.View() + " connecting")
	case m.status.AwaitingResponse:
		state = t.StatusBusy.Render(m.spinner.View() + " streaming")
	default:
		state = t.StatusIdle.Render("● ready")
	}

	var right string
	switch {
	case m.notice != "":
		right = m.notice
	case m.lastTurn != nil && !m.status.AwaitingResponse:
		right = turnSummary(*m.lastTurn)
	default:
		right = "Enter send · Esc cancel · C-r recall · C-n new · F1 help"
	}

	inner := m.width - 2
	room := inner - lipgloss.Width(state) - 1
	if room < 0 {
		room = 0
	}
	right = util.TruncateWidth(right, room)
	gap := inner - lipgloss.Width(state) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	line := state + strings.Repeat(" ", gap) + t.ShortcutDesc.Render(right)
	return t.StatusBar.Width(m.width).Render(line)
}

func turnSummary(tf controller.TurnFinished) string {
	d := tf.Duration.Round(100 * time.Millisecond)
	switch tf.Outcome {
	case controller.OutcomeCompleted:
		return fmt.Sprintf("%d chunks in %s", tf.Chunks, d)
	case controller.OutcomeCancelled:
		return fmt.Sprintf("cancelled after %d chunks", tf.Chunks)
	case controller.OutcomeInterrupted:
		return fmt.Sprintf("interrupted after %d chunks", tf.Chunks)
	default:
		return "backend unavailable"
	}
}
