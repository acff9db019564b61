// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/controller"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

const noticeDuration = 3 * time.Second

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.layout()
		m.redraw()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case EventMsg:
		return m.handleEvent(msg.Event)

	case refreshTickMsg:
		m.refresh.Fired()
		m.redraw()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case copyResultMsg:
		if msg.err != nil {
			m.logger.Warn("clipboard write failed", "error", msg.err)
			return m, m.setNotice("Copy failed: " + msg.err.Error())
		}
		return m, m.setNotice(fmt.Sprintf("Copied %d characters", msg.chars))

	case clearNoticeMsg:
		if msg.id == m.noticeID {
			m.notice = ""
		}
		return m, nil

	case ConfigReloadedMsg:
		if msg.Err != nil {
			return m, m.setNotice("Config not reloaded: " + msg.Err.Error())
		}
		return m, m.setNotice(m.applyConfig(msg.Config))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// KEYS
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if m.ctrl.Cancel() {
			m.logger.Debug("cancel requested from keyboard")
		}
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m.submit()

	case key.Matches(msg, m.keys.Newline):
		m.input.InsertString("\n")
		return m, nil

	case key.Matches(msg, m.keys.ClearInput):
		m.input.Reset()
		m.recallIdx = -1
		return m, nil

	case key.Matches(msg, m.keys.Recall):
		m.recall()
		return m, nil

	case key.Matches(msg, m.keys.NewChat):
		if !m.ctrl.Reset() {
			return m, m.setNotice("Wait for the reply to finish before starting a new chat")
		}
		return m, nil

	case key.Matches(msg, m.keys.CopyLast):
		return m, m.copyLastReply()

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.ViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.ViewDown()
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
		m.layout()
		return m, nil
	}

	m.recallIdx = -1
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := util.NormalizeInput(m.input.Value())
	if text == "" {
		return m, nil
	}
	if !m.ctrl.Submit(text) {
		// Keep the draft; it can be sent once the reply finishes.
		return m, m.setNotice("A reply is still streaming (Esc cancels it)")
	}
	m.input.Reset()
	m.recallIdx = -1
	m.viewport.GotoBottom()
	return m, nil
}

// recall loads the most recent input; repeating steps to older entries when
// recall keeps a history.
func (m *Model) recall() {
	entries := m.ctrl.RecallEntries()
	if len(entries) == 0 {
		return
	}
	switch {
	case m.recallIdx < 0:
		m.recallIdx = len(entries) - 1
	case m.recallIdx > 0:
		m.recallIdx--
	}
	if m.recallIdx >= len(entries) {
		m.recallIdx = len(entries) - 1
	}
	m.input.SetValue(entries[m.recallIdx])
	m.input.CursorEnd()
}

func (m *Model) copyLastReply() tea.Cmd {
	reply, ok := m.ctrl.LastReply()
	if !ok || reply == "" {
		return m.setNotice("Nothing to copy yet")
	}
	copyFn := m.opts.CopyToClipboard
	return func() tea.Msg {
		return copyResultMsg{chars: len([]rune(reply)), err: copyFn(reply)}
	}
}

// =============================================================================
// CONTROLLER EVENTS
// =============================================================================

func (m Model) handleEvent(ev controller.Event) (tea.Model, tea.Cmd) {
	switch e := ev.(type) {
	case controller.TextAppended:
		m.buf.Append(e.Kind, e.Text)
	case controller.TranscriptCleared:
		m.buf.Clear()
		m.lastTurn = nil
	case controller.StateChanged:
		m.status = e.Status
	case controller.TurnFinished:
		tf := e
		m.lastTurn = &tf
		m.logger.Info("turn finished",
			"turn", e.TurnID,
			"outcome", e.Outcome,
			"chunks", e.Chunks,
			"duration", e.Duration.Round(time.Millisecond),
		)
	}

	now, cmd := m.refresh.Request()
	if now {
		m.redraw()
	}
	return m, cmd
}

// =============================================================================
// LAYOUT
// =============================================================================

func (m *Model) layout() {
	if !m.ready {
		return
	}

	m.input.SetWidth(m.width - 2)
	m.help.Width = m.width

	chrome := lipgloss.Height(m.headerView()) + lipgloss.Height(m.inputView())
	if m.opts.ShowStatusBar {
		chrome += lipgloss.Height(m.statusView())
	}
	if m.showHelp {
		chrome += lipgloss.Height(m.help.View(m.keys))
	}

	h := m.height - chrome
	if h < 3 {
		h = 3
	}
	m.viewport.Width = m.width
	m.viewport.Height = h
	m.renderer.SetWidth(m.width - 1)
}

// redraw re-renders the transcript, following the bottom only if the user
// had not scrolled away from it.
func (m *Model) redraw() {
	if !m.ready {
		return
	}
	follow := m.viewport.AtBottom() || m.viewport.TotalLineCount() <= m.viewport.Height
	m.viewport.SetContent(m.renderer.Render(m.buf.Segments(), m.status.AwaitingResponse))
	if follow {
		m.viewport.GotoBottom()
	}
}

// applyConfig applies the settings that can change while the screen runs
// (timeouts and model) and returns the notice describing the reload. Theme,
// labels and markdown rendering are fixed until restart.
func (m *Model) applyConfig(cfg *config.Config) string {
	m.ctrl.SetTimeouts(cfg.HealthCheckTimeout(), cfg.StreamIdleTimeout(), cfg.TurnTimeout())

	notice := "Config reloaded"
	if ms, ok := m.backend.(modelSetter); ok && cfg.Backend.Model != "" && cfg.Backend.Model != m.backend.Model() {
		ms.SetModel(cfg.Backend.Model)
		m.logger.Info("model switched by config reload", "model", cfg.Backend.Model)
		notice += "; model is now " + cfg.Backend.Model
	}

	t := cfg.Transcript
	l := m.opts.Labels
	if t.UserLabel != l.User || t.AssistantLabel != l.Assistant || t.SystemLabel != l.System ||
		cfg.UI.RenderMarkdown != m.opts.RenderMarkdown ||
		(m.opts.ThemeName != "" && cfg.UI.Theme != m.opts.ThemeName) {
		notice += "; restart to apply display changes"
	}
	return notice
}

func (m *Model) setNotice(text string) tea.Cmd {
	m.noticeID++
	id := m.noticeID
	m.notice = text
	return tea.Tick(noticeDuration, func(time.Time) tea.Msg {
		return clearNoticeMsg{id: id}
	})
}
