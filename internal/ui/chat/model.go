// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"io"
	"log/slog"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/rigrun-chat/internal/controller"
	"github.com/jeranaias/rigrun-chat/internal/transcript"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
)

// =============================================================================
// MODEL
// =============================================================================

// BackendInfo describes the backend for the header and status bar.
type BackendInfo interface {
	Name() string
	Host() string
	Model() string
}

// modelSetter is implemented by backends that can switch models at runtime.
type modelSetter interface {
	SetModel(model string)
}

// Options configures the chat screen.
type Options struct {
	Theme          *styles.Theme
	ThemeName      string // the configured theme mode, for reload checks
	Labels         controller.Labels
	RenderMarkdown bool
	ShowStatusBar  bool
	MaxFPS         int
	Logger         *slog.Logger

	// CopyToClipboard overrides the system clipboard (tests).
	CopyToClipboard func(string) error
}

// Model is the bubbletea model of the chat screen.
type Model struct {
	ctrl    *controller.Controller
	backend BackendInfo
	opts    Options
	logger  *slog.Logger

	buf      *transcript.Buffer
	status   controller.Status
	lastTurn *controller.TurnFinished

	keys     KeyMap
	help     help.Model
	input    textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *Renderer
	refresh  *RefreshLimiter

	width, height int
	ready         bool
	showHelp      bool

	// recallIdx walks RecallEntries backwards on repeated Ctrl+R; -1 when
	// not recalling.
	recallIdx int

	notice   string
	noticeID int
}

// New creates the chat screen for ctrl.
func New(ctrl *controller.Controller, backend BackendInfo, opts Options) Model {
	if opts.Theme == nil {
		opts.Theme = styles.NewTheme("auto")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.CopyToClipboard == nil {
		opts.CopyToClipboard = clipboard.WriteAll
	}
	d := controller.DefaultOptions().Labels
	if opts.Labels.User == "" {
		opts.Labels.User = d.User
	}
	if opts.Labels.Assistant == "" {
		opts.Labels.Assistant = d.Assistant
	}
	if opts.Labels.System == "" {
		opts.Labels.System = d.System
	}

	ta := textarea.New()
	ta.Placeholder = "Ask anything. Enter sends, Alt+Enter adds a line."
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.CharLimit = 0
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(opts.Theme.Spinner),
	)

	return Model{
		ctrl:      ctrl,
		backend:   backend,
		opts:      opts,
		logger:    opts.Logger,
		buf:       transcript.NewBuffer(),
		status:    ctrl.Status(),
		keys:      DefaultKeyMap(),
		help:      help.New(),
		input:     ta,
		viewport:  viewport.New(0, 0),
		spinner:   sp,
		renderer:  NewRenderer(opts.Theme, opts.Labels, opts.RenderMarkdown, opts.Logger),
		refresh:   NewRefreshLimiter(opts.MaxFPS),
		recallIdx: -1,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

// Transcript returns the text shown in the transcript pane.
func (m Model) Transcript() string {
	return m.buf.String()
}

// Status returns the last controller status the screen has seen.
func (m Model) Status() controller.Status {
	return m.status
}

// =============================================================================
// EVENT BRIDGE
// =============================================================================

// EventBridge delivers controller events to a running tea.Program. Use
// Observer as the controller's observer and call Attach once the program
// exists. Events are queued on a controller.Pump because Program.Send
// blocks, and Submit publishes from inside Update.
type EventBridge struct {
	pump *controller.Pump

	mu      sync.RWMutex
	program *tea.Program
}

// NewEventBridge creates a bridge with no program attached.
func NewEventBridge() *EventBridge {
	b := &EventBridge{}
	b.pump = controller.NewPump(b.deliver)
	return b
}

// Attach sets the program receiving events.
func (b *EventBridge) Attach(p *tea.Program) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.program = p
}

// Observer returns the function to pass to controller.New.
func (b *EventBridge) Observer() controller.Observer {
	return b.pump.Publish
}

// Close flushes queued events and stops delivery.
func (b *EventBridge) Close() {
	b.pump.Close()
}

func (b *EventBridge) deliver(ev controller.Event) {
	b.mu.RLock()
	p := b.program
	b.mu.RUnlock()
	if p != nil {
		p.Send(EventMsg{Event: ev})
	}
}
