// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/controller"
	"github.com/jeranaias/rigrun-chat/internal/ui/chat"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
)

func newTUICmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Start the full-screen chat (default)",
		Long: `Start the full-screen chat.

Keys:
  Enter        Send
  Alt+Enter    New line
  Esc, Ctrl+C  Cancel the reply being generated
  Ctrl+L       Clear the input
  Ctrl+R       Recall the last input
  Ctrl+N       New conversation
  Ctrl+Y       Copy the last reply
  PgUp/PgDn    Scroll
  F1           Help
  Ctrl+Q       Quit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runTUI(cmd)
		},
	}
}

// runTUI runs the bubbletea chat until the user quits. The TUI owns the
// terminal, so logs go to the log file.
func (a *App) runTUI(cmd *cobra.Command) error {
	closeLog, err := a.setupLogger()
	if err != nil {
		return &CommandError{Command: "tui", Reason: "cannot open log file", Err: err}
	}
	defer closeLog()

	be, err := a.newBackend()
	if err != nil {
		return err
	}

	bridge := chat.NewEventBridge()
	ctrl := controller.New(be, controller.Chain(bridge.Observer(), a.logTurn), a.controllerOptions())

	model := chat.New(ctrl, be, chat.Options{
		Theme:          styles.NewTheme(a.cfg.UI.Theme),
		ThemeName:      a.cfg.UI.Theme,
		Labels:         a.labels(),
		RenderMarkdown: a.cfg.UI.RenderMarkdown,
		ShowStatusBar:  a.cfg.UI.ShowStatusBar,
		Logger:         a.logger,
	})

	p := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithInput(a.Stdin),
		tea.WithOutput(a.Stdout),
	)
	bridge.Attach(p)

	if w := a.watchConfig(p); w != nil {
		defer w.Close()
	}

	a.logger.Info("chat started", "provider", be.Name(), "host", be.Host(), "model", be.Model())
	_, runErr := p.Run()

	// Finish any in-flight turn before the bridge stops delivering.
	ctrl.Close()
	bridge.Close()
	a.logger.Info("chat stopped")

	if runErr != nil {
		return fmt.Errorf("chat UI: %w", runErr)
	}
	return nil
}

// watchConfig forwards config file changes to the running program. It
// returns nil when there is no file to watch.
func (a *App) watchConfig(p *tea.Program) *config.Watcher {
	path := a.flags.configPath
	if path == "" {
		var err error
		if path, err = config.ConfigPath(); err != nil {
			return nil
		}
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	w, err := config.Watch(path, config.DefaultDebounce, a.logger, func(cfg *config.Config, err error) {
		if err == nil {
			// Flags still win over the file.
			err = a.applyFlags(cfg)
		}
		p.Send(chat.ConfigReloadedMsg{Config: cfg, Err: err})
	})
	if err != nil {
		a.logger.Warn("config watch disabled", "path", path, "error", err)
		return nil
	}
	return w
}
