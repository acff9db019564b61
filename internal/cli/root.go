// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/backend"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/controller"
	"github.com/jeranaias/rigrun-chat/internal/conversation"
	"github.com/jeranaias/rigrun-chat/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// annotation that lets a command run without a loadable config.
const skipConfig = "skip-config"

// =============================================================================
// APP
// =============================================================================

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	provider   string
	url        string
	model      string
	logLevel   string
}

// App holds what the commands share: streams, the loaded configuration and
// the logger.
type App struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	flags  globalFlags
	cfg    *config.Config
	logger *slog.Logger

	// NewBackend builds the model server client; tests replace it.
	NewBackend func(backend.Settings) (backend.Backend, error)
}

// NewApp returns an App bound to the process streams.
func NewApp() *App {
	return &App{
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		logger:     logging.Discard(),
		NewBackend: backend.New,
	}
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	app := NewApp()
	cmd := NewRootCmd(app)
	err := cmd.Execute()
	reportError(app.Stderr, err)
	return GetExitCode(err)
}

// NewRootCmd builds the command tree for app.
func NewRootCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "rigrun-chat",
		Short: "Chat with a locally hosted language model",
		Long: `rigrun-chat is a terminal chat client for a local model server
(Ollama or any OpenAI-compatible server such as LM Studio).

Examples:
  rigrun-chat                             Start the chat TUI
  rigrun-chat --model qwen2.5:7b          Use a specific model
  rigrun-chat repl                        Line-mode chat
  rigrun-chat ask "What is a goroutine?"  Ask once
  rigrun-chat status                      Check the backend
  rigrun-chat --provider openai --url http://127.0.0.1:1234/v1`,
		Version:           fmt.Sprintf("%s (%s)", Version, GitCommit),
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lipgloss.SetColorProfile(colorProfile(app.Stdout))
			if cmd.Annotations[skipConfig] == "true" {
				return nil
			}
			return app.loadConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runTUI(cmd)
		},
	}

	root.SetIn(app.Stdin)
	root.SetOut(app.Stdout)
	root.SetErr(app.Stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&app.flags.configPath, "config", "", "Config file (default ~/.rigrun-chat/config.toml)")
	pf.StringVar(&app.flags.provider, "provider", "", "Backend provider: ollama or openai")
	pf.StringVar(&app.flags.url, "url", "", "Backend base URL")
	pf.StringVarP(&app.flags.model, "model", "m", "", "Model to use")
	pf.StringVar(&app.flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newTUICmd(app),
		newREPLCmd(app),
		newAskCmd(app),
		newStatusCmd(app),
		newConfigCmd(app),
	)
	return root
}

// =============================================================================
// CONFIG AND WIRING
// =============================================================================

// loadConfig loads the config file and applies the global flags over it.
func (a *App) loadConfig() error {
	var (
		cfg *config.Config
		err error
	)
	if a.flags.configPath != "" {
		cfg, err = config.LoadFromPath(a.flags.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if err := a.applyFlags(cfg); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// applyFlags overrides cfg with the global flags and revalidates it.
func (a *App) applyFlags(cfg *config.Config) error {
	f := a.flags
	if f.provider != "" {
		provider := strings.ToLower(strings.TrimSpace(f.provider))
		if provider != cfg.Backend.Provider && f.url == "" {
			// The configured URL belongs to the other provider.
			cfg.Backend.URL = defaultURL(provider)
		}
		cfg.Backend.Provider = provider
	}
	if f.url != "" {
		cfg.Backend.URL = f.url
	}
	if f.model != "" {
		cfg.Backend.Model = f.model
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func defaultURL(provider string) string {
	if provider == backend.ProviderOpenAI {
		return backend.DefaultOpenAIURL
	}
	return config.DefaultOllamaURL
}

// setupLogger opens the log file. The terminal belongs to the chat, so
// nothing is logged to it. The returned function closes the file.
func (a *App) setupLogger() (func() error, error) {
	path, err := a.cfg.LogPath()
	if err != nil {
		return nil, err
	}
	logger, closeFn, err := logging.New(logging.Options{Level: a.cfg.Log.Level, File: path})
	if err != nil {
		return nil, err
	}
	a.logger = logger
	return closeFn, nil
}

// newBackend builds the configured backend.
func (a *App) newBackend() (backend.Backend, error) {
	b := a.cfg.Backend
	be, err := a.NewBackend(backend.Settings{
		Provider:       b.Provider,
		URL:            b.URL,
		Model:          b.Model,
		APIKey:         b.APIKey,
		KeepAlive:      b.KeepAlive,
		RequestTimeout: a.cfg.RequestTimeout(),
		Logger:         a.logger,
	})
	if err != nil {
		return nil, &UsageError{Field: "provider", Value: b.Provider, Reason: err.Error()}
	}
	a.logger.Debug("backend ready", "provider", be.Name(), "host", be.Host(), "model", be.Model())
	return be, nil
}

// controllerOptions maps the configuration onto controller options.
func (a *App) controllerOptions() controller.Options {
	mode, err := conversation.ParseRecallMode(strings.ToLower(a.cfg.Recall.Mode))
	if err != nil {
		mode = conversation.RecallSingle
	}
	return controller.Options{
		HealthTimeout:     a.cfg.HealthCheckTimeout(),
		StreamIdleTimeout: a.cfg.StreamIdleTimeout(),
		TurnTimeout:       a.cfg.TurnTimeout(),
		Labels:            a.labels(),
		RecallMode:        mode,
		RecallSize:        a.cfg.Recall.MaxEntries,
		Logger:            a.logger,
	}
}

func (a *App) labels() controller.Labels {
	t := a.cfg.Transcript
	return controller.Labels{User: t.UserLabel, Assistant: t.AssistantLabel, System: t.SystemLabel}
}

// logTurn records each finished turn in the log file.
func (a *App) logTurn(ev controller.Event) {
	tf, ok := ev.(controller.TurnFinished)
	if !ok {
		return
	}
	attrs := []any{
		"turn", tf.TurnID,
		"outcome", tf.Outcome.String(),
		"chunks", tf.Chunks,
		"duration", tf.Duration.Round(time.Millisecond),
	}
	if tf.Err != nil {
		a.logger.Warn("turn ended early", append(attrs, "error", tf.Err)...)
		return
	}
	a.logger.Info("turn finished", attrs...)
}
