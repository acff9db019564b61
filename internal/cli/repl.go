// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// repl.go - Line-mode chat for rigrun-chat.
//
// The REPL is a second presentation of the same controller the TUI drives:
// each line is a turn, the reply streams to stdout, Ctrl+C cancels it.

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/backend"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/controller"
	"github.com/jeranaias/rigrun-chat/internal/conversation"
	"github.com/jeranaias/rigrun-chat/internal/transcript"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

const replPrompt = "you> "

func newREPLCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Line-mode chat",
		Long: `Chat one line at a time. Up/Down browse earlier lines.

Commands:
  /new, /n         Start a new conversation
  /recall, /r      Put the last input back on the prompt
  /history         Show the conversation so far
  /model [name]    Show or switch the model
  /help, /h        Show commands
  /quit, /q        Exit
  //text           Send "/text" as a message

Ctrl+C cancels the reply being generated; Ctrl+D exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runREPL()
		},
	}
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineEditor wraps liner with a persisted history file.
type lineEditor struct {
	line        *liner.State
	historyFile string
}

func newLineEditor() *lineEditor {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	e := &lineEditor{line: line, historyFile: filepath.Join(dir, "repl_history")}

	if f, err := os.Open(e.historyFile); err == nil {
		e.line.ReadHistory(f)
		f.Close()
	}
	return e
}

// ReadLine prompts with text pre-filled.
func (e *lineEditor) ReadLine(prompt, prefill string) (string, error) {
	input, err := e.line.PromptWithSuggestion(prompt, prefill, -1)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		e.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history with owner-only permissions and restores the
// terminal.
func (e *lineEditor) Close() {
	if err := config.EnsureConfigDir(); err == nil {
		if f, err := os.OpenFile(e.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			e.line.WriteHistory(f)
			f.Close()
		}
	}
	e.line.Close()
}

// =============================================================================
// SESSION
// =============================================================================

// replSession executes REPL lines against a controller.
type replSession struct {
	out     io.Writer
	ctrl    *controller.Controller
	backend backend.Backend
}

func (a *App) runREPL() error {
	closeLog, err := a.setupLogger()
	if err != nil {
		return &CommandError{Command: "repl", Reason: "cannot open log file", Err: err}
	}
	defer closeLog()

	be, err := a.newBackend()
	if err != nil {
		return err
	}

	printer := newReplPrinter(a.Stdout, a.labels())
	ctrl := controller.New(be, controller.Chain(printer.Observe, a.logTurn), a.controllerOptions())
	defer ctrl.Close()

	sess := &replSession{out: a.Stdout, ctrl: ctrl, backend: be}

	// Outside a prompt the terminal is in cooked mode, so Ctrl+C arrives
	// as a signal.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if ctrl.Cancel() {
				fmt.Fprintln(a.Stdout, "\n"+styled(WarningStyle, "[Cancelling]"))
			}
		}
	}()

	editor := newLineEditor()
	defer editor.Close()

	sess.printWelcome()

	prefill := ""
	for {
		input, err := editor.ReadLine(replPrompt, prefill)
		prefill = ""
		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			// Ctrl+C at the prompt discards the line.
			continue
		case errors.Is(err, io.EOF):
			fmt.Fprintln(a.Stdout)
			return nil
		case err != nil:
			return &CommandError{Command: "repl", Reason: "cannot read input", Err: err}
		}

		next, quit := sess.handleLine(input)
		if quit {
			return nil
		}
		prefill = next
	}
}

func (s *replSession) printWelcome() {
	fmt.Fprintln(s.out, styled(TitleStyle, "rigrun-chat")+" "+
		styled(DimStyle, fmt.Sprintf("%s @ %s (%s)", s.backend.Model(), s.backend.Host(), s.backend.Name())))
	fmt.Fprintln(s.out, styled(DimStyle, "Type /help for commands, Ctrl+D to exit."))
	fmt.Fprintln(s.out)
}

// handleLine runs one line of input. It returns text to pre-fill the next
// prompt with and whether the REPL should exit.
func (s *replSession) handleLine(input string) (prefill string, quit bool) {
	text := util.NormalizeInput(input)
	if text == "" {
		return "", false
	}

	if strings.HasPrefix(text, "/") {
		if !strings.HasPrefix(text, "//") {
			return s.command(text)
		}
		text = text[1:]
	}

	if !s.ctrl.Submit(text) {
		fmt.Fprintln(s.out, styled(WarningStyle, "A reply is still being generated."))
		return "", false
	}
	s.ctrl.Wait()
	return "", false
}

func (s *replSession) command(text string) (prefill string, quit bool) {
	name, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/quit", "/q", "/exit":
		return "", true

	case "/new", "/n", "/clear":
		if s.ctrl.Reset() {
			fmt.Fprintln(s.out, styled(DimStyle, "Started a new conversation."))
		}

	case "/recall", "/r":
		recalled := s.ctrl.Recall()
		if recalled == "" {
			fmt.Fprintln(s.out, styled(DimStyle, "Nothing to recall yet."))
		}
		return recalled, false

	case "/history":
		s.printHistory(s.ctrl.History())

	case "/model":
		if arg != "" {
			s.backend.SetModel(arg)
			fmt.Fprintln(s.out, styled(SuccessStyle, "Model: ")+s.backend.Model())
		} else {
			fmt.Fprintln(s.out, field("Model", s.backend.Model()))
		}

	case "/help", "/h", "/?":
		s.printHelp()

	default:
		fmt.Fprintf(s.out, "%s %s (try /help)\n", styled(ErrorStyle, "Unknown command:"), name)
	}
	return "", false
}

func (s *replSession) printHistory(msgs []conversation.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(s.out, styled(DimStyle, "No messages yet."))
		return
	}
	for _, m := range msgs {
		label := string(m.Role)
		if m.Interrupted {
			label += " (interrupted)"
		}
		fmt.Fprintln(s.out, styled(TitleStyle, label+":"))
		fmt.Fprintln(s.out, m.Content)
		fmt.Fprintln(s.out)
	}
}

func (s *replSession) printHelp() {
	rows := [][2]string{
		{"/new", "start a new conversation"},
		{"/recall", "put the last input back on the prompt"},
		{"/history", "show the conversation so far"},
		{"/model", "show or switch the model"},
		{"/quit", "exit"},
		{"Ctrl+C", "cancel the reply being generated"},
	}
	for _, r := range rows {
		fmt.Fprintln(s.out, field(r[0], r[1]))
	}
}

// =============================================================================
// PRINTER
// =============================================================================

// replPrinter writes controller events to the terminal. The user's own line
// is already on screen, so user sections are not echoed.
type replPrinter struct {
	out    io.Writer
	labels controller.Labels

	mu      sync.Mutex
	inReply bool
}

func newReplPrinter(out io.Writer, labels controller.Labels) *replPrinter {
	return &replPrinter{out: out, labels: labels}
}

// Observe is a controller.Observer.
func (p *replPrinter) Observe(ev controller.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := ev.(type) {
	case controller.TextAppended:
		switch e.Kind {
		case transcript.KindAssistant:
			if !p.inReply {
				p.inReply = true
				fmt.Fprintln(p.out, styled(AssistantLabelStyle, p.labels.Assistant+":"))
				return
			}
			io.WriteString(p.out, e.Text)
		case transcript.KindSystem:
			io.WriteString(p.out, styled(SystemStyle, e.Text))
		}
	case controller.TurnFinished:
		p.inReply = false
	}
}
