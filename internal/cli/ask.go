// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/controller"
	"github.com/jeranaias/rigrun-chat/internal/transcript"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

type askOptions struct {
	markdown bool
}

func newAskCmd(app *App) *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Ask once and stream the reply to stdout",
		Long: `Ask a single question. The reply streams to stdout; backend notices
go to stderr. The exit code is 1 when the reply could not be completed.

Examples:
  rigrun-chat ask "Explain Go channels"
  rigrun-chat ask --markdown "Write a table of HTTP status codes"
  echo "2+2?" | rigrun-chat ask -`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(app.Stdin, args)
			if err != nil {
				return err
			}
			return app.runAsk(prompt, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.markdown, "markdown", false, "Render the finished reply as markdown (terminal only)")
	return cmd
}

// readPrompt joins the arguments; a single "-" reads the prompt from in.
func readPrompt(in io.Reader, args []string) (string, error) {
	raw := strings.Join(args, " ")
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", &CommandError{Command: "ask", Reason: "cannot read stdin", Err: err}
		}
		raw = string(data)
	}
	prompt := util.NormalizeInput(raw)
	if prompt == "" {
		return "", &UsageError{Field: "prompt", Reason: "must not be empty"}
	}
	return prompt, nil
}

func (a *App) runAsk(prompt string, opts askOptions) error {
	closeLog, err := a.setupLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	be, err := a.newBackend()
	if err != nil {
		return err
	}

	render := opts.markdown && isTerminal(a.Stdout)
	printer := newStreamPrinter(a.Stdout, a.Stderr, a.labels(), render)

	ctrl := controller.New(be, controller.Chain(printer.Observe, a.logTurn), a.controllerOptions())
	defer ctrl.Close()

	if !ctrl.Submit(prompt) {
		return &CommandError{Command: "ask", Reason: "the prompt was not accepted"}
	}
	ctrl.Wait()

	if render {
		if err := printer.renderMarkdown(terminalWidth(a.Stdout)); err != nil {
			a.logger.Debug("markdown render failed", "error", err)
		}
	}

	if printer.outcome != controller.OutcomeCompleted {
		return &silentError{code: ExitGeneralError}
	}
	return nil
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter writes the assistant text of controller events to out as it
// arrives and system notices to errOut. The section labels and the closing
// delimiter are dropped so the output is just the reply.
type streamPrinter struct {
	out, errOut io.Writer
	labels      controller.Labels
	// buffered holds the reply instead of streaming it.
	buffered bool

	mu      sync.Mutex
	pending string
	started bool
	reply   strings.Builder
	outcome controller.Outcome
}

func newStreamPrinter(out, errOut io.Writer, labels controller.Labels, buffered bool) *streamPrinter {
	return &streamPrinter{
		out:      out,
		errOut:   errOut,
		labels:   labels,
		buffered: buffered,
		outcome:  controller.OutcomeAborted,
	}
}

// Observe is a controller.Observer.
func (p *streamPrinter) Observe(ev controller.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := ev.(type) {
	case controller.TextAppended:
		switch e.Kind {
		case transcript.KindAssistant:
			if !p.started {
				// The section header.
				p.started = true
				return
			}
			// Hold one event back: the last one of a turn is the delimiter.
			p.write(p.pending)
			p.pending = e.Text
		case transcript.KindSystem:
			notice := strings.TrimPrefix(e.Text, p.labels.System+":\n")
			notice = strings.TrimRight(notice, "\n")
			fmt.Fprintln(p.errOut, styled(SystemStyle, notice))
		}

	case controller.TurnFinished:
		p.outcome = e.Outcome
		if p.started && !p.buffered {
			fmt.Fprintln(p.out)
		}
		p.pending = ""
		p.started = false
	}
}

func (p *streamPrinter) write(s string) {
	if s == "" {
		return
	}
	p.reply.WriteString(s)
	if !p.buffered {
		io.WriteString(p.out, s)
	}
}

// Reply returns the assistant text printed so far.
func (p *streamPrinter) Reply() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reply.String()
}

// renderMarkdown writes the buffered reply through glamour.
func (p *streamPrinter) renderMarkdown(width int) error {
	reply := p.Reply()
	if reply == "" {
		return nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-2),
	)
	if err != nil {
		io.WriteString(p.out, reply+"\n")
		return err
	}
	out, err := r.Render(reply)
	if err != nil {
		io.WriteString(p.out, reply+"\n")
		return err
	}
	_, err = io.WriteString(p.out, out)
	return err
}
