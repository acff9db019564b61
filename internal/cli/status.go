// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/backend"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// modelSizer is implemented by backends that report model sizes.
type modelSizer interface {
	Models(ctx context.Context) ([]ollama.ModelInfo, error)
}

// modelRow is one line of the model listing. Size is "" when unknown.
type modelRow struct {
	Name string
	Size string
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the backend and list its models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runStatus(cmd.Context())
		},
	}
}

func (a *App) runStatus(ctx context.Context) error {
	closeLog, err := a.setupLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	be, err := a.newBackend()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	out := a.Stdout
	fmt.Fprintln(out, styled(TitleStyle, "rigrun-chat status"))
	fmt.Fprintln(out)
	fmt.Fprintln(out, field("Provider", be.Name()))
	fmt.Fprintln(out, field("Server", be.Host()))
	fmt.Fprintln(out, field("Model", be.Model()))

	hctx, cancel := context.WithTimeout(ctx, a.cfg.HealthCheckTimeout())
	start := time.Now()
	err = be.HealthCheck(hctx)
	cancel()
	if err != nil {
		fmt.Fprintln(out, LabelStyle.Render("Backend")+styled(ErrorStyle, "unavailable"))
		fmt.Fprintln(out)
		fmt.Fprintln(out, styled(WarningStyle, healthNotice(err)))
		return &silentError{code: GetExitCode(err)}
	}
	fmt.Fprintln(out, LabelStyle.Render("Backend")+
		styled(SuccessStyle, "running")+
		styled(DimStyle, fmt.Sprintf(" (%s)", time.Since(start).Round(time.Millisecond))))

	rows, err := listModels(ctx, be)
	if err != nil {
		a.logger.Warn("model listing failed", "error", err)
		fmt.Fprintln(out, field("Models", "unavailable: "+util.FirstLine(err.Error())))
		return nil
	}
	printModels(out, rows, be.Model(), terminalWidth(out))
	return nil
}

func listModels(ctx context.Context, be backend.Backend) ([]modelRow, error) {
	if ms, ok := be.(modelSizer); ok {
		infos, err := ms.Models(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]modelRow, 0, len(infos))
		for _, m := range infos {
			rows = append(rows, modelRow{Name: m.Name, Size: m.FormatSize()})
		}
		return rows, nil
	}

	names, err := be.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]modelRow, 0, len(names))
	for _, n := range names {
		rows = append(rows, modelRow{Name: n})
	}
	return rows, nil
}

// healthNotice returns the user-facing text for a failed health check.
func healthNotice(err error) string {
	var n interface{ Notice() string }
	if errors.As(err, &n) {
		return n.Notice()
	}
	return "Backend unavailable: " + err.Error()
}

func printModels(w io.Writer, rows []modelRow, current string, width int) {
	fmt.Fprintln(w)
	if len(rows) == 0 {
		fmt.Fprintln(w, styled(DimStyle, "No models installed."))
		return
	}
	fmt.Fprintln(w, styled(TitleStyle, fmt.Sprintf("Models (%d)", len(rows))))

	nameWidth := 0
	for _, r := range rows {
		nameWidth = max(nameWidth, util.StringWidth(r.Name))
	}
	nameWidth = min(nameWidth, width-12)

	found := false
	for _, r := range rows {
		marker := "  "
		if r.Name == current || r.Name == current+":latest" {
			marker = styled(SuccessStyle, "* ")
			found = true
		}
		if r.Size == "" {
			fmt.Fprintln(w, marker+util.TruncateWidth(r.Name, width-2))
			continue
		}
		fmt.Fprintln(w, marker+util.PadWidth(r.Name, nameWidth)+"  "+styled(DimStyle, r.Size))
	}
	if !found && current != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, styled(WarningStyle, fmt.Sprintf("Model %q is not on the server.", current)))
	}
}
