// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
)

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration",
		Long: `Show or create the configuration.

Settings are read from the config file, then .env in the working directory,
then RIGRUN_CHAT_* environment variables, then command-line flags.`,
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(app.Stdout, app.cfg.String())
			return nil
		},
	}

	path := &cobra.Command{
		Use:         "path",
		Short:       "Print the config file path",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := app.configPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(app.Stdout, p)
			return nil
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a config file with the defaults",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runConfigInit(force)
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	cmd.AddCommand(show, path, initCmd)
	return cmd
}

func (a *App) configPath() (string, error) {
	if a.flags.configPath != "" {
		return a.flags.configPath, nil
	}
	return config.ConfigPath()
}

func (a *App) runConfigInit(force bool) error {
	path, err := a.configPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil && !force {
		return &CommandError{
			Command: "config init",
			Reason:  fmt.Sprintf("%s already exists (use --force to overwrite)", path),
		}
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &CommandError{Command: "config init", Reason: "cannot check " + path, Err: err}
	}

	if err := config.SaveTOML(config.Default(), path); err != nil {
		return &CommandError{Command: "config init", Reason: "cannot write config", Err: err}
	}
	fmt.Fprintln(a.Stdout, styled(SuccessStyle, "Wrote ")+path)
	return nil
}
