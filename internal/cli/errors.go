// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/rigrun-chat/internal/backend"
	"github.com/jeranaias/rigrun-chat/internal/config"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError covers failed turns and anything unclassified
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates a bad config file or setting
	ExitConfigError = 3
	// ExitNetworkError indicates the backend could not be reached
	ExitNetworkError = 5
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError is a command failure with context.
type CommandError struct {
	Command string // e.g. "ask", "config init"
	Reason  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Command, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Command, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// UsageError is a bad flag value or argument.
type UsageError struct {
	Field  string
	Value  string
	Reason string
}

func (e *UsageError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	return msg
}

// silentError carries an exit code for a failure that was already reported
// to the user.
type silentError struct {
	code int
}

func (e *silentError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode determines the exit code for an error returned by a command.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var silent *silentError
	if errors.As(err, &silent) {
		return silent.code
	}

	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitUsageError
	}

	var cfgErrs config.ValidateErrors
	var cfgErr config.ValidationError
	if errors.As(err, &cfgErrs) || errors.As(err, &cfgErr) {
		return ExitConfigError
	}

	var health *backend.HealthError
	if errors.As(err, &health) {
		return ExitNetworkError
	}

	return ExitGeneralError
}

// reportError prints err to w unless it was already reported.
func reportError(w io.Writer, err error) {
	var silent *silentError
	if err == nil || errors.As(err, &silent) {
		return
	}
	fmt.Fprintln(w, styled(ErrorStyle, "Error: ")+err.Error())
}
