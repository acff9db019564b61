// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package controller

// =============================================================================
// PHASE
// =============================================================================

// Phase is the controller's position in the turn lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSending
	PhaseStreaming
	PhaseCompleted
	PhaseCancelled
	PhaseInterrupted
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSending:
		return "sending"
	case PhaseStreaming:
		return "streaming"
	case PhaseCompleted:
		return "completed"
	case PhaseCancelled:
		return "cancelled"
	case PhaseInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// =============================================================================
// STATUS
// =============================================================================

// Status is a snapshot of the session flags.
type Status struct {
	Phase Phase

	// AwaitingResponse is true while a turn is outstanding.
	AwaitingResponse bool
	// ResponseComplete is true when no turn is mid-flight; Reset requires it.
	ResponseComplete bool
	// CancelRequested is true between Cancel and the worker honouring it.
	CancelRequested bool

	// TurnID identifies the current or most recent turn.
	TurnID string
}

// CanSubmit reports whether Submit would accept non-empty input.
func (s Status) CanSubmit() bool {
	return !s.AwaitingResponse
}

// CanCancel reports whether Cancel would have an effect.
func (s Status) CanCancel() bool {
	return s.AwaitingResponse && !s.CancelRequested
}

// CanReset reports whether Reset would clear the conversation.
func (s Status) CanReset() bool {
	return s.ResponseComplete
}

// =============================================================================
// OUTCOME
// =============================================================================

// Outcome is how a turn ended.
type Outcome int

const (
	// OutcomeCompleted means the stream ended normally.
	OutcomeCompleted Outcome = iota
	// OutcomeCancelled means the user cancelled; partial output was kept.
	OutcomeCancelled
	// OutcomeInterrupted means the stream failed after the health check passed;
	// partial output was kept.
	OutcomeInterrupted
	// OutcomeAborted means the health check failed; nothing was committed.
	OutcomeAborted
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

func (o Outcome) phase() Phase {
	switch o {
	case OutcomeCompleted:
		return PhaseCompleted
	case OutcomeCancelled:
		return PhaseCancelled
	case OutcomeInterrupted:
		return PhaseInterrupted
	default:
		return PhaseIdle
	}
}
