// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend adapts concrete LLM servers to the controller's Backend
// interface. Two providers are supported: a local Ollama server and any
// OpenAI-compatible chat completions endpoint (LM Studio, llama.cpp, vLLM).
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/controller"
)

// =============================================================================
// PROVIDERS
// =============================================================================

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// ErrUnknownProvider is returned by New for an unrecognised provider name.
var ErrUnknownProvider = errors.New("unknown backend provider")

// Settings configures a backend.
type Settings struct {
	Provider string
	URL      string
	Model    string
	APIKey   string

	// KeepAlive is forwarded to Ollama as keep_alive.
	KeepAlive string

	// RequestTimeout bounds non-streaming requests such as model listing.
	RequestTimeout time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Backend is a controller.Backend that can also describe itself.
type Backend interface {
	controller.Backend

	// Name is the provider name.
	Name() string
	// Host is the server address shown to the user.
	Host() string
	// Model is the model used for new turns.
	Model() string
	// SetModel switches the model for new turns; "" is ignored.
	SetModel(model string)
	// ListModels returns the model names the server offers.
	ListModels(ctx context.Context) ([]string, error)
}

// New builds the backend named by s.Provider. An empty provider selects
// Ollama.
func New(s Settings) (Backend, error) {
	if s.Logger == nil {
		s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case "", ProviderOllama:
		return NewOllama(s), nil
	case ProviderOpenAI:
		return NewOpenAI(s), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, s.Provider)
	}
}

// =============================================================================
// HEALTH ERRORS
// =============================================================================

// HealthKind classifies a failed liveness probe.
type HealthKind int

const (
	// HealthUnreachable means no HTTP response was received.
	HealthUnreachable HealthKind = iota
	// HealthBadStatus means the server answered with a non-200 status.
	HealthBadStatus
)

// HealthError is returned by HealthCheck. Its Notice is the text written to
// the transcript.
type HealthError struct {
	Kind    HealthKind
	Service string
	Host    string
	Status  int
	Cause   error
}

func (e *HealthError) Error() string {
	switch e.Kind {
	case HealthBadStatus:
		return fmt.Sprintf("%s health check: status %d", e.Service, e.Status)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("%s health check: %s unreachable: %v", e.Service, e.Host, e.Cause)
		}
		return fmt.Sprintf("%s health check: %s unreachable", e.Service, e.Host)
	}
}

func (e *HealthError) Unwrap() error {
	return e.Cause
}

// Notice implements controller.Noticer. Service must be non-empty.
func (e *HealthError) Notice() string {
	if e.Kind == HealthBadStatus {
		return strings.ToUpper(e.Service[:1]) + e.Service[1:] + " is not running."
	}
	return fmt.Sprintf("Failed to connect to %s\nIs %s running?", e.Host, e.Service)
}

// hostOf returns the host:port of a base URL, or the input when it does not
// parse.
func hostOf(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return base
	}
	return u.Host
}
