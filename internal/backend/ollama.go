// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jeranaias/rigrun-chat/internal/controller"
	"github.com/jeranaias/rigrun-chat/internal/conversation"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
)

// =============================================================================
// OLLAMA BACKEND
// =============================================================================

// Ollama talks to a local Ollama server.
type Ollama struct {
	client *ollama.Client
	logger *slog.Logger
}

// NewOllama creates an Ollama backend. Empty settings take the client
// defaults.
func NewOllama(s Settings) *Ollama {
	cfg := ollama.DefaultConfig()
	if s.URL != "" {
		cfg.BaseURL = s.URL
	}
	if s.Model != "" {
		cfg.DefaultModel = s.Model
	}
	if s.RequestTimeout > 0 {
		cfg.Timeout = s.RequestTimeout
	}
	cfg.KeepAlive = s.KeepAlive
	cfg.HTTPClient = s.HTTPClient

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Ollama{
		client: ollama.NewClientWithConfig(cfg),
		logger: logger.With("backend", ProviderOllama),
	}
}

func (o *Ollama) Name() string          { return ProviderOllama }
func (o *Ollama) Host() string          { return hostOf(o.client.BaseURL()) }
func (o *Ollama) Model() string         { return o.client.Model() }
func (o *Ollama) SetModel(model string) { o.client.SetModel(model) }

// HealthCheck probes the server root.
func (o *Ollama) HealthCheck(ctx context.Context) error {
	err := o.client.CheckRunning(ctx)
	if err == nil {
		return nil
	}

	he := &HealthError{Kind: HealthUnreachable, Service: "Ollama", Host: o.Host(), Cause: err}
	var ce *ollama.ClientError
	if errors.As(err, &ce) && ce.Type == ollama.ErrTypeBadStatus {
		he.Kind = HealthBadStatus
		he.Status = ce.StatusCode
	}
	return he
}

// StreamChat opens a streaming chat request carrying the whole history.
func (o *Ollama) StreamChat(ctx context.Context, history []conversation.Message) (controller.Stream, error) {
	msgs := make([]ollama.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, ollama.Message{Role: string(m.Role), Content: m.Content})
	}

	cs, err := o.client.ChatStream(ctx, "", msgs)
	if err != nil {
		return nil, o.chatError(err)
	}
	return &ollamaStream{cs: cs, logger: o.logger}, nil
}

// ListModels returns the names of the locally installed models.
func (o *Ollama) ListModels(ctx context.Context) ([]string, error) {
	models, err := o.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Models returns the full model listing, including sizes.
func (o *Ollama) Models(ctx context.Context) ([]ollama.ModelInfo, error) {
	return o.client.ListModels(ctx)
}

// chatError keeps the client error for logs and adds the transcript text.
type chatError struct {
	notice string
	err    error
}

func (e *chatError) Error() string  { return e.err.Error() }
func (e *chatError) Unwrap() error  { return e.err }
func (e *chatError) Notice() string { return e.notice }

func (o *Ollama) chatError(err error) error {
	switch {
	case ollama.IsModelNotFound(err):
		m := o.Model()
		return &chatError{notice: fmt.Sprintf("Model %q is not installed. Run: ollama pull %s", m, m), err: err}
	case ollama.IsTimeout(err):
		return &chatError{notice: "Ollama did not answer in time.", err: err}
	case ollama.IsNotRunning(err):
		return &chatError{notice: fmt.Sprintf("Lost connection to Ollama at %s.", o.Host()), err: err}
	}
	return err
}

// ollamaStream yields the content of each NDJSON chunk.
type ollamaStream struct {
	cs     *ollama.ChatStream
	logger *slog.Logger
}

func (s *ollamaStream) Next() (string, error) {
	chunk, err := s.cs.Next()
	if err != nil {
		return "", err
	}
	return chunk.Content, nil
}

func (s *ollamaStream) Close() error {
	if final, ok := s.cs.Final(); ok {
		s.logger.Debug("stream finished",
			"model", final.Model,
			"chunks", s.cs.TokenCount(),
			"skipped", s.cs.Skipped(),
			"ttft", s.cs.TTFT(),
			"tokens_per_sec", final.TokensPerSecond(),
		)
	} else {
		s.logger.Debug("stream closed early",
			"chunks", s.cs.TokenCount(),
			"chars", len(s.cs.Accumulated()),
		)
	}
	return s.cs.Close()
}
