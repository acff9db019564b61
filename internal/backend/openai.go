// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/jeranaias/rigrun-chat/internal/controller"
	"github.com/jeranaias/rigrun-chat/internal/conversation"
)

const (
	// DefaultOpenAIURL is LM Studio's default server address.
	DefaultOpenAIURL = "http://127.0.0.1:1234/v1"
	// DefaultOpenAIModel is sent when no model is configured; most local
	// servers ignore it and use whatever model is loaded.
	DefaultOpenAIModel = "local-model"
)

// =============================================================================
// OPENAI-COMPATIBLE BACKEND
// =============================================================================

// OpenAI talks to an OpenAI-compatible /chat/completions endpoint.
type OpenAI struct {
	client  openai.Client
	baseURL string
	logger  *slog.Logger

	mu    sync.RWMutex
	model string
}

// NewOpenAI creates an OpenAI-compatible backend.
func NewOpenAI(s Settings) *OpenAI {
	baseURL := strings.TrimRight(s.URL, "/")
	if baseURL == "" {
		baseURL = DefaultOpenAIURL
	}
	model := s.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	opts := []option.RequestOption{
		option.WithBaseURL(baseURL + "/"),
		// Retries would hide an unreachable server behind backoff delays.
		option.WithMaxRetries(0),
	}
	if s.APIKey != "" {
		opts = append(opts, option.WithAPIKey(s.APIKey))
	}
	if s.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(s.HTTPClient))
	}
	if s.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(s.RequestTimeout))
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAI{
		client:  openai.NewClient(opts...),
		baseURL: baseURL,
		logger:  logger.With("backend", ProviderOpenAI),
		model:   model,
	}
}

func (o *OpenAI) Name() string { return ProviderOpenAI }
func (o *OpenAI) Host() string { return hostOf(o.baseURL) }

func (o *OpenAI) Model() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.model
}

func (o *OpenAI) SetModel(model string) {
	if model == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.model = model
}

// HealthCheck lists models; any HTTP answer other than success counts as a
// server that is up but not serving.
func (o *OpenAI) HealthCheck(ctx context.Context) error {
	_, err := o.client.Models.List(ctx)
	if err == nil {
		return nil
	}

	he := &HealthError{Kind: HealthUnreachable, Service: "the model server", Host: o.Host(), Cause: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		he.Kind = HealthBadStatus
		he.Status = apiErr.StatusCode
	}
	return he
}

// StreamChat starts a streamed chat completion over the whole history.
func (o *OpenAI) StreamChat(ctx context.Context, history []conversation.Message) (controller.Stream, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case conversation.RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Content))
		case conversation.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		}
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.Model()),
		Messages: msgs,
	})
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, err
	}
	return &openAIStream{stream: stream}, nil
}

// ListModels returns the model IDs the server reports.
func (o *OpenAI) ListModels(ctx context.Context) ([]string, error) {
	page, err := o.client.Models.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// openAIStream yields the delta content of each SSE chunk.
type openAIStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *openAIStream) Next() (string, error) {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
	if err := s.stream.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}
