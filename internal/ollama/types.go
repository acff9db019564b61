// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"strconv"
	"time"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message represents a chat message in the conversation.
type Message struct {
	Role    string `json:"role"`    // "user", "assistant", "system"
	Content string `json:"content"` // The message content
}

// ChatRequest is the request body for /api/chat endpoint.
type ChatRequest struct {
	Model     string    `json:"model"`                // Model name (e.g., "llama3")
	Messages  []Message `json:"messages"`             // Conversation history
	Stream    bool      `json:"stream"`               // Enable streaming
	KeepAlive string    `json:"keep_alive,omitempty"` // How long the model stays loaded
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ModelInfo contains information about a locally available model.
type ModelInfo struct {
	Name       string       `json:"name"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// FormatSize returns the model size in human units.
func (m ModelInfo) FormatSize() string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case m.Size >= gb:
		return strconv.FormatFloat(float64(m.Size)/gb, 'f', 1, 64) + " GB"
	case m.Size >= mb:
		return strconv.FormatFloat(float64(m.Size)/mb, 'f', 1, 64) + " MB"
	case m.Size >= kb:
		return strconv.FormatFloat(float64(m.Size)/kb, 'f', 1, 64) + " KB"
	default:
		return strconv.FormatInt(m.Size, 10) + " B"
	}
}

// ModelDetails contains detailed information about a model.
type ModelDetails struct {
	Format            string `json:"format"`
	Family            string `json:"family"`
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
}

// ListModelsResponse is the response from /api/tags endpoint.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// OllamaError is the error body Ollama returns on failed requests.
type OllamaError struct {
	Error string `json:"error"`
}

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk is one decoded line of a streamed /api/chat response.
type StreamChunk struct {
	Content    string
	Done       bool
	DoneReason string
	Model      string

	// Populated on the final chunk only.
	PromptTokens     int
	CompletionTokens int
	TotalDuration    time.Duration
	EvalDuration     time.Duration
}

// TokensPerSecond returns the generation rate reported on the final chunk.
func (c StreamChunk) TokensPerSecond() float64 {
	if c.EvalDuration <= 0 {
		return 0
	}
	return float64(c.CompletionTokens) / c.EvalDuration.Seconds()
}
