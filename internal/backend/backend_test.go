// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/controller"
	"github.com/jeranaias/rigrun-chat/internal/conversation"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/transcript"
)

var history = []conversation.Message{
	conversation.UserMessage("hi"),
	conversation.AssistantMessage("hello"),
	conversation.UserMessage("how are you"),
}

func drain(t *testing.T, s controller.Stream) string {
	t.Helper()
	var sb strings.Builder
	for {
		chunk, err := s.Next()
		if errors.Is(err, io.EOF) {
			return sb.String()
		}
		require.NoError(t, err)
		sb.WriteString(chunk)
	}
}

// =============================================================================
// NEW
// =============================================================================

func TestNew_SelectsProvider(t *testing.T) {
	tests := []struct {
		provider string
		want     string
		wantErr  bool
	}{
		{"", ProviderOllama, false},
		{"ollama", ProviderOllama, false},
		{" OpenAI ", ProviderOpenAI, false},
		{"bedrock", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			b, err := New(Settings{Provider: tt.provider})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownProvider)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Name())
		})
	}
}

func TestHealthError_Notice(t *testing.T) {
	unreachable := &HealthError{Kind: HealthUnreachable, Service: "Ollama", Host: "127.0.0.1:11434", Cause: errors.New("refused")}
	assert.Equal(t, "Failed to connect to 127.0.0.1:11434\nIs Ollama running?", unreachable.Notice())
	assert.Contains(t, unreachable.Error(), "refused")

	bad := &HealthError{Kind: HealthBadStatus, Service: "the model server", Status: 503}
	assert.Equal(t, "The model server is not running.", bad.Notice())
	assert.Contains(t, bad.Error(), "503")
}

// =============================================================================
// OLLAMA
// =============================================================================

func TestOllama_HealthCheck(t *testing.T) {
	t.Run("running", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "Ollama is running")
		}))
		defer srv.Close()

		b := NewOllama(Settings{URL: srv.URL})
		assert.NoError(t, b.HealthCheck(context.Background()))
	})

	t.Run("bad status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		err := NewOllama(Settings{URL: srv.URL}).HealthCheck(context.Background())
		var he *HealthError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, HealthBadStatus, he.Kind)
		assert.Equal(t, http.StatusServiceUnavailable, he.Status)
		assert.Equal(t, "Ollama is not running.", he.Notice())
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		b := NewOllama(Settings{URL: url})
		err := b.HealthCheck(context.Background())
		var he *HealthError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, HealthUnreachable, he.Kind)
		assert.Equal(t, "Failed to connect to "+b.Host()+"\nIs Ollama running?", he.Notice())
	})
}

func TestOllama_StreamChat(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Stream   bool   `json:"stream"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprintln(w, `{"model":"mistral","message":{"role":"assistant","content":"I'm "},"done":false}`)
		fmt.Fprintln(w, `{"model":"mistral","message":{"role":"assistant","content":"fine"},"done":false}`)
		fmt.Fprintln(w, `{"model":"mistral","message":{"role":"assistant","content":""},"done":true,"eval_count":2,"eval_duration":1000000}`)
	}))
	defer srv.Close()

	b := NewOllama(Settings{URL: srv.URL, Model: "mistral"})
	s, err := b.StreamChat(context.Background(), history)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "I'm fine", drain(t, s))
	assert.Equal(t, "mistral", got.Model)
	assert.True(t, got.Stream)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	assert.Equal(t, "how are you", got.Messages[2].Content)
}

func TestOllama_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"llama3:latest","size":4700000000},{"name":"mistral:7b","size":4100000000}]}`)
	}))
	defer srv.Close()

	names, err := NewOllama(Settings{URL: srv.URL}).ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3:latest", "mistral:7b"}, names)
}

func TestOllama_SetModel(t *testing.T) {
	b := NewOllama(Settings{})
	assert.Equal(t, "llama3", b.Model())
	b.SetModel("phi3")
	assert.Equal(t, "phi3", b.Model())
	b.SetModel("")
	assert.Equal(t, "phi3", b.Model())
}

// =============================================================================
// OPENAI-COMPATIBLE
// =============================================================================

func newOpenAIServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[{"id":"qwen2.5-7b","object":"model","created":0,"owned_by":"local"}]}`)
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			payload, _ := json.Marshal(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion.chunk",
				"created": 0,
				"model":   "qwen2.5-7b",
				"choices": []map[string]any{{
					"index":         0,
					"delta":         map[string]string{"content": c},
					"finish_reason": nil,
				}},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	return httptest.NewServer(mux)
}

func TestOpenAI_HealthAndModels(t *testing.T) {
	srv := newOpenAIServer(t, nil)
	defer srv.Close()

	b := NewOpenAI(Settings{URL: srv.URL + "/v1"})
	require.NoError(t, b.HealthCheck(context.Background()))

	ids, err := b.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"qwen2.5-7b"}, ids)
}

func TestOpenAI_HealthCheckBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"message":"loading"}}`)
	}))
	defer srv.Close()

	err := NewOpenAI(Settings{URL: srv.URL}).HealthCheck(context.Background())
	var he *HealthError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, HealthBadStatus, he.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, he.Status)
}

func TestOpenAI_StreamChat(t *testing.T) {
	srv := newOpenAIServer(t, []string{"Hel", "lo", "!"})
	defer srv.Close()

	b := NewOpenAI(Settings{URL: srv.URL + "/v1", Model: "qwen2.5-7b"})
	s, err := b.StreamChat(context.Background(), history)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "Hello!", drain(t, s))
}

// =============================================================================
// END TO END
// =============================================================================

func TestOllama_DrivesController(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			fmt.Fprint(w, "Ollama is running")
			return
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"4"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()

	buf := transcript.NewBuffer()
	c := controller.New(NewOllama(Settings{URL: srv.URL}), controller.ApplyTo(buf), controller.Options{HealthTimeout: time.Second})
	defer c.Close()

	require.True(t, c.Submit("2+2?"))
	c.Wait()

	assert.Equal(t, "USER:\n2+2?\n\nLLM:\n4\n\n", buf.String())
	reply, ok := c.LastReply()
	assert.True(t, ok)
	assert.Equal(t, "4", reply)
}

func TestOllama_CutOffReplyIsInterrupted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			fmt.Fprint(w, "Ollama is running")
			return
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hel"},"done":false}`)
		fmt.Fprint(w, `{"message":{"role":"assis`)
	}))
	defer srv.Close()

	buf := transcript.NewBuffer()
	var outcome controller.Outcome
	obs := controller.Chain(controller.ApplyTo(buf), func(ev controller.Event) {
		if tf, ok := ev.(controller.TurnFinished); ok {
			outcome = tf.Outcome
		}
	})
	c := controller.New(NewOllama(Settings{URL: srv.URL}), obs, controller.Options{HealthTimeout: time.Second})
	defer c.Close()

	require.True(t, c.Submit("hi"))
	c.Wait()

	assert.Equal(t, controller.OutcomeInterrupted, outcome)
	hist := c.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "Hel", hist[1].Content)
	assert.True(t, hist[1].Interrupted)
	assert.Contains(t, buf.String(), "LLM:\nHel\n\nSYSTEM:\n")
}

func TestOllama_MissingModelNotice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			fmt.Fprint(w, "Ollama is running")
			return
		}
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model 'nope' not found, try pulling it first"}`)
	}))
	defer srv.Close()

	buf := transcript.NewBuffer()
	c := controller.New(NewOllama(Settings{URL: srv.URL, Model: "nope"}), controller.ApplyTo(buf), controller.Options{HealthTimeout: time.Second})
	defer c.Close()

	require.True(t, c.Submit("hi"))
	c.Wait()

	assert.Contains(t, buf.String(), "SYSTEM:\nResponse interrupted: Model \"nope\" is not installed. Run: ollama pull nope\n\n")
	hist := c.History()
	require.Len(t, hist, 2)
	assert.True(t, hist[1].Interrupted)
}

func TestOllama_StreamOpenErrorsKeepCause(t *testing.T) {
	o := NewOllama(Settings{Model: "m"})

	err := o.chatError(ollama.ErrTimeout)
	assert.ErrorIs(t, err, ollama.ErrTimeout)
	var n controller.Noticer
	require.ErrorAs(t, err, &n)
	assert.Equal(t, "Ollama did not answer in time.", n.Notice())

	err = o.chatError(&ollama.ClientError{Type: ollama.ErrTypeNotRunning, Message: "Ollama is not running"})
	require.ErrorAs(t, err, &n)
	assert.Contains(t, n.Notice(), "Lost connection to Ollama")

	plain := errors.New("boom")
	assert.Same(t, plain, o.chatError(plain))
}

func TestOllama_UnreachableWritesNotice(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	b := NewOllama(Settings{URL: url})
	buf := transcript.NewBuffer()
	c := controller.New(b, controller.ApplyTo(buf), controller.Options{HealthTimeout: time.Second})
	defer c.Close()

	require.True(t, c.Submit("hi"))
	c.Wait()

	assert.Empty(t, c.History())
	assert.Equal(t, "USER:\nhi\n\nSYSTEM:\nFailed to connect to "+b.Host()+"\nIs Ollama running?\n\n", buf.String())
}
