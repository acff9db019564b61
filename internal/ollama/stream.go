// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// maxLineSize bounds a single NDJSON line.
const maxLineSize = 1 << 20

// =============================================================================
// CHAT STREAM
// =============================================================================

// ChatStream reads a streamed /api/chat response one NDJSON line at a time.
// It is single-pass and not safe for concurrent use.
type ChatStream struct {
	body   io.ReadCloser
	reader *bufio.Reader

	// PERFORMANCE: strings.Builder avoids quadratic allocations
	accumulator strings.Builder
	tokenCount  int
	skipped     int
	model       string
	startTime   time.Time
	firstToken  time.Time
	final       *StreamChunk
	err         error
}

// NewChatStream wraps a response body.
func NewChatStream(body io.ReadCloser) *ChatStream {
	return &ChatStream{
		body:      body,
		reader:    bufio.NewReaderSize(body, 32*1024),
		startTime: time.Now(),
	}
}

// Next returns the next chunk. It returns io.EOF after the final chunk.
// A body that ends before the server sent done:true, or ends inside a JSON
// line, is a stream error. Any error is sticky.
func (s *ChatStream) Next() (StreamChunk, error) {
	for {
		if s.err != nil {
			return StreamChunk{}, s.err
		}
		if s.final != nil {
			s.err = io.EOF
			return StreamChunk{}, io.EOF
		}

		line, err := s.readLine()
		atEOF := errors.Is(err, io.EOF)
		if len(line) > 0 {
			if atEOF && !gjson.ValidBytes(line) {
				s.err = &ClientError{Type: ErrTypeStream, Message: "stream ended mid-line"}
				return StreamChunk{}, s.err
			}
			chunk, ok, perr := s.parseLine(line)
			if perr != nil {
				s.err = perr
				return StreamChunk{}, perr
			}
			if ok {
				if err != nil && !atEOF {
					s.err = streamError(err)
				}
				return chunk, nil
			}
		}

		if err != nil {
			switch {
			case !atEOF:
				s.err = streamError(err)
			case s.final == nil:
				s.err = &ClientError{Type: ErrTypeStream, Message: "stream ended before done"}
			default:
				s.err = io.EOF
			}
			return StreamChunk{}, s.err
		}
	}
}

// readLine reads one line without its trailing newline.
func (s *ChatStream) readLine() ([]byte, error) {
	var buf []byte
	for {
		part, isPrefix, err := s.reader.ReadLine()
		buf = append(buf, part...)
		if len(buf) > maxLineSize {
			return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "stream line too long"}
		}
		if err != nil || !isPrefix {
			return bytes.TrimSpace(buf), err
		}
	}
}

// parseLine decodes one NDJSON object. ok is false for lines that carry
// nothing to deliver (malformed or empty non-final lines).
func (s *ChatStream) parseLine(line []byte) (StreamChunk, bool, error) {
	if !gjson.ValidBytes(line) {
		s.skipped++
		return StreamChunk{}, false, nil
	}

	res := gjson.ParseBytes(line)
	if msg := res.Get("error"); msg.Exists() {
		return StreamChunk{}, false, &ClientError{Type: ErrTypeStream, Message: msg.String()}
	}

	if m := res.Get("model").String(); m != "" {
		s.model = m
	}

	chunk := StreamChunk{
		Content: res.Get("message.content").String(),
		Done:    res.Get("done").Bool(),
		Model:   s.model,
	}

	if chunk.Content != "" {
		if s.tokenCount == 0 {
			s.firstToken = time.Now()
		}
		s.accumulator.WriteString(chunk.Content)
		s.tokenCount++
	}

	if chunk.Done {
		chunk.DoneReason = res.Get("done_reason").String()
		chunk.PromptTokens = int(res.Get("prompt_eval_count").Int())
		chunk.CompletionTokens = int(res.Get("eval_count").Int())
		chunk.TotalDuration = time.Duration(res.Get("total_duration").Int())
		chunk.EvalDuration = time.Duration(res.Get("eval_duration").Int())
		final := chunk
		s.final = &final
		return chunk, true, nil
	}

	return chunk, chunk.Content != "", nil
}

// Close releases the underlying connection.
func (s *ChatStream) Close() error {
	return s.body.Close()
}

// Accumulated returns all content received so far.
func (s *ChatStream) Accumulated() string {
	return s.accumulator.String()
}

// TokenCount returns the number of content chunks received.
func (s *ChatStream) TokenCount() int {
	return s.tokenCount
}

// Skipped returns how many malformed lines were ignored.
func (s *ChatStream) Skipped() int {
	return s.skipped
}

// Final returns the terminating chunk once the server has sent it.
func (s *ChatStream) Final() (StreamChunk, bool) {
	if s.final == nil {
		return StreamChunk{}, false
	}
	return *s.final, true
}

// TTFT returns the time to first token, or 0 before any token arrived.
func (s *ChatStream) TTFT() time.Duration {
	if s.firstToken.IsZero() {
		return 0
	}
	return s.firstToken.Sub(s.startTime)
}

func streamError(err error) error {
	var ce *ClientError
	if errors.As(err, &ce) {
		return err
	}
	return &ClientError{Type: ErrTypeStream, Message: "stream interrupted", Cause: err}
}
