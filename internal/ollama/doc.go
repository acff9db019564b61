// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with the Ollama API.
//
// # Key Types
//
//   - Client: HTTP client for liveness probes, model listing and chat
//   - Message: Chat message with role and content
//   - ChatRequest: Request body for /api/chat
//   - ChatStream: Pull-based reader over a streamed /api/chat response
//
// # Usage
//
//	client := ollama.NewClient()
//	if err := client.CheckRunning(ctx); err != nil {
//	    return err
//	}
//	stream, err := client.ChatStream(ctx, "", []ollama.Message{{Role: "user", Content: "Hello"}})
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for {
//	    chunk, err := stream.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(chunk.Content)
//	}
package ollama
