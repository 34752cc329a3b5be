// Copyright (C) 2025 Worklog Labs (dev@worklog.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides the upstream completion client used by the journal
// service. The only production backend is an OpenAI-compatible
// chat-completions API; everything above this package talks to the
// LLMClient interface so tests can substitute mocks.
package llm

import "context"

// Role constants for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat conversation sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams tunes a single completion call. Nil pointers mean
// "use the backend default".
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamEventType discriminates events delivered to a StreamCallback.
type StreamEventType int

const (
	// StreamEventToken carries one incremental content fragment.
	StreamEventToken StreamEventType = iota
	// StreamEventError carries a terminal upstream error message.
	StreamEventError
)

// StreamEvent is a single event emitted during streaming generation.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   string
}

// StreamCallback receives stream events in arrival order. Returning a
// non-nil error aborts the stream; the error is propagated out of
// ChatStream unchanged so callers can classify it.
type StreamCallback func(event StreamEvent) error

// LLMClient defines the standard interface for any completion backend.
type LLMClient interface {
	// Generate runs a single non-streaming completion for the prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// ChatStream streams a completion for the message list, invoking
	// callback once per token. Honors ctx cancellation between chunks.
	ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error
}
