// Copyright (C) 2025 Worklog Labs (dev@worklog.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides request, response, and entity types for the
// journal service.
//
// This file contains the chat streaming request types and the NDJSON
// stream event vocabulary. Persisted entities live in journal.go.
package datatypes

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a user message.
	// Byte length, not rune count, to bound memory for large payloads.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxRequestIDLength bounds the client-supplied request identifier.
	MaxRequestIDLength = 128
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = chatValidate.RegisterValidation("notblank", validateNotBlank)
}

// validateMaxBytes enforces the message size cap on string fields.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// validateNotBlank rejects strings that are empty after trimming.
func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// =============================================================================
// Chat Stream Request Types
// =============================================================================

// ChatStreamRequest is the body of POST /v1/chat/stream.
//
// # Description
//
// All three fields are required and must be non-empty after trimming.
// RequestID is supplied by the client so that a follow-up stop call can
// name the stream it wants cancelled; it is the key for the in-memory
// stream registry.
//
// # Fields
//
//   - ConversationID: Required. Conversation receiving this turn. Must
//     resolve to a conversation owned by the caller (404 otherwise).
//   - UserMessage: Required. The user's message, at most 32KB.
//   - RequestID: Required. Opaque identifier, unique per in-flight stream.
//
// # Validation
//
// Uses go-playground/validator:
//   - ConversationID: required, non-blank
//   - UserMessage: required, non-blank, max 32768 bytes
//   - RequestID: required, non-blank, max 128 chars
type ChatStreamRequest struct {
	ConversationID string `json:"conversationId" validate:"required,notblank"`
	UserMessage    string `json:"userMessage" validate:"required,notblank,maxbytes"`
	RequestID      string `json:"requestId" validate:"required,notblank,max=128"`
}

// Validate checks the request against the field rules above.
func (r *ChatStreamRequest) Validate() error {
	return chatValidate.Struct(r)
}

// StopStreamRequest is the body of POST /v1/chat/stream/stop.
type StopStreamRequest struct {
	RequestID string `json:"requestId" validate:"required,notblank,max=128"`
}

// Validate checks the request against the field rules above.
func (r *StopStreamRequest) Validate() error {
	return chatValidate.Struct(r)
}

// =============================================================================
// Report Request Types
// =============================================================================

// ReportRequest is the body of POST /v1/reports/generate.
//
// # Fields
//
//   - PeriodStart, PeriodEnd: Required. Inclusive date range, YYYY-MM-DD.
//   - Style: Optional. "summary" (default), "review", or "brag".
type ReportRequest struct {
	PeriodStart string `json:"periodStart" validate:"required,datetime=2006-01-02"`
	PeriodEnd   string `json:"periodEnd" validate:"required,datetime=2006-01-02"`
	Style       string `json:"style" validate:"omitempty,oneof=summary review brag"`
}

// Validate checks the request against the field rules above.
func (r *ReportRequest) Validate() error {
	return chatValidate.Struct(r)
}

// =============================================================================
// NDJSON Stream Events
// =============================================================================

// Event types for the NDJSON wire protocol. Every stream is a sequence of
// zero or more delta events, at most one error event, and exactly one
// terminal done event.
const (
	EventDelta = "delta"
	EventError = "error"
	EventDone  = "done"
)

// StreamEvent is one line of the NDJSON response body.
//
// # Description
//
// Exactly one of the optional fields is populated per event:
//
//	{"type":"delta","content":"<token text>"}
//	{"type":"error","message":"<user-facing message>"}
//	{"type":"done","cancelled":<bool>}
//
// Cancelled is a pointer so that it serializes on every done event,
// including cancelled=false, while staying absent from delta and error
// lines.
type StreamEvent struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	Message   string `json:"message,omitempty"`
	Cancelled *bool  `json:"cancelled,omitempty"`
}

// DeltaEvent builds a delta event for one token fragment.
func DeltaEvent(content string) StreamEvent {
	return StreamEvent{Type: EventDelta, Content: content}
}

// ErrorEvent builds an error event with a user-facing message.
func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Message: message}
}

// DoneEvent builds the terminal event, recording how the stream ended.
func DoneEvent(cancelled bool) StreamEvent {
	return StreamEvent{Type: EventDone, Cancelled: &cancelled}
}
