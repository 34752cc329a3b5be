// Copyright (C) 2025 Worklog Labs (dev@worklog.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/worklog-ai/worklog/services/journal/conversation"
	"github.com/worklog-ai/worklog/services/journal/datatypes"
	"github.com/worklog-ai/worklog/services/journal/middleware"
	"github.com/worklog-ai/worklog/services/journal/observability"
	"github.com/worklog-ai/worklog/services/journal/store"
	"github.com/worklog-ai/worklog/services/journal/streams"
	"github.com/worklog-ai/worklog/services/llm"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// titleGenTimeout bounds the best-effort title generation call. The
	// stream has already delivered its content by then; a slow model must
	// not hold the done event hostage.
	titleGenTimeout = 10 * time.Second

	// maxTitleLength caps AI-generated conversation titles.
	maxTitleLength = 80
)

// userFacingLLMError is the sanitized message sent on upstream failures.
// Internal detail stays in the logs.
const userFacingLLMError = "The model service is unavailable right now. Please try again."

// =============================================================================
// Dependency Interfaces
// =============================================================================

// ChatRepository is the slice of the store the streaming handler needs.
// Narrow on purpose: tests inject an in-memory fake.
type ChatRepository interface {
	FindConversationByIDForUser(ctx context.Context, id, userID string) (*datatypes.Conversation, error)
	CreateMessage(ctx context.Context, m *datatypes.Message) error
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]datatypes.Message, error)
	UpdateConversation(ctx context.Context, id string, title *string, updatedAt time.Time) error
}

// PromptBuilder assembles the system prompt for a chat turn.
type PromptBuilder interface {
	BuildSystemPrompt(ctx context.Context, userID, mode string) string
}

// =============================================================================
// Interface Definition
// =============================================================================

// StreamingChatHandler serves the chat streaming endpoints.
//
// # Description
//
// HandleChatStream runs one full turn: validate, register for
// cancellation, persist the user message, replay bounded history to the
// model, stream deltas as NDJSON, then finalize (persist the assistant
// message, touch the conversation, maybe generate a title) and emit the
// terminal done event. HandleStopStream cancels an in-flight turn by
// request id.
//
// # Thread Safety
//
// Safe for concurrent use; per-stream state lives on the stack and the
// registry is internally synchronized.
type StreamingChatHandler interface {
	// HandleChatStream processes POST /v1/chat/stream.
	HandleChatStream(c *gin.Context)

	// HandleStopStream processes POST /v1/chat/stream/stop.
	HandleStopStream(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

type streamingChatHandler struct {
	llmClient llm.LLMClient
	repo      ChatRepository
	prompts   PromptBuilder
	registry  *streams.Registry
	tracer    trace.Tracer
	now       func() time.Time

	// newAccumulator is NewTokenAccumulator in production; tests swap it
	// to exercise the setup-failure path.
	newAccumulator func() (TokenAccumulator, error)
}

// =============================================================================
// Constructor
// =============================================================================

// NewStreamingChatHandler creates a StreamingChatHandler.
//
// # Inputs
//
//   - llmClient: streaming model client. Must not be nil.
//   - repo: conversation repository. Must not be nil.
//   - prompts: system prompt builder. Must not be nil.
//   - registry: in-flight stream registry shared with the stop endpoint.
//     Must not be nil.
//
// Panics on nil dependencies; these are wiring errors, not runtime
// conditions.
func NewStreamingChatHandler(
	llmClient llm.LLMClient,
	repo ChatRepository,
	prompts PromptBuilder,
	registry *streams.Registry,
) StreamingChatHandler {
	if llmClient == nil {
		panic("NewStreamingChatHandler: llmClient must not be nil")
	}
	if repo == nil {
		panic("NewStreamingChatHandler: repo must not be nil")
	}
	if prompts == nil {
		panic("NewStreamingChatHandler: prompts must not be nil")
	}
	if registry == nil {
		panic("NewStreamingChatHandler: registry must not be nil")
	}

	return &streamingChatHandler{
		llmClient:      llmClient,
		repo:           repo,
		prompts:        prompts,
		registry:       registry,
		tracer:         otel.Tracer("worklog.journal.handlers.chat_streaming"),
		now:            time.Now,
		newAccumulator: NewTokenAccumulator,
	}
}

// =============================================================================
// Handler Methods
// =============================================================================

// HandleChatStream processes one streaming chat turn.
//
// # Description
//
// The flow is:
//  1. Resolve the authenticated user (401 without a session)
//  2. Parse and validate the request body (400)
//  3. Load the conversation, owner-scoped (404)
//  4. Sweep stale registry entries, then register this stream
//  5. Load bounded history, persist the user message
//  6. Switch to NDJSON and stream deltas from the model
//  7. Classify the outcome (cancelled vs upstream failure)
//  8. Finalize: persist non-empty assistant content, touch the
//     conversation, generate a title on the first exchange
//  9. Emit the terminal done event with the cancelled flag
//
// # Outputs
//
// NDJSON lines after step 6:
//
//	{"type":"delta","content":"Hel"}
//	{"type":"error","message":"..."}        (at most once)
//	{"type":"done","cancelled":false}       (always last)
//
// HTTP status before streaming starts:
//   - 401 Unauthorized: no session
//   - 400 Bad Request: malformed body or validation failure
//   - 404 Not Found: conversation missing or owned by another user
//   - 500 Internal Server Error: persistence or stream setup failure
//
// # Limitations
//
//   - Errors after the first delta are stream events, not HTTP errors.
//   - Cancellation is cooperative: in-flight deltas may still arrive
//     after a stop call before the stream winds down.
func (h *streamingChatHandler) HandleChatStream(c *gin.Context) {
	startTime := h.now()
	endpoint := observability.EndpointChatStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
		}
	}()

	// Step 1: Resolve the authenticated user.
	session := middleware.GetSession(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID := session.UserID
	span.SetAttributes(attribute.String("user.id", userID))

	// Step 2: Parse and validate the request body.
	var req datatypes.ChatStreamRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Warn("chat stream request validation failed",
			"error", err,
			"requestId", req.RequestID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}
	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.String("conversation.id", req.ConversationID),
	)

	// Step 3: Load the conversation, scoped to the owner. A foreign
	// conversation id reads as not-found so ids cannot be probed.
	conv, err := h.repo.FindConversationByIDForUser(ctx, req.ConversationID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeNotFound)
			}
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		span.RecordError(err)
		slog.Error("conversation lookup failed",
			"error", err,
			"requestId", req.RequestID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	// Step 4: Lazy registry GC, then register this stream. The bridge
	// context deliberately does not descend from the request context, so
	// finalization survives a client disconnect; the watcher inside the
	// bridge still propagates the disconnect as a cancellation.
	evicted := h.registry.CleanupStale(h.now(), streams.DefaultTTL)
	if m := observability.DefaultMetrics; m != nil && evicted > 0 {
		m.RecordRegistryEvictions(evicted)
	}

	bridge := streams.NewBridge(c.Request.Context())
	defer bridge.Cancel()

	registration := &streams.Registration{
		RequestID:      req.RequestID,
		UserID:         userID,
		ConversationID: conv.ID,
		Cancel:         bridge.Cancel,
		StartedAt:      h.now(),
	}
	h.registry.Register(registration)
	defer h.registry.Unregister(req.RequestID, registration)

	// Step 5: Load history before persisting the new user message, so the
	// window replayed upstream does not contain the message twice.
	history, err := h.repo.ListRecentMessages(ctx, conv.ID, conversation.MaxHistoryTurns)
	if err != nil {
		span.RecordError(err)
		slog.Error("history load failed", "error", err, "requestId", req.RequestID)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	userMsg := &datatypes.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Role:           datatypes.RoleUser,
		Content:        req.UserMessage,
		CreatedAt:      h.now(),
	}
	if err := h.repo.CreateMessage(ctx, userMsg); err != nil {
		span.RecordError(err)
		slog.Error("user message persistence failed", "error", err, "requestId", req.RequestID)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	systemPrompt := h.prompts.BuildSystemPrompt(ctx, userID, conv.Mode)
	messages := conversation.BuildHistoryWindow(systemPrompt, history, req.UserMessage)

	// Step 6: Prepare the stream. The NDJSON headers only go out once
	// every setup step has succeeded, so a failure here is still a plain
	// JSON 500.
	writer, err := NewNDJSONWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream setup failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	accumulator, accErr := h.newAccumulator()
	if accErr != nil {
		span.RecordError(accErr)
		slog.Error("token accumulator creation failed", "error", accErr, "requestId", req.RequestID)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	defer accumulator.Destroy()

	SetNDJSONHeaders(c.Writer)

	tokenCount := 0
	firstTokenTime := time.Time{}
	streamErr := h.streamFromLLM(bridge.Context(), req.RequestID, messages, writer, accumulator, &tokenCount, &firstTokenTime)

	if !firstTokenTime.IsZero() {
		ttft := firstTokenTime.Sub(startTime).Seconds()
		span.SetAttributes(attribute.Float64("stream.time_to_first_token_seconds", ttft))
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTimeToFirstToken(endpoint, ttft)
		}
	}
	span.SetAttributes(attribute.Int("stream.token_count", tokenCount))

	// Step 7: Classify the outcome. Cancellation (stop endpoint, client
	// disconnect, stale eviction) is a normal ending, not a failure.
	cancelled := bridge.Cancelled() || errors.Is(streamErr, context.Canceled)
	if cancelled {
		span.SetAttributes(attribute.Bool("stream.cancelled", true))
		source := observability.CancelSourceStop
		if c.Request.Context().Err() != nil {
			source = observability.CancelSourceDisconnect
			if m := observability.DefaultMetrics; m != nil {
				m.RecordClientDisconnect(endpoint)
			}
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordCancellation(source)
		}
		slog.Info("chat stream cancelled",
			"requestId", req.RequestID,
			"conversationId", conv.ID,
			"source", source,
			"tokenCount", tokenCount,
		)
	} else if streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "streaming failed")
		slog.Error("chat streaming failed",
			"error", streamErr,
			"requestId", req.RequestID,
			"tokenCount", tokenCount,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeLLMError)
		}
		// The error event was already written by streamFromLLM.
	}

	// Step 8: Finalize. Uses a fresh context: the bridge context is
	// cancelled on the stop path, and persistence must still happen.
	finalizeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	h.finalizeTurn(finalizeCtx, conv, req.UserMessage, accumulator, len(history) == 0, cancelled)

	// Step 9: Terminal done event, always last. Best effort: on the
	// disconnect path there is nobody left to read it.
	if err := writer.WriteDone(cancelled); err != nil {
		slog.Debug("failed to write done event", "error", err, "requestId", req.RequestID)
	}

	if streamErr == nil || cancelled {
		success = true
		span.SetStatus(codes.Ok, "stream completed")
	}
}

// HandleStopStream cancels an in-flight stream by request id.
//
// # Description
//
// Looks the request id up in the registry and triggers its cancellation
// handle if the entry belongs to the caller. The owning stream observes
// cancellation, finalizes with whatever content accumulated, and emits
// done with cancelled=true. Unknown ids and foreign ids both report
// stopped=false; stopping is idempotent from the client's perspective.
func (h *streamingChatHandler) HandleStopStream(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "HandleStopStream")
	defer span.End()

	session := middleware.GetSession(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req datatypes.StopStreamRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}
	span.SetAttributes(attribute.String("request.id", req.RequestID))

	stopped := h.registry.CancelOwned(req.RequestID, session.UserID)
	if stopped {
		slog.Info("stop requested for active stream",
			"requestId", req.RequestID,
			"userId", session.UserID,
		)
	}
	c.JSON(http.StatusOK, gin.H{"stopped": stopped})
}

// =============================================================================
// Streaming Internals
// =============================================================================

// streamFromLLM streams tokens from the model to the NDJSON writer.
//
// Each token is written as a delta line and accumulated for persistence.
// An upstream error event is sanitized before reaching the client; the
// full detail is logged. The context is the bridge context, so a stop
// call or client disconnect surfaces as context.Canceled.
func (h *streamingChatHandler) streamFromLLM(
	ctx context.Context,
	requestID string,
	messages []llm.Message,
	writer StreamWriter,
	accumulator TokenAccumulator,
	tokenCount *int,
	firstTokenTime *time.Time,
) error {
	callback := func(event llm.StreamEvent) error {
		switch event.Type {
		case llm.StreamEventToken:
			if firstTokenTime.IsZero() {
				*firstTokenTime = h.now()
			}
			*tokenCount++
			if m := observability.DefaultMetrics; m != nil {
				m.RecordDelta(observability.EndpointChatStream)
			}
			if err := accumulator.Write(event.Content); err != nil {
				// Keep streaming; the user still sees the response even
				// if the turn cannot be persisted afterwards.
				slog.Warn("failed to accumulate token",
					"requestId", requestID,
					"error", err,
					"accumulatorId", accumulator.ID(),
				)
			}
			return writer.WriteDelta(event.Content)

		case llm.StreamEventError:
			return writer.WriteError(sanitizeErrorForClient(event.Error))
		}
		return nil
	}

	err := h.llmClient.ChatStream(ctx, messages, llm.GenerationParams{}, callback)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("ChatStream failed",
			"requestId", requestID,
			"error", err,
			"tokenCount", *tokenCount,
		)
		_ = writer.WriteError(sanitizeErrorForClient(err.Error()))
	}
	return err
}

// finalizeTurn persists the assistant message and conversation metadata.
//
// # Description
//
// Runs on every ending (success, cancellation, upstream failure):
//   - The accumulated content, trimmed, is persisted as an assistant
//     message iff non-empty. A cancelled stream keeps its partial answer.
//   - The conversation's updated-at timestamp is touched.
//   - On the conversation's first completed exchange, a title is
//     generated best-effort; failures are logged and swallowed. A
//     cancelled turn skips title generation: the user cut the answer
//     short, so it should not name the conversation.
//
// Persistence failures here are logged, never surfaced: the content has
// already been delivered to the client.
func (h *streamingChatHandler) finalizeTurn(
	ctx context.Context,
	conv *datatypes.Conversation,
	userMessage string,
	accumulator TokenAccumulator,
	firstExchange bool,
	cancelled bool,
) {
	answer, contentHash, err := accumulator.Finalize()
	if err != nil {
		slog.Warn("accumulator finalization failed",
			"conversationId", conv.ID,
			"error", err,
		)
		answer = ""
	}

	trimmed := strings.TrimSpace(answer)
	if trimmed != "" {
		msg := &datatypes.Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			Role:           datatypes.RoleAssistant,
			Content:        trimmed,
			CreatedAt:      h.now(),
		}
		if err := h.repo.CreateMessage(ctx, msg); err != nil {
			slog.Error("assistant message persistence failed",
				"conversationId", conv.ID,
				"error", err,
			)
		} else {
			slog.Debug("assistant message persisted",
				"conversationId", conv.ID,
				"messageId", msg.ID,
				"contentHash", contentHash,
				"cancelled", cancelled,
			)
		}
	}

	var title *string
	if firstExchange && !cancelled && trimmed != "" && datatypes.IsDefaultTitle(conv.Title) {
		if generated := h.generateTitle(userMessage, trimmed); generated != "" {
			title = &generated
		}
	}

	if err := h.repo.UpdateConversation(ctx, conv.ID, title, h.now()); err != nil {
		slog.Error("conversation metadata update failed",
			"conversationId", conv.ID,
			"error", err,
		)
	}
}

// generateTitle asks the model to name the conversation after its first
// exchange. Best effort: any failure returns "" and is only logged. Uses
// an independent context so it works after the stream's own context is
// gone.
func (h *streamingChatHandler) generateTitle(userMessage, assistantMessage string) string {
	ctx, cancel := context.WithTimeout(context.Background(), titleGenTimeout)
	defer cancel()

	temp := float32(0.2)
	maxTokens := 24
	title, err := h.llmClient.Generate(ctx, conversation.TitlePrompt(userMessage, assistantMessage), llm.GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		slog.Warn("title generation failed", "error", err)
		return ""
	}

	title = strings.Trim(strings.TrimSpace(title), `"'`)
	if len(title) > maxTitleLength {
		cut := maxTitleLength
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = strings.TrimSpace(title[:cut])
	}
	return title
}

// sanitizeErrorForClient strips internal detail from upstream errors.
// Cancellation is not an error and never reaches this function.
func sanitizeErrorForClient(errMsg string) string {
	// Upstream messages can carry hostnames, API paths, or key fragments.
	_ = errMsg
	return userFacingLLMError
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var (
	_ StreamingChatHandler = (*streamingChatHandler)(nil)
	_ ChatRepository       = (*store.Store)(nil)
	_ PromptBuilder        = (*conversation.Builder)(nil)
)
