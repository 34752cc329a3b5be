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

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/worklog-ai/worklog/services/journal/conversation"
	"github.com/worklog-ai/worklog/services/journal/datatypes"
	"github.com/worklog-ai/worklog/services/journal/middleware"
	"github.com/worklog-ai/worklog/services/journal/observability"
	"github.com/worklog-ai/worklog/services/journal/store"
	"github.com/worklog-ai/worklog/services/llm"
)

// ReportStore is the slice of the repository the report handler needs.
type ReportStore interface {
	ListEntriesBetween(ctx context.Context, userID, start, end string) ([]datatypes.Entry, error)
	CreateReport(ctx context.Context, r *datatypes.Report) error
}

// ReportHandler streams AI-written period reports.
//
// # Description
//
// Structurally the same NDJSON pipeline as chat streaming, minus the
// registry: reports are not stoppable mid-flight, so there is no
// registration and no cancelled=true ending except client disconnect.
// The finished report is persisted before the done event.
type ReportHandler struct {
	llmClient llm.LLMClient
	repo      ReportStore

	// newAccumulator is NewTokenAccumulator in production; tests swap it
	// to exercise the setup-failure path.
	newAccumulator func() (TokenAccumulator, error)
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(llmClient llm.LLMClient, repo ReportStore) *ReportHandler {
	if llmClient == nil {
		panic("NewReportHandler: llmClient must not be nil")
	}
	if repo == nil {
		panic("NewReportHandler: repo must not be nil")
	}
	return &ReportHandler{llmClient: llmClient, repo: repo, newAccumulator: NewTokenAccumulator}
}

// HandleGenerate processes POST /v1/reports/generate.
//
// # Outputs
//
// NDJSON stream of delta lines followed by one done line. HTTP status
// before streaming starts:
//   - 401 Unauthorized: no session
//   - 400 Bad Request: malformed body, validation failure, or inverted
//     period
//   - 500 Internal Server Error: entry load or stream setup failure
func (h *ReportHandler) HandleGenerate(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointReportStream

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

	// Step 2: Parse and validate.
	var req datatypes.ReportRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}
	if req.PeriodStart > req.PeriodEnd {
		c.JSON(http.StatusBadRequest, gin.H{"error": "periodStart must not be after periodEnd"})
		return
	}

	// Step 3: Load the period's entries.
	entries, err := h.repo.ListEntriesBetween(c.Request.Context(), session.UserID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		slog.Error("entry load for report failed", "error", err, "userId", session.UserID)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	style := req.Style
	if style == "" {
		style = "summary"
	}
	prompt := conversation.ReportPrompt(entries, req.PeriodStart, req.PeriodEnd, style)

	// Step 4: Prepare the stream. Headers only go out once setup has
	// succeeded, so a failure here is still a plain JSON 500.
	writer, err := NewNDJSONWriter(c.Writer)
	if err != nil {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	accumulator, accErr := h.newAccumulator()
	if accErr != nil {
		slog.Error("token accumulator creation failed", "error", accErr)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	defer accumulator.Destroy()

	SetNDJSONHeaders(c.Writer)

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "You write clear, factual work reports."},
		{Role: llm.RoleUser, Content: prompt},
	}
	callback := func(event llm.StreamEvent) error {
		switch event.Type {
		case llm.StreamEventToken:
			if m := observability.DefaultMetrics; m != nil {
				m.RecordDelta(endpoint)
			}
			if err := accumulator.Write(event.Content); err != nil {
				slog.Warn("failed to accumulate report token", "error", err)
			}
			return writer.WriteDelta(event.Content)
		case llm.StreamEventError:
			return writer.WriteError(sanitizeErrorForClient(event.Error))
		}
		return nil
	}

	streamErr := h.llmClient.ChatStream(c.Request.Context(), messages, llm.GenerationParams{}, callback)
	cancelled := errors.Is(streamErr, context.Canceled)
	if streamErr != nil && !cancelled {
		slog.Error("report streaming failed", "error", streamErr, "userId", session.UserID)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeLLMError)
		}
		_ = writer.WriteError(sanitizeErrorForClient(streamErr.Error()))
	}
	if cancelled {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordClientDisconnect(endpoint)
		}
	}

	// Step 5: Persist the finished report. Partial reports from a failed
	// or abandoned stream are not saved.
	content, _, finErr := accumulator.Finalize()
	content = strings.TrimSpace(content)
	if streamErr == nil && finErr == nil && content != "" {
		report := &datatypes.Report{
			ID:          uuid.New().String(),
			UserID:      session.UserID,
			PeriodStart: req.PeriodStart,
			PeriodEnd:   req.PeriodEnd,
			Style:       style,
			Content:     content,
			CreatedAt:   nowUTC(),
		}
		persistCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := h.repo.CreateReport(persistCtx, report); err != nil {
			slog.Error("report persistence failed", "error", err, "userId", session.UserID)
		}
	}

	// Step 6: Terminal done event.
	if err := writer.WriteDone(cancelled); err != nil {
		slog.Debug("failed to write report done event", "error", err)
	}
	if streamErr == nil {
		success = true
	}
}

var _ ReportStore = (*store.Store)(nil)
