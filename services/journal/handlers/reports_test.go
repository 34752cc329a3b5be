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
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worklog-ai/worklog/services/journal/datatypes"
	"github.com/worklog-ai/worklog/services/journal/middleware"
)

// fakeReportStore is an in-memory ReportStore.
type fakeReportStore struct {
	mu      sync.Mutex
	entries []datatypes.Entry
	reports []datatypes.Report
	listErr error
}

func (s *fakeReportStore) ListEntriesBetween(_ context.Context, userID, start, end string) ([]datatypes.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []datatypes.Entry
	for _, e := range s.entries {
		if e.UserID == userID && e.OccurredOn >= start && e.OccurredOn <= end {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeReportStore) CreateReport(_ context.Context, r *datatypes.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, *r)
	return nil
}

func doGenerateReport(t *testing.T, h *ReportHandler, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("WORKLOG_INSECURE_MEMORY", "true")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/reports/generate", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	if userID != "" {
		middleware.SetSession(c, &middleware.Session{UserID: userID})
	}
	h.HandleGenerate(c)
	return w
}

// TestHandleGenerate_Success verifies the streamed report is persisted
// with the requested period and style.
func TestHandleGenerate_Success(t *testing.T) {
	repo := &fakeReportStore{entries: []datatypes.Entry{
		{UserID: "alice", Content: "shipped the importer", OccurredOn: "2026-08-03"},
		{UserID: "alice", Content: "fixed the flaky deploy", OccurredOn: "2026-08-10"},
		{UserID: "bob", Content: "someone else's week", OccurredOn: "2026-08-10"},
	}}
	llmClient := &fakeLLM{tokens: []string{"A strong ", "month."}}
	h := NewReportHandler(llmClient, repo)

	w := doGenerateReport(t, h, "alice",
		`{"periodStart":"2026-08-01","periodEnd":"2026-08-31","style":"brag"}`)
	require.Equal(t, http.StatusOK, w.Code)

	events := decodeStream(t, w.Body)
	require.Len(t, events, 3)
	assert.Equal(t, "A strong ", events[0].Content)
	done := events[2]
	assert.Equal(t, datatypes.EventDone, done.Type)
	require.NotNil(t, done.Cancelled)
	assert.False(t, *done.Cancelled)

	require.Len(t, repo.reports, 1)
	report := repo.reports[0]
	assert.Equal(t, "alice", report.UserID)
	assert.Equal(t, "2026-08-01", report.PeriodStart)
	assert.Equal(t, "2026-08-31", report.PeriodEnd)
	assert.Equal(t, "brag", report.Style)
	assert.Equal(t, "A strong month.", report.Content)

	// Only the caller's entries feed the prompt.
	prompt := llmClient.seenMessages[len(llmClient.seenMessages)-1].Content
	assert.Contains(t, prompt, "shipped the importer")
	assert.NotContains(t, prompt, "someone else's week")
}

// TestHandleGenerate_FailedStreamNotPersisted verifies partial reports
// are discarded when the upstream fails.
func TestHandleGenerate_FailedStreamNotPersisted(t *testing.T) {
	repo := &fakeReportStore{}
	llmClient := &fakeLLM{tokens: []string{"partial"}, streamErr: errors.New("model gone")}
	h := NewReportHandler(llmClient, repo)

	w := doGenerateReport(t, h, "alice",
		`{"periodStart":"2026-08-01","periodEnd":"2026-08-31"}`)
	require.Equal(t, http.StatusOK, w.Code)

	events := decodeStream(t, w.Body)
	assert.Equal(t, datatypes.EventError, events[1].Type)
	assert.Equal(t, userFacingLLMError, events[1].Message)
	assert.Equal(t, datatypes.EventDone, events[2].Type)

	assert.Empty(t, repo.reports, "a failed stream must not persist a report")
}

// TestHandleGenerate_BadRequests covers auth and validation rejections.
func TestHandleGenerate_BadRequests(t *testing.T) {
	repo := &fakeReportStore{}
	h := NewReportHandler(&fakeLLM{}, repo)

	w := doGenerateReport(t, h, "", `{"periodStart":"2026-08-01","periodEnd":"2026-08-31"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doGenerateReport(t, h, "alice", `{"periodStart":"not-a-date","periodEnd":"2026-08-31"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doGenerateReport(t, h, "alice", `{"periodStart":"2026-08-01","periodEnd":"2026-08-31","style":"sonnet"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Inverted period.
	w = doGenerateReport(t, h, "alice", `{"periodStart":"2026-08-31","periodEnd":"2026-08-01"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, repo.reports)
}

// TestHandleGenerate_AccumulatorSetupFailure verifies a setup failure
// surfaces as a plain JSON 500 with no streaming headers.
func TestHandleGenerate_AccumulatorSetupFailure(t *testing.T) {
	repo := &fakeReportStore{}
	h := NewReportHandler(&fakeLLM{tokens: []string{"never"}}, repo)
	h.newAccumulator = func() (TokenAccumulator, error) {
		return nil, errors.New("mlock limit insufficient")
	}

	w := doGenerateReport(t, h, "alice",
		`{"periodStart":"2026-08-01","periodEnd":"2026-08-31"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.Empty(t, w.Header().Get("X-Accel-Buffering"), "streaming headers must not leak onto the error response")
	assert.Empty(t, repo.reports)
}

// TestHandleGenerate_EmptyPeriodStillStreams verifies a period without
// entries still produces a report from the model.
func TestHandleGenerate_EmptyPeriodStillStreams(t *testing.T) {
	repo := &fakeReportStore{}
	llmClient := &fakeLLM{tokens: []string{"Nothing was logged this period."}}
	h := NewReportHandler(llmClient, repo)

	w := doGenerateReport(t, h, "alice",
		`{"periodStart":"2026-08-01","periodEnd":"2026-08-31"}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, repo.reports, 1)
	assert.Equal(t, "summary", repo.reports[0].Style, "style defaults to summary")
	prompt := llmClient.seenMessages[len(llmClient.seenMessages)-1].Content
	assert.Contains(t, prompt, "no entries were logged")
}
