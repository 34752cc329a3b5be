// Copyright (C) 2025 Worklog Labs (dev@worklog.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/worklog-ai/worklog/services/journal/datatypes"
	"github.com/worklog-ai/worklog/services/journal/middleware"
	"github.com/worklog-ai/worklog/services/journal/store"
)

// defaultEntryListLimit bounds GET /v1/entries without a date range.
const defaultEntryListLimit = 50

// EntryStore is the slice of the repository the entry handlers need.
type EntryStore interface {
	CreateEntry(ctx context.Context, e *datatypes.Entry) error
	ListRecentEntries(ctx context.Context, userID string, limit int) ([]datatypes.Entry, error)
	ListEntriesBetween(ctx context.Context, userID, start, end string) ([]datatypes.Entry, error)
}

// EntryHandler serves the journal entry endpoints.
type EntryHandler struct {
	repo EntryStore
}

// NewEntryHandler creates an EntryHandler.
func NewEntryHandler(repo EntryStore) *EntryHandler {
	if repo == nil {
		panic("NewEntryHandler: repo must not be nil")
	}
	return &EntryHandler{repo: repo}
}

// HandleCreate processes POST /v1/entries.
//
// OccurredOn defaults to today (UTC) when omitted; entries logged at the
// end of the day are the common case.
func (h *EntryHandler) HandleCreate(c *gin.Context) {
	session := middleware.GetSession(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req datatypes.CreateEntryRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}

	occurredOn := req.OccurredOn
	if occurredOn == "" {
		occurredOn = nowUTC().Format("2006-01-02")
	}

	entry := &datatypes.Entry{
		ID:         uuid.New().String(),
		UserID:     session.UserID,
		ProjectID:  req.ProjectID,
		Content:    req.Content,
		OccurredOn: occurredOn,
		CreatedAt:  nowUTC(),
	}
	if err := h.repo.CreateEntry(c.Request.Context(), entry); err != nil {
		slog.Error("entry creation failed", "error", err, "userId", session.UserID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// HandleList processes GET /v1/entries.
//
// With ?from=YYYY-MM-DD&to=YYYY-MM-DD, returns the inclusive range oldest
// first. Without, returns the newest entries.
func (h *EntryHandler) HandleList(c *gin.Context) {
	session := middleware.GetSession(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	from, to := c.Query("from"), c.Query("to")

	var (
		entries []datatypes.Entry
		err     error
	)
	if from != "" || to != "" {
		if !validDate(from) || !validDate(to) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from and to must both be YYYY-MM-DD"})
			return
		}
		entries, err = h.repo.ListEntriesBetween(c.Request.Context(), session.UserID, from, to)
	} else {
		entries, err = h.repo.ListRecentEntries(c.Request.Context(), session.UserID, defaultEntryListLimit)
	}
	if err != nil {
		slog.Error("entry listing failed", "error", err, "userId", session.UserID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if entries == nil {
		entries = []datatypes.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// validDate reports whether s is a parseable YYYY-MM-DD date.
func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

var _ EntryStore = (*store.Store)(nil)
