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

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/worklog-ai/worklog/services/journal/datatypes"
	"github.com/worklog-ai/worklog/services/journal/middleware"
	"github.com/worklog-ai/worklog/services/journal/store"
)

// ConversationStore is the slice of the repository the CRUD handlers need.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *datatypes.Conversation) error
	ListConversations(ctx context.Context, userID string) ([]datatypes.Conversation, error)
	FindConversationByIDForUser(ctx context.Context, id, userID string) (*datatypes.Conversation, error)
	ListMessages(ctx context.Context, conversationID, userID string) ([]datatypes.Message, error)
	DeleteConversation(ctx context.Context, id, userID string) error
}

// ConversationHandler serves the conversation CRUD endpoints.
type ConversationHandler struct {
	repo ConversationStore
}

// NewConversationHandler creates a ConversationHandler.
func NewConversationHandler(repo ConversationStore) *ConversationHandler {
	if repo == nil {
		panic("NewConversationHandler: repo must not be nil")
	}
	return &ConversationHandler{repo: repo}
}

// HandleCreate processes POST /v1/conversations.
//
// The mode defaults to "general" and selects the placeholder title; the
// real title arrives later via first-turn title generation.
func (h *ConversationHandler) HandleCreate(c *gin.Context) {
	session := middleware.GetSession(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req datatypes.CreateConversationRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = datatypes.ModeGeneral
	}

	now := nowUTC()
	conv := &datatypes.Conversation{
		ID:        uuid.New().String(),
		UserID:    session.UserID,
		Title:     datatypes.DefaultTitles[mode],
		Mode:      mode,
		ProjectID: req.ProjectID,
		GoalID:    req.GoalID,
		ContactID: req.ContactID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.repo.CreateConversation(c.Request.Context(), conv); err != nil {
		slog.Error("conversation creation failed", "error", err, "userId", session.UserID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// HandleList processes GET /v1/conversations. Most recent first.
func (h *ConversationHandler) HandleList(c *gin.Context) {
	session := middleware.GetSession(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	convs, err := h.repo.ListConversations(c.Request.Context(), session.UserID)
	if err != nil {
		slog.Error("conversation listing failed", "error", err, "userId", session.UserID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if convs == nil {
		convs = []datatypes.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// HandleGet processes GET /v1/conversations/:id.
func (h *ConversationHandler) HandleGet(c *gin.Context) {
	session := middleware.GetSession(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conv, err := h.repo.FindConversationByIDForUser(c.Request.Context(), c.Param("id"), session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		slog.Error("conversation lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

// HandleListMessages processes GET /v1/conversations/:id/messages.
// Chronological order; ownership is checked by the repository.
func (h *ConversationHandler) HandleListMessages(c *gin.Context) {
	session := middleware.GetSession(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	msgs, err := h.repo.ListMessages(c.Request.Context(), c.Param("id"), session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		slog.Error("message listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if msgs == nil {
		msgs = []datatypes.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// HandleDelete processes DELETE /v1/conversations/:id.
func (h *ConversationHandler) HandleDelete(c *gin.Context) {
	session := middleware.GetSession(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	err := h.repo.DeleteConversation(c.Request.Context(), c.Param("id"), session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		slog.Error("conversation deletion failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Status(http.StatusNoContent)
	c.Writer.WriteHeaderNow()
}

var _ ConversationStore = (*store.Store)(nil)
