// Copyright (C) 2025 Worklog Labs (dev@worklog.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the journal service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization
// header, resolves it through the configured SessionProvider, and stores
// the resulting Session in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► provider.Resolve(ctx, token)
//	   │
//	   └─► Store Session in context
//	           │
//	           ▼
//	       Handler (retrieves via GetSession)
//
// # Local Behavior
//
// With the LocalSessionProvider (default for single-user deployments),
// every request resolves to the configured local user without checking
// the token. The StaticTokenProvider maps explicit tokens to user ids
// from WORKLOG_SESSION_TOKENS for small multi-user setups.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// ErrUnauthorized is returned by SessionProvider implementations when the
// token does not resolve to a user.
var ErrUnauthorized = errors.New("unauthorized")

// Session identifies the authenticated caller for the current request.
type Session struct {
	UserID string
}

// SessionProvider resolves a bearer token to a session.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type SessionProvider interface {
	// Resolve validates the token and returns the caller's session.
	// Returns ErrUnauthorized when the token is missing or unknown.
	Resolve(ctx context.Context, token string) (*Session, error)
}

// =============================================================================
// Context Helpers
// =============================================================================

// sessionKey is the Gin context key for the resolved session.
const sessionKey = "worklog_session"

// SetSession stores the session in the Gin context. Called by
// AuthMiddleware after successful resolution.
func SetSession(c *gin.Context, s *Session) {
	c.Set(sessionKey, s)
}

// GetSession retrieves the session from the Gin context, or nil when the
// request was not authenticated. Handlers must treat nil as 401; routes
// behind AuthMiddleware always have a session.
func GetSession(c *gin.Context) *Session {
	if v, exists := c.Get(sessionKey); exists {
		if s, ok := v.(*Session); ok {
			return s
		}
	}
	return nil
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware authenticates requests via the given provider.
//
// # Description
//
// Extracts the bearer token, resolves it, and stores the Session for
// downstream handlers. Any resolution failure aborts with 401 before the
// handler runs, so streaming endpoints reject unauthenticated callers
// with a plain HTTP status rather than a stream error event.
func AuthMiddleware(provider SessionProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		session, err := provider.Resolve(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}

		SetSession(c, session)
		c.Next()
	}
}

// extractBearerToken parses "Authorization: Bearer <token>". Returns ""
// when the header is missing or malformed; the scheme is case-insensitive
// per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// =============================================================================
// Providers
// =============================================================================

// LocalSessionProvider resolves every request to one fixed user. This is
// the single-user deployment mode; the journal is private to its owner.
type LocalSessionProvider struct {
	UserID string
}

// Resolve always succeeds with the configured local user.
func (p *LocalSessionProvider) Resolve(_ context.Context, _ string) (*Session, error) {
	return &Session{UserID: p.UserID}, nil
}

// StaticTokenProvider maps explicit bearer tokens to user ids.
//
// Built from WORKLOG_SESSION_TOKENS ("token1:alice,token2:bob"). Unknown
// or empty tokens are rejected.
type StaticTokenProvider struct {
	tokens map[string]string
}

// NewStaticTokenProvider creates a provider over the given token→user map.
func NewStaticTokenProvider(tokens map[string]string) *StaticTokenProvider {
	return &StaticTokenProvider{tokens: tokens}
}

// NewStaticTokenProviderFromEnv parses WORKLOG_SESSION_TOKENS.
//
// Returns (nil, false) when the variable is unset or holds no valid
// pairs, in which case the caller should fall back to local mode.
func NewStaticTokenProviderFromEnv() (*StaticTokenProvider, bool) {
	raw := os.Getenv("WORKLOG_SESSION_TOKENS")
	if raw == "" {
		return nil, false
	}

	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		token, user, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || token == "" || user == "" {
			continue
		}
		tokens[token] = user
	}
	if len(tokens) == 0 {
		return nil, false
	}
	return NewStaticTokenProvider(tokens), true
}

// Resolve looks the token up in the static table.
func (p *StaticTokenProvider) Resolve(_ context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	userID, ok := p.tokens[token]
	if !ok {
		return nil, ErrUnauthorized
	}
	return &Session{UserID: userID}, nil
}

// =============================================================================
// Compile-time Interface Checks
// =============================================================================

var (
	_ SessionProvider = (*LocalSessionProvider)(nil)
	_ SessionProvider = (*StaticTokenProvider)(nil)
)
