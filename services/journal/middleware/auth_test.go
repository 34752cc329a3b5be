// Copyright (C) 2025 Worklog Labs (dev@worklog.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthTestRouter(provider SessionProvider) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(provider))
	r.GET("/whoami", func(c *gin.Context) {
		s := GetSession(c)
		if s == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session missing after auth"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": s.UserID})
	})
	return r
}

// TestAuthMiddleware_StaticTokens verifies token resolution and rejection.
func TestAuthMiddleware_StaticTokens(t *testing.T) {
	r := newAuthTestRouter(NewStaticTokenProvider(map[string]string{"tok-alice": "alice"}))

	// Valid token.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer tok-alice")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alice")

	// Unknown token.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer nope")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Missing header.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Wrong scheme.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// TestAuthMiddleware_CaseInsensitiveScheme verifies "bearer" is accepted.
func TestAuthMiddleware_CaseInsensitiveScheme(t *testing.T) {
	r := newAuthTestRouter(NewStaticTokenProvider(map[string]string{"tok": "alice"}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "bearer tok")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestAuthMiddleware_LocalProvider verifies local mode ignores the token.
func TestAuthMiddleware_LocalProvider(t *testing.T) {
	r := newAuthTestRouter(&LocalSessionProvider{UserID: "local-user"})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "local-user")
}

// TestNewStaticTokenProviderFromEnv covers parsing and the fallback case.
func TestNewStaticTokenProviderFromEnv(t *testing.T) {
	t.Setenv("WORKLOG_SESSION_TOKENS", "tok1:alice, tok2:bob,malformed")
	p, ok := NewStaticTokenProviderFromEnv()
	require.True(t, ok)

	s, err := p.Resolve(t.Context(), "tok2")
	require.NoError(t, err)
	assert.Equal(t, "bob", s.UserID)

	_, err = p.Resolve(t.Context(), "malformed")
	assert.ErrorIs(t, err, ErrUnauthorized)

	t.Setenv("WORKLOG_SESSION_TOKENS", "")
	_, ok = NewStaticTokenProviderFromEnv()
	assert.False(t, ok)
}

// TestRateLimiter_PerUser verifies independent buckets per user.
func TestRateLimiter_PerUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(0, 2) // 2 requests, no refill

	r := gin.New()
	r.Use(AuthMiddleware(NewStaticTokenProvider(map[string]string{
		"tok-alice": "alice",
		"tok-bob":   "bob",
	})))
	r.Use(rl.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(token string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("tok-alice"))
	assert.Equal(t, http.StatusOK, do("tok-alice"))
	assert.Equal(t, http.StatusTooManyRequests, do("tok-alice"), "alice's burst exhausted")
	assert.Equal(t, http.StatusOK, do("tok-bob"), "bob has his own bucket")
}
