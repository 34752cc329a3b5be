// Copyright (C) 2025 Worklog Labs (dev@worklog.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-user token bucket across requests.
//
// # Description
//
// Each authenticated user gets an independent rate.Limiter, created on
// first use. Upstream model calls are the expensive resource being
// protected, so the limit applies per user rather than per connection.
//
// # Thread Safety
//
// Safe for concurrent use; the limiter map is guarded by a mutex.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter allowing rps requests per second with
// the given burst per user.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

// limiterFor returns the per-user limiter, creating it on first use.
func (rl *RateLimiter) limiterFor(userID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[userID]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[userID] = l
	}
	return l
}

// Middleware rejects requests over the per-user limit with 429.
//
// Runs after AuthMiddleware; unauthenticated requests are keyed by client
// IP so probing without a token is still bounded.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if s := GetSession(c); s != nil {
			key = s.UserID
		}

		if !rl.limiterFor(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
