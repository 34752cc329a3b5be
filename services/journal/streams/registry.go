// Copyright (C) 2025 Worklog Labs (dev@worklog.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package streams tracks in-flight chat streams so they can be cancelled
// and so abandoned entries do not leak upstream connections.
//
// # Description
//
// The Registry is the only shared mutable state in the streaming
// subsystem. It is an explicit, injectable component (constructed in main,
// passed to handlers) rather than a package-level singleton, so it can be
// unit-tested in isolation and swapped for a distributed implementation if
// the service is ever scaled horizontally.
//
// Garbage collection is lazy: CleanupStale runs at the start of every new
// stream request instead of on a background timer. The TTL is a safety net
// for abandoned entries, not a per-request timeout contract.
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use; the entry map is
// guarded by a mutex.
package streams

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is the age past which a registration is considered abandoned
// and evicted (with cancellation) by CleanupStale.
const DefaultTTL = 10 * time.Minute

// Registration describes one in-flight stream.
//
// # Fields
//
//   - RequestID: client-supplied identifier, unique per in-flight stream.
//   - UserID, ConversationID: ownership context for diagnostics.
//   - Cancel: idempotent handle that aborts the upstream call.
//   - StartedAt: registration time, used for stale eviction.
type Registration struct {
	RequestID      string
	UserID         string
	ConversationID string
	Cancel         func()
	StartedAt      time.Time
}

// Registry is a process-wide table of active streams keyed by request id.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Registration
}

// NewRegistry creates an empty stream registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Registration),
	}
}

// Register inserts the registration, keyed by its RequestID.
//
// # Description
//
// If an entry with the same RequestID already exists (a client retry
// racing its first attempt), the previous entry's cancellation handle is
// triggered before it is replaced. This guarantees at most one live
// cancellation path per request id; the older stream observes
// cancellation and finalizes normally.
func (r *Registry) Register(reg *Registration) {
	if reg == nil || reg.RequestID == "" {
		return
	}

	r.mu.Lock()
	prev := r.entries[reg.RequestID]
	r.entries[reg.RequestID] = reg
	r.mu.Unlock()

	if prev != nil && prev.Cancel != nil {
		slog.Warn("streams: duplicate registration, cancelling previous stream",
			"requestId", reg.RequestID,
			"conversationId", prev.ConversationID,
		)
		prev.Cancel()
	}
}

// Unregister removes the entry if it is still the one the caller
// registered.
//
// # Description
//
// Identity-checked on purpose: after a duplicate Register takes over a
// request id, the superseded stream's deferred unregister must not delete
// the live retry's entry, or the stop endpoint would lose its handle on
// an active stream. A missing or replaced entry is never an error; the
// caller may race a cleanup sweep, a prior unregister, or a takeover.
func (r *Registry) Unregister(requestID string, reg *Registration) {
	r.mu.Lock()
	if r.entries[requestID] == reg {
		delete(r.entries, requestID)
	}
	r.mu.Unlock()
}

// Cancel triggers the cancellation handle for the given request id.
//
// Returns true if a registration was found and cancelled. The entry stays
// registered; the owning stream unregisters it during finalization.
func (r *Registry) Cancel(requestID string) bool {
	r.mu.Lock()
	reg := r.entries[requestID]
	r.mu.Unlock()

	if reg == nil || reg.Cancel == nil {
		return false
	}
	reg.Cancel()
	return true
}

// CancelOwned triggers the cancellation handle for the given request id,
// but only when the registration belongs to userID.
//
// Returns false for both an unknown request id and an ownership mismatch,
// so callers cannot probe for other users' stream ids.
func (r *Registry) CancelOwned(requestID, userID string) bool {
	r.mu.Lock()
	reg := r.entries[requestID]
	r.mu.Unlock()

	if reg == nil || reg.Cancel == nil || reg.UserID != userID {
		return false
	}
	reg.Cancel()
	return true
}

// CleanupStale evicts registrations whose StartedAt is older than ttl.
//
// # Description
//
// Each evicted entry's cancellation handle is triggered so the abandoned
// stream releases its upstream connection. Idempotent: a second sweep with
// no new registrations is a no-op. Returns the number of evicted entries.
func (r *Registry) CleanupStale(now time.Time, ttl time.Duration) int {
	cutoff := now.Add(-ttl)

	r.mu.Lock()
	var stale []*Registration
	for id, reg := range r.entries {
		if reg.StartedAt.Before(cutoff) {
			stale = append(stale, reg)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	for _, reg := range stale {
		slog.Warn("streams: evicting stale registration",
			"requestId", reg.RequestID,
			"conversationId", reg.ConversationID,
			"age", now.Sub(reg.StartedAt).String(),
		)
		if reg.Cancel != nil {
			reg.Cancel()
		}
	}
	return len(stale)
}

// Active returns the number of registered streams.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
