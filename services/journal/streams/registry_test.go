// Copyright (C) 2025 Worklog Labs (dev@worklog.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package streams

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

// newTestRegistration builds a registration with a trackable cancel func.
func newTestRegistration(requestID string, startedAt time.Time) (*Registration, *bool) {
	cancelled := false
	return &Registration{
		RequestID:      requestID,
		UserID:         "user-1",
		ConversationID: "conv-1",
		Cancel:         func() { cancelled = true },
		StartedAt:      startedAt,
	}, &cancelled
}

// =============================================================================
// Registry Tests
// =============================================================================

// TestRegistry_RegisterAndUnregister verifies the basic lifecycle.
func TestRegistry_RegisterAndUnregister(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	reg, _ := newTestRegistration("r1", time.Now())

	r.Register(reg)
	assert.Equal(t, 1, r.Active())

	r.Unregister("r1", reg)
	assert.Equal(t, 0, r.Active())
}

// TestRegistry_UnregisterUnknown verifies that removing a missing entry is
// a no-op and does not affect other registrations.
func TestRegistry_UnregisterUnknown(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	reg, cancelled := newTestRegistration("r1", time.Now())
	r.Register(reg)

	assert.NotPanics(t, func() { r.Unregister("missing", reg) })
	assert.Equal(t, 1, r.Active())
	assert.False(t, *cancelled)
}

// TestRegistry_DuplicateRegisterCancelsPrevious verifies that a retry with
// the same request id does not orphan the first stream's cancellation path.
func TestRegistry_DuplicateRegisterCancelsPrevious(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	first, firstCancelled := newTestRegistration("r1", time.Now())
	second, secondCancelled := newTestRegistration("r1", time.Now())

	r.Register(first)
	r.Register(second)

	assert.Equal(t, 1, r.Active(), "duplicate register should overwrite, not add")
	assert.True(t, *firstCancelled, "previous stream should be cancelled")
	assert.False(t, *secondCancelled, "new stream should stay live")
}

// TestRegistry_UnregisterAfterTakeover verifies the superseded stream's
// deferred unregister does not remove the retry's live entry.
func TestRegistry_UnregisterAfterTakeover(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	first, _ := newTestRegistration("r1", time.Now())
	second, secondCancelled := newTestRegistration("r1", time.Now())

	r.Register(first)
	r.Register(second)

	// The first stream winds down after the takeover and unregisters.
	r.Unregister("r1", first)

	assert.Equal(t, 1, r.Active(), "the retry's entry must survive")
	assert.True(t, r.CancelOwned("r1", "user-1"), "the retry must stay stoppable")
	assert.True(t, *secondCancelled)

	r.Unregister("r1", second)
	assert.Equal(t, 0, r.Active())
}

// TestRegistry_Cancel verifies explicit cancellation by request id.
func TestRegistry_Cancel(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	reg, cancelled := newTestRegistration("r1", time.Now())
	r.Register(reg)

	assert.True(t, r.Cancel("r1"))
	assert.True(t, *cancelled)
	// Entry stays registered until the owning stream finalizes.
	assert.Equal(t, 1, r.Active())

	assert.False(t, r.Cancel("missing"))
}

// TestRegistry_CleanupStale verifies TTL eviction triggers cancellation
// and spares fresh entries.
func TestRegistry_CleanupStale(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	now := time.Now()

	stale, staleCancelled := newTestRegistration("old", now.Add(-15*time.Minute))
	fresh, freshCancelled := newTestRegistration("new", now.Add(-1*time.Minute))
	r.Register(stale)
	r.Register(fresh)

	evicted := r.CleanupStale(now, 10*time.Minute)

	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, r.Active())
	assert.True(t, *staleCancelled)
	assert.False(t, *freshCancelled)
}

// TestRegistry_CleanupStaleIdempotent verifies a second sweep with no new
// registrations removes nothing.
func TestRegistry_CleanupStaleIdempotent(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	now := time.Now()
	stale, _ := newTestRegistration("old", now.Add(-20*time.Minute))
	r.Register(stale)

	require.Equal(t, 1, r.CleanupStale(now, 10*time.Minute))
	assert.Equal(t, 0, r.CleanupStale(now, 10*time.Minute))
	assert.Equal(t, 0, r.Active())
}

// TestRegistry_RegisterNil verifies defensive handling of bad input.
func TestRegistry_RegisterNil(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.NotPanics(t, func() { r.Register(nil) })
	assert.NotPanics(t, func() { r.Register(&Registration{}) })
	assert.Equal(t, 0, r.Active())
}

// =============================================================================
// Bridge Tests
// =============================================================================

// TestBridge_CancelPropagates verifies Cancel fires the stream context and
// is idempotent.
func TestBridge_CancelPropagates(t *testing.T) {
	t.Parallel()

	b := NewBridge(context.Background())
	require.NoError(t, b.Context().Err())
	assert.False(t, b.Cancelled())

	b.Cancel()
	b.Cancel() // idempotent

	assert.True(t, b.Cancelled())
	assert.ErrorIs(t, b.Context().Err(), context.Canceled)
}

// TestBridge_InboundAbortPropagates verifies the inbound request context's
// cancellation reaches the bridge context.
func TestBridge_InboundAbortPropagates(t *testing.T) {
	t.Parallel()

	reqCtx, abort := context.WithCancel(context.Background())
	b := NewBridge(reqCtx)

	abort()

	select {
	case <-b.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("bridge context not cancelled after inbound abort")
	}
}

// TestBridge_IndependentOfInbound verifies the bridge context does not
// descend from the request context: cancelling the bridge must not
// require the request to be alive.
func TestBridge_IndependentOfInbound(t *testing.T) {
	t.Parallel()

	reqCtx, abort := context.WithCancel(context.Background())
	defer abort()

	b := NewBridge(reqCtx)
	b.Cancel()

	assert.True(t, b.Cancelled())
	assert.NoError(t, reqCtx.Err(), "cancelling the bridge must not abort the inbound request")
}
