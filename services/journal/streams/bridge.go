// Copyright (C) 2025 Worklog Labs (dev@worklog.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package streams

import "context"

// Bridge owns the cancellation context for one stream request.
//
// # Description
//
// The bridge makes cancellation compositional. It creates one context per
// request, independent of the inbound HTTP request's context, and wires
// the inbound context's Done into it. The same context is then threaded
// into the upstream completion call and the optional title-generation
// call, so any of the following stops generation:
//
//   - the inbound HTTP request aborting (browser navigated away),
//   - an explicit Cancel (stop endpoint or registry eviction),
//   - the stale-entry sweep evicting the registration.
//
// Cancel is idempotent; triggering it repeatedly is harmless.
//
// # Limitations
//
//   - Cancellation is cooperative: chunks already requested upstream are
//     not interrupted mid-flight, but no further chunks are requested once
//     the context fires.
type Bridge struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge creates a bridge whose context is cancelled when requestCtx
// is done or when Cancel is called.
//
// The returned context deliberately does not descend from requestCtx:
// finalization work (persisting the assistant message, updating the
// conversation) must keep running after the client disconnects, and uses
// its own context.
func NewBridge(requestCtx context.Context) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{ctx: ctx, cancel: cancel}

	go func() {
		select {
		case <-requestCtx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	return b
}

// Context returns the stream's cancellation context.
func (b *Bridge) Context() context.Context {
	return b.ctx
}

// Cancel triggers the stream's cancellation. Safe to call more than once
// and from any goroutine.
func (b *Bridge) Cancel() {
	b.cancel()
}

// Cancelled reports whether the bridge context has fired.
func (b *Bridge) Cancelled() bool {
	return b.ctx.Err() != nil
}
