// Copyright (C) 2025 Worklog Labs (dev@worklog.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/worklog-ai/worklog/services/journal/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// StreamWriter writes NDJSON stream events to an HTTP response.
//
// # Description
//
// StreamWriter abstracts the wire format (one JSON object per line, flushed
// after every write) so handlers can be tested against a recording fake.
// The protocol is: zero or more delta lines, at most one error line, and
// exactly one terminal done line.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the keep-alive ticker
// and the token loop may write from different goroutines.
//
// # Assumptions
//
//   - Caller has set NDJSON headers before the first write.
type StreamWriter interface {
	// WriteDelta writes one token fragment line.
	WriteDelta(content string) error

	// WriteError writes an error line with a user-facing message.
	// Internal error details must be sanitized by the caller.
	WriteError(message string) error

	// WriteDone writes the terminal line. Cancelled records whether the
	// stream ended by cooperative cancellation. Must be called exactly
	// once, after all other lines.
	WriteDone(cancelled bool) error
}

// =============================================================================
// Struct Definition
// =============================================================================

// ndjsonWriter implements StreamWriter over an http.ResponseWriter.
//
// Each event is serialized as a single JSON object followed by a newline
// and flushed immediately so tokens render as they arrive.
type ndjsonWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewNDJSONWriter creates a StreamWriter for the given ResponseWriter.
//
// Returns an error if the ResponseWriter does not support http.Flusher,
// since an unflushable stream would buffer the whole response.
func NewNDJSONWriter(w http.ResponseWriter) (StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &ndjsonWriter{writer: w, flusher: flusher}, nil
}

// =============================================================================
// Methods
// =============================================================================

func (w *ndjsonWriter) WriteDelta(content string) error {
	return w.writeEvent(datatypes.DeltaEvent(content))
}

func (w *ndjsonWriter) WriteError(message string) error {
	return w.writeEvent(datatypes.ErrorEvent(message))
}

func (w *ndjsonWriter) WriteDone(cancelled bool) error {
	return w.writeEvent(datatypes.DoneEvent(cancelled))
}

// writeEvent serializes one event as a JSON line and flushes.
func (w *ndjsonWriter) writeEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "%s\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetNDJSONHeaders configures response headers for NDJSON streaming.
//
// Must be called before the first body write. X-Accel-Buffering disables
// nginx proxy buffering; no-transform keeps intermediaries from coalescing
// chunks.
func SetNDJSONHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ StreamWriter = (*ndjsonWriter)(nil)
