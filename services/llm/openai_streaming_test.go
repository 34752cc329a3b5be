// Copyright (C) 2025 Worklog Labs (dev@worklog.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// =============================================================================
// Mock Server Helpers
// =============================================================================

// newMockCompletionServer creates a test server that speaks the
// OpenAI-compatible streaming wire format (SSE with data: lines and a
// terminal data: [DONE]).
func newMockCompletionServer(tokens []string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, tok := range tokens {
			fmt.Fprintf(w,
				`data: {"id":"cmpl-1","object":"chat.completion.chunk","created":1,"model":"test-model","choices":[{"index":0,"delta":{"content":%q},"finish_reason":null}]}`+"\n\n",
				tok,
			)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

// =============================================================================
// ChatStream Tests
// =============================================================================

// TestChatStream_BasicSuccess verifies tokens arrive in order and the
// stream terminates cleanly at [DONE].
func TestChatStream_BasicSuccess(t *testing.T) {
	t.Parallel()

	server := newMockCompletionServer([]string{"Hel", "lo ", "world"})
	defer server.Close()

	client := NewOpenAIClientWithConfig("test-key", server.URL+"/v1", "test-model")

	var got []string
	callback := func(event StreamEvent) error {
		if event.Type == StreamEventToken {
			got = append(got, event.Content)
		}
		return nil
	}

	err := client.ChatStream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, GenerationParams{}, callback)
	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}

	if strings.Join(got, "") != "Hello world" {
		t.Errorf("expected concatenated tokens %q, got %q", "Hello world", strings.Join(got, ""))
	}
	if len(got) != 3 {
		t.Errorf("expected 3 tokens, got %d", len(got))
	}
}

// TestChatStream_CallbackAbort verifies that a callback error stops the
// stream and is returned unchanged.
func TestChatStream_CallbackAbort(t *testing.T) {
	t.Parallel()

	server := newMockCompletionServer([]string{"a", "b", "c"})
	defer server.Close()

	client := NewOpenAIClientWithConfig("test-key", server.URL+"/v1", "test-model")

	abortErr := fmt.Errorf("client went away")
	count := 0
	callback := func(event StreamEvent) error {
		count++
		if count == 2 {
			return abortErr
		}
		return nil
	}

	err := client.ChatStream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, GenerationParams{}, callback)
	if err == nil {
		t.Fatal("expected error from aborted stream")
	}
	if err != abortErr {
		t.Errorf("expected callback error to propagate unchanged, got %v", err)
	}
	if count != 2 {
		t.Errorf("expected callback invoked twice, got %d", count)
	}
}

// TestChatStream_ContextCancelled verifies that a pre-cancelled context
// surfaces as context.Canceled without invoking the callback.
func TestChatStream_ContextCancelled(t *testing.T) {
	t.Parallel()

	server := newMockCompletionServer([]string{"never"})
	defer server.Close()

	client := NewOpenAIClientWithConfig("test-key", server.URL+"/v1", "test-model")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := client.ChatStream(ctx, []Message{{Role: RoleUser, Content: "hi"}}, GenerationParams{}, func(StreamEvent) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if called {
		t.Error("callback should not run after cancellation")
	}
}

// TestGenerate_Success verifies the non-streaming path returns the full
// completion text.
func TestGenerate_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cmpl-1","object":"chat.completion","created":1,"model":"test-model","choices":[{"index":0,"message":{"role":"assistant","content":"Weekly Report"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	client := NewOpenAIClientWithConfig("test-key", server.URL+"/v1", "test-model")

	out, err := client.Generate(context.Background(), "title this", GenerationParams{})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if out != "Weekly Report" {
		t.Errorf("expected %q, got %q", "Weekly Report", out)
	}
}
