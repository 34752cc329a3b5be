// Copyright (C) 2025 Worklog Labs (dev@worklog.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides the HTTP handlers for the journal service.
//
// This file implements token accumulation for streaming responses. Tokens
// are held in mlocked memory so partial answers cannot be swapped to disk,
// and are hashed incrementally for integrity logging at finalization.
package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	// AccumulatorBufferSize bounds one streamed answer. 512 KB is roughly
	// 131k tokens at 4 bytes/token, far past any real completion.
	AccumulatorBufferSize = 512 * 1024

	// minMlockLimitKB is the mlock limit required for the secure path.
	minMlockLimitKB = 512
)

var (
	memguardInitOnce    sync.Once
	mlockSufficient     bool
	currentMlockLimitKB int64
)

// =============================================================================
// Interface Definition
// =============================================================================

// TokenAccumulator collects streamed tokens into the final answer.
//
// # Description
//
// Abstracts token storage during streaming so the secure (mlocked) and
// fallback (plain memory) implementations are interchangeable. Tokens are
// hashed as they arrive; Finalize returns the answer and its SHA-256.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
//
// # Limitations
//
//   - Fixed capacity; an overflowed accumulator cannot recover.
//   - Unusable after Finalize or Destroy.
type TokenAccumulator interface {
	// Write appends one token. Returns an error on overflow or after the
	// accumulator has been destroyed.
	Write(token string) error

	// Finalize returns the accumulated answer and its hex SHA-256, then
	// wipes the buffer. Can only be called once.
	Finalize() (answer string, hash string, err error)

	// Destroy wipes the buffer without returning data. Idempotent; use on
	// error paths where the partial answer is discarded.
	Destroy()

	// ID returns a unique identifier for logging.
	ID() string

	// CreatedAt returns when the accumulator was created.
	CreatedAt() time.Time
}

// =============================================================================
// Secure Implementation
// =============================================================================

// secureAccumulator stores tokens in a memguard LockedBuffer: mlocked,
// guard-paged, and explicitly wiped at finalization.
type secureAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

// insecureAccumulator is the plain-memory fallback for systems without
// sufficient mlock limits. Same contract, no swap protection; wiping is
// best effort under the garbage collector.
type insecureAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

// NewTokenAccumulator creates an accumulator for one stream.
//
// # Description
//
// Returns the secure implementation when the system's mlock limit allows
// it. When the limit is insufficient, falls back to plain memory only if
// WORKLOG_INSECURE_MEMORY=true acknowledges the risk; otherwise errors so
// the deployment gets fixed rather than silently downgraded.
func NewTokenAccumulator() (TokenAccumulator, error) {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
	})

	if !mlockSufficient {
		if os.Getenv("WORKLOG_INSECURE_MEMORY") == "true" {
			slog.Warn("using insecure token accumulator, mlock limit insufficient",
				"current_limit_kb", currentMlockLimitKB,
				"required_kb", minMlockLimitKB)
			return &insecureAccumulator{
				id:        uuid.New().String(),
				createdAt: time.Now(),
				data:      make([]byte, 0, AccumulatorBufferSize),
				hasher:    sha256.New(),
			}, nil
		}
		return nil, fmt.Errorf(
			"mlock limit insufficient: have %d KB, need %d KB (or set WORKLOG_INSECURE_MEMORY=true)",
			currentMlockLimitKB, minMlockLimitKB)
	}

	buf := memguard.NewBuffer(AccumulatorBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer of %d bytes", AccumulatorBufferSize)
	}
	buf.Melt()

	return &secureAccumulator{
		id:        uuid.New().String(),
		createdAt: time.Now(),
		buffer:    buf,
		hasher:    sha256.New(),
	}, nil
}

// checkMlockLimit queries RLIMIT_MEMLOCK. Returns (sufficient, limit KB);
// limit is -1 when unlimited or unknown.
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("could not determine mlock limit", "error", err)
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= minMlockLimitKB, limitKB
}

func (a *secureAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("buffer overflow, response too large")
	}
	b := []byte(token)
	if a.offset+len(b) > AccumulatorBufferSize {
		a.overflow = true
		return fmt.Errorf("buffer overflow: need %d bytes, have %d remaining",
			len(b), AccumulatorBufferSize-a.offset)
	}
	copy(a.buffer.Bytes()[a.offset:], b)
	a.offset += len(b)
	a.hasher.Write(b)
	return nil
}

func (a *secureAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.buffer.Bytes()[:a.offset])
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()
	return answer, hashStr, nil
}

func (a *secureAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.destroyed {
		a.wipe()
	}
}

func (a *secureAccumulator) wipe() {
	if a.buffer != nil {
		a.buffer.Destroy()
	}
	a.destroyed = true
}

func (a *secureAccumulator) ID() string           { return a.id }
func (a *secureAccumulator) CreatedAt() time.Time { return a.createdAt }

func (a *insecureAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("buffer overflow, response too large")
	}
	b := []byte(token)
	if len(a.data)+len(b) > AccumulatorBufferSize {
		a.overflow = true
		return fmt.Errorf("buffer overflow: need %d bytes, have %d remaining",
			len(b), AccumulatorBufferSize-len(a.data))
	}
	a.data = append(a.data, b...)
	a.hasher.Write(b)
	return nil
}

func (a *insecureAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.data)
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()
	return answer, hashStr, nil
}

func (a *insecureAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.destroyed {
		a.wipe()
	}
}

func (a *insecureAccumulator) wipe() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

func (a *insecureAccumulator) ID() string           { return a.id }
func (a *insecureAccumulator) CreatedAt() time.Time { return a.createdAt }

// =============================================================================
// Compile-time Interface Checks
// =============================================================================

var (
	_ TokenAccumulator = (*secureAccumulator)(nil)
	_ TokenAccumulator = (*insecureAccumulator)(nil)
)
