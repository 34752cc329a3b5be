// Copyright (C) 2025 Worklog Labs (dev@worklog.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worklog-ai/worklog/services/journal/datatypes"
	"github.com/worklog-ai/worklog/services/llm"
)

// fakeReader is an in-memory JournalReader. Any field of errs set to
// non-nil makes the matching read fail.
type fakeReader struct {
	profile  datatypes.UserProfile
	projects []datatypes.Project
	goals    []datatypes.Goal
	contacts []datatypes.Contact
	entries  []datatypes.Entry
	errs     map[string]error
}

func (f *fakeReader) GetUserProfile(_ context.Context, userID string) (*datatypes.UserProfile, error) {
	if err := f.errs["profile"]; err != nil {
		return nil, err
	}
	p := f.profile
	p.ID = userID
	return &p, nil
}

func (f *fakeReader) ListActiveProjects(_ context.Context, _ string) ([]datatypes.Project, error) {
	return f.projects, f.errs["projects"]
}

func (f *fakeReader) ListActiveGoals(_ context.Context, _ string) ([]datatypes.Goal, error) {
	return f.goals, f.errs["goals"]
}

func (f *fakeReader) ListContacts(_ context.Context, _ string) ([]datatypes.Contact, error) {
	return f.contacts, f.errs["contacts"]
}

func (f *fakeReader) ListRecentEntries(_ context.Context, _ string, _ int) ([]datatypes.Entry, error) {
	return f.entries, f.errs["entries"]
}

// TestBuildSystemPrompt_FullContext verifies every journal section lands
// in the prompt.
func TestBuildSystemPrompt_FullContext(t *testing.T) {
	t.Parallel()

	target := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	b := NewBuilder(&fakeReader{
		profile:  datatypes.UserProfile{Name: "Alice", Title: "Staff Engineer", Bio: "Distributed systems."},
		projects: []datatypes.Project{{Name: "Ingest rewrite", Description: "Move to streaming"}},
		goals:    []datatypes.Goal{{Title: "Promotion packet", TargetDate: &target}},
		contacts: []datatypes.Contact{{Name: "Bob", Role: "Manager", Company: "Acme"}},
		entries:  []datatypes.Entry{{OccurredOn: "2026-08-20", Content: "Shipped the parser"}},
	})

	prompt := b.BuildSystemPrompt(context.Background(), "alice", datatypes.ModeGeneral)

	assert.Contains(t, prompt, "career mentor")
	assert.Contains(t, prompt, "Name: Alice")
	assert.Contains(t, prompt, "- Ingest rewrite: Move to streaming")
	assert.Contains(t, prompt, "- Promotion packet (target 2026-12-01)")
	assert.Contains(t, prompt, "- Bob (Manager, Acme)")
	assert.Contains(t, prompt, "[2026-08-20] Shipped the parser")
}

// TestBuildSystemPrompt_DegradesOnReadFailure verifies a failed section
// read is skipped without failing the turn.
func TestBuildSystemPrompt_DegradesOnReadFailure(t *testing.T) {
	t.Parallel()

	b := NewBuilder(&fakeReader{
		entries: []datatypes.Entry{{OccurredOn: "2026-08-20", Content: "Shipped the parser"}},
		errs:    map[string]error{"profile": errors.New("db closed"), "projects": errors.New("db closed")},
	})

	prompt := b.BuildSystemPrompt(context.Background(), "alice", datatypes.ModeGoalCoach)

	assert.Contains(t, prompt, "goal-oriented career coach")
	assert.NotContains(t, prompt, "About the user")
	assert.NotContains(t, prompt, "Active projects")
	assert.Contains(t, prompt, "Shipped the parser", "surviving sections still included")
}

// TestBuildSystemPrompt_UnknownModeFallsBack verifies unknown modes get
// the general persona.
func TestBuildSystemPrompt_UnknownModeFallsBack(t *testing.T) {
	t.Parallel()

	b := NewBuilder(&fakeReader{})
	prompt := b.BuildSystemPrompt(context.Background(), "alice", "salsa-dancing")
	assert.Contains(t, prompt, "career mentor")
}

// TestBuildHistoryWindow verifies ordering and the turn bound.
func TestBuildHistoryWindow(t *testing.T) {
	t.Parallel()

	var history []datatypes.Message
	for i := 0; i < 30; i++ {
		role := datatypes.RoleUser
		if i%2 == 1 {
			role = datatypes.RoleAssistant
		}
		history = append(history, datatypes.Message{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}

	window := BuildHistoryWindow("be helpful", history, "what's next?")

	require.Len(t, window, MaxHistoryTurns+2)
	assert.Equal(t, llm.RoleSystem, window[0].Role)
	assert.Equal(t, "be helpful", window[0].Content)
	assert.Equal(t, "turn 10", window[1].Content, "oldest surviving turn directly after the system prompt")
	assert.Equal(t, "turn 29", window[len(window)-2].Content)
	assert.Equal(t, llm.RoleUser, window[len(window)-1].Role)
	assert.Equal(t, "what's next?", window[len(window)-1].Content)
}

// TestBuildHistoryWindow_Empty verifies the first turn of a conversation.
func TestBuildHistoryWindow_Empty(t *testing.T) {
	t.Parallel()

	window := BuildHistoryWindow("be helpful", nil, "hello")
	require.Len(t, window, 2)
	assert.Equal(t, llm.RoleSystem, window[0].Role)
	assert.Equal(t, "hello", window[1].Content)
}

// TestTitlePrompt verifies truncation of long turns.
func TestTitlePrompt(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 2000)
	p := TitlePrompt(long, "short answer")
	assert.Less(t, len(p), 1500)
	assert.Contains(t, p, "short answer")
	assert.Contains(t, p, "five words")

	// Truncation must not split a multi-byte character.
	multibyte := strings.Repeat("日", 400)
	assert.True(t, utf8.ValidString(TitlePrompt(multibyte, multibyte)))
}

// TestReportPrompt covers the three styles and the empty period.
func TestReportPrompt(t *testing.T) {
	t.Parallel()

	entries := []datatypes.Entry{{OccurredOn: "2026-08-05", Content: "Fixed the flaky deploy"}}

	assert.Contains(t, ReportPrompt(entries, "2026-08-01", "2026-08-31", "summary"), "concise summary")
	assert.Contains(t, ReportPrompt(entries, "2026-08-01", "2026-08-31", "review"), "self-assessment")
	assert.Contains(t, ReportPrompt(entries, "2026-08-01", "2026-08-31", "brag"), "brag document")
	assert.Contains(t, ReportPrompt(entries, "2026-08-01", "2026-08-31", "bogus"), "concise summary")

	empty := ReportPrompt(nil, "2026-08-01", "2026-08-31", "summary")
	assert.Contains(t, empty, "no entries were logged")
}
