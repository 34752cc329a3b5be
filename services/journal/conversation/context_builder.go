// Copyright (C) 2025 Worklog Labs (dev@worklog.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversation assembles the model-facing context for a chat turn.
//
// # Description
//
// The Builder turns journal state (profile, active projects and goals,
// contacts, recent entries) into the system prompt for the selected mentor
// persona, and maps persisted history plus the new user message into the
// bounded message window replayed upstream.
//
// # Thread Safety
//
// Builder holds no mutable state and is safe for concurrent use.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/worklog-ai/worklog/services/journal/datatypes"
	"github.com/worklog-ai/worklog/services/llm"
)

// MaxHistoryTurns bounds how many persisted messages are replayed to the
// model on each turn. Older turns simply fall off; there is no
// summarization.
const MaxHistoryTurns = 20

// recentEntryCount is how many journal entries are surfaced in the
// system prompt to ground the mentor in recent work.
const recentEntryCount = 10

// JournalReader is the slice of the repository the builder needs.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type JournalReader interface {
	GetUserProfile(ctx context.Context, userID string) (*datatypes.UserProfile, error)
	ListActiveProjects(ctx context.Context, userID string) ([]datatypes.Project, error)
	ListActiveGoals(ctx context.Context, userID string) ([]datatypes.Goal, error)
	ListContacts(ctx context.Context, userID string) ([]datatypes.Contact, error)
	ListRecentEntries(ctx context.Context, userID string, limit int) ([]datatypes.Entry, error)
}

// Builder constructs system prompts and history windows for chat turns.
type Builder struct {
	reader JournalReader
}

// NewBuilder creates a Builder over the given repository.
func NewBuilder(reader JournalReader) *Builder {
	return &Builder{reader: reader}
}

// personas frame the mentor for each conversation mode. Modes not listed
// fall back to the general persona.
var personas = map[string]string{
	datatypes.ModeGeneral: "You are a thoughtful career mentor embedded in the user's private work " +
		"journal. Ground your advice in the journal context below, be specific, and " +
		"ask a clarifying question when the user's goal is unclear.",
	datatypes.ModeGoalCoach: "You are a goal-oriented career coach embedded in the user's private work " +
		"journal. Help the user break their active goals into concrete next steps, " +
		"referencing their logged work where it shows progress or drift.",
	datatypes.ModeInterview: "You are an interview coach embedded in the user's private work journal. " +
		"Run realistic practice interviews, drawing questions from the user's actual " +
		"projects and accomplishments below, and give direct feedback after each answer.",
}

// BuildSystemPrompt assembles the system prompt for one chat turn.
//
// # Description
//
// Each journal section is best-effort: a failed read is logged and the
// section is skipped rather than failing the turn, so a degraded prompt
// never blocks streaming. The persona line is always present.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - userID: The journal owner.
//   - mode: Conversation mode selecting the persona.
//
// # Outputs
//
//   - string: The assembled system prompt. Never empty.
func (b *Builder) BuildSystemPrompt(ctx context.Context, userID, mode string) string {
	persona, ok := personas[mode]
	if !ok {
		persona = personas[datatypes.ModeGeneral]
	}

	var sb strings.Builder
	sb.WriteString(persona)

	// Step 1: Who the user is.
	if profile, err := b.reader.GetUserProfile(ctx, userID); err != nil {
		slog.Warn("context builder: profile read failed", "error", err)
	} else if profile.Name != "" || profile.Title != "" || profile.Bio != "" {
		sb.WriteString("\n\n## About the user\n")
		if profile.Name != "" {
			fmt.Fprintf(&sb, "Name: %s\n", profile.Name)
		}
		if profile.Title != "" {
			fmt.Fprintf(&sb, "Role: %s\n", profile.Title)
		}
		if profile.Bio != "" {
			fmt.Fprintf(&sb, "Background: %s\n", profile.Bio)
		}
	}

	// Step 2: What they are working on.
	if projects, err := b.reader.ListActiveProjects(ctx, userID); err != nil {
		slog.Warn("context builder: projects read failed", "error", err)
	} else if len(projects) > 0 {
		sb.WriteString("\n## Active projects\n")
		for _, p := range projects {
			fmt.Fprintf(&sb, "- %s", p.Name)
			if p.Description != "" {
				fmt.Fprintf(&sb, ": %s", p.Description)
			}
			sb.WriteString("\n")
		}
	}

	// Step 3: What they are working toward.
	if goals, err := b.reader.ListActiveGoals(ctx, userID); err != nil {
		slog.Warn("context builder: goals read failed", "error", err)
	} else if len(goals) > 0 {
		sb.WriteString("\n## Active goals\n")
		for _, g := range goals {
			fmt.Fprintf(&sb, "- %s", g.Title)
			if g.TargetDate != nil {
				fmt.Fprintf(&sb, " (target %s)", g.TargetDate.Format("2006-01-02"))
			}
			sb.WriteString("\n")
		}
	}

	// Step 4: Who they work with.
	if contacts, err := b.reader.ListContacts(ctx, userID); err != nil {
		slog.Warn("context builder: contacts read failed", "error", err)
	} else if len(contacts) > 0 {
		sb.WriteString("\n## People\n")
		for _, c := range contacts {
			fmt.Fprintf(&sb, "- %s", c.Name)
			var detail []string
			if c.Role != "" {
				detail = append(detail, c.Role)
			}
			if c.Company != "" {
				detail = append(detail, c.Company)
			}
			if len(detail) > 0 {
				fmt.Fprintf(&sb, " (%s)", strings.Join(detail, ", "))
			}
			sb.WriteString("\n")
		}
	}

	// Step 5: What they have done lately.
	if entries, err := b.reader.ListRecentEntries(ctx, userID, recentEntryCount); err != nil {
		slog.Warn("context builder: entries read failed", "error", err)
	} else if len(entries) > 0 {
		sb.WriteString("\n## Recent journal entries\n")
		for _, e := range entries {
			fmt.Fprintf(&sb, "- [%s] %s\n", e.OccurredOn, e.Content)
		}
	}

	return sb.String()
}

// BuildHistoryWindow maps persisted history plus the new user message into
// the ordered message slice sent upstream.
//
// # Description
//
// The window is system prompt first, then the newest MaxHistoryTurns
// persisted messages in chronological order, then the new user message.
// Callers pass history already bounded by the repository; this trims again
// defensively so the invariant does not depend on the caller.
func BuildHistoryWindow(systemPrompt string, history []datatypes.Message, userMessage string) []llm.Message {
	if len(history) > MaxHistoryTurns {
		history = history[len(history)-MaxHistoryTurns:]
	}

	out := make([]llm.Message, 0, len(history)+2)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	out = append(out, llm.Message{Role: llm.RoleUser, Content: userMessage})
	return out
}

// TitlePrompt builds the one-shot prompt used to name a conversation after
// its first exchange.
func TitlePrompt(userMessage, assistantMessage string) string {
	return fmt.Sprintf(
		"Write a title of at most five words for a conversation that starts with "+
			"the exchange below. Respond with the title only, no quotes.\n\n"+
			"User: %s\n\nAssistant: %s",
		truncate(userMessage, 500), truncate(assistantMessage, 500))
}

// ReportPrompt builds the prompt for generating a period report from
// journal entries.
//
// Style is one of "summary", "review", or "brag" (validated upstream);
// unknown styles read as "summary".
func ReportPrompt(entries []datatypes.Entry, periodStart, periodEnd, style string) string {
	var sb strings.Builder
	switch style {
	case "review":
		sb.WriteString("Write a performance-review style self-assessment covering the period ")
	case "brag":
		sb.WriteString("Write an upbeat brag document covering the period ")
	default:
		sb.WriteString("Write a concise summary of work done in the period ")
	}
	fmt.Fprintf(&sb, "%s to %s, based only on the journal entries below. "+
		"Group related work and highlight outcomes over activity.\n\n", periodStart, periodEnd)

	for _, e := range entries {
		fmt.Fprintf(&sb, "- [%s] %s\n", e.OccurredOn, e.Content)
	}
	if len(entries) == 0 {
		sb.WriteString("(no entries were logged in this period)\n")
	}
	return sb.String()
}

// truncate caps s at n bytes without splitting a multi-byte rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
