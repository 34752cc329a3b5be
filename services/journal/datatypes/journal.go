// Copyright (C) 2025 Worklog Labs (dev@worklog.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// =============================================================================
// Conversation Modes
// =============================================================================

// Conversation modes select the mentor persona used for the system prompt.
const (
	ModeGeneral   = "general"
	ModeGoalCoach = "goal-coach"
	ModeInterview = "interview"
)

// DefaultTitles are the placeholder titles assigned at conversation
// creation. A conversation still carrying one of these after its first
// turn is eligible for AI title generation.
var DefaultTitles = map[string]string{
	ModeGeneral:   "New Conversation",
	ModeGoalCoach: "Goal Coaching Session",
	ModeInterview: "Interview Practice",
}

// IsDefaultTitle reports whether title is one of the placeholders.
func IsDefaultTitle(title string) bool {
	for _, t := range DefaultTitles {
		if title == t {
			return true
		}
	}
	return false
}

// =============================================================================
// Message Roles
// =============================================================================

// Message roles as persisted and as replayed to the upstream model.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// =============================================================================
// Persisted Entities
// =============================================================================

// Conversation is a chat thread between a user and the AI mentor.
//
// The streaming pipeline mutates only Title and UpdatedAt (during
// finalization); everything else is set at creation.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Mode      string    `json:"mode"`
	ProjectID *string   `json:"projectId,omitempty"`
	GoalID    *string   `json:"goalId,omitempty"`
	ContactID *string   `json:"contactId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is one persisted turn of a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Project groups journal entries under a named effort.
type Project struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Goal is a longer-horizon objective the mentor coaches toward.
type Goal struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	TargetDate  *time.Time `json:"targetDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Contact is a person referenced from conversations and entries.
type Contact struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Company   string    `json:"company"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"createdAt"`
}

// Entry is a single logged accomplishment.
type Entry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	ProjectID  *string   `json:"projectId,omitempty"`
	Content    string    `json:"content"`
	OccurredOn string    `json:"occurredOn"` // YYYY-MM-DD
	CreatedAt  time.Time `json:"createdAt"`
}

// Report is a persisted AI-written summary of a period of entries.
type Report struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	PeriodStart string    `json:"periodStart"`
	PeriodEnd   string    `json:"periodEnd"`
	Style       string    `json:"style"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

// UserProfile is the journal owner's profile, fed into the system prompt.
type UserProfile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title"`
	Bio   string `json:"bio"`
}

// =============================================================================
// CRUD Request Types
// =============================================================================

// CreateConversationRequest is the body of POST /v1/conversations.
type CreateConversationRequest struct {
	Mode      string  `json:"mode" validate:"omitempty,oneof=general goal-coach interview"`
	ProjectID *string `json:"projectId"`
	GoalID    *string `json:"goalId"`
	ContactID *string `json:"contactId"`
}

// Validate checks the request against the field rules above.
func (r *CreateConversationRequest) Validate() error {
	return chatValidate.Struct(r)
}

// CreateEntryRequest is the body of POST /v1/entries.
type CreateEntryRequest struct {
	Content    string  `json:"content" validate:"required,notblank,maxbytes"`
	ProjectID  *string `json:"projectId"`
	OccurredOn string  `json:"occurredOn" validate:"omitempty,datetime=2006-01-02"`
}

// Validate checks the request against the field rules above.
func (r *CreateEntryRequest) Validate() error {
	return chatValidate.Struct(r)
}
