// Copyright (C) 2025 Worklog Labs (dev@worklog.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/worklog-ai/worklog/services/journal/datatypes"
)

// =============================================================================
// Conversations
// =============================================================================

// CreateConversation inserts a new conversation row.
func (s *Store) CreateConversation(ctx context.Context, c *datatypes.Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title, mode, project_id, goal_id, contact_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, c.Mode, c.ProjectID, c.GoalID, c.ContactID,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// FindConversationByIDForUser loads a conversation scoped to its owner.
//
// Returns ErrNotFound both when the id does not exist and when it belongs
// to a different user, so callers cannot distinguish the two.
func (s *Store) FindConversationByIDForUser(ctx context.Context, id, userID string) (*datatypes.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, mode, project_id, goal_id, contact_id, created_at, updated_at
		FROM conversations WHERE id = ? AND user_id = ?`, id, userID)
	return scanConversation(row)
}

// ListConversations returns the user's conversations, most recent first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]datatypes.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, mode, project_id, goal_id, contact_id, created_at, updated_at
		FROM conversations WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []datatypes.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateConversation updates the title (when non-nil) and the updated-at
// timestamp of a conversation.
func (s *Store) UpdateConversation(ctx context.Context, id string, title *string, updatedAt time.Time) error {
	var err error
	if title != nil {
		_, err = s.db.ExecContext(ctx,
			`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
			*title, formatTime(updatedAt), id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE id = ?`,
			formatTime(updatedAt), id)
	}
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	return nil
}

// DeleteConversation removes a conversation and its messages, scoped to
// the owner. Returns ErrNotFound if nothing was deleted.
func (s *Store) DeleteConversation(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation messages: %w", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*datatypes.Conversation, error) {
	var c datatypes.Conversation
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Mode, &c.ProjectID, &c.GoalID, &c.ContactID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// =============================================================================
// Messages
// =============================================================================

// CreateMessage inserts a message row.
func (s *Store) CreateMessage(ctx context.Context, m *datatypes.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content, formatTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// ListRecentMessages returns the newest limit messages of a conversation
// in chronological order. Used to replay bounded history upstream.
func (s *Store) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]datatypes.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at FROM (
			SELECT id, conversation_id, role, content, created_at
			FROM messages WHERE conversation_id = ?
			ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []datatypes.Message
	for rows.Next() {
		var m datatypes.Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListMessages returns all messages of a conversation in chronological
// order, after verifying ownership.
func (s *Store) ListMessages(ctx context.Context, conversationID, userID string) ([]datatypes.Message, error) {
	if _, err := s.FindConversationByIDForUser(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.ListRecentMessages(ctx, conversationID, 1<<20)
}

// CountMessages returns the number of messages in a conversation.
func (s *Store) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}
