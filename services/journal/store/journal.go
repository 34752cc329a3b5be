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

	"github.com/worklog-ai/worklog/services/journal/datatypes"
)

// =============================================================================
// Profile, Projects, Goals, Contacts (context-builder reads)
// =============================================================================

// GetUserProfile loads the journal owner's profile. Returns an empty
// profile (not ErrNotFound) when none has been saved yet; the context
// builder treats a blank profile as "no personal framing".
func (s *Store) GetUserProfile(ctx context.Context, userID string) (*datatypes.UserProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, title, bio FROM users WHERE id = ?`, userID)

	var p datatypes.UserProfile
	err := row.Scan(&p.ID, &p.Name, &p.Title, &p.Bio)
	if errors.Is(err, sql.ErrNoRows) {
		return &datatypes.UserProfile{ID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}
	return &p, nil
}

// UpsertUserProfile creates or replaces the user's profile row.
func (s *Store) UpsertUserProfile(ctx context.Context, p *datatypes.UserProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, title, bio) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, title = excluded.title, bio = excluded.bio`,
		p.ID, p.Name, p.Title, p.Bio)
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}
	return nil
}

// ListActiveProjects returns the user's projects with status 'active'.
func (s *Store) ListActiveProjects(ctx context.Context, userID string) ([]datatypes.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, description, status, created_at
		FROM projects WHERE user_id = ? AND status = 'active' ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var out []datatypes.Project
	for rows.Next() {
		var p datatypes.Project
		var createdAt string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		p.CreatedAt = parseTime(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListActiveGoals returns the user's goals with status 'active'.
func (s *Store) ListActiveGoals(ctx context.Context, userID string) ([]datatypes.Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, description, status, target_date, created_at
		FROM goals WHERE user_id = ? AND status = 'active' ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing goals: %w", err)
	}
	defer rows.Close()

	var out []datatypes.Goal
	for rows.Next() {
		var g datatypes.Goal
		var createdAt string
		var targetDate *string
		if err := rows.Scan(&g.ID, &g.UserID, &g.Title, &g.Description, &g.Status, &targetDate, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning goal: %w", err)
		}
		g.CreatedAt = parseTime(createdAt)
		if targetDate != nil {
			t := parseTime(*targetDate)
			g.TargetDate = &t
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListContacts returns all of the user's contacts.
func (s *Store) ListContacts(ctx context.Context, userID string) ([]datatypes.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, role, company, notes, created_at
		FROM contacts WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}
	defer rows.Close()

	var out []datatypes.Contact
	for rows.Next() {
		var c datatypes.Contact
		var createdAt string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Role, &c.Company, &c.Notes, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning contact: %w", err)
		}
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// Entries
// =============================================================================

// CreateEntry inserts an accomplishment entry.
func (s *Store) CreateEntry(ctx context.Context, e *datatypes.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (id, user_id, project_id, content, occurred_on, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.ProjectID, e.Content, e.OccurredOn, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting entry: %w", err)
	}
	return nil
}

// ListEntriesBetween returns the user's entries whose occurred_on date
// falls in [start, end], oldest first. Dates are YYYY-MM-DD strings.
func (s *Store) ListEntriesBetween(ctx context.Context, userID, start, end string) ([]datatypes.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, project_id, content, occurred_on, created_at
		FROM entries WHERE user_id = ? AND occurred_on >= ? AND occurred_on <= ?
		ORDER BY occurred_on, created_at`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	var out []datatypes.Entry
	for rows.Next() {
		var e datatypes.Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.ProjectID, &e.Content, &e.OccurredOn, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListRecentEntries returns the user's newest limit entries, newest first.
func (s *Store) ListRecentEntries(ctx context.Context, userID string, limit int) ([]datatypes.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, project_id, content, occurred_on, created_at
		FROM entries WHERE user_id = ?
		ORDER BY occurred_on DESC, created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent entries: %w", err)
	}
	defer rows.Close()

	var out []datatypes.Entry
	for rows.Next() {
		var e datatypes.Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.ProjectID, &e.Content, &e.OccurredOn, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// Reports
// =============================================================================

// CreateReport persists a finished AI-written report.
func (s *Store) CreateReport(ctx context.Context, r *datatypes.Report) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, user_id, period_start, period_end, style, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.PeriodStart, r.PeriodEnd, r.Style, r.Content, formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting report: %w", err)
	}
	return nil
}
