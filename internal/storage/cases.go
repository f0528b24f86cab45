// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Case is a legal matter grouping documents and conversations.
type Case struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Client    string    `json:"client,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateCase inserts c, assigning an ID when empty, and returns the stored
// record.
func (d *DB) CreateCase(ctx context.Context, c Case) (Case, error) {
	c.Title = strings.TrimSpace(c.Title)
	if c.Title == "" {
		return Case{}, fmt.Errorf("%w: case title is required", ErrInvalid)
	}
	if c.ID == "" {
		c.ID = newID()
	}
	now := d.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO cases (id, title, client, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Client, toMillis(now), toMillis(now))
	if err != nil {
		return Case{}, fmt.Errorf("create case: %w", err)
	}
	return c, nil
}

// GetCase returns the case with id.
func (d *DB) GetCase(ctx context.Context, id string) (Case, error) {
	var (
		c                Case
		created, updated int64
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, title, client, created_at, updated_at FROM cases WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &c.Client, &created, &updated)
	if err != nil {
		return Case{}, notFound(err, "case", id)
	}
	c.CreatedAt, c.UpdatedAt = fromMillis(created), fromMillis(updated)
	return c, nil
}

// ListCases returns all cases, most recently updated first.
func (d *DB) ListCases(ctx context.Context) ([]Case, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, title, client, created_at, updated_at FROM cases ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var out []Case
	for rows.Next() {
		var (
			c                Case
			created, updated int64
		)
		if err := rows.Scan(&c.ID, &c.Title, &c.Client, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		c.CreatedAt, c.UpdatedAt = fromMillis(created), fromMillis(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCase removes a case with its documents, conversations and analyses.
func (d *DB) DeleteCase(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM cases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	return expectRow(res, "case", id)
}

// touchCase bumps a case's updated_at inside a transaction.
func touchCase(ctx context.Context, tx execer, id string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE cases SET updated_at = ? WHERE id = ?`, toMillis(at), id)
	return err
}
