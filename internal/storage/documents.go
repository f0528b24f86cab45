// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jeranaias/casedesk/internal/editor"
)

// Document is a stored editor document.
type Document struct {
	ID        string           `json:"id"`
	CaseID    string           `json:"case_id"`
	Title     string           `json:"title"`
	Content   *editor.Document `json:"content"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// DocumentMeta lists a document without its content.
type DocumentMeta struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"case_id"`
	Title     string    `json:"title"`
	Length    int       `json:"length"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SaveDocument inserts or replaces a document. The case must exist.
func (d *DB) SaveDocument(ctx context.Context, doc Document) (Document, error) {
	if doc.CaseID == "" || doc.Title == "" {
		return Document{}, fmt.Errorf("%w: document needs a case and a title", ErrInvalid)
	}
	if doc.Content == nil {
		doc.Content = editor.NewDocument("")
	}
	if doc.ID == "" {
		doc.ID = newID()
	}
	content, err := json.Marshal(doc.Content)
	if err != nil {
		return Document{}, fmt.Errorf("encode document: %w", err)
	}

	now := d.now().UTC()
	err = d.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireCase(ctx, tx, doc.CaseID); err != nil {
			return err
		}
		var created int64
		err := tx.QueryRowContext(ctx, `SELECT created_at FROM documents WHERE id = ?`, doc.ID).Scan(&created)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			created = toMillis(now)
		case err != nil:
			return err
		}
		doc.CreatedAt = fromMillis(created)

		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (id, case_id, title, content, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				case_id = excluded.case_id,
				title = excluded.title,
				content = excluded.content,
				version = excluded.version,
				updated_at = excluded.updated_at`,
			doc.ID, doc.CaseID, doc.Title, string(content), int64(doc.Content.Version()), created, toMillis(now))
		if err != nil {
			return err
		}
		return touchCase(ctx, tx, doc.CaseID, now)
	})
	if err != nil {
		return Document{}, fmt.Errorf("save document: %w", err)
	}
	doc.UpdatedAt = now
	return doc, nil
}

// GetDocument loads a document with its content.
func (d *DB) GetDocument(ctx context.Context, id string) (Document, error) {
	var (
		doc              Document
		content          string
		created, updated int64
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, case_id, title, content, created_at, updated_at FROM documents WHERE id = ?`, id).
		Scan(&doc.ID, &doc.CaseID, &doc.Title, &content, &created, &updated)
	if err != nil {
		return Document{}, notFound(err, "document", id)
	}
	doc.Content = editor.NewDocument("")
	if err := json.Unmarshal([]byte(content), doc.Content); err != nil {
		return Document{}, fmt.Errorf("decode document %s: %w", id, err)
	}
	doc.CreatedAt, doc.UpdatedAt = fromMillis(created), fromMillis(updated)
	return doc, nil
}

// ListDocuments returns the documents of a case, most recently updated
// first.
func (d *DB) ListDocuments(ctx context.Context, caseID string) ([]DocumentMeta, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, case_id, title, length(json_extract(content, '$.text')), updated_at
		FROM documents WHERE case_id = ? ORDER BY updated_at DESC, id`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentMeta
	for rows.Next() {
		var (
			m       DocumentMeta
			updated int64
		)
		if err := rows.Scan(&m.ID, &m.CaseID, &m.Title, &m.Length, &updated); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		m.UpdatedAt = fromMillis(updated)
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteDocument removes a document and its analyses.
func (d *DB) DeleteDocument(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return expectRow(res, "document", id)
}

func requireCase(ctx context.Context, tx *sql.Tx, id string) error {
	var got string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM cases WHERE id = ?`, id).Scan(&got); err != nil {
		return notFound(err, "case", id)
	}
	return nil
}
