// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeranaias/casedesk/internal/editor"
)

// Analysis is the stored result of analyzing a document.
type Analysis struct {
	ID         string        `json:"id"`
	DocumentID string        `json:"document_id"`
	Summary    string        `json:"summary,omitempty"`
	Spans      []editor.Span `json:"spans"`
	CreatedAt  time.Time     `json:"created_at"`
}

// SaveAnalysis stores an analysis of an existing document.
func (d *DB) SaveAnalysis(ctx context.Context, a Analysis) (Analysis, error) {
	if a.DocumentID == "" {
		return Analysis{}, fmt.Errorf("%w: analysis needs a document", ErrInvalid)
	}
	if a.Spans == nil {
		a.Spans = []editor.Span{}
	}
	spans, err := json.Marshal(a.Spans)
	if err != nil {
		return Analysis{}, fmt.Errorf("encode spans: %w", err)
	}
	a.ID = newID()
	a.CreatedAt = d.now().UTC()

	_, err = d.db.ExecContext(ctx,
		`INSERT INTO analyses (id, document_id, summary, spans, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.DocumentID, a.Summary, string(spans), toMillis(a.CreatedAt))
	if err != nil {
		if _, gerr := d.GetDocument(ctx, a.DocumentID); gerr != nil {
			return Analysis{}, fmt.Errorf("save analysis: %w", gerr)
		}
		return Analysis{}, fmt.Errorf("save analysis: %w", err)
	}
	return a, nil
}

// ListAnalyses returns a document's analyses, newest first.
func (d *DB) ListAnalyses(ctx context.Context, documentID string) ([]Analysis, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, document_id, summary, spans, created_at
		FROM analyses WHERE document_id = ? ORDER BY created_at DESC, rowid DESC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []Analysis
	for rows.Next() {
		var (
			a       Analysis
			spans   string
			created int64
		)
		if err := rows.Scan(&a.ID, &a.DocumentID, &a.Summary, &spans, &created); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		if err := json.Unmarshal([]byte(spans), &a.Spans); err != nil {
			return nil, fmt.Errorf("decode spans of analysis %s: %w", a.ID, err)
		}
		a.CreatedAt = fromMillis(created)
		out = append(out, a)
	}
	return out, rows.Err()
}
