// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/casedesk/internal/sse"
	"github.com/jeranaias/casedesk/internal/util"
)

// =============================================================================
// TYPES
// =============================================================================

// Conversation is one chat or research thread inside a case.
type Conversation struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"case_id"`
	Endpoint  string    `json:"endpoint"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a persisted conversation turn.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Seq            int          `json:"seq"`
	Role           string       `json:"role"`
	Content        string       `json:"content"`
	Sources        []sse.Source `json:"sources,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ConversationMeta contains metadata for listing conversations.
type ConversationMeta struct {
	Conversation
	MessageCount int    `json:"message_count"`
	Preview      string `json:"preview"`
}

const (
	summaryRunes = 50
	previewRunes = 80
)

// =============================================================================
// OPERATIONS
// =============================================================================

// CreateConversation starts a conversation in an existing case.
func (d *DB) CreateConversation(ctx context.Context, caseID, endpoint string) (Conversation, error) {
	if caseID == "" || endpoint == "" {
		return Conversation{}, fmt.Errorf("%w: conversation needs a case and an endpoint", ErrInvalid)
	}
	now := d.now().UTC()
	c := Conversation{ID: newID(), CaseID: caseID, Endpoint: endpoint, CreatedAt: now, UpdatedAt: now}

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireCase(ctx, tx, caseID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (id, case_id, endpoint, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.CaseID, c.Endpoint, toMillis(now), toMillis(now))
		return err
	})
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// GetConversation returns a conversation without its messages.
func (d *DB) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var (
		c                Conversation
		created, updated int64
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, case_id, endpoint, summary, created_at, updated_at FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.CaseID, &c.Endpoint, &c.Summary, &created, &updated)
	if err != nil {
		return Conversation{}, notFound(err, "conversation", id)
	}
	c.CreatedAt, c.UpdatedAt = fromMillis(created), fromMillis(updated)
	return c, nil
}

// AppendMessage adds a message at the end of a conversation. The first user
// message becomes the conversation summary.
func (d *DB) AppendMessage(ctx context.Context, conversationID string, m Message) (Message, error) {
	if m.Role == "" {
		return Message{}, fmt.Errorf("%w: message role is required", ErrInvalid)
	}
	sources, err := json.Marshal(m.Sources)
	if err != nil {
		return Message{}, fmt.Errorf("encode sources: %w", err)
	}
	if m.Sources == nil {
		sources = []byte("[]")
	}

	now := d.now().UTC()
	m.ID = newID()
	m.ConversationID = conversationID
	m.CreatedAt = now

	err = d.withTx(ctx, func(tx *sql.Tx) error {
		var caseID, summary string
		err := tx.QueryRowContext(ctx, `SELECT case_id, summary FROM conversations WHERE id = ?`, conversationID).
			Scan(&caseID, &summary)
		if err != nil {
			return notFound(err, "conversation", conversationID)
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`, conversationID).
			Scan(&m.Seq); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, seq, role, content, sources, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, conversationID, m.Seq, m.Role, m.Content, string(sources), toMillis(now)); err != nil {
			return err
		}
		if summary == "" && m.Role == "user" {
			summary = Summarize(m.Content, summaryRunes)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET summary = ?, updated_at = ? WHERE id = ?`,
			summary, toMillis(now), conversationID); err != nil {
			return err
		}
		return touchCase(ctx, tx, caseID, now)
	})
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

// ListMessages returns a conversation's messages in order.
func (d *DB) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, conversation_id, seq, role, content, sources, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m       Message
			sources string
			created int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.Role, &m.Content, &sources, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(sources), &m.Sources); err != nil {
			return nil, fmt.Errorf("decode sources of message %s: %w", m.ID, err)
		}
		m.CreatedAt = fromMillis(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListConversations returns a case's conversations, most recent first.
// A non-empty query keeps only conversations with a message containing it.
func (d *DB) ListConversations(ctx context.Context, caseID, query string) ([]ConversationMeta, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT c.id, c.case_id, c.endpoint, c.summary, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
			COALESCE((SELECT m.content FROM messages m
				WHERE m.conversation_id = c.id AND m.role = 'user' ORDER BY m.seq LIMIT 1), '')
		FROM conversations c
		WHERE c.case_id = ?
			AND (? = '' OR EXISTS (SELECT 1 FROM messages m
				WHERE m.conversation_id = c.id AND instr(lower(m.content), lower(?)) > 0))
		ORDER BY c.updated_at DESC, c.id`, caseID, query, query)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationMeta
	for rows.Next() {
		var (
			m                Conversation
			meta             ConversationMeta
			created, updated int64
		)
		if err := rows.Scan(&m.ID, &m.CaseID, &m.Endpoint, &m.Summary, &created, &updated,
			&meta.MessageCount, &meta.Preview); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		m.CreatedAt, m.UpdatedAt = fromMillis(created), fromMillis(updated)
		meta.Conversation = m
		meta.Preview = util.TruncateRunes(meta.Preview, previewRunes)
		out = append(out, meta)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation and its messages.
func (d *DB) DeleteConversation(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return expectRow(res, "conversation", id)
}

// Summarize collapses whitespace and truncates s to maxRunes for use as a
// one-line title.
func Summarize(s string, maxRunes int) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "New conversation"
	}
	return util.TruncateRunes(s, maxRunes)
}
