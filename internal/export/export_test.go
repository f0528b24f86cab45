// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/casedesk/internal/sse"
	"github.com/jeranaias/casedesk/internal/storage"
)

func testTranscript() Transcript {
	created := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	return Transcript{
		Conversation: storage.Conversation{
			ID:        "conv-1",
			CaseID:    "case-1",
			Endpoint:  "research",
			Summary:   "Limitation: contract claims",
			CreatedAt: created,
			UpdatedAt: created,
		},
		Messages: []storage.Message{
			{Role: "user", Content: "What is the limitation period?", CreatedAt: created},
			{
				Role:      "assistant",
				Content:   "Six years under **s.5**.\n\n<script>alert(1)</script>",
				Sources:   []sse.Source{{Title: "Limitation Act 1980", URL: "https://law.example/la1980"}, {URL: "javascript:alert(1)"}},
				CreatedAt: created.Add(time.Minute),
			},
		},
	}
}

func TestForFormat(t *testing.T) {
	tests := []struct {
		name string
		ext  string
		mime string
	}{
		{"", ".md", "text/markdown"},
		{"markdown", ".md", "text/markdown"},
		{"HTML", ".html", "text/html"},
		{"json", ".json", "application/json"},
	}
	for _, tt := range tests {
		e, err := ForFormat(tt.name, DefaultOptions())
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.ext, e.FileExtension())
		assert.Equal(t, tt.mime, e.MimeType())
	}

	_, err := ForFormat("pdf", DefaultOptions())
	assert.ErrorContains(t, err, "unknown format")
}

func TestMarkdownExporter(t *testing.T) {
	out, err := NewMarkdownExporter(DefaultOptions()).Export(testTranscript())
	require.NoError(t, err)
	md := string(out)

	assert.Contains(t, md, "title: \"Limitation: contract claims\"\n")
	assert.Contains(t, md, "endpoint: research\n")
	assert.Contains(t, md, "messages: 2\n")
	assert.Contains(t, md, "# Limitation: contract claims\n")
	assert.Contains(t, md, "**User** (09:30):")
	assert.Contains(t, md, "**Assistant** (09:31):")
	assert.Contains(t, md, "1. [Limitation Act 1980](https://law.example/la1980)")
	assert.Contains(t, md, "2. [javascript:alert(1)](javascript:alert(1))")

	opts := DefaultOptions()
	opts.IncludeTimestamps = false
	opts.IncludeSources = false
	out, err = NewMarkdownExporter(opts).Export(testTranscript())
	require.NoError(t, err)
	assert.Contains(t, string(out), "**Assistant**:\n")
	assert.NotContains(t, string(out), "Sources:")
}

func TestHTMLExporter_Sanitizes(t *testing.T) {
	opts := DefaultOptions()
	opts.Theme = "dark"
	out, err := NewHTMLExporter(opts).Export(testTranscript())
	require.NoError(t, err)
	page := string(out)

	assert.Contains(t, page, `<body class="dark-theme">`)
	assert.Contains(t, page, "<title>Limitation: contract claims</title>")
	assert.Contains(t, page, "<strong>s.5</strong>")
	assert.NotContains(t, page, "<script>")
	assert.Contains(t, page, `href="https://law.example/la1980"`)
	assert.NotContains(t, page, `href="javascript:`)
	assert.Contains(t, page, "Limitation Act 1980")
}

func TestHTMLExporter_UnknownThemeFallsBack(t *testing.T) {
	opts := DefaultOptions()
	opts.Theme = "neon"
	out, err := NewHTMLExporter(opts).Export(testTranscript())
	require.NoError(t, err)
	assert.Contains(t, string(out), `<body class="light-theme">`)
}

func TestJSONExporter(t *testing.T) {
	tr := testTranscript()
	out, err := NewJSONExporter(DefaultOptions()).Export(tr)
	require.NoError(t, err)

	var got Transcript
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, tr.Conversation.ID, got.Conversation.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, tr.Messages[1].Sources, got.Messages[1].Sources)

	tr.Messages = nil
	out, err = NewJSONExporter(DefaultOptions()).Export(tr)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"messages": []`)
}

func TestExport_RequiresCreationTime(t *testing.T) {
	for _, name := range Formats {
		e, err := ForFormat(name, DefaultOptions())
		require.NoError(t, err)
		_, err = e.Export(Transcript{})
		assert.ErrorIs(t, err, ErrEmptyTranscript, name)
	}
}

func TestFileName(t *testing.T) {
	tr := testTranscript()
	e := NewHTMLExporter(DefaultOptions())
	assert.Equal(t, "conversation_Limitation-_contract_claims_20250314_093000.html", FileName(tr, e))

	tr.Conversation.Summary = ""
	assert.Equal(t, "conversation_conv-1_20250314_093000.html", FileName(tr, e))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a-b-c_d", sanitizeFilename("a/b:c d"))
	assert.Equal(t, "conversation", sanitizeFilename(""))
	assert.Equal(t, "x-y", sanitizeFilename("x\x01y"))
	assert.Len(t, []rune(sanitizeFilename(string(make([]rune, 80)))), 50)
}

func TestRoleLabel(t *testing.T) {
	assert.Equal(t, "User", roleLabel("user"))
	assert.Equal(t, "Unknown", roleLabel(""))
	assert.Equal(t, "Tool", roleLabel("TOOL"))
}
