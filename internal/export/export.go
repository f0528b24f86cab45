// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/casedesk/internal/storage"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter renders a transcript in one output format.
type Exporter interface {
	// Export converts a transcript to the target format.
	Export(t Transcript) ([]byte, error)

	// FileExtension returns the file extension, including the dot.
	FileExtension() string

	// MimeType returns the MIME type of the exported bytes.
	MimeType() string
}

// Transcript is a conversation together with its messages in order.
type Transcript struct {
	Conversation storage.Conversation `json:"conversation"`
	Messages     []storage.Message    `json:"messages"`
}

// Title is the heading used for the transcript.
func (t Transcript) Title() string {
	if t.Conversation.Summary != "" {
		return t.Conversation.Summary
	}
	return t.Conversation.ID
}

// ErrEmptyTranscript is returned for a transcript without a creation time.
var ErrEmptyTranscript = errors.New("export: conversation has no creation time")

func (t Transcript) validate() error {
	if t.Conversation.CreatedAt.IsZero() {
		return ErrEmptyTranscript
	}
	return nil
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// IncludeTimestamps adds the time of each message.
	IncludeTimestamps bool

	// IncludeSources lists research sources under the messages that cite them.
	IncludeSources bool

	// Theme for HTML export ("light" or "dark").
	// Default: "light"
	Theme string
}

// DefaultOptions returns default export options.
func DefaultOptions() Options {
	return Options{
		IncludeTimestamps: true,
		IncludeSources:    true,
		Theme:             "light",
	}
}

// =============================================================================
// FORMATS
// =============================================================================

// Formats lists the names accepted by ForFormat.
var Formats = []string{"md", "html", "json"}

// ForFormat returns the exporter for a format name.
func ForFormat(name string, opts Options) (Exporter, error) {
	switch strings.ToLower(name) {
	case "", "md", "markdown":
		return NewMarkdownExporter(opts), nil
	case "html":
		return NewHTMLExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	}
	return nil, fmt.Errorf("export: unknown format %q (want one of %s)", name, strings.Join(Formats, ", "))
}

// FileName suggests a file name for the transcript in the exporter's format.
func FileName(t Transcript, e Exporter) string {
	return fmt.Sprintf("conversation_%s_%s%s",
		sanitizeFilename(t.Title()),
		t.Conversation.CreatedAt.Format("20060102_150405"),
		e.FileExtension(),
	)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	const maxLen = 50
	runes := []rune(s)
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}

	result := make([]rune, 0, len(runes))
	for _, r := range runes {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			result = append(result, '-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			result = append(result, '_')
		case r < 32 || r == 127:
			result = append(result, '-')
		default:
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return "conversation"
	}
	return string(result)
}

// roleLabel returns the display label for a message role.
func roleLabel(role string) string {
	switch role {
	case "user":
		return "User"
	case "assistant":
		return "Assistant"
	case "system":
		return "System"
	case "":
		return "Unknown"
	}
	runes := []rune(role)
	return strings.ToUpper(string(runes[0])) + strings.ToLower(string(runes[1:]))
}

// sourceLabel is the link text for a source.
func sourceLabel(title, url string) string {
	if title != "" {
		return title
	}
	return url
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// formatShortTimestamp formats a timestamp for inline display.
func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04")
}
