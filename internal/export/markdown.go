// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports transcripts to Markdown.
type MarkdownExporter struct {
	options Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts Options) *MarkdownExporter {
	return &MarkdownExporter{options: opts}
}

// Export converts a transcript to Markdown with a YAML front matter block.
func (e *MarkdownExporter) Export(t Transcript) ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	conv := t.Conversation

	var sb strings.Builder
	sb.WriteString("---\n")
	fmt.Fprintf(&sb, "title: %s\n", escapeYAML(t.Title()))
	fmt.Fprintf(&sb, "case: %s\n", conv.CaseID)
	if conv.Endpoint != "" {
		fmt.Fprintf(&sb, "endpoint: %s\n", conv.Endpoint)
	}
	fmt.Fprintf(&sb, "date: %s\n", conv.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "messages: %d\n", len(t.Messages))
	sb.WriteString("---\n\n")

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(t.Title()))

	for i, msg := range t.Messages {
		if e.options.IncludeTimestamps {
			fmt.Fprintf(&sb, "**%s** (%s):\n\n", roleLabel(msg.Role), formatShortTimestamp(msg.CreatedAt))
		} else {
			fmt.Fprintf(&sb, "**%s**:\n\n", roleLabel(msg.Role))
		}
		sb.WriteString(strings.TrimRight(msg.Content, "\n"))
		sb.WriteString("\n\n")

		if e.options.IncludeSources && len(msg.Sources) > 0 {
			sb.WriteString("Sources:\n\n")
			for n, src := range msg.Sources {
				fmt.Fprintf(&sb, "%d. [%s](%s)\n", n+1, escapeMarkdown(sourceLabel(src.Title, src.URL)), src.URL)
			}
			sb.WriteString("\n")
		}

		if i < len(t.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break formatting in headings
// and link text.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer(
		"#", `\#`,
		"*", `\*`,
		"_", `\_`,
		"[", `\[`,
		"]", `\]`,
	)
	return r.Replace(s)
}

// escapeYAML quotes s when it holds characters special to YAML.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, `\`, `\\`)
		s = strings.ReplaceAll(s, `"`, `\"`)
		s = strings.ReplaceAll(s, "\n", `\n`)
		s = strings.ReplaceAll(s, "\r", `\r`)
		return `"` + s + `"`
	}
	return s
}
