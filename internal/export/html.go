// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/jeranaias/casedesk/internal/storage"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports transcripts to a standalone HTML page with embedded
// CSS. Message bodies are rendered from Markdown and sanitized.
type HTMLExporter struct {
	options Options
	md      goldmark.Markdown
	policy  *bluemonday.Policy
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts Options) *HTMLExporter {
	if opts.Theme != "dark" {
		opts.Theme = "light"
	}
	return &HTMLExporter{
		options: opts,
		md:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy:  bluemonday.UGCPolicy(),
	}
}

// Export converts a transcript to HTML.
func (e *HTMLExporter) Export(t Transcript) ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	conv := t.Conversation
	title := html.EscapeString(t.Title())

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n")
	sb.WriteString("<html lang=\"en\">\n")
	sb.WriteString("<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "    <title>%s</title>\n", title)
	sb.WriteString("    <meta name=\"generator\" content=\"casedesk\">\n")
	fmt.Fprintf(&sb, "    <meta name=\"date\" content=\"%s\">\n", conv.CreatedAt.Format(time.RFC3339))
	sb.WriteString(css)
	sb.WriteString("</head>\n")
	fmt.Fprintf(&sb, "<body class=\"%s-theme\">\n", e.options.Theme)
	sb.WriteString("    <div class=\"container\">\n")

	sb.WriteString("        <header class=\"header\">\n")
	fmt.Fprintf(&sb, "            <h1>%s</h1>\n", title)
	sb.WriteString("            <div class=\"metadata\">\n")
	fmt.Fprintf(&sb, "                <span class=\"meta-item\"><strong>Case:</strong> %s</span>\n", html.EscapeString(conv.CaseID))
	if conv.Endpoint != "" {
		fmt.Fprintf(&sb, "                <span class=\"meta-item\"><strong>Mode:</strong> %s</span>\n", html.EscapeString(conv.Endpoint))
	}
	fmt.Fprintf(&sb, "                <span class=\"meta-item\"><strong>Created:</strong> %s</span>\n", formatTimestamp(conv.CreatedAt))
	fmt.Fprintf(&sb, "                <span class=\"meta-item\"><strong>Messages:</strong> %d</span>\n", len(t.Messages))
	sb.WriteString("            </div>\n")
	sb.WriteString("        </header>\n")

	sb.WriteString("        <main class=\"conversation\">\n")
	for _, msg := range t.Messages {
		body, err := e.renderMessage(msg)
		if err != nil {
			return nil, err
		}
		sb.WriteString(body)
	}
	sb.WriteString("        </main>\n")
	sb.WriteString("    </div>\n")
	sb.WriteString("</body>\n")
	sb.WriteString("</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

// =============================================================================
// RENDERING FUNCTIONS
// =============================================================================

func (e *HTMLExporter) renderMessage(msg storage.Message) (string, error) {
	var sb strings.Builder
	role := html.EscapeString(msg.Role)
	fmt.Fprintf(&sb, "            <div class=\"message %s-message\">\n", role)
	sb.WriteString("                <div class=\"message-header\">\n")
	fmt.Fprintf(&sb, "                    <span class=\"role\">%s</span>\n", html.EscapeString(roleLabel(msg.Role)))
	if e.options.IncludeTimestamps && !msg.CreatedAt.IsZero() {
		fmt.Fprintf(&sb, "                    <span class=\"timestamp\">%s</span>\n", formatShortTimestamp(msg.CreatedAt))
	}
	sb.WriteString("                </div>\n")

	content, err := e.renderMarkdown(msg.Content)
	if err != nil {
		return "", err
	}
	sb.WriteString("                <div class=\"message-content\">\n")
	sb.WriteString(content)
	sb.WriteString("                </div>\n")

	if e.options.IncludeSources && len(msg.Sources) > 0 {
		var list strings.Builder
		list.WriteString("<ol>")
		for _, src := range msg.Sources {
			fmt.Fprintf(&list, "<li><a href=\"%s\">%s</a></li>",
				html.EscapeString(src.URL), html.EscapeString(sourceLabel(src.Title, src.URL)))
		}
		list.WriteString("</ol>")
		sb.WriteString("                <div class=\"sources\">\n")
		sb.WriteString(e.policy.Sanitize(list.String()))
		sb.WriteString("\n                </div>\n")
	}

	sb.WriteString("            </div>\n")
	return sb.String(), nil
}

// renderMarkdown converts message Markdown to sanitized HTML.
func (e *HTMLExporter) renderMarkdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := e.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return string(e.policy.SanitizeBytes(buf.Bytes())), nil
}

// =============================================================================
// EMBEDDED CSS
// =============================================================================

const css = `    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }

        :root {
            --font-sans: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif;
            --font-mono: "SF Mono", "Monaco", "Inconsolata", "Fira Code", "Source Code Pro", monospace;
        }

        .dark-theme {
            --bg-primary: #1a1b26;
            --bg-secondary: #24283b;
            --bg-tertiary: #414868;
            --text-primary: #c0caf5;
            --text-secondary: #a9b1d6;
            --text-muted: #565f89;
            --border-color: #414868;
            --user-bg: #1f2335;
            --assistant-bg: #24283b;
            --code-bg: #1a1b26;
            --accent: #7aa2f7;
        }

        .light-theme {
            --bg-primary: #ffffff;
            --bg-secondary: #f7f8fa;
            --bg-tertiary: #e1e4e8;
            --text-primary: #24292e;
            --text-secondary: #586069;
            --text-muted: #6a737d;
            --border-color: #e1e4e8;
            --user-bg: #f6f8fa;
            --assistant-bg: #ffffff;
            --code-bg: #f6f8fa;
            --accent: #0366d6;
        }

        body {
            font-family: var(--font-sans);
            font-size: 16px;
            line-height: 1.6;
            color: var(--text-primary);
            background: var(--bg-primary);
            padding: 20px;
        }

        .container {
            max-width: 900px;
            margin: 0 auto;
            background: var(--bg-secondary);
            border-radius: 12px;
            overflow: hidden;
        }

        .header {
            padding: 32px;
            background: var(--bg-tertiary);
            border-bottom: 2px solid var(--border-color);
        }

        .header h1 { font-size: 28px; margin-bottom: 16px; }

        .metadata {
            display: flex;
            flex-wrap: wrap;
            gap: 16px;
            font-size: 14px;
            color: var(--text-secondary);
        }

        .conversation { padding: 24px 32px; }

        .message {
            margin-bottom: 24px;
            padding: 16px 20px;
            border: 1px solid var(--border-color);
            border-radius: 8px;
        }

        .user-message { background: var(--user-bg); }
        .assistant-message { background: var(--assistant-bg); }

        .message-header {
            display: flex;
            justify-content: space-between;
            margin-bottom: 8px;
            font-size: 14px;
        }

        .role { font-weight: 600; color: var(--accent); }
        .timestamp { color: var(--text-muted); }

        .message-content p { margin-bottom: 12px; }
        .message-content ul, .message-content ol { margin: 0 0 12px 24px; }

        .message-content code {
            font-family: var(--font-mono);
            font-size: 14px;
            background: var(--code-bg);
            padding: 2px 4px;
            border-radius: 4px;
        }

        .message-content pre {
            background: var(--code-bg);
            padding: 12px;
            border-radius: 6px;
            overflow-x: auto;
            margin-bottom: 12px;
        }

        .sources ol {
            margin: 12px 0 0 24px;
            font-size: 14px;
            color: var(--text-secondary);
        }

        .sources a { color: var(--accent); }

        @media print {
            body { padding: 0; }
            .container { border-radius: 0; }
        }
    </style>
`
