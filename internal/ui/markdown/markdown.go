// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markdown

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// DefaultWidth is used when the terminal width is unknown.
const DefaultWidth = 80

// Options configures a Renderer.
type Options struct {
	// Style is a glamour style name, or "auto" to follow the terminal
	// background.
	Style string
	// Width wraps output; zero means DefaultWidth.
	Width int
	// TTY enables rendering. When false text passes through unchanged so
	// piped output stays plain.
	TTY bool
}

// Renderer turns Markdown into styled terminal text.
type Renderer struct {
	tr *glamour.TermRenderer
}

// New creates a Renderer. A non-TTY renderer never touches glamour.
func New(opts Options) (*Renderer, error) {
	if !opts.TTY {
		return &Renderer{}, nil
	}
	width := opts.Width
	if width <= 0 {
		width = DefaultWidth
	}
	style := glamour.WithAutoStyle()
	if opts.Style != "" && opts.Style != "auto" {
		style = glamour.WithStandardStyle(opts.Style)
	}
	tr, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &Renderer{tr: tr}, nil
}

// Enabled reports whether the renderer styles its output.
func (r *Renderer) Enabled() bool {
	return r != nil && r.tr != nil
}

// Render returns text styled for the terminal, or text unchanged when
// rendering is disabled or fails.
func (r *Renderer) Render(text string) string {
	if !r.Enabled() {
		return text
	}
	out, err := r.tr.Render(text)
	if err != nil {
		return text
	}
	return out
}

// =============================================================================
// STREAMING
// =============================================================================

// Stream receives streamed text. With rendering disabled each chunk is
// written straight through; otherwise chunks are collected and rendered once
// on Close, since partial Markdown cannot be styled reliably.
type Stream struct {
	mu     sync.Mutex
	w      io.Writer
	r      *Renderer
	buf    strings.Builder
	closed bool
}

// NewStream writes to w through r.
func NewStream(w io.Writer, r *Renderer) *Stream {
	return &Stream{w: w, r: r}
}

// WriteString accepts one chunk.
func (s *Stream) WriteString(chunk string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if !s.r.Enabled() {
		return io.WriteString(s.w, chunk)
	}
	return s.buf.WriteString(chunk)
}

// Write implements io.Writer.
func (s *Stream) Write(p []byte) (int, error) {
	return s.WriteString(string(p))
}

// Text returns what has been collected so far. It is empty in passthrough
// mode.
func (s *Stream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Close renders collected text, or ends passthrough output with a newline
// when the stream did not end with one.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.r.Enabled() {
		_, err := io.WriteString(s.w, s.r.Render(s.buf.String()))
		return err
	}
	_, err := io.WriteString(s.w, "\n")
	return err
}

// =============================================================================
// TERMINAL
// =============================================================================

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// Width returns the terminal width of f, or fallback when it has none.
func Width(f *os.File, fallback int) int {
	if !IsTerminal(f) {
		return fallback
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}
