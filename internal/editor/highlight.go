// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	"maps"
	"sync"
)

// HighlightKind distinguishes pointer hover from click highlights.
type HighlightKind string

const (
	HighlightHover HighlightKind = "hover"
	HighlightClick HighlightKind = "click"
)

// Highlight is an active highlight over [Start, End).
type Highlight struct {
	Start int
	End   int
	Kind  HighlightKind
	Attrs map[string]string
}

// Highlighter manages at most one hover and one click highlight on a
// document. Where both cover the same text only the click mark is applied.
type Highlighter struct {
	mu    sync.Mutex
	doc   *Document
	hover *Highlight
	click *Highlight
}

// NewHighlighter creates a highlighter for doc.
func NewHighlighter(doc *Document) *Highlighter {
	return &Highlighter{doc: doc}
}

// Hover replaces the hover highlight.
func (h *Highlighter) Hover(start, end int, attrs map[string]string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.doc.checkRange(start, end); err != nil {
		return err
	}
	h.hover = &Highlight{Start: start, End: end, Kind: HighlightHover, Attrs: maps.Clone(attrs)}
	return h.applyHoverLocked()
}

// ClearHover removes the hover highlight.
func (h *Highlighter) ClearHover() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.hover = nil
	return h.applyHoverLocked()
}

// Click replaces the click highlight and trims the hover mark around it.
func (h *Highlighter) Click(start, end int, attrs map[string]string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.doc.checkRange(start, end); err != nil {
		return err
	}
	if err := h.doc.RemoveMark(0, h.doc.Len(), MarkClickHighlight); err != nil {
		return err
	}
	h.click = &Highlight{Start: start, End: end, Kind: HighlightClick, Attrs: maps.Clone(attrs)}
	if err := h.doc.AddMark(start, end, MarkClickHighlight, attrs); err != nil {
		return err
	}
	return h.applyHoverLocked()
}

// ClearClick removes the click highlight and restores the full hover mark.
func (h *Highlighter) ClearClick() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.click = nil
	if err := h.doc.RemoveMark(0, h.doc.Len(), MarkClickHighlight); err != nil {
		return err
	}
	return h.applyHoverLocked()
}

// Active returns the current highlights, click first.
func (h *Highlighter) Active() []Highlight {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Highlight
	for _, hl := range []*Highlight{h.click, h.hover} {
		if hl != nil {
			c := *hl
			c.Attrs = maps.Clone(hl.Attrs)
			out = append(out, c)
		}
	}
	return out
}

// applyHoverLocked redraws the hover mark over the hover range minus the
// click range. Ranges are clamped to the current document length.
func (h *Highlighter) applyHoverLocked() error {
	n := h.doc.Len()
	if err := h.doc.RemoveMark(0, n, MarkHoverHighlight); err != nil {
		return err
	}
	if h.hover == nil {
		return nil
	}

	start, end := min(h.hover.Start, n), min(h.hover.End, n)
	segments := [][2]int{{start, end}}
	if h.click != nil {
		cs, ce := min(h.click.Start, n), min(h.click.End, n)
		segments = [][2]int{{start, min(end, cs)}, {max(start, ce), end}}
	}
	for _, seg := range segments {
		if seg[0] >= seg[1] {
			continue
		}
		if err := h.doc.AddMark(seg[0], seg[1], MarkHoverHighlight, h.hover.Attrs); err != nil {
			return err
		}
	}
	return nil
}
