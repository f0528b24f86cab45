// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	"fmt"
	"slices"
	"strconv"
)

// Span is one finding of a document analysis over the rune range
// [Start, End).
type Span struct {
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Label       string `json:"label"`
	Explanation string `json:"explanation,omitempty"`
}

// Attrs returns the mark attributes that carry the span's annotation.
func (s Span) Attrs(index int) map[string]string {
	attrs := map[string]string{
		"label": s.Label,
		"index": strconv.Itoa(index),
	}
	if s.Explanation != "" {
		attrs["explanation"] = s.Explanation
	}
	return attrs
}

// ApplyAnalysis replaces all analysis marks with one mark per span in a
// single change. Spans may overlap; each keeps its own mark. Spans that fall
// outside the document are rejected before anything changes.
func (d *Document) ApplyAnalysis(spans []Span) error {
	d.mu.Lock()
	n := len(d.text)
	for i, s := range spans {
		if s.Start < 0 || s.End > n || s.Start > s.End {
			d.mu.Unlock()
			return fmt.Errorf("%w: span %d [%d,%d) in document of length %d", ErrOutOfRange, i, s.Start, s.End, n)
		}
	}
	marks := removeKind(d.marks, 0, n, MarkAnalysis)
	for i, s := range spans {
		if s.Start == s.End {
			continue
		}
		marks = append(marks, Mark{Start: s.Start, End: s.End, Kind: MarkAnalysis, Attrs: s.Attrs(i)})
	}
	marks = sortMarks(marks)
	if slices.EqualFunc(marks, d.marks, markEqual) {
		d.mu.Unlock()
		return nil
	}
	d.marks = marks
	c := d.commitLocked(OpMark, 0, n, string(MarkAnalysis))
	d.mu.Unlock()

	d.notify(c)
	return nil
}

// ClampSpans drops spans that do not fit a text of n runes and clamps
// overhanging ends.
func ClampSpans(spans []Span, n int) []Span {
	out := make([]Span, 0, len(spans))
	for _, s := range spans {
		s.Start = max(s.Start, 0)
		s.End = min(s.End, n)
		if s.Start >= s.End {
			continue
		}
		out = append(out, s)
	}
	return out
}
