// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	"cmp"
	"maps"
	"slices"
)

// MarkKind names an inline annotation type.
type MarkKind string

const (
	// MarkHoverHighlight is applied while the pointer rests on an analysis result.
	MarkHoverHighlight MarkKind = "highlight-hover"

	// MarkClickHighlight is applied to the analysis result last clicked.
	MarkClickHighlight MarkKind = "highlight-click"

	// MarkAnalysis tags a span identified by document analysis.
	MarkAnalysis MarkKind = "analysis"
)

// Mark is an inline annotation over the rune range [Start, End).
type Mark struct {
	Start int               `json:"start"`
	End   int               `json:"end"`
	Kind  MarkKind          `json:"kind"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Contains reports whether pos lies inside the mark.
func (m Mark) Contains(pos int) bool {
	return m.Start <= pos && pos < m.End
}

// =============================================================================
// MARK OPERATIONS
// =============================================================================

// AddMark applies kind with attrs over [start, end). Existing marks of the
// same kind in that range are replaced; touching or overlapping marks with
// equal attributes are merged. An empty range is a no-op.
func (d *Document) AddMark(start, end int, kind MarkKind, attrs map[string]string) error {
	d.mu.Lock()
	if err := d.checkRangeLocked(start, end); err != nil {
		d.mu.Unlock()
		return err
	}
	if start == end {
		d.mu.Unlock()
		return nil
	}
	d.marks = removeKind(d.marks, start, end, kind)
	d.marks = append(d.marks, Mark{Start: start, End: end, Kind: kind, Attrs: maps.Clone(attrs)})
	d.marks = mergeMarks(sortMarks(d.marks))
	c := d.commitLocked(OpMark, start, end, string(kind))
	d.mu.Unlock()

	d.notify(c)
	return nil
}

// RemoveMark removes kind from [start, end), splitting marks that extend
// beyond the range.
func (d *Document) RemoveMark(start, end int, kind MarkKind) error {
	d.mu.Lock()
	if err := d.checkRangeLocked(start, end); err != nil {
		d.mu.Unlock()
		return err
	}
	before := len(d.marks)
	next := removeKind(d.marks, start, end, kind)
	if len(next) == before && slices.EqualFunc(next, d.marks, markEqual) {
		d.mu.Unlock()
		return nil
	}
	d.marks = sortMarks(next)
	c := d.commitLocked(OpUnmark, start, end, string(kind))
	d.mu.Unlock()

	d.notify(c)
	return nil
}

// Marks returns a copy of all marks ordered by start offset.
func (d *Document) Marks() []Mark {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return cloneMarks(d.marks)
}

// MarksAt returns the marks covering pos.
func (d *Document) MarksAt(pos int) []Mark {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Mark
	for _, m := range d.marks {
		if m.Contains(pos) {
			out = append(out, cloneMark(m))
		}
	}
	return out
}

// MarksOfKind returns the marks of one kind ordered by start offset.
func (d *Document) MarksOfKind(kind MarkKind) []Mark {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Mark
	for _, m := range d.marks {
		if m.Kind == kind {
			out = append(out, cloneMark(m))
		}
	}
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

// removeKind returns marks with kind cut out of [start, end). It builds a new
// slice and never aliases the input.
func removeKind(marks []Mark, start, end int, kind MarkKind) []Mark {
	out := make([]Mark, 0, len(marks)+1)
	for _, m := range marks {
		if m.Kind != kind || m.End <= start || m.Start >= end {
			out = append(out, m)
			continue
		}
		if m.Start < start {
			left := m
			left.End = start
			out = append(out, left)
		}
		if m.End > end {
			right := m
			right.Start = end
			right.Attrs = maps.Clone(m.Attrs)
			out = append(out, right)
		}
	}
	return out
}

func sortMarks(marks []Mark) []Mark {
	slices.SortStableFunc(marks, func(a, b Mark) int {
		return cmp.Or(
			cmp.Compare(a.Start, b.Start),
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(a.End, b.End),
		)
	})
	return marks
}

// mergeMarks joins same-kind marks with equal attributes that touch or
// overlap. marks must be sorted.
func mergeMarks(marks []Mark) []Mark {
	if len(marks) < 2 {
		return marks
	}
	out := marks[:0]
	for _, m := range marks {
		merged := false
		for i := len(out) - 1; i >= 0; i-- {
			prev := &out[i]
			if prev.Kind == m.Kind && prev.End >= m.Start && maps.Equal(prev.Attrs, m.Attrs) {
				prev.End = max(prev.End, m.End)
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, m)
		}
	}
	return out
}

func markEqual(a, b Mark) bool {
	return a.Start == b.Start && a.End == b.End && a.Kind == b.Kind && maps.Equal(a.Attrs, b.Attrs)
}

func cloneMark(m Mark) Mark {
	m.Attrs = maps.Clone(m.Attrs)
	return m
}

func cloneMarks(marks []Mark) []Mark {
	if len(marks) == 0 {
		return nil
	}
	out := make([]Mark, len(marks))
	for i, m := range marks {
		out[i] = cloneMark(m)
	}
	return out
}
