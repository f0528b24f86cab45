// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name     string
		old, new string
		format   string
		stats    Stats
	}{
		{"replace word", "The Supplier may deliver.", "The Supplier must deliver.", "The Supplier [-may-]{+must+} deliver.", Stats{Inserted: 1, Deleted: 1}},
		{"insert phrase", "Payment is due.", "Payment is due within 30 days.", "Payment is due{+ within 30 days+}.", Stats{Inserted: 3}},
		{"delete phrase", "The Buyer shall promptly pay.", "The Buyer shall pay.", "The Buyer shall [-promptly -]pay.", Stats{Deleted: 1}},
		{"unchanged", "Same text.", "Same text.", "Same text.", Stats{}},
		{"from empty", "", "New clause.", "{+New clause.+}", Stats{Inserted: 2}},
		{"to empty", "Old clause.", "", "[-Old clause.-]", Stats{Deleted: 2}},
		{"punctuation only", "Yes, no", "Yes; no", "Yes[-,-]{+;+} no", Stats{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Compute(tt.old, tt.new)
			assert.Equal(t, tt.format, r.Format())
			assert.Equal(t, tt.stats, r.Stats)
		})
	}
}

func TestCompute_SegmentsRebuildBothVersions(t *testing.T) {
	old := "Clause 4.2: the Licensee shall not sublicense the Software."
	new := "Clause 4.2: the Licensee may sublicense the Software to affiliates."
	r := Compute(old, new)

	var before, after strings.Builder
	for _, s := range r.Segments {
		if s.Kind != Inserted {
			before.WriteString(s.Text)
		}
		if s.Kind != Deleted {
			after.WriteString(s.Text)
		}
	}
	assert.Equal(t, old, before.String())
	assert.Equal(t, new, after.String())
	for i := 1; i < len(r.Segments); i++ {
		assert.NotEqual(t, r.Segments[i-1].Kind, r.Segments[i].Kind, "adjacent segments are merged")
	}
}

func TestCompute_Unicode(t *testing.T) {
	r := Compute("Der Käufer zahlt.", "Der Verkäufer zahlt.")
	assert.Equal(t, "Der [-Käufer-]{+Verkäufer+} zahlt.", r.Format())
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "no changes", Compute("a b", "a b").Summary())
	assert.Equal(t, "+1 -1 words", Compute("a b", "a c").Summary())
	assert.Equal(t, "whitespace and punctuation only", Compute("a  b", "a b").Summary())
	assert.False(t, Compute("x", "x").Changed())
}

func TestRender_PlainWithoutColor(t *testing.T) {
	r := Compute("may", "must")
	// Tests run without a terminal, so lipgloss has no colors.
	assert.Equal(t, r.Format(), r.Render())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "equal", Equal.String())
	assert.Equal(t, "inserted", Inserted.String())
	assert.Equal(t, "deleted", Deleted.String())
	assert.Equal(t, "unknown", Kind(9).String())
}
