// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spans(marks []Mark) [][2]int {
	out := make([][2]int, len(marks))
	for i, m := range marks {
		out[i] = [2]int{m.Start, m.End}
	}
	return out
}

func TestAddMark_Validation(t *testing.T) {
	doc := NewDocument("short")
	assert.ErrorIs(t, doc.AddMark(-1, 2, MarkAnalysis, nil), ErrOutOfRange)
	assert.ErrorIs(t, doc.AddMark(3, 2, MarkAnalysis, nil), ErrOutOfRange)
	assert.ErrorIs(t, doc.AddMark(0, 6, MarkAnalysis, nil), ErrOutOfRange)

	require.NoError(t, doc.AddMark(2, 2, MarkAnalysis, nil))
	assert.Empty(t, doc.Marks())
	assert.Zero(t, doc.Version())
}

func TestAddMark_MergesEqualNeighbours(t *testing.T) {
	doc := NewDocument("0123456789")
	require.NoError(t, doc.AddMark(0, 3, MarkAnalysis, yellow))
	require.NoError(t, doc.AddMark(3, 5, MarkAnalysis, yellow))
	require.NoError(t, doc.AddMark(4, 8, MarkAnalysis, yellow))

	assert.Equal(t, [][2]int{{0, 8}}, spans(doc.Marks()))
}

func TestAddMark_DifferentAttrsReplaceOverlap(t *testing.T) {
	doc := NewDocument("0123456789")
	red := map[string]string{"background": "#fecaca"}
	require.NoError(t, doc.AddMark(0, 8, MarkAnalysis, yellow))
	require.NoError(t, doc.AddMark(3, 5, MarkAnalysis, red))

	marks := doc.Marks()
	require.Len(t, marks, 3)
	assert.Equal(t, [][2]int{{0, 3}, {3, 5}, {5, 8}}, spans(marks))
	assert.Equal(t, red, marks[1].Attrs)
	assert.Equal(t, yellow, marks[2].Attrs)
}

func TestAddMark_KindsAreIndependent(t *testing.T) {
	doc := NewDocument("0123456789")
	require.NoError(t, doc.AddMark(0, 5, MarkAnalysis, nil))
	require.NoError(t, doc.AddMark(2, 7, MarkHoverHighlight, yellow))

	assert.Len(t, doc.MarksAt(3), 2)
	assert.Len(t, doc.MarksAt(6), 1)
	assert.Empty(t, doc.MarksAt(7))
	assert.Len(t, doc.MarksOfKind(MarkHoverHighlight), 1)
}

func TestAddMark_AttrsAreCopied(t *testing.T) {
	doc := NewDocument("abc")
	attrs := map[string]string{"color": "red"}
	require.NoError(t, doc.AddMark(0, 2, MarkAnalysis, attrs))
	attrs["color"] = "blue"

	marks := doc.Marks()
	marks[0].Attrs["color"] = "green"
	assert.Equal(t, "red", doc.Marks()[0].Attrs["color"])
}

func TestRemoveMark_Splits(t *testing.T) {
	doc := NewDocument("0123456789")
	require.NoError(t, doc.AddMark(1, 9, MarkAnalysis, yellow))
	require.NoError(t, doc.AddMark(1, 9, MarkHoverHighlight, nil))

	require.NoError(t, doc.RemoveMark(4, 6, MarkAnalysis))

	assert.Equal(t, [][2]int{{1, 4}, {6, 9}}, spans(doc.MarksOfKind(MarkAnalysis)))
	assert.Equal(t, [][2]int{{1, 9}}, spans(doc.MarksOfKind(MarkHoverHighlight)))
}

func TestRemoveMark_NoopDoesNotBumpVersion(t *testing.T) {
	doc := NewDocument("0123456789")
	require.NoError(t, doc.AddMark(0, 2, MarkAnalysis, nil))
	v := doc.Version()

	require.NoError(t, doc.RemoveMark(5, 9, MarkAnalysis))
	require.NoError(t, doc.RemoveMark(0, 2, MarkClickHighlight))
	assert.Equal(t, v, doc.Version())
	assert.ErrorIs(t, doc.RemoveMark(0, 11, MarkAnalysis), ErrOutOfRange)
}
