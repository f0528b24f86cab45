// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyAnalysis(t *testing.T) {
	doc := NewDocument("The lessee waives all claims. Rent is due monthly.")
	require.NoError(t, doc.AddMark(0, 3, MarkAnalysis, nil))

	found := []Span{
		{Start: 11, End: 29, Label: "risk", Explanation: "broad waiver"},
		{Start: 30, End: 50, Label: "obligation"},
	}
	require.NoError(t, doc.ApplyAnalysis(found))

	marks := doc.MarksOfKind(MarkAnalysis)
	require.Len(t, marks, 2)
	assert.Equal(t, [][2]int{{11, 29}, {30, 50}}, spans(marks))
	assert.Equal(t, "risk", marks[0].Attrs["label"])
	assert.Equal(t, "broad waiver", marks[0].Attrs["explanation"])
	assert.Equal(t, "1", marks[1].Attrs["index"])
}

func TestApplyAnalysis_RejectsOutOfRange(t *testing.T) {
	doc := NewDocument("short")
	require.NoError(t, doc.AddMark(0, 2, MarkAnalysis, nil))

	err := doc.ApplyAnalysis([]Span{{Start: 0, End: 2}, {Start: 3, End: 9}})
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Len(t, doc.MarksOfKind(MarkAnalysis), 1)
}

func TestClampSpans(t *testing.T) {
	got := ClampSpans([]Span{
		{Start: -2, End: 3, Label: "a"},
		{Start: 4, End: 20, Label: "b"},
		{Start: 12, End: 15, Label: "c"},
		{Start: 5, End: 5, Label: "d"},
	}, 10)
	assert.Equal(t, []Span{{Start: 0, End: 3, Label: "a"}, {Start: 4, End: 10, Label: "b"}}, got)
}

func TestApplyAnalysis_OverlappingSpansKeepEveryFinding(t *testing.T) {
	doc := NewDocument("The lessee waives all claims against the lessor.")
	found := []Span{
		{Start: 4, End: 28, Label: "risk", Explanation: "broad waiver"},
		{Start: 11, End: 48, Label: "obligation"},
		{Start: 4, End: 10, Label: "party"},
	}
	require.NoError(t, doc.ApplyAnalysis(found))

	marks := doc.MarksOfKind(MarkAnalysis)
	require.Len(t, marks, 3)
	byLabel := map[string][2]int{}
	for _, m := range marks {
		byLabel[m.Attrs["label"]] = [2]int{m.Start, m.End}
	}
	assert.Equal(t, map[string][2]int{
		"risk":       {4, 28},
		"obligation": {11, 48},
		"party":      {4, 10},
	}, byLabel)

	require.NoError(t, doc.ApplyAnalysis(found[1:2]))
	marks = doc.MarksOfKind(MarkAnalysis)
	require.Len(t, marks, 1)
	assert.Equal(t, "obligation", marks[0].Attrs["label"])
}

func TestApplyAnalysis_IsOneChange(t *testing.T) {
	doc := NewDocument("The lessee waives all claims.")
	var changes []Change
	doc.Subscribe(func(c Change) { changes = append(changes, c) })

	require.NoError(t, doc.ApplyAnalysis([]Span{{Start: 0, End: 10}, {Start: 4, End: 17}}))
	require.Len(t, changes, 1)
	assert.Equal(t, OpMark, changes[0].Op)

	require.NoError(t, doc.ApplyAnalysis([]Span{{Start: 0, End: 10}, {Start: 4, End: 17}}))
	assert.Len(t, changes, 1)
}
