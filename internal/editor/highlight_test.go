// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var blue = map[string]string{"background": "#bfdbfe"}

func TestHighlighter_SingleHover(t *testing.T) {
	doc := NewDocument("The tenant shall vacate the premises.")
	h := NewHighlighter(doc)

	require.NoError(t, h.Hover(4, 10, yellow))
	require.NoError(t, h.Hover(28, 36, yellow))

	assert.Equal(t, [][2]int{{28, 36}}, spans(doc.MarksOfKind(MarkHoverHighlight)))
	active := h.Active()
	require.Len(t, active, 1)
	assert.Equal(t, HighlightHover, active[0].Kind)

	require.NoError(t, h.ClearHover())
	assert.Empty(t, doc.MarksOfKind(MarkHoverHighlight))
	assert.Empty(t, h.Active())
}

func TestHighlighter_ClickTakesPrecedence(t *testing.T) {
	doc := NewDocument("0123456789abcdefghij")
	h := NewHighlighter(doc)

	require.NoError(t, h.Hover(2, 12, yellow))
	require.NoError(t, h.Click(5, 8, blue))

	assert.Equal(t, [][2]int{{5, 8}}, spans(doc.MarksOfKind(MarkClickHighlight)))
	assert.Equal(t, [][2]int{{2, 5}, {8, 12}}, spans(doc.MarksOfKind(MarkHoverHighlight)))
	for pos := 5; pos < 8; pos++ {
		marks := doc.MarksAt(pos)
		require.Len(t, marks, 1)
		assert.Equal(t, MarkClickHighlight, marks[0].Kind)
	}

	active := h.Active()
	require.Len(t, active, 2)
	assert.Equal(t, HighlightClick, active[0].Kind)

	require.NoError(t, h.ClearClick())
	assert.Empty(t, doc.MarksOfKind(MarkClickHighlight))
	assert.Equal(t, [][2]int{{2, 12}}, spans(doc.MarksOfKind(MarkHoverHighlight)))
}

func TestHighlighter_HoverInsideClickIsHidden(t *testing.T) {
	doc := NewDocument("0123456789")
	h := NewHighlighter(doc)

	require.NoError(t, h.Click(0, 10, blue))
	require.NoError(t, h.Hover(3, 6, yellow))

	assert.Empty(t, doc.MarksOfKind(MarkHoverHighlight))
	assert.Len(t, h.Active(), 2)
}

func TestHighlighter_OneClickAtATime(t *testing.T) {
	doc := NewDocument("0123456789")
	h := NewHighlighter(doc)

	require.NoError(t, h.Click(0, 2, blue))
	require.NoError(t, h.Click(6, 9, blue))

	assert.Equal(t, [][2]int{{6, 9}}, spans(doc.MarksOfKind(MarkClickHighlight)))
	assert.ErrorIs(t, h.Click(6, 11, blue), ErrOutOfRange)
}
