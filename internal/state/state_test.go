// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/casedesk/internal/editor"
	"github.com/jeranaias/casedesk/internal/tasks"
)

func TestValue_SetNotifiesOnChange(t *testing.T) {
	v := NewValue(1)
	var got [][2]int
	unsubscribe := v.Subscribe(func(next, prev int) { got = append(got, [2]int{next, prev}) })

	assert.True(t, v.Set(2))
	assert.False(t, v.Set(2))
	assert.True(t, v.Set(3))
	unsubscribe()
	v.Set(4)

	assert.Equal(t, [][2]int{{2, 1}, {3, 2}}, got)
	assert.Equal(t, 4, v.Get())
}

func TestStore_CaseSwitchClosesDocument(t *testing.T) {
	reg := tasks.NewRegistry()
	s := NewStore(reg)
	require.Same(t, reg, s.Tasks)

	s.ActiveCase.Set("case-1")
	doc := editor.NewDocument("Complaint")
	s.OpenDocument("doc-1", doc)
	assert.Equal(t, "doc-1", s.ActiveDocument.Get())
	assert.Same(t, doc, s.Editor.Get())

	s.ActiveCase.Set("case-2")
	assert.Empty(t, s.ActiveDocument.Get())
	assert.Nil(t, s.Editor.Get())
}

func TestNewStore_NilRegistry(t *testing.T) {
	s := NewStore(nil)
	require.NotNil(t, s.Tasks)
	s.Tasks.Add(tasks.New("x"))
	assert.Equal(t, 1, s.Tasks.Len())
}
