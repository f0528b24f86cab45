// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var yellow = map[string]string{"background": "#fde68a"}

func TestDocument_InsertAt(t *testing.T) {
	doc := NewDocument("Dear Sir,")

	n, err := doc.InsertAt(4, " Madam or")
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, "Dear Madam or Sir,", doc.GetText())
	assert.Equal(t, uint64(1), doc.Version())

	_, err = doc.InsertAt(-1, "x")
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = doc.InsertAt(doc.Len()+1, "x")
	assert.ErrorIs(t, err, ErrOutOfRange)

	n, err = doc.InsertAt(0, "")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, uint64(1), doc.Version())
}

func TestDocument_OffsetShiftCorrectness(t *testing.T) {
	doc := NewDocument("Before|After")
	p := 6

	first := "Größe "
	n, err := doc.InsertAt(p, first)
	require.NoError(t, err)
	assert.Equal(t, len([]rune(first)), n)

	_, err = doc.InsertAt(p+n, "✓ zwei")
	require.NoError(t, err)

	assert.Equal(t, "BeforeGröße ✓ zwei|After", doc.GetText())
}

func TestDocument_OffsetsAreRunes(t *testing.T) {
	doc := NewDocument("§ 1 – Zuständigkeit")
	got, err := doc.GetTextRange(4, 5)
	require.NoError(t, err)
	assert.Equal(t, "–", got)
	assert.Equal(t, 19, doc.Len())
}

func TestDocument_NewDocumentNormalizesToNFC(t *testing.T) {
	doc := NewDocument("Mu\u0308ller")
	assert.Equal(t, 6, doc.Len())
	assert.Equal(t, "M\u00fcller", doc.GetText())
}

func TestDocument_InsertKeepsTextAsGiven(t *testing.T) {
	doc := NewDocument("")
	first := "cafe\u0301"
	n, err := doc.InsertAt(0, first)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = doc.InsertAt(n, " noir")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "cafe\u0301 noir", doc.GetText())

	_, err = doc.ReplaceRange(0, 5, "Mu\u0308")
	require.NoError(t, err)
	assert.Equal(t, "Mu\u0308 noir", doc.GetText())
}

func TestDocument_SnapshotKeepsDecomposedText(t *testing.T) {
	doc := NewDocument("")
	_, err := doc.InsertAt(0, "cafe\u0301 noir")
	require.NoError(t, err)
	require.NoError(t, doc.AddMark(6, 10, MarkAnalysis, yellow))

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	loaded := NewDocument("")
	require.NoError(t, json.Unmarshal(data, loaded))
	assert.Equal(t, doc.GetText(), loaded.GetText())
	got, err := loaded.GetTextRange(6, 10)
	require.NoError(t, err)
	assert.Equal(t, "noir", got)
}

func TestDocument_GetTextRange(t *testing.T) {
	doc := NewDocument("plaintiff v. defendant")

	got, err := doc.GetTextRange(0, 9)
	require.NoError(t, err)
	assert.Equal(t, "plaintiff", got)

	_, err = doc.GetTextRange(5, 2)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = doc.GetTextRange(0, 100)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestDocument_InsertShiftsMarksAndSelection(t *testing.T) {
	doc := NewDocument("0123456789")
	require.NoError(t, doc.AddMark(2, 4, MarkAnalysis, nil))
	require.NoError(t, doc.AddMark(6, 8, MarkAnalysis, yellow))
	require.NoError(t, doc.SetSelection(7, 9))

	_, err := doc.InsertAt(3, "ab") // inside the first mark
	require.NoError(t, err)
	_, err = doc.InsertAt(8, "X") // at the start of the second mark
	require.NoError(t, err)

	marks := doc.Marks()
	require.Len(t, marks, 2)
	assert.Equal(t, [2]int{2, 6}, [2]int{marks[0].Start, marks[0].End})
	assert.Equal(t, [2]int{9, 11}, [2]int{marks[1].Start, marks[1].End})
	assert.Equal(t, Selection{From: 10, To: 12}, doc.GetSelection())
}

func TestDocument_DeleteRange(t *testing.T) {
	doc := NewDocument("The quick brown fox")
	require.NoError(t, doc.AddMark(4, 9, MarkAnalysis, nil))
	require.NoError(t, doc.AddMark(10, 15, MarkAnalysis, yellow))
	require.NoError(t, doc.SetSelection(16, 19))

	require.NoError(t, doc.DeleteRange(4, 10))

	assert.Equal(t, "The brown fox", doc.GetText())
	marks := doc.Marks()
	require.Len(t, marks, 1)
	assert.Equal(t, Mark{Start: 4, End: 9, Kind: MarkAnalysis, Attrs: yellow}, marks[0])
	assert.Equal(t, Selection{From: 10, To: 13}, doc.GetSelection())
	assert.Equal(t, "fox", doc.SelectedText())
}

func TestDocument_ReplaceRange(t *testing.T) {
	doc := NewDocument("The party shall pay.")
	require.NoError(t, doc.SetSelection(4, 9))
	v := doc.Version()

	n, err := doc.ReplaceRange(4, 9, "Licensee")
	require.NoError(t, err)

	assert.Equal(t, 8, n)
	assert.Equal(t, "The Licensee shall pay.", doc.GetText())
	assert.Equal(t, v+1, doc.Version())
	assert.True(t, doc.GetSelection().Empty)
}

func TestDocument_SetSelection(t *testing.T) {
	doc := NewDocument("abcdef")
	assert.Equal(t, Selection{Empty: true}, doc.GetSelection())

	require.NoError(t, doc.SetSelection(5, 2))
	assert.Equal(t, Selection{From: 2, To: 5}, doc.GetSelection())
	assert.Equal(t, "cde", doc.SelectedText())

	assert.ErrorIs(t, doc.SetSelection(0, 7), ErrOutOfRange)
}

func TestDocument_Subscribe(t *testing.T) {
	doc := NewDocument("x")
	var changes []Change
	unsubscribe := doc.Subscribe(func(c Change) { changes = append(changes, c) })

	_, _ = doc.InsertAt(1, "yz")
	_ = doc.AddMark(0, 1, MarkAnalysis, nil)
	unsubscribe()
	_, _ = doc.InsertAt(0, "!")

	require.Len(t, changes, 2)
	assert.Equal(t, Change{Version: 1, Op: OpInsert, From: 1, To: 3, Text: "yz"}, changes[0])
	assert.Equal(t, OpMark, changes[1].Op)
}

func TestDocument_JSONSnapshot(t *testing.T) {
	doc := NewDocument("Clause 7: indemnity")
	require.NoError(t, doc.AddMark(10, 19, MarkAnalysis, map[string]string{"label": "risk"}))
	require.NoError(t, doc.SetSelection(0, 6))

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var loaded Document
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, doc.GetText(), loaded.GetText())
	assert.Equal(t, doc.Marks(), loaded.Marks())
	assert.Equal(t, doc.GetSelection(), loaded.GetSelection())

	err = json.Unmarshal([]byte(`{"text":"ab","marks":[{"start":0,"end":5,"kind":"analysis"}]}`), &loaded)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestDocument_ConcurrentReadsAndWrites(t *testing.T) {
	doc := NewDocument("")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = doc.InsertAt(0, "ab")
		}()
		go func() {
			defer wg.Done()
			_ = doc.GetText()
			_ = doc.Marks()
		}()
	}
	wg.Wait()
	assert.Equal(t, 40, doc.Len())
}
