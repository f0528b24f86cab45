// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrOutOfRange indicates an offset or range outside the document.
	ErrOutOfRange = errors.New("offset out of range")

	// ErrConflict indicates the document changed since the caller last
	// observed it.
	ErrConflict = errors.New("document changed since last write")
)

// =============================================================================
// SELECTION
// =============================================================================

// Selection is a snapshot of the cursor or selected range. From <= To.
type Selection struct {
	From  int  `json:"from"`
	To    int  `json:"to"`
	Empty bool `json:"isEmpty"`
}

func newSelection(a, b int) Selection {
	if a > b {
		a, b = b, a
	}
	return Selection{From: a, To: b, Empty: a == b}
}

// =============================================================================
// CHANGES
// =============================================================================

// Op names the kind of a document change.
type Op string

const (
	OpInsert    Op = "insert"
	OpDelete    Op = "delete"
	OpReplace   Op = "replace"
	OpMark      Op = "mark"
	OpUnmark    Op = "unmark"
	OpSelection Op = "selection"
	OpLoad      Op = "load"
)

// Change describes one mutation, delivered to subscribers.
type Change struct {
	Version uint64
	Op      Op
	From    int
	To      int
	Text    string
}

// =============================================================================
// DOCUMENT
// =============================================================================

// Document is a plain-text buffer with inline marks and a selection. All
// offsets are rune offsets. Initial text is normalised to NFC; edits are
// stored exactly as given so an insert of L runes always advances by L.
// A Document is safe for concurrent use.
type Document struct {
	mu      sync.RWMutex
	text    []rune
	marks   []Mark
	sel     Selection
	version uint64

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

// NewDocument creates a document holding text with the cursor at the start.
func NewDocument(text string) *Document {
	return &Document{
		text: []rune(norm.NFC.String(text)),
		sel:  newSelection(0, 0),
		subs: make(map[int]func(Change)),
	}
}

// Len returns the document length in runes.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.text)
}

// Version increases with every text, mark or selection change.
func (d *Document) Version() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// GetText returns the whole document as plain text.
func (d *Document) GetText() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return string(d.text)
}

// GetTextRange returns the plain text in [from, to).
func (d *Document) GetTextRange(from, to int) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkRangeLocked(from, to); err != nil {
		return "", err
	}
	return string(d.text[from:to]), nil
}

// GetSelection returns the current selection.
func (d *Document) GetSelection() Selection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sel
}

// SelectedText returns the text under the current selection.
func (d *Document) SelectedText() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return string(d.text[d.sel.From:d.sel.To])
}

// SetSelection moves the selection. The endpoints may be given in either
// order.
func (d *Document) SetSelection(from, to int) error {
	d.mu.Lock()
	lo, hi := min(from, to), max(from, to)
	if err := d.checkRangeLocked(lo, hi); err != nil {
		d.mu.Unlock()
		return err
	}
	d.sel = newSelection(lo, hi)
	c := d.commitLocked(OpSelection, lo, hi, "")
	d.mu.Unlock()

	d.notify(c)
	return nil
}

// =============================================================================
// TEXT EDITS
// =============================================================================

// InsertAt inserts text at pos and returns the number of runes inserted.
// Marks and selection endpoints at or after pos shift right by that amount;
// a mark that strictly contains pos grows.
func (d *Document) InsertAt(pos int, text string) (int, error) {
	n, _, err := d.insert(pos, text, nil)
	return n, err
}

// insert performs InsertAt, optionally only when the document is still at
// version expect. It returns the inserted rune count and the new version.
func (d *Document) insert(pos int, text string, expect *uint64) (int, uint64, error) {
	ins := []rune(text)

	d.mu.Lock()
	if expect != nil && *expect != d.version {
		v := d.version
		d.mu.Unlock()
		return 0, v, ErrConflict
	}
	if pos < 0 || pos > len(d.text) {
		d.mu.Unlock()
		return 0, 0, fmt.Errorf("%w: insert at %d, length %d", ErrOutOfRange, pos, len(d.text))
	}
	if len(ins) == 0 {
		v := d.version
		d.mu.Unlock()
		return 0, v, nil
	}

	d.insertLocked(pos, ins)
	c := d.commitLocked(OpInsert, pos, pos+len(ins), string(ins))
	d.mu.Unlock()

	d.notify(c)
	return len(ins), c.Version, nil
}

// DeleteRange removes the text in [from, to). Marks lying entirely inside
// the range disappear; others shrink or shift.
func (d *Document) DeleteRange(from, to int) error {
	d.mu.Lock()
	if err := d.checkRangeLocked(from, to); err != nil {
		d.mu.Unlock()
		return err
	}
	if from == to {
		d.mu.Unlock()
		return nil
	}
	d.deleteLocked(from, to)
	c := d.commitLocked(OpDelete, from, to, "")
	d.mu.Unlock()

	d.notify(c)
	return nil
}

// ReplaceRange replaces [from, to) with text as one change and returns the
// number of runes inserted.
func (d *Document) ReplaceRange(from, to int, text string) (int, error) {
	ins := []rune(text)

	d.mu.Lock()
	if err := d.checkRangeLocked(from, to); err != nil {
		d.mu.Unlock()
		return 0, err
	}
	if from == to && len(ins) == 0 {
		d.mu.Unlock()
		return 0, nil
	}
	d.deleteLocked(from, to)
	d.insertLocked(from, ins)
	c := d.commitLocked(OpReplace, from, from+len(ins), string(ins))
	d.mu.Unlock()

	d.notify(c)
	return len(ins), nil
}

func (d *Document) insertLocked(pos int, ins []rune) {
	n := len(ins)
	text := make([]rune, 0, len(d.text)+n)
	text = append(text, d.text[:pos]...)
	text = append(text, ins...)
	d.text = append(text, d.text[pos:]...)

	for i := range d.marks {
		m := &d.marks[i]
		switch {
		case pos <= m.Start:
			m.Start += n
			m.End += n
		case pos < m.End:
			m.End += n
		}
	}
	shift := func(p int) int {
		if p >= pos {
			return p + n
		}
		return p
	}
	d.sel = newSelection(shift(d.sel.From), shift(d.sel.To))
}

func (d *Document) deleteLocked(from, to int) {
	n := to - from
	d.text = append(d.text[:from], d.text[to:]...)

	mapPos := func(p int) int {
		switch {
		case p <= from:
			return p
		case p >= to:
			return p - n
		default:
			return from
		}
	}
	kept := d.marks[:0]
	for _, m := range d.marks {
		m.Start, m.End = mapPos(m.Start), mapPos(m.End)
		if m.Start < m.End {
			kept = append(kept, m)
		}
	}
	d.marks = mergeMarks(kept)
	d.sel = newSelection(mapPos(d.sel.From), mapPos(d.sel.To))
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Subscribe registers fn to be called after every change and returns a
// function that unregisters it.
func (d *Document) Subscribe(fn func(Change)) (unsubscribe func()) {
	d.subMu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	d.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.subMu.Lock()
			delete(d.subs, id)
			d.subMu.Unlock()
		})
	}
}

func (d *Document) notify(c Change) {
	d.subMu.Lock()
	fns := make([]func(Change), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	d.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

type snapshot struct {
	Text      string    `json:"text"`
	Marks     []Mark    `json:"marks,omitempty"`
	Selection Selection `json:"selection"`
}

// MarshalJSON encodes text, marks and selection.
func (d *Document) MarshalJSON() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return json.Marshal(snapshot{
		Text:      string(d.text),
		Marks:     cloneMarks(d.marks),
		Selection: d.sel,
	})
}

// UnmarshalJSON replaces the document content with a snapshot. Marks and a
// selection that do not fit the text are rejected.
func (d *Document) UnmarshalJSON(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	text := []rune(s.Text)
	for _, m := range s.Marks {
		if m.Start < 0 || m.End > len(text) || m.Start >= m.End || m.Kind == "" {
			return fmt.Errorf("%w: mark %s [%d,%d) in document of length %d", ErrOutOfRange, m.Kind, m.Start, m.End, len(text))
		}
	}
	sel := newSelection(s.Selection.From, s.Selection.To)
	if sel.From < 0 || sel.To > len(text) {
		return fmt.Errorf("%w: selection [%d,%d)", ErrOutOfRange, sel.From, sel.To)
	}

	d.mu.Lock()
	if d.subs == nil {
		d.subs = make(map[int]func(Change))
	}
	d.text = text
	d.marks = mergeMarks(sortMarks(cloneMarks(s.Marks)))
	d.sel = sel
	c := d.commitLocked(OpLoad, 0, len(text), "")
	d.mu.Unlock()

	d.notify(c)
	return nil
}

// =============================================================================
// INTERNAL
// =============================================================================

func (d *Document) checkRange(from, to int) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.checkRangeLocked(from, to)
}

func (d *Document) checkRangeLocked(from, to int) error {
	if from < 0 || to > len(d.text) || from > to {
		return fmt.Errorf("%w: [%d,%d) in document of length %d", ErrOutOfRange, from, to, len(d.text))
	}
	return nil
}

func (d *Document) commitLocked(op Op, from, to int, text string) Change {
	d.version++
	return Change{Version: d.version, Op: op, From: from, To: to, Text: text}
}
