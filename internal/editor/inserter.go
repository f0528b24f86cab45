// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	"fmt"
	"strings"
	"sync"
)

// ConflictPolicy decides what an Inserter does when the document was edited
// by someone else between two of its writes.
type ConflictPolicy int

const (
	// ConflictInsertAtOffset keeps inserting at the tracked offset, clamped to
	// the document end. Concurrent edits before the cursor are not
	// compensated for, so streamed text can land inside the user's typing.
	ConflictInsertAtOffset ConflictPolicy = iota

	// ConflictReject refuses the write with ErrConflict.
	ConflictReject
)

// String returns the policy name used in flags and config.
func (p ConflictPolicy) String() string {
	switch p {
	case ConflictReject:
		return "reject"
	default:
		return "insert"
	}
}

// ParseConflictPolicy parses "insert" or "reject".
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "insert", "insert-at-offset":
		return ConflictInsertAtOffset, nil
	case "reject":
		return ConflictReject, nil
	default:
		return 0, fmt.Errorf("unknown conflict policy %q", s)
	}
}

// =============================================================================
// INSERTER
// =============================================================================

// Inserter appends streamed text to a document at a cursor it advances by
// the length of each insertion. One stream should own one Inserter.
type Inserter struct {
	mu      sync.Mutex
	doc     *Document
	start   int
	pos     int
	version uint64
	policy  ConflictPolicy
	written int
}

// NewInserter creates an inserter whose cursor starts at pos.
func NewInserter(doc *Document, pos int, policy ConflictPolicy) (*Inserter, error) {
	doc.mu.RLock()
	n, v := len(doc.text), doc.version
	doc.mu.RUnlock()

	if pos < 0 || pos > n {
		return nil, fmt.Errorf("%w: cursor %d, length %d", ErrOutOfRange, pos, n)
	}
	return &Inserter{doc: doc, start: pos, pos: pos, version: v, policy: policy}, nil
}

// Append inserts text at the cursor and advances it.
func (in *Inserter) Append(text string) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	var (
		n   int
		v   uint64
		err error
	)
	switch in.policy {
	case ConflictReject:
		n, v, err = in.doc.insert(in.pos, text, &in.version)
	default:
		pos := min(in.pos, in.doc.Len())
		n, v, err = in.doc.insert(pos, text, nil)
		in.pos = pos
	}
	if err != nil {
		return err
	}
	in.pos += n
	in.written += n
	in.version = v
	return nil
}

// Pos returns the cursor offset.
func (in *Inserter) Pos() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.pos
}

// Written returns the number of runes inserted so far.
func (in *Inserter) Written() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.written
}

// Range returns the span [start, pos) covered by this inserter's output when
// nothing else edited the document.
func (in *Inserter) Range() (int, int) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.start, in.pos
}
