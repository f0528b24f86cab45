// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package state holds the process-wide observable state shared by the
// command surfaces: the active case, the active document and the task list.
// Each slice has one owner type; nothing reaches across slices.
package state

import (
	"sync"

	"github.com/jeranaias/casedesk/internal/editor"
	"github.com/jeranaias/casedesk/internal/tasks"
)

// =============================================================================
// VALUE
// =============================================================================

// Value is an observable value. Subscribers run synchronously after Set, on
// the goroutine that called it, and see the new and previous value.
type Value[T comparable] struct {
	mu      sync.RWMutex
	v       T
	subs    map[int]func(next, prev T)
	nextSub int
}

// NewValue creates a Value holding initial.
func NewValue[T comparable](initial T) *Value[T] {
	return &Value[T]{v: initial, subs: make(map[int]func(next, prev T))}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.v
}

// Set stores next and notifies subscribers when it differs from the current
// value. It reports whether the value changed.
func (v *Value[T]) Set(next T) bool {
	v.mu.Lock()
	prev := v.v
	if prev == next {
		v.mu.Unlock()
		return false
	}
	v.v = next
	fns := make([]func(next, prev T), 0, len(v.subs))
	for _, fn := range v.subs {
		fns = append(fns, fn)
	}
	v.mu.Unlock()

	for _, fn := range fns {
		fn(next, prev)
	}
	return true
}

// Subscribe registers fn and returns a function that unregisters it.
func (v *Value[T]) Subscribe(fn func(next, prev T)) (unsubscribe func()) {
	v.mu.Lock()
	id := v.nextSub
	v.nextSub++
	v.subs[id] = fn
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, id)
			v.mu.Unlock()
		})
	}
}

// =============================================================================
// STORE
// =============================================================================

// Store groups the state slices.
type Store struct {
	// ActiveCase is the ID of the case being worked on, or "".
	ActiveCase *Value[string]

	// ActiveDocument is the ID of the open document, or "".
	ActiveDocument *Value[string]

	// Editor is the live document bound to ActiveDocument, or nil.
	Editor *Value[*editor.Document]

	// Tasks is the background task list.
	Tasks *tasks.Registry
}

// NewStore creates a store around reg. A nil reg gets a fresh registry.
func NewStore(reg *tasks.Registry) *Store {
	if reg == nil {
		reg = tasks.NewRegistry()
	}
	s := &Store{
		ActiveCase:     NewValue(""),
		ActiveDocument: NewValue(""),
		Editor:         NewValue[*editor.Document](nil),
		Tasks:          reg,
	}
	// A different case invalidates the open document.
	s.ActiveCase.Subscribe(func(next, prev string) {
		s.ActiveDocument.Set("")
	})
	s.ActiveDocument.Subscribe(func(next, prev string) {
		if next == "" {
			s.Editor.Set(nil)
		}
	})
	return s
}

// OpenDocument makes doc the active document.
func (s *Store) OpenDocument(id string, doc *editor.Document) {
	s.ActiveDocument.Set(id)
	s.Editor.Set(doc)
}
