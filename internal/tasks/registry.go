// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"pkt.systems/pslog"
)

// DefaultExpiry is how long a finished task stays visible.
const DefaultExpiry = 5 * time.Second

// =============================================================================
// REGISTRY
// =============================================================================

// Registry tracks background tasks in insertion order. All methods are safe
// for concurrent use; each one is atomic with respect to the others.
// Operations on unknown IDs are silent no-ops.
type Registry struct {
	mu     sync.RWMutex
	tasks  []*Task
	expiry time.Duration
	now    func() time.Time
	log    pslog.Logger

	seq uint64

	subMu   sync.Mutex
	subs    map[int]func([]Task)
	nextSub int

	// deliverMu orders deliveries; delivered is the seq of the last one.
	deliverMu sync.Mutex
	delivered uint64
}

// change is a snapshot stamped with the mutation that produced it.
type change struct {
	seq   uint64
	tasks []Task
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithExpiry sets how long terminal tasks are kept before SweepExpired
// removes them.
func WithExpiry(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.expiry = d
		}
	}
}

// WithLogger logs task transitions at debug level.
func WithLogger(l pslog.Logger) Option {
	return func(r *Registry) {
		r.log = l
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		expiry: DefaultExpiry,
		now:    time.Now,
		subs:   make(map[int]func([]Task)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Add inserts a task and returns its ID. An empty ID is filled with NewID, an
// empty status becomes pending and a zero CreatedAt becomes now. Adding an
// ID that already exists replaces that task in place.
func (r *Registry) Add(t Task) string {
	now := r.now()
	t = t.clone()
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Progress != nil {
		*t.Progress = clampProgress(*t.Progress)
	}
	if t.Status.Terminal() && t.FinishedAt.IsZero() {
		t.FinishedAt = t.CreatedAt
	}

	r.mu.Lock()
	if i := r.indexLocked(t.ID); i >= 0 {
		r.tasks[i] = &t
	} else {
		r.tasks = append(r.tasks, &t)
	}
	ev := r.changeLocked()
	r.mu.Unlock()

	r.debug("task added", t)
	r.notify(ev)
	return t.ID
}

// Update merges patch into the task with the given ID and reports whether
// the task existed. Entering a terminal status stamps FinishedAt; leaving
// one clears it.
func (r *Registry) Update(id string, patch Patch) bool {
	now := r.now()

	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return false
	}
	t := r.tasks[i]
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Progress != nil {
		p := clampProgress(*patch.Progress)
		t.Progress = &p
	}
	if patch.Error != nil {
		t.Error = *patch.Error
	}
	if patch.Status != nil && *patch.Status != t.Status {
		was := t.Status.Terminal()
		t.Status = *patch.Status
		switch {
		case t.Status.Terminal() && !was:
			t.FinishedAt = now
		case !t.Status.Terminal():
			t.FinishedAt = time.Time{}
		}
	}
	t.UpdatedAt = now
	updated := t.clone()
	ev := r.changeLocked()
	r.mu.Unlock()

	r.debug("task updated", updated)
	r.notify(ev)
	return true
}

// Remove deletes a task and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return false
	}
	r.tasks = slices.Delete(r.tasks, i, i+1)
	ev := r.changeLocked()
	r.mu.Unlock()

	if r.log != nil {
		r.log.Debug("task removed", "task", id)
	}
	r.notify(ev)
	return true
}

// Clear removes every task.
func (r *Registry) Clear() {
	r.mu.Lock()
	if len(r.tasks) == 0 {
		r.mu.Unlock()
		return
	}
	r.tasks = nil
	ev := r.changeLocked()
	r.mu.Unlock()

	r.notify(ev)
}

// SweepExpired removes terminal tasks that finished at least the expiry
// window ago and returns their IDs. Pending and running tasks are never
// swept.
func (r *Registry) SweepExpired() []string {
	now := r.now()

	r.mu.Lock()
	var removed []string
	kept := r.tasks[:0]
	for _, t := range r.tasks {
		if t.Status.Terminal() && now.Sub(t.FinishedAt) >= r.expiry {
			removed = append(removed, t.ID)
			continue
		}
		kept = append(kept, t)
	}
	clear(r.tasks[len(kept):])
	r.tasks = kept
	var ev change
	if len(removed) > 0 {
		ev = r.changeLocked()
	}
	r.mu.Unlock()

	if len(removed) > 0 {
		if r.log != nil {
			r.log.Debug("expired tasks swept", "count", len(removed))
		}
		r.notify(ev)
	}
	return removed
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.SweepExpired()
		}
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns a copy of the task with the given ID.
func (r *Registry) Get(id string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.indexLocked(id); i >= 0 {
		return r.tasks[i].clone(), true
	}
	return Task{}, false
}

// List returns copies of all tasks in insertion order.
func (r *Registry) List() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Len returns the number of tracked tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Counts holds the number of tasks per status.
type Counts struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Success int `json:"success"`
	Error   int `json:"error"`
}

// Active returns the number of pending and running tasks.
func (c Counts) Active() int {
	return c.Pending + c.Running
}

// String formats the counts for a status line.
func (c Counts) String() string {
	return fmt.Sprintf("Running: %d | Pending: %d | Done: %d | Failed: %d",
		c.Running, c.Pending, c.Success, c.Error)
}

// Summary counts tasks by status.
func (r *Registry) Summary() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var c Counts
	for _, t := range r.tasks {
		switch t.Status {
		case StatusPending:
			c.Pending++
		case StatusRunning:
			c.Running++
		case StatusSuccess:
			c.Success++
		case StatusError:
			c.Error++
		}
	}
	return c
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Subscribe registers fn to receive a snapshot after every mutation and
// returns a function that unregisters it. fn runs on a mutating goroutine
// and must neither block nor mutate the registry. Snapshots arrive in
// mutation order; one overtaken by a newer mutation is skipped, so the last
// snapshot delivered always matches List.
func (r *Registry) Subscribe(fn func([]Task)) (unsubscribe func()) {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

func (r *Registry) notify(ev change) {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()
	if ev.seq <= r.delivered {
		return
	}
	r.delivered = ev.seq

	r.subMu.Lock()
	fns := make([]func([]Task), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()

	for _, fn := range fns {
		fn(ev.tasks)
	}
}

// =============================================================================
// INTERNAL
// =============================================================================

func (r *Registry) indexLocked(id string) int {
	for i, t := range r.tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) changeLocked() change {
	r.seq++
	return change{seq: r.seq, tasks: r.snapshotLocked()}
}

func (r *Registry) snapshotLocked() []Task {
	out := make([]Task, len(r.tasks))
	for i, t := range r.tasks {
		out[i] = t.clone()
	}
	return out
}

func (r *Registry) debug(msg string, t Task) {
	if r.log == nil {
		return
	}
	kv := []any{"task", t.ID, "status", t.Status.String(), "description", t.Description}
	if p, ok := t.ProgressValue(); ok {
		kv = append(kv, "progress", p)
	}
	r.log.Debug(msg, kv...)
}
