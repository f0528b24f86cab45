// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRunnerClosed is reported on tasks submitted after Close.
var ErrRunnerClosed = errors.New("task runner closed")

// Job is the body of a background task. It should return promptly once ctx
// is done.
type Job func(ctx context.Context, rep *Reporter) error

// Reporter lets a running job publish progress on its own task.
type Reporter struct {
	reg *Registry
	id  string
}

// ID returns the task ID the reporter writes to.
func (r *Reporter) ID() string {
	return r.id
}

// Progress sets the task's progress percentage.
func (r *Reporter) Progress(pct int) {
	r.reg.Update(r.id, Patch{}.WithProgress(pct))
}

// Describe replaces the task's description.
func (r *Reporter) Describe(description string) {
	r.reg.Update(r.id, Patch{}.WithDescription(description))
}

// =============================================================================
// TASK RUNNER
// =============================================================================

// Runner executes jobs on goroutines, bounded by a semaphore, and mirrors
// their lifecycle into a Registry: pending while waiting for a slot, running
// while the job executes, then success or error.
type Runner struct {
	reg         *Registry
	semaphore   chan struct{}
	taskTimeout time.Duration
	wg          sync.WaitGroup

	// mu guards closed, cancels and wg.Add so no job starts after Close.
	mu      sync.Mutex
	closed  bool
	cancels map[string]context.CancelFunc
}

// NewRunner creates a runner with the given concurrency limit and per-task
// timeout (0 disables the timeout).
func NewRunner(reg *Registry, maxConcurrent int, taskTimeout time.Duration) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Runner{
		reg:         reg,
		semaphore:   make(chan struct{}, maxConcurrent),
		taskTimeout: taskTimeout,
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Registry returns the registry the runner reports into.
func (r *Runner) Registry() *Registry {
	return r.reg
}

// Go registers a pending task and starts job in the background. It returns
// the task ID immediately.
func (r *Runner) Go(ctx context.Context, description string, job Job) string {
	id := r.reg.Add(New(description))

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.fail(id, ErrRunnerClosed)
		return id
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancels[id] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go r.execute(ctx, id, job)
	return id
}

// Cancel cancels a task started by this runner and reports whether it was
// still in flight.
func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until every started job has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close rejects further jobs, cancels the running ones and waits for them.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	for _, cancel := range r.cancels {
		cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) execute(ctx context.Context, id string, job Job) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		if cancel, ok := r.cancels[id]; ok {
			cancel()
			delete(r.cancels, id)
		}
		r.mu.Unlock()
	}()

	select {
	case r.semaphore <- struct{}{}:
	case <-ctx.Done():
		r.fail(id, fmt.Errorf("canceled before start: %w", ctx.Err()))
		return
	}
	defer func() { <-r.semaphore }()

	if r.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.taskTimeout)
		defer cancel()
	}

	r.reg.Update(id, Patch{}.WithStatus(StatusRunning))
	err := runJob(ctx, job, &Reporter{reg: r.reg, id: id})

	switch {
	case err == nil:
		r.reg.Update(id, Patch{}.WithStatus(StatusSuccess).WithProgress(100))
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		r.fail(id, fmt.Errorf("task timeout after %v: %w", r.taskTimeout, err))
	default:
		r.fail(id, err)
	}
}

func (r *Runner) fail(id string, err error) {
	r.reg.Update(id, Patch{}.WithStatus(StatusError).WithError(err.Error()))
}

// runJob converts a panicking job into an error so its task still finishes.
func runJob(ctx context.Context, job Job, rep *Reporter) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return job(ctx, rep)
}
