// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// TASK STATUS
// =============================================================================

// Status represents the current state of a background task.
type Status string

const (
	// StatusPending indicates the task is registered but has not started.
	StatusPending Status = "pending"

	// StatusRunning indicates the task is in flight.
	StatusRunning Status = "running"

	// StatusSuccess indicates the task finished successfully.
	StatusSuccess Status = "success"

	// StatusError indicates the task failed.
	StatusError Status = "error"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Terminal reports whether the status is success or error.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusError:
		return true
	}
	return false
}

// =============================================================================
// TASK
// =============================================================================

// Task is a UI-visible record of one background operation. Values returned
// by the Registry are copies; mutate through Registry.Update.
type Task struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	Progress    *int      `json:"progress,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	FinishedAt  time.Time `json:"finishedAt,omitzero"`
}

// NewID returns a random identifier for a new task.
func NewID() string {
	return uuid.NewString()
}

// New creates a pending task with a fresh ID.
func New(description string) Task {
	return Task{
		ID:          NewID(),
		Description: description,
		Status:      StatusPending,
	}
}

// ProgressValue returns the progress percentage and whether one is set.
func (t Task) ProgressValue() (int, bool) {
	if t.Progress == nil {
		return 0, false
	}
	return *t.Progress, true
}

// Done reports whether the task reached a terminal status.
func (t Task) Done() bool {
	return t.Status.Terminal()
}

// Elapsed returns how long the task ran, or has been running as of now.
func (t Task) Elapsed(now time.Time) time.Duration {
	if !t.FinishedAt.IsZero() {
		return t.FinishedAt.Sub(t.CreatedAt)
	}
	return now.Sub(t.CreatedAt)
}

// Summary returns a one-line summary of the task.
func (t Task) Summary() string {
	id := t.ID
	if len(id) > 8 {
		id = id[:8]
	}
	s := fmt.Sprintf("[%s] %s - %s", id, t.Description, t.Status)
	if p, ok := t.ProgressValue(); ok && !t.Done() {
		s += fmt.Sprintf(" %d%%", p)
	}
	if t.Error != "" {
		s += ": " + t.Error
	}
	return s
}

func (t Task) clone() Task {
	if t.Progress != nil {
		p := *t.Progress
		t.Progress = &p
	}
	return t
}

// =============================================================================
// PATCH
// =============================================================================

// Patch lists the fields Update merges into a task. Nil fields are left
// untouched.
type Patch struct {
	Status      *Status
	Progress    *int
	Description *string
	Error       *string
}

// WithStatus returns p with Status set.
func (p Patch) WithStatus(s Status) Patch {
	p.Status = &s
	return p
}

// WithProgress returns p with Progress set.
func (p Patch) WithProgress(pct int) Patch {
	p.Progress = &pct
	return p
}

// WithDescription returns p with Description set.
func (p Patch) WithDescription(d string) Patch {
	p.Description = &d
	return p
}

// WithError returns p with Error set.
func (p Patch) WithError(msg string) Patch {
	p.Error = &msg
	return p
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
