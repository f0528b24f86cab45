// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package taskbar

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"

	"github.com/jeranaias/casedesk/internal/tasks"
)

var now = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func task(id, desc string, status tasks.Status, age time.Duration) tasks.Task {
	t := tasks.Task{
		ID:          id,
		Description: desc,
		Status:      status,
		CreatedAt:   now.Add(-age - time.Minute),
		UpdatedAt:   now.Add(-age),
	}
	if status.Terminal() {
		t.FinishedAt = now.Add(-age)
	}
	return t
}

func withProgress(t tasks.Task, p int) tasks.Task {
	t.Progress = &p
	return t
}

func TestRender_Empty(t *testing.T) {
	assert.Equal(t, "", Render(nil, 80))
	assert.Equal(t, "", RenderAt([]tasks.Task{}, 80, now))
}

func TestRender_RunningWithProgress(t *testing.T) {
	list := []tasks.Task{
		withProgress(task("a", "Uploading brief.pdf", tasks.StatusRunning, time.Second), 45),
		task("b", "Summarizing lease", tasks.StatusSuccess, 10*time.Second),
		task("c", "Analyzing NDA", tasks.StatusSuccess, 20*time.Second),
	}
	out := RenderAt(list, 0, now)

	assert.Contains(t, out, "[*] Uploading brief.pdf")
	assert.Contains(t, out, " 45% [#####.------]")
	assert.Contains(t, out, "1 running, 2 done")
	assert.NotContains(t, out, "Summarizing lease")
}

func TestRender_FinishedShowsAge(t *testing.T) {
	ok := []tasks.Task{task("a", "Summarizing lease", tasks.StatusSuccess, 3*time.Second)}
	out := RenderAt(ok, 0, now)
	assert.Contains(t, out, "[OK] Summarizing lease 3 seconds ago")
	assert.Contains(t, out, "1 done")

	failed := task("b", "Analyzing lease", tasks.StatusError, 2*time.Minute)
	failed.Error = "rate limited"
	out = RenderAt([]tasks.Task{failed}, 0, now)
	assert.Contains(t, out, "[X] Analyzing lease: rate limited 2 minutes ago")
	assert.Contains(t, out, "1 failed")
}

func TestRender_PendingHasNoTail(t *testing.T) {
	out := RenderAt([]tasks.Task{task("a", "Queued draft", tasks.StatusPending, 0)}, 0, now)
	assert.True(t, strings.HasPrefix(out, "[ ] Queued draft"), out)
	assert.Contains(t, out, "1 queued")
}

func TestRender_TruncatesToWidth(t *testing.T) {
	list := []tasks.Task{
		withProgress(task("a", strings.Repeat("Uploading a very long exhibit name ", 4), tasks.StatusRunning, 0), 10),
		task("b", "done", tasks.StatusSuccess, time.Second),
	}
	for _, width := range []int{120, 80, 60, 40, 30} {
		out := RenderAt(list, width, now)
		assert.LessOrEqual(t, lipgloss.Width(out), width, "width %d: %q", width, out)
		assert.Contains(t, out, "10%", "width %d keeps progress", width)
	}

	narrow := RenderAt(list, 40, now)
	assert.NotContains(t, narrow, "1 done", "counts are dropped first")
	assert.Contains(t, narrow, "...")
}

func TestFocus(t *testing.T) {
	older := task("run-old", "old", tasks.StatusRunning, time.Minute)
	newer := task("run-new", "new", tasks.StatusRunning, time.Second)
	pendingOld := task("p-old", "p1", tasks.StatusPending, time.Hour)
	pendingNew := task("p-new", "p2", tasks.StatusPending, time.Second)
	doneOld := task("d-old", "d1", tasks.StatusSuccess, time.Hour)
	doneNew := task("d-new", "d2", tasks.StatusError, time.Second)

	assert.Equal(t, "run-new", Focus([]tasks.Task{doneNew, older, pendingNew, newer}).ID)
	assert.Equal(t, "p-old", Focus([]tasks.Task{doneNew, pendingNew, pendingOld}).ID)
	assert.Equal(t, "d-new", Focus([]tasks.Task{doneOld, doneNew}).ID)
	assert.Equal(t, "", Focus(nil).ID)
}

func TestCount(t *testing.T) {
	c := Count([]tasks.Task{
		{Status: tasks.StatusPending},
		{Status: tasks.StatusRunning},
		{Status: tasks.StatusRunning},
		{Status: tasks.StatusSuccess},
		{Status: tasks.StatusError},
	})
	assert.Equal(t, tasks.Counts{Pending: 1, Running: 2, Success: 1, Error: 1}, c)
	assert.Equal(t, 3, c.Active())
}

func TestProgressLabel(t *testing.T) {
	assert.Equal(t, "1.2 MB / 4.0 MB", ProgressLabel(1_200_000, 4_000_000))
	assert.Equal(t, "512 B", ProgressLabel(512, 0))
	assert.Equal(t, "0 B / 512 B", ProgressLabel(-1, 512))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, Percent(0, 100))
	assert.Equal(t, 0, Percent(50, 0))
	assert.Equal(t, 50, Percent(50, 100))
	assert.Equal(t, 33, Percent(1, 3))
	assert.Equal(t, 100, Percent(120, 100))
}

func TestIndicator(t *testing.T) {
	assert.Equal(t, "[*]", Indicator(tasks.StatusRunning))
	assert.Equal(t, "[OK]", Indicator(tasks.StatusSuccess))
	assert.Equal(t, "[X]", Indicator(tasks.StatusError))
	assert.Equal(t, "[ ]", Indicator(tasks.StatusPending))
}
