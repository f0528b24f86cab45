// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package taskbar

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jeranaias/casedesk/internal/tasks"
	"github.com/jeranaias/casedesk/internal/ui/styles"
	"github.com/jeranaias/casedesk/internal/util"
)

// barWidth is the width of the progress bar shown next to the focused task.
const barWidth = 12

// separator between the focused task and the counts.
const separator = "  |  "

// Render returns a one-line status for list, at most width cells wide.
// A width of zero or less disables truncation. An empty list renders as "".
func Render(list []tasks.Task, width int) string {
	return RenderAt(list, width, time.Now())
}

// RenderAt is Render with an explicit clock.
func RenderAt(list []tasks.Task, width int, now time.Time) string {
	if len(list) == 0 {
		return ""
	}

	focus := Focus(list)
	head, body, tail := segments(focus, now)
	counts := countsText(Count(list))

	if width > 0 {
		fixed := util.StringWidth(head) + 1 + util.StringWidth(tail) + len(separator) + util.StringWidth(counts)
		if tail != "" {
			fixed++
		}
		room := width - fixed
		if room < 8 {
			// Not enough space for both; keep the focused task.
			counts = ""
			room = width - util.StringWidth(head) - 1 - util.StringWidth(tail)
			if tail != "" {
				room--
			}
		}
		body = util.TruncateWidth(body, max(room, 0))
	}

	var sb strings.Builder
	sb.WriteString(statusStyle(focus.Status).Render(head))
	sb.WriteString(" ")
	sb.WriteString(body)
	if tail != "" {
		sb.WriteString(" ")
		sb.WriteString(styles.RenderMuted(tail))
	}
	if counts != "" {
		sb.WriteString(styles.RenderMuted(separator + counts))
	}
	return sb.String()
}

// Focus picks the task the status line describes: the most recently
// updated running task, else the oldest pending one, else the most recently
// finished one.
func Focus(list []tasks.Task) tasks.Task {
	var running, pending, finished *tasks.Task
	for i := range list {
		t := &list[i]
		switch t.Status {
		case tasks.StatusRunning:
			if running == nil || t.UpdatedAt.After(running.UpdatedAt) {
				running = t
			}
		case tasks.StatusPending:
			if pending == nil || t.CreatedAt.Before(pending.CreatedAt) {
				pending = t
			}
		default:
			if finished == nil || t.FinishedAt.After(finished.FinishedAt) {
				finished = t
			}
		}
	}
	switch {
	case running != nil:
		return *running
	case pending != nil:
		return *pending
	case finished != nil:
		return *finished
	}
	return tasks.Task{}
}

// Count tallies list by status.
func Count(list []tasks.Task) tasks.Counts {
	var c tasks.Counts
	for _, t := range list {
		switch t.Status {
		case tasks.StatusPending:
			c.Pending++
		case tasks.StatusRunning:
			c.Running++
		case tasks.StatusSuccess:
			c.Success++
		case tasks.StatusError:
			c.Error++
		}
	}
	return c
}

// ProgressLabel formats transferred bytes, e.g. "1.2 MB / 4.0 MB".
func ProgressLabel(written, total int64) string {
	if total <= 0 {
		return humanize.Bytes(uint64(max(written, 0)))
	}
	return humanize.Bytes(uint64(max(written, 0))) + " / " + humanize.Bytes(uint64(total))
}

// Percent converts transferred bytes into a 0..100 progress value.
func Percent(written, total int64) int {
	if total <= 0 || written <= 0 {
		return 0
	}
	if written >= total {
		return 100
	}
	return int(written * 100 / total)
}

// segments splits the focused task into indicator, description and trailing
// detail.
func segments(t tasks.Task, now time.Time) (head, body, tail string) {
	head = Indicator(t.Status)
	body = t.Description
	switch t.Status {
	case tasks.StatusRunning:
		if p, ok := t.ProgressValue(); ok {
			tail = fmt.Sprintf("%3d%% [%s]", p, styles.RenderProgressBar(barWidth, float64(p)))
		}
	case tasks.StatusError:
		if t.Error != "" {
			body += ": " + t.Error
		}
		tail = age(t, now)
	case tasks.StatusSuccess:
		tail = age(t, now)
	}
	return head, body, tail
}

func age(t tasks.Task, now time.Time) string {
	if t.FinishedAt.IsZero() {
		return ""
	}
	return humanize.RelTime(t.FinishedAt, now, "ago", "from now")
}

func countsText(c tasks.Counts) string {
	var parts []string
	if c.Running > 0 {
		parts = append(parts, fmt.Sprintf("%d running", c.Running))
	}
	if c.Pending > 0 {
		parts = append(parts, fmt.Sprintf("%d queued", c.Pending))
	}
	if c.Success > 0 {
		parts = append(parts, fmt.Sprintf("%d done", c.Success))
	}
	if c.Error > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", c.Error))
	}
	return strings.Join(parts, ", ")
}

// Indicator returns the ASCII indicator for a status.
func Indicator(s tasks.Status) string {
	switch s {
	case tasks.StatusRunning:
		return styles.StatusIndicators.Active
	case tasks.StatusSuccess:
		return styles.StatusIndicators.Success
	case tasks.StatusError:
		return styles.StatusIndicators.Error
	default:
		return styles.StatusIndicators.Pending
	}
}

func statusStyle(s tasks.Status) lipgloss.Style {
	st := lipgloss.NewStyle().Bold(true)
	switch s {
	case tasks.StatusRunning:
		return st.Foreground(styles.Cyan)
	case tasks.StatusSuccess:
		return st.Foreground(styles.Emerald)
	case tasks.StatusError:
		return st.Foreground(styles.Rose)
	default:
		return st.Foreground(styles.Amber)
	}
}
