// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/jeranaias/casedesk/internal/tasks"
	"github.com/jeranaias/casedesk/internal/ui/taskbar"
)

// clearLine returns the cursor to column 0 and erases the line.
const clearLine = "\r\x1b[K"

// statusLine keeps the task bar on the last terminal line of w.
type statusLine struct {
	mu     sync.Mutex
	w      io.Writer
	width  int
	last   string
	closed bool
	unsub  func()
}

func newStatusLine(w io.Writer, width int, reg *tasks.Registry) *statusLine {
	s := &statusLine{w: w, width: width}
	s.unsub = reg.Subscribe(s.update)
	return s
}

func (s *statusLine) update(list []tasks.Task) {
	// One column is left free so the terminal never wraps.
	line := taskbar.Render(list, s.width-1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || line == s.last {
		return
	}
	fmt.Fprint(s.w, clearLine+line)
	s.last = line
}

// Close stops following the registry and erases the line.
func (s *statusLine) Close() {
	s.unsub()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.last != "" {
		fmt.Fprint(s.w, clearLine)
	}
}
