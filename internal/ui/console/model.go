// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package console

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/casedesk/internal/tasks"
	"github.com/jeranaias/casedesk/internal/ui/styles"
	"github.com/jeranaias/casedesk/internal/ui/taskbar"
)

// =============================================================================
// MESSAGES
// =============================================================================

type (
	// nextMsg asks the model to start the next queued prompt.
	nextMsg struct{}

	// linesMsg carries complete answer lines for the scrollback.
	linesMsg []string

	// flushedMsg follows the lines of one print once they reached the
	// renderer.
	flushedMsg struct{}

	turnDoneMsg struct{ err error }

	tasksMsg []tasks.Task

	// inputClosedMsg reports that no more keys will arrive.
	inputClosedMsg struct{}
)

// =============================================================================
// MODEL
// =============================================================================

type model struct {
	ctx   context.Context
	turn  TurnFunc
	out   *lineWriter
	watch *watcher

	input   textinput.Model
	spinner spinner.Model
	width   int
	tasks   []tasks.Task

	busy   bool
	cancel context.CancelFunc
	queue  []string

	// pending lines wait for the print in flight to finish, which keeps
	// the scrollback in order.
	pending  []string
	flushing bool

	closed   bool
	quitting bool
	err      error
}

func newModel(ctx context.Context, turn TurnFunc, width int) model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(styles.TextMuted)
	ti.Focus()

	s := spinner.New(
		spinner.WithSpinner(spinner.Line),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(styles.Cyan)),
	)
	return model{
		ctx:     ctx,
		turn:    turn,
		out:     &lineWriter{},
		input:   ti,
		spinner: s,
		width:   width,
	}
}

// Init starts the cursor, the task feed and any prompt queued up front.
func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, func() tea.Msg { return nextMsg{} }}
	if m.watch != nil {
		cmds = append(cmds, m.watch.next())
	}
	return tea.Batch(cmds...)
}

// =============================================================================
// UPDATE
// =============================================================================

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-lipgloss.Width(m.input.Prompt)-1, 0)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case nextMsg:
		return m, m.next()

	case linesMsg:
		return m, m.print(msg...)

	case flushedMsg:
		m.flushing = false
		if cmd := m.flush(); cmd != nil {
			return m, cmd
		}
		return m, m.quitIfIdle()

	case turnDoneMsg:
		return m.finishTurn(msg.err)

	case tasksMsg:
		m.tasks = msg
		if m.watch == nil {
			return m, nil
		}
		return m, m.watch.next()

	case inputClosedMsg:
		m.closed = true
		return m, m.next()

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.busy {
			m.cancel()
			m.queue = nil
			return m, nil
		}
		m.quitting = true
		return m, m.quitIfIdle()

	case tea.KeyCtrlD:
		if m.input.Value() == "" {
			m.closed = true
			return m, m.next()
		}

	case tea.KeyEnter, tea.KeyCtrlJ:
		line := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		if line == "" {
			return m, nil
		}
		m.queue = append(m.queue, line)
		return m, m.next()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// next starts the oldest queued prompt when nothing is running.
func (m *model) next() tea.Cmd {
	if m.busy || m.quitting {
		return nil
	}
	if len(m.queue) == 0 {
		if m.closed {
			m.quitting = true
			return m.quitIfIdle()
		}
		return nil
	}
	line := m.queue[0]
	m.queue = m.queue[1:]
	switch strings.ToLower(line) {
	case "exit", "quit":
		m.quitting = true
		return m.quitIfIdle()
	}
	return tea.Batch(m.print(styles.RenderMuted("> ")+line), m.startTurn(line))
}

func (m *model) startTurn(prompt string) tea.Cmd {
	ctx, cancel := context.WithCancel(m.ctx)
	m.busy, m.cancel = true, cancel
	turn, out := m.turn, m.out
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		defer cancel()
		err := turn(ctx, prompt, out)
		out.Flush()
		return turnDoneMsg{err: err}
	})
}

func (m model) finishTurn(err error) (tea.Model, tea.Cmd) {
	m.busy, m.cancel = false, nil

	var cmds []tea.Cmd
	switch {
	case err == nil:
	case m.ctx.Err() != nil:
		m.err = m.ctx.Err()
		m.quitting = true
	case errors.Is(err, context.Canceled):
		cmds = append(cmds, m.print(styles.RenderMuted("Canceled.")))
	default:
		cmds = append(cmds, m.print(styles.RenderError(err.Error())))
	}
	if m.quitting {
		cmds = append(cmds, m.quitIfIdle())
	} else {
		cmds = append(cmds, m.next())
	}
	return m, tea.Batch(cmds...)
}

// =============================================================================
// SCROLLBACK
// =============================================================================

// print queues lines above the view.
func (m *model) print(lines ...string) tea.Cmd {
	m.pending = append(m.pending, lines...)
	return m.flush()
}

// flush hands the pending lines to the renderer unless a print is already
// in flight; flushedMsg arrives once they are queued there.
func (m *model) flush() tea.Cmd {
	if m.flushing || len(m.pending) == 0 {
		return nil
	}
	text := strings.Join(m.pending, "\n")
	m.pending = nil
	m.flushing = true
	return tea.Sequence(tea.Println(text), func() tea.Msg { return flushedMsg{} })
}

// quitIfIdle quits once the session is leaving and every line is out.
func (m *model) quitIfIdle() tea.Cmd {
	if !m.quitting || m.busy || m.flushing || len(m.pending) > 0 {
		return nil
	}
	return tea.Quit
}

// =============================================================================
// VIEW
// =============================================================================

func (m model) View() string {
	var b strings.Builder
	if m.busy {
		status := "Answering"
		if n := len(m.queue); n > 0 {
			status += fmt.Sprintf(" (%d queued)", n)
		}
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(styles.RenderMuted(status + ", Ctrl+C to stop"))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	if bar := taskbar.Render(m.tasks, m.width-1); bar != "" {
		b.WriteString("\n")
		b.WriteString(bar)
	}
	return b.String()
}
