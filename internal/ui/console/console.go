// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/casedesk/internal/tasks"
	"github.com/jeranaias/casedesk/internal/ui/markdown"
)

// TurnFunc answers prompt, writing the answer to w.
type TurnFunc func(ctx context.Context, prompt string, w io.Writer) error

// Options configures Run.
type Options struct {
	Input  io.Reader
	Output io.Writer

	// Tasks feeds the task bar. Nil hides it.
	Tasks *tasks.Registry

	// Width is the initial terminal width; resize events replace it.
	Width int

	// First is answered before any input is read.
	First string

	Turn TurnFunc
}

// Run runs the session until the user leaves or ctx ends. It returns
// ctx.Err() when the session was cut short by ctx.
func Run(ctx context.Context, opts Options) error {
	if opts.Turn == nil {
		return errors.New("console: no turn function")
	}
	watchCtx, stop := context.WithCancel(ctx)
	defer stop()

	m := newModel(ctx, opts.Turn, opts.Width)
	if opts.Tasks != nil {
		m.watch = newWatcher(watchCtx, opts.Tasks)
		defer m.watch.close()
		m.tasks = opts.Tasks.List()
	}
	if opts.First != "" {
		m.queue = append(m.queue, opts.First)
	}

	out := &lineWriter{}
	m.out = out
	input := opts.Input
	in := &eofReader{r: input}
	if f, ok := input.(*os.File); !ok || !markdown.IsTerminal(f) {
		input = in
	}

	p := tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithInput(input),
		tea.WithOutput(opts.Output),
	)
	out.send = p.Send
	in.send = p.Send

	final, err := p.Run()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if fm, ok := final.(model); ok {
		return fm.err
	}
	return nil
}

// =============================================================================
// TASK BAR FEED
// =============================================================================

// watcher turns registry notifications into tasksMsg. The subscriber only
// signals; the snapshot is taken on the command goroutine.
type watcher struct {
	ctx   context.Context
	reg   *tasks.Registry
	ch    chan struct{}
	unsub func()
}

func newWatcher(ctx context.Context, reg *tasks.Registry) *watcher {
	w := &watcher{ctx: ctx, reg: reg, ch: make(chan struct{}, 1)}
	w.unsub = reg.Subscribe(func([]tasks.Task) {
		select {
		case w.ch <- struct{}{}:
		default:
		}
	})
	return w
}

// next waits for the registry to change.
func (w *watcher) next() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-w.ch:
			return tasksMsg(w.reg.List())
		case <-w.ctx.Done():
			return nil
		}
	}
}

func (w *watcher) close() { w.unsub() }

// =============================================================================
// WRITERS
// =============================================================================

// lineWriter forwards complete lines to the program. Flush sends a
// trailing partial line.
type lineWriter struct {
	mu   sync.Mutex
	buf  []byte
	send func(tea.Msg)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	var lines []string
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimSuffix(w.buf[:i], []byte{'\r'})))
		w.buf = w.buf[i+1:]
	}
	if len(lines) > 0 && w.send != nil {
		w.send(linesMsg(lines))
	}
	return len(p), nil
}

// Flush sends whatever follows the last newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) == 0 {
		return
	}
	line := string(w.buf)
	w.buf = w.buf[:0]
	if w.send != nil {
		w.send(linesMsg{line})
	}
}

// eofReader reports the end of a piped input to the program, which would
// otherwise wait for keys that never come. Data read together with EOF is
// returned on its own before EOF.
type eofReader struct {
	r    io.Reader
	eof  bool
	once sync.Once
	send func(tea.Msg)
}

func (r *eofReader) Read(p []byte) (int, error) {
	if !r.eof {
		n, err := r.r.Read(p)
		if !errors.Is(err, io.EOF) {
			return n, err
		}
		r.eof = true
		if n > 0 {
			return n, nil
		}
	}
	r.once.Do(func() { r.send(inputClosedMsg{}) })
	return 0, io.EOF
}
