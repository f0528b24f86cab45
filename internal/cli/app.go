// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"pkt.systems/pslog"

	"github.com/jeranaias/casedesk/internal/config"
	"github.com/jeranaias/casedesk/internal/functions"
	"github.com/jeranaias/casedesk/internal/sse"
	"github.com/jeranaias/casedesk/internal/state"
	"github.com/jeranaias/casedesk/internal/storage"
	"github.com/jeranaias/casedesk/internal/tasks"
	"github.com/jeranaias/casedesk/internal/ui/markdown"
)

// =============================================================================
// APP
// =============================================================================

// app is what a client command needs: configuration, the function client,
// the shared state and, on demand, storage.
type app struct {
	cfg    *config.Config
	flags  *globalFlags
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	store  *state.Store
	runner *tasks.Runner
	client *functions.Client
	status *statusLine

	dbOnce sync.Once
	db     *storage.DB
	dbErr  error
}

// newApp builds an app from the configuration loaded by the root command.
func newApp(cmd *cobra.Command, flags *globalFlags) (*app, error) {
	cfg := config.Global()
	logger := pslog.Ctx(cmd.Context())

	opts := []functions.Option{
		functions.WithAPIKey(cfg.Functions.APIKey),
		functions.WithTimeout(cfg.FunctionTimeout()),
		functions.WithLogger(logger),
	}
	for name, value := range cfg.Functions.Dialects {
		d, err := sse.ParseDialect(value)
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("functions.dialects.%s: %w", name, err)}
		}
		opts = append(opts, functions.WithDialect(name, d))
	}

	reg := tasks.NewRegistry(tasks.WithExpiry(cfg.TaskExpiry()), tasks.WithLogger(logger))
	a := &app{
		cfg:    cfg,
		flags:  flags,
		stdin:  cmd.InOrStdin(),
		stdout: cmd.OutOrStdout(),
		stderr: cmd.ErrOrStderr(),
		store:  state.NewStore(reg),
		runner: tasks.NewRunner(reg, cfg.Tasks.MaxConcurrent, cfg.TaskTimeout()),
		client: functions.New(cfg.Functions.BaseURL, opts...),
	}
	if cfg.UI.ShowStatus && !flags.noStatus && !flags.jsonOutput && isTerminal(a.stderr) {
		a.status = newStatusLine(a.stderr, terminalWidth(a.stderr), reg)
	}
	return a, nil
}

// Close stops background work and releases storage.
func (a *app) Close() error {
	a.runner.Close()
	if a.status != nil {
		a.status.Close()
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// openDB opens the case database once.
func (a *app) openDB(ctx context.Context) (*storage.DB, error) {
	a.dbOnce.Do(func() {
		dir, err := a.cfg.DataDir()
		if err != nil {
			a.dbErr = &ConfigError{Err: err}
			return
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			a.dbErr = fmt.Errorf("create data directory: %w", err)
			return
		}
		a.db, a.dbErr = storage.Open(ctx, filepath.Join(dir, "casedesk.db"))
	})
	return a.db, a.dbErr
}

// openBlobs opens the upload store under the data directory.
func (a *app) openBlobs() (*storage.BlobStore, error) {
	dir, err := a.cfg.DataDir()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	return storage.NewBlobStore(filepath.Join(dir, "blobs"))
}

// renderer returns a markdown renderer for stdout.
func (a *app) renderer() *markdown.Renderer {
	width := a.cfg.UI.Width
	if width == 0 {
		width = terminalWidth(a.stdout)
	}
	r, err := markdown.New(markdown.Options{
		Style: a.cfg.UI.MarkdownStyle,
		Width: width,
		TTY:   !a.flags.jsonOutput && isTerminal(a.stdout),
	})
	if err != nil {
		// Plain output is always possible.
		r, _ = markdown.New(markdown.Options{})
	}
	return r
}

// run executes job as a tracked task and waits for it. The job's own error
// is returned so callers can inspect its type.
func (a *app) run(ctx context.Context, description string, job tasks.Job) error {
	result := make(chan error, 1)
	id := a.runner.Go(ctx, description, func(ctx context.Context, rep *tasks.Reporter) error {
		err := job(ctx, rep)
		result <- err
		return err
	})
	a.runner.Wait()

	select {
	case err := <-result:
		return err
	default:
	}
	// The job never ran: canceled while queued or the runner was closed.
	if t, ok := a.store.Tasks.Get(id); ok && t.Status == tasks.StatusError {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.New(t.Error)
	}
	return ctx.Err()
}

// =============================================================================
// TERMINAL HELPERS
// =============================================================================

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && markdown.IsTerminal(f)
}

func terminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		return markdown.Width(f, markdown.DefaultWidth)
	}
	return markdown.DefaultWidth
}

// newLogger builds the console logger used when [logging] level is set.
func newLogger(w io.Writer, level string) pslog.Logger {
	opts := pslog.Options{Mode: pslog.ModeConsole, NoColor: !isTerminal(w), MinLevel: pslog.InfoLevel}
	switch strings.ToLower(level) {
	case "trace":
		opts.MinLevel = pslog.TraceLevel
	case "debug":
		opts.MinLevel = pslog.DebugLevel
	case "error":
		opts.MinLevel = pslog.ErrorLevel
	}
	return pslog.NewWithOptions(w, opts)
}

// readSecret reads a secret from the terminal without echo, or a line
// from in when it is not a terminal.
func readSecret(in io.Reader, out io.Writer, prompt string) (string, error) {
	if f, ok := in.(*os.File); ok && markdown.IsTerminal(f) {
		fmt.Fprint(out, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := readLine(in)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readLine reads up to the next newline one byte at a time, so nothing past
// the line is consumed from in.
func readLine(in io.Reader) (string, error) {
	var (
		b   strings.Builder
		buf [1]byte
	)
	for {
		n, err := in.Read(buf[:])
		if n == 1 {
			if buf[0] == '\n' {
				return strings.TrimSuffix(b.String(), "\r"), nil
			}
			b.WriteByte(buf[0])
		}
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
	}
}
