// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jeranaias/casedesk/internal/storage"
	"github.com/jeranaias/casedesk/internal/tasks"
	"github.com/jeranaias/casedesk/internal/ui/styles"
	"github.com/jeranaias/casedesk/internal/ui/taskbar"
)

// uploadResult is one line of upload output.
type uploadResult struct {
	File  string            `json:"file"`
	Blob  *storage.BlobInfo `json:"blob,omitempty"`
	Error string            `json:"error,omitempty"`
}

func newUploadCmd(flags *globalFlags) *cobra.Command {
	var caseID string
	cmd := &cobra.Command{
		Use:   "upload --case ID FILE...",
		Short: "Attach files to a case",
		Long: `Attach files to a case.

Files upload in parallel, up to tasks.max_concurrent at a time, and show
their progress in the status line. A file with the same name replaces the
earlier upload once the new one is complete.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if caseID == "" {
				return ErrMissingArgument("case", "casedesk upload --case <case-id> brief.pdf")
			}
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			if _, err := db.GetCase(ctx, caseID); err != nil {
				return err
			}
			a.store.ActiveCase.Set(caseID)
			blobs, err := a.openBlobs()
			if err != nil {
				return err
			}

			var (
				mu      sync.Mutex
				results = make([]uploadResult, len(args))
				errs    []error
			)
			for i, file := range args {
				results[i].File = file
				a.runner.Go(ctx, "Uploading "+filepath.Base(file), func(ctx context.Context, rep *tasks.Reporter) error {
					info, err := uploadFile(ctx, blobs, caseID, file, rep)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						results[i].Error = err.Error()
						errs = append(errs, fmt.Errorf("%s: %w", file, err))
						return err
					}
					results[i].Blob = &info
					return nil
				})
			}
			a.runner.Wait()
			if err := ctx.Err(); err != nil {
				return err
			}

			if a.flags.jsonOutput {
				if err := printJSON(a.stdout, results); err != nil {
					return err
				}
				return errors.Join(errs...)
			}
			for _, r := range results {
				switch {
				case r.Blob != nil:
					fmt.Fprintf(a.stdout, "%s %s (%s)\n", styles.StatusIndicators.Success, r.Blob.Key, humanize.Bytes(uint64(r.Blob.Size)))
				case r.Error != "":
					fmt.Fprintf(a.stdout, "%s %s: %s\n", styles.StatusIndicators.Error, r.File, r.Error)
				default:
					fmt.Fprintf(a.stdout, "%s %s: not uploaded\n", styles.StatusIndicators.Pending, r.File)
				}
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringVar(&caseID, "case", "", "case to attach the files to")
	return cmd
}

// uploadFile copies one file into the case's blob folder, reporting progress
// whenever the whole percentage changes.
func uploadFile(ctx context.Context, blobs *storage.BlobStore, caseID, file string, rep *tasks.Reporter) (storage.BlobInfo, error) {
	f, err := os.Open(file)
	if err != nil {
		return storage.BlobInfo{}, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return storage.BlobInfo{}, err
	}
	if st.IsDir() {
		return storage.BlobInfo{}, fmt.Errorf("%s is a directory", file)
	}

	name := filepath.Base(file)
	last := -1
	return blobs.Put(ctx, path.Join(caseID, name), f, st.Size(), func(written, total int64) {
		pct := taskbar.Percent(written, total)
		if pct == last {
			return
		}
		last = pct
		rep.Describe(fmt.Sprintf("Uploading %s %s", name, taskbar.ProgressLabel(written, total)))
		rep.Progress(pct)
	})
}
