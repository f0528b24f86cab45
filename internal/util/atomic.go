// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrAtomicFileDone is returned when writing to an AtomicFile after Commit or
// Abort.
var ErrAtomicFileDone = errors.New("atomic file already committed or aborted")

// AtomicFile is a temp file in the target's directory that replaces the
// target only on Commit. Readers of the target see either the old content or
// the complete new content.
type AtomicFile struct {
	f      *os.File
	target string
	done   bool
}

// CreateAtomic starts an atomic write of path, creating missing parent
// directories with dirPerm.
func CreateAtomic(path string, dirPerm os.FileMode) (*AtomicFile, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}
	// Same directory so the final rename stays on one filesystem.
	f, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	return &AtomicFile{f: f, target: absPath}, nil
}

// Write appends to the pending content.
func (a *AtomicFile) Write(p []byte) (int, error) {
	if a.done {
		return 0, ErrAtomicFileDone
	}
	return a.f.Write(p)
}

// Commit syncs the pending content, applies perm and renames it over the
// target.
func (a *AtomicFile) Commit(perm os.FileMode) error {
	if a.done {
		return ErrAtomicFileDone
	}
	a.done = true
	tempPath := a.f.Name()

	if err := a.f.Sync(); err != nil {
		a.f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync data to disk: %w", err)
	}
	// Closed before rename for Windows.
	if err := a.f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if err := os.Rename(tempPath, a.target); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Abort discards the pending content. It is safe to call after Commit, which
// makes `defer a.Abort()` the usual cleanup.
func (a *AtomicFile) Abort() {
	if a.done {
		return
	}
	a.done = true
	a.f.Close()
	os.Remove(a.f.Name())
}

// AtomicWriteFile writes data to path atomically, creating parent
// directories with 0755.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return AtomicWriteFileWithDir(path, data, perm, 0o755)
}

// AtomicWriteFileWithDir is like AtomicWriteFile with an explicit
// permission for created parent directories.
func AtomicWriteFileWithDir(path string, data []byte, filePerm, dirPerm os.FileMode) error {
	a, err := CreateAtomic(path, dirPerm)
	if err != nil {
		return err
	}
	defer a.Abort()

	if _, err := a.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return a.Commit(filePerm)
}
