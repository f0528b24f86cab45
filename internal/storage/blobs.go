// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/casedesk/internal/util"
)

// ErrInvalidKey is returned for blob keys that would escape the store.
var ErrInvalidKey = errors.New("invalid blob key")

const blobChunkSize = 32 * 1024

// BlobInfo describes a stored blob.
type BlobInfo struct {
	Key     string    `json:"key"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// ProgressFunc is told the bytes written so far and the expected total
// (zero when unknown).
type ProgressFunc func(written, total int64)

// BlobStore keeps uploaded files under a directory. Keys are slash
// separated relative paths such as "<case-id>/brief.pdf".
type BlobStore struct {
	dir string
}

// NewBlobStore creates the store directory if needed.
func NewBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &BlobStore{dir: dir}, nil
}

// Put streams r into key. The blob appears atomically once complete; a
// canceled or failed upload leaves any previous blob in place.
func (b *BlobStore) Put(ctx context.Context, key string, r io.Reader, size int64, progress ProgressFunc) (BlobInfo, error) {
	target, err := b.path(key)
	if err != nil {
		return BlobInfo{}, err
	}
	a, err := util.CreateAtomic(target, 0o755)
	if err != nil {
		return BlobInfo{}, err
	}
	defer a.Abort()

	var written int64
	buf := make([]byte, blobChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return BlobInfo{}, err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, err := a.Write(buf[:n]); err != nil {
				return BlobInfo{}, fmt.Errorf("failed to write blob: %w", err)
			}
			written += int64(n)
			if progress != nil {
				progress(written, size)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return BlobInfo{}, fmt.Errorf("failed to read upload: %w", rerr)
		}
	}
	if size > 0 && written != size {
		return BlobInfo{}, fmt.Errorf("upload truncated: got %d of %d bytes", written, size)
	}
	if err := a.Commit(0o644); err != nil {
		return BlobInfo{}, err
	}
	return b.Stat(key)
}

// Open returns a reader for key. The caller closes it.
func (b *BlobStore) Open(key string) (io.ReadCloser, BlobInfo, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, BlobInfo{}, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, BlobInfo{}, fmt.Errorf("blob %s: %w", key, ErrNotFound)
		}
		return nil, BlobInfo{}, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, BlobInfo{}, err
	}
	return f, BlobInfo{Key: key, Size: st.Size(), ModTime: st.ModTime()}, nil
}

// Stat describes key.
func (b *BlobStore) Stat(key string) (BlobInfo, error) {
	p, err := b.path(key)
	if err != nil {
		return BlobInfo{}, err
	}
	st, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return BlobInfo{}, fmt.Errorf("blob %s: %w", key, ErrNotFound)
		}
		return BlobInfo{}, err
	}
	return BlobInfo{Key: key, Size: st.Size(), ModTime: st.ModTime()}, nil
}

// Delete removes key.
func (b *BlobStore) Delete(key string) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("blob %s: %w", key, ErrNotFound)
		}
		return err
	}
	return nil
}

// List returns blobs whose key starts with prefix, sorted by key.
// Incomplete uploads are not listed.
func (b *BlobStore) List(prefix string) ([]BlobInfo, error) {
	var out []BlobInfo
	err := filepath.WalkDir(b.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(b.dir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, BlobInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// path maps a key to a file path inside the store.
func (b *BlobStore) path(key string) (string, error) {
	if key == "" || strings.Contains(key, "\\") || path.IsAbs(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean != key || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(clean, "/") {
		if strings.HasPrefix(part, ".") {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return filepath.Join(b.dir, filepath.FromSlash(clean)), nil
}
