// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStore_PutOpenListDelete(t *testing.T) {
	store, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)

	data := bytes.Repeat([]byte("exhibit "), 10_000)
	var calls []int64
	info, err := store.Put(context.Background(), "case-1/exhibit-a.txt", bytes.NewReader(data), int64(len(data)),
		func(written, total int64) {
			assert.Equal(t, int64(len(data)), total)
			calls = append(calls, written)
		})
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), info.Size)
	require.NotEmpty(t, calls)
	assert.Equal(t, int64(len(data)), calls[len(calls)-1])
	assert.IsIncreasing(t, calls)

	_, err = store.Put(context.Background(), "case-2/memo.txt", strings.NewReader("memo"), 0, nil)
	require.NoError(t, err)

	rc, got, err := store.Open("case-1/exhibit-a.txt")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, data, body)
	assert.Equal(t, info.Size, got.Size)

	list, err := store.List("case-1/")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "case-1/exhibit-a.txt", list[0].Key)

	all, err := store.List("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.Delete("case-1/exhibit-a.txt"))
	_, _, err = store.Open("case-1/exhibit-a.txt")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete("case-1/exhibit-a.txt"), ErrNotFound)
}

type failAfter struct {
	r   io.Reader
	n   int
	err error
}

func (f *failAfter) Read(p []byte) (int, error) {
	if f.n <= 0 {
		return 0, f.err
	}
	if len(p) > f.n {
		p = p[:f.n]
	}
	n, err := f.r.Read(p)
	f.n -= n
	return n, err
}

func TestBlobStore_FailedUploadKeepsPrevious(t *testing.T) {
	store, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Put(context.Background(), "brief.pdf", strings.NewReader("v1"), 2, nil)
	require.NoError(t, err)

	broken := &failAfter{r: strings.NewReader("v2 is much longer"), n: 4, err: errors.New("connection reset")}
	_, err = store.Put(context.Background(), "brief.pdf", broken, 17, nil)
	require.Error(t, err)

	_, err = store.Put(context.Background(), "brief.pdf", strings.NewReader("short"), 99, nil)
	assert.ErrorContains(t, err, "upload truncated")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Put(ctx, "brief.pdf", strings.NewReader("v3"), 2, nil)
	assert.ErrorIs(t, err, context.Canceled)

	rc, _, err := store.Open("brief.pdf")
	require.NoError(t, err)
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "v1", string(body))

	list, err := store.List("")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestBlobStore_RejectsUnsafeKeys(t *testing.T) {
	store, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"", "/etc/passwd", "../x", "a/../../x", "a//b", "a\\b", ".hidden", "a/.upload-1", "."} {
		_, err := store.Put(context.Background(), key, strings.NewReader("x"), 1, nil)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}
