// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"io"

	"golang.org/x/text/encoding/unicode"
)

// NewTextReader wraps a response body so that every Read returns whole UTF-8
// sequences: a rune split across two network reads is held back until its
// remaining bytes arrive. A leading byte order mark is dropped and invalid
// bytes decode to U+FFFD.
func NewTextReader(r io.Reader) io.Reader {
	return unicode.UTF8BOM.NewDecoder().Reader(r)
}
