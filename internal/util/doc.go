// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across casedesk.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation for log fields and previews
//   - TruncateWidth, StringWidth: terminal cell aware truncation
//
// File Operations:
//   - CreateAtomic: streaming temp-file-then-rename writes
//   - AtomicWriteFile: crash-safe whole file writes with fsync
//
// # Usage
//
//	a, err := util.CreateAtomic(path, 0o755)
//	if err != nil {
//		return err
//	}
//	defer a.Abort()
//	if _, err := io.Copy(a, r); err != nil {
//		return err
//	}
//	return a.Commit(0o644)
package util
