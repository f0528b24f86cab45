// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists cases, documents, conversations and analyses in
// SQLite, and uploaded files in a directory-backed blob store.
//
// # Key Types
//
//   - DB: the case database (modernc.org/sqlite, no cgo)
//   - Case, Document, Conversation, Message, Analysis: stored records
//   - BlobStore: atomic, progress-reporting file uploads
//
// # Usage
//
//	db, err := storage.Open(ctx, filepath.Join(dataDir, "casedesk.db"))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	c, err := db.CreateCase(ctx, storage.Case{Title: "Smith v. Jones"})
//
// Missing rows are reported with an error matching ErrNotFound.
package storage
