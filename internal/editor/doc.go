// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package editor applies programmatic edits to a live text document.
//
// Offsets are rune offsets into the document text, never byte or screen
// positions. Streamed AI output is written through an Inserter, which tracks
// the insertion cursor and advances it by the length of each delta. Analysis
// results are shown with marks, and the Highlighter keeps the hover and click
// highlights consistent with each other.
//
// # Key Types
//
//   - Document: text, marks and selection, with versioned changes
//   - Mark: an inline annotation over [Start, End)
//   - Inserter: stream cursor with a ConflictPolicy
//   - Highlighter: one hover and one click highlight, click on top
//
// # Usage
//
//	doc := editor.NewDocument(text)
//	ins, _ := editor.NewInserter(doc, doc.Len(), editor.ConflictReject)
//	client.Run(ctx, "draft", payload, functions.Callbacks{
//	    OnChunk: func(delta string) {
//	        if err := ins.Append(delta); err != nil {
//	            cancel()
//	        }
//	    },
//	})
package editor
