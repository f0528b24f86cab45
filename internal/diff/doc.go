// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package diff compares two versions of a passage word by word.
//
// The rewrite command uses it to show what a streamed rewrite changed.
//
// # Key Types
//
//   - Kind: equal, inserted or deleted
//   - Segment: a run of text with one kind
//   - Redline: the segments of a comparison with word counts
//
// # Usage
//
//	r := diff.Compute("The Supplier may deliver.", "The Supplier must deliver.")
//	fmt.Println(r.Format())  // The Supplier [-may-]{+must+} deliver.
//	fmt.Println(r.Summary()) // +1 -1 words
package diff
