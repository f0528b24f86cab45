// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders saved chat and research conversations for sharing
// outside casedesk.
//
// # Key Types
//
//   - Transcript: a conversation and its messages
//   - Exporter: one output format
//   - Options: timestamps, cited sources and HTML theme
//
// # Supported Formats
//
//   - md: Markdown with YAML front matter and numbered sources
//   - html: standalone page; message Markdown is rendered and sanitized
//   - json: the complete transcript
//
// # Usage
//
//	e, err := export.ForFormat("html", export.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	out, err := e.Export(export.Transcript{Conversation: conv, Messages: msgs})
package export
