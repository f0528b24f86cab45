// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the casedesk command line.
//
// Client commands talk to a function server through the functions package
// and keep cases, documents and conversations in the local database. Each
// AI call runs as a task, so its progress shows in the status line on
// stderr, or under the prompt in an interactive session.
//
// # Key Types
//
//   - app: configuration, function client, task runner and storage for one command
//   - chatSession: a chat or research conversation, one-shot or interactive
//   - ValidationError, ConfigError: errors that map to specific exit codes
//
// # Usage
//
//	os.Exit(cli.Execute(ctx, os.Args[1:]))
//
// # Commands Overview
//
// Server:
//   - serve: Run the function server, reloading providers when the config changes
//
// AI functions:
//   - chat, research: Streamed conversation, optionally saved to a case
//   - draft: Stream text into a document at a cursor
//   - rewrite: Replace a range of a document with a streamed rewrite
//   - analyze: Highlight risks and notable passages
//   - summarize, translate: One-shot results for a document or text
//
// Workspace:
//   - case: create, list, show, delete
//   - doc: new, list, show, export, delete
//   - conversation: list, export (md, html or json), delete
//   - upload: Attach files to a case
//
// Other:
//   - config: show, validate, path, get, set, init
//   - version: Print build information
//
// # Exit Codes
//
// 0 success, 1 general error, 2 usage, 3 configuration, 4 authentication,
// 5 network or server failure, 6 not found, 7 timeout, 8 edit conflict,
// 130 interrupted.
package cli
