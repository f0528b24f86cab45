// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package markdown renders AI responses for the terminal with glamour.
//
// Rendering only happens on a terminal; redirected output receives the raw
// Markdown so it can be saved or piped.
//
// # Usage
//
//	r, err := markdown.New(markdown.Options{
//		Style: cfg.UI.MarkdownStyle,
//		Width: markdown.Width(os.Stdout, markdown.DefaultWidth),
//		TTY:   markdown.IsTerminal(os.Stdout),
//	})
//	out := markdown.NewStream(os.Stdout, r)
//	defer out.Close()
package markdown
