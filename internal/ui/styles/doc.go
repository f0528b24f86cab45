// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles holds the terminal palette shared by casedesk's output.
//
// Colors are Lip Gloss AdaptiveColors so they follow the terminal's light or
// dark background. Every status also has an ASCII indicator so it reads
// without color.
//
// # Key Types
//
//   - StatusIndicatorSet: shape indicators per status
//
// # Usage
//
//	fmt.Fprintln(os.Stderr, styles.RenderError("upload failed"))
//	bar := styles.RenderProgressBar(20, 45)
package styles
