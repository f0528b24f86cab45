// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package taskbar renders the global task indicator: one line naming the
// task that matters most right now plus a tally of the rest.
//
//	[*] Uploading brief.pdf  45% [#####-------]  |  1 running, 2 done
//	[X] Analyzing lease: rate limited 3 seconds ago  |  1 done, 1 failed
//
// # Usage
//
//	unsubscribe := reg.Subscribe(func(list []tasks.Task) {
//		fmt.Fprint(os.Stderr, "\r"+taskbar.Render(list, width))
//	})
//	defer unsubscribe()
package taskbar
