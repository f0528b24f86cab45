// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package console runs the interactive chat session: a Bubble Tea program
// that reads one prompt per line, shows a spinner while an answer streams
// and keeps the task bar under the input line.
//
// Answers are printed above the program's view as complete lines, so the
// scrollback holds the whole conversation while the view only ever holds
// the spinner, the input and the task bar.
//
//	err := console.Run(ctx, console.Options{
//		Input:  os.Stdin,
//		Output: os.Stdout,
//		Tasks:  reg,
//		Turn: func(ctx context.Context, prompt string, w io.Writer) error {
//			_, err := fmt.Fprintln(w, "echo:", prompt)
//			return err
//		},
//	})
//
// Prompts typed while an answer is streaming are queued. "exit", "quit",
// Ctrl+D on an empty line or the end of a piped input end the session once
// the queue has drained. Ctrl+C cancels the running answer, or quits when
// nothing is running.
package console
