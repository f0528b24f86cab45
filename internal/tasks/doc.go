// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks tracks background operations for the status indicator.
//
// Uploads, analyses and drafts each register a Task when they start and
// update it as they progress. Finished tasks stay visible for a short window
// (DefaultExpiry) and are then removed by SweepExpired.
//
// # Key Types
//
//   - Task: one operation with status, optional progress and timestamps
//   - Status: pending, running, success or error
//   - Registry: insertion-ordered task collection with subscriptions
//   - Runner: executes jobs with bounded concurrency and mirrors them into a Registry
//
// # Usage
//
// Track an operation by hand:
//
//	reg := tasks.NewRegistry()
//	id := reg.Add(tasks.New("Uploading brief.pdf"))
//	reg.Update(id, tasks.Patch{}.WithStatus(tasks.StatusRunning).WithProgress(40))
//	reg.Update(id, tasks.Patch{}.WithStatus(tasks.StatusSuccess))
//
// Or let a Runner do it:
//
//	runner := tasks.NewRunner(reg, 4, 10*time.Minute)
//	runner.Go(ctx, "Analyzing contract", func(ctx context.Context, rep *tasks.Reporter) error {
//	    rep.Progress(50)
//	    return analyze(ctx)
//	})
//
// Keep the list tidy in the background:
//
//	go reg.RunSweeper(ctx, time.Second)
package tasks
