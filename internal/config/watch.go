// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"pkt.systems/pslog"
)

// DefaultWatchDebounce collapses the bursts of events editors produce when
// saving a file.
const DefaultWatchDebounce = 200 * time.Millisecond

// Watch reloads path whenever it changes and passes each valid
// configuration to fn. Invalid files are logged and skipped; the previous
// configuration stays in effect. Watch blocks until ctx ends.
//
// The parent directory is watched rather than the file, so atomic
// rename-over saves are seen.
func Watch(ctx context.Context, path string, debounce time.Duration, fn func(*Config)) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	log := pslog.Ctx(ctx).With("config", abs)
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", "err", err)

		case <-timer.C:
			cfg, err := LoadFromPath(abs)
			if err != nil {
				log.Warn("ignoring invalid config change", "err", err)
				continue
			}
			log.Info("config reloaded")
			fn(cfg)
		}
	}
}
