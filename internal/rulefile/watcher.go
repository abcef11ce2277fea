package rulefile

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change kinds reported to an EventCallback.
const (
	KindLoaded  = "loaded"
	KindRemoved = "removed"
)

// EventCallback is called after a watcher-driven store change.
type EventCallback func(kind, source string)

const reconcileDelay = 200 * time.Millisecond

// Watch follows the rule dir with fsnotify until ctx is cancelled, reloading
// rule files as they change. Directories created at runtime are added to the
// watch list. Removes and renames schedule a debounced reconcile pass, since
// editors commonly replace files through a rename.
func Watch(ctx context.Context, idx Index, dir *Dir, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, dir.Root()); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", dir.Root()))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time
	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			reconcile(ctx, idx, dir, logger, cb)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					// Files may land in the dir before it is watched.
					scheduleReconcile()
					continue
				}
			}

			if !IsRuleFile(ev.Name) {
				continue
			}
			rel, relErr := dir.Rel(ev.Name)
			if relErr != nil {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if loadErr := load(ctx, idx, dir, rel); loadErr != nil {
					logger.Warn("watcher: load failed", slog.String("source", rel), slog.String("error", loadErr.Error()))
					continue
				}
				logger.Debug("watcher: loaded", slog.String("source", rel))
				if cb != nil {
					cb(KindLoaded, rel)
				}

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// reconcile runs a full Sync and reports what it changed.
func reconcile(ctx context.Context, idx Index, dir *Dir, logger *slog.Logger, cb EventCallback) {
	rep, err := Sync(ctx, idx, dir, logger)
	if err != nil {
		logger.Warn("reconcile: sync failed", slog.String("error", err.Error()))
		return
	}
	if cb == nil {
		return
	}
	for _, p := range rep.Removed {
		cb(KindRemoved, p)
	}
	for _, p := range rep.Loaded {
		cb(KindLoaded, p)
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
