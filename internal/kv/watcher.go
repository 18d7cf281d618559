package kv

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// ChangeCallback is called with the key whose document changed on disk.
type ChangeCallback func(key string)

// Watch reports documents modified by other processes until ctx is
// cancelled. Writes made through f itself are ignored. Bursts of events for
// the same key are coalesced.
func Watch(ctx context.Context, f *FS, logger *slog.Logger, cb ChangeCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(f.root); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", f.root))

	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time

	schedule := func(key string) {
		pending[key] = struct{}{}
		if timer == nil {
			timer = time.NewTimer(watchDebounce)
			fire = timer.C
		} else {
			timer.Reset(watchDebounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-fire:
			for key := range pending {
				delete(pending, key)
				data, err := f.Get(key)
				if err != nil {
					logger.Warn("watcher: read failed", slog.String("key", key), slog.String("error", err.Error()))
					continue
				}
				if data != nil && f.ownWrite(key, data) {
					continue
				}
				logger.Debug("watcher: external change", slog.String("key", key))
				cb(key)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			key, ok := f.keyOf(ev.Name)
			if !ok {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			schedule(key)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
