package config

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	DefaultPollInterval = 60 * time.Second
	reloadDebounce      = 100 * time.Millisecond
)

// StartWatcher reloads the store when its file changes. It watches the
// parent directory with fsnotify (editors often replace the file rather
// than write it) and also polls mtime every pollInterval as a fallback.
// Both loops exit when ctx is done.
func (s *Store) StartWatcher(ctx context.Context, pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[WARN] Config Watcher: fsnotify unavailable (%v), polling only", err)
	} else if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		log.Printf("[WARN] Config Watcher: failed to watch %s (%v), polling only", s.path, err)
		watcher.Close()
		watcher = nil
	}

	if watcher != nil {
		go s.watchLoop(ctx, watcher)
	}
	go s.pollLoop(ctx, pollInterval)
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// writers often truncate then write; let them finish
			select {
			case <-ctx.Done():
				return
			case <-time.After(reloadDebounce):
			}
			if _, err := s.ReloadIfChanged(); err != nil {
				s.logReloadError("watcher", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[WARN] Config Watcher error: %v", err)
		}
	}
}

func (s *Store) pollLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := s.ReloadIfChanged()
			if err != nil {
				s.logReloadError("poll", err)
				continue
			}
			if changed {
				log.Printf("[INFO] Config Poll: reloaded %s", s.path)
			}
		}
	}
}
