// Package watch triggers reloads when definition directories change on
// disk. Bursts of events are debounced into a single reload per target.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rapp-os/brainstem/observability"
)

// Target is a directory whose changes trigger Reload.
type Target struct {
	Name   string
	Dir    string
	Exts   []string // Matched case-insensitively; empty matches every file.
	Reload func(ctx context.Context) error
}

func (t Target) matches(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	if len(t.Exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, e := range t.Exts {
		if ext == e {
			return true
		}
	}
	return false
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithObserver overrides the default no-op observer.
func WithObserver(o observability.Observer) Option {
	return func(w *Watcher) { w.observer = o }
}

// Watcher watches target directories and reloads them after changes
// settle.
type Watcher struct {
	targets  []Target
	debounce time.Duration
	observer observability.Observer
}

// New creates a Watcher for the given targets.
func New(cfg *Config, targets []Target, opts ...Option) *Watcher {
	w := &Watcher{
		targets:  targets,
		debounce: cfg.Debounce.Std(),
		observer: observability.NoOpObserver{},
	}
	if w.debounce <= 0 {
		w.debounce = defaultDebounce
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is cancelled. Missing directories are created.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	byDir := make(map[string]int, len(w.targets))
	for i, t := range w.targets {
		dir := filepath.Clean(t.Dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		byDir[dir] = i
	}

	w.observer.OnEvent(ctx, observability.Event{
		Type:      EventStarted,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "watch.Run",
		Data:      map[string]any{"targets": len(w.targets), "debounce": w.debounce.String()},
	})

	tick := w.debounce / 5
	if tick > 100*time.Millisecond {
		tick = 100 * time.Millisecond
	}
	if tick <= 0 {
		tick = time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	pending := make(map[int]time.Time)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			i, ok := byDir[filepath.Dir(event.Name)]
			if !ok || !w.targets[i].matches(event.Name) {
				continue
			}
			pending[i] = time.Now().Add(w.debounce)

			w.observer.OnEvent(ctx, observability.Event{
				Type:      EventChange,
				Level:     observability.LevelVerbose,
				Timestamp: time.Now(),
				Source:    "watch.Run",
				Data:      map[string]any{"target": w.targets[i].Name, "path": event.Name, "op": event.Op.String()},
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.observer.OnEvent(ctx, observability.Event{
				Type:      EventWatcherFailed,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "watch.Run",
				Data:      map[string]any{"error": err.Error()},
			})

		case now := <-ticker.C:
			for i, due := range pending {
				if now.Before(due) {
					continue
				}
				delete(pending, i)
				w.reload(ctx, w.targets[i])
			}
		}
	}
}

func (w *Watcher) reload(ctx context.Context, t Target) {
	if err := t.Reload(ctx); err != nil {
		w.observer.OnEvent(ctx, observability.Event{
			Type:      EventReloadFailed,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "watch.Run",
			Data:      map[string]any{"target": t.Name, "error": err.Error()},
		})
		return
	}
	w.observer.OnEvent(ctx, observability.Event{
		Type:      EventReloaded,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "watch.Run",
		Data:      map[string]any{"target": t.Name},
	})
}
