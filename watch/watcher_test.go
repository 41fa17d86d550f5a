package watch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/rapp-os/brainstem/core/config"
	"github.com/rapp-os/brainstem/observability"
	"github.com/rapp-os/brainstem/watch"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func start(t *testing.T, w *watch.Watcher, rec *observability.Recorder) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor(t, func() bool { return rec.Count(watch.EventStarted) == 1 })

	return func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	var reloads atomic.Int32
	rec := observability.NewRecorder(0)

	cfg := watch.Config{Debounce: config.Duration(100 * time.Millisecond)}
	w := watch.New(&cfg, []watch.Target{{
		Name: "agents",
		Dir:  dir,
		Exts: []string{".json"},
		Reload: func(context.Context) error {
			reloads.Add(1)
			return nil
		},
	}}, watch.WithObserver(rec))

	stop := start(t, w, rec)
	defer stop()

	for i := range 5 {
		data := []byte(`{"n":` + string(rune('0'+i)) + `}`)
		if err := os.WriteFile(filepath.Join(dir, "a.json"), data, 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	waitFor(t, func() bool { return reloads.Load() >= 1 })
	time.Sleep(300 * time.Millisecond)

	if got := reloads.Load(); got != 1 {
		t.Errorf("reloads = %d, want 1", got)
	}
}

func TestWatcher_IgnoresUnmatchedFiles(t *testing.T) {
	dir := t.TempDir()
	var reloads atomic.Int32
	rec := observability.NewRecorder(0)

	cfg := watch.Config{Debounce: config.Duration(20 * time.Millisecond)}
	w := watch.New(&cfg, []watch.Target{{
		Name: "contexts",
		Dir:  dir,
		Exts: []string{".yaml"},
		Reload: func(context.Context) error {
			reloads.Add(1)
			return nil
		},
	}}, watch.WithObserver(rec))

	stop := start(t, w, rec)
	defer stop()

	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, ".hidden.yaml"), []byte("x"), 0o644)
	time.Sleep(200 * time.Millisecond)

	if got := reloads.Load(); got != 0 {
		t.Errorf("reloads = %d, want 0", got)
	}
}

func TestWatcher_ReportsReloadFailure(t *testing.T) {
	dir := t.TempDir()
	rec := observability.NewRecorder(0)

	cfg := watch.Config{Debounce: config.Duration(20 * time.Millisecond)}
	w := watch.New(&cfg, []watch.Target{{
		Name:   "agents",
		Dir:    dir,
		Reload: func(context.Context) error { return errors.New("unreadable") },
	}}, watch.WithObserver(rec))

	stop := start(t, w, rec)
	defer stop()

	os.WriteFile(filepath.Join(dir, "a.go"), []byte("package main"), 0o644)

	waitFor(t, func() bool { return rec.Count(watch.EventReloadFailed) == 1 })
}

func TestWatcher_CreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "agents")
	rec := observability.NewRecorder(0)

	cfg := watch.DefaultConfig()
	w := watch.New(&cfg, []watch.Target{{
		Name:   "agents",
		Dir:    dir,
		Reload: func(context.Context) error { return nil },
	}}, watch.WithObserver(rec))

	stop := start(t, w, rec)
	stop()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Stat() error = %v", err)
	}
}
