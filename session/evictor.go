package session

import (
	"context"
	"time"

	"github.com/rapp-os/brainstem/observability"
)

// Evictor periodically removes idle sessions from a Store.
type Evictor struct {
	store    Store
	idle     time.Duration
	interval time.Duration
	observer observability.Observer
	now      func() time.Time
}

// NewEvictor creates an Evictor using the idle timeout and interval from
// cfg. A nil observer discards events.
func NewEvictor(store Store, cfg *Config, observer observability.Observer) *Evictor {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &Evictor{
		store:    store,
		idle:     cfg.IdleTimeout.Std(),
		interval: cfg.EvictInterval.Std(),
		observer: observer,
		now:      time.Now,
	}
}

// Run evicts on every interval tick until ctx is cancelled. A non-positive
// idle timeout disables eviction.
func (e *Evictor) Run(ctx context.Context) error {
	if e.idle <= 0 || e.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep runs a single eviction pass and returns the number of sessions
// removed.
func (e *Evictor) Sweep(ctx context.Context) int {
	n, err := e.store.Evict(ctx, e.now().Add(-e.idle))
	if err != nil {
		e.observer.OnEvent(ctx, observability.Event{
			Type:      EventEvictFailed,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "session.Evictor",
			Data:      map[string]any{"error": err.Error(), "evicted": n},
		})
		return n
	}
	if n > 0 {
		e.observer.OnEvent(ctx, observability.Event{
			Type:      EventEvicted,
			Level:     observability.LevelInfo,
			Timestamp: time.Now(),
			Source:    "session.Evictor",
			Data:      map[string]any{"evicted": n, "idle_timeout": e.idle.String()},
		})
	}
	return n
}
