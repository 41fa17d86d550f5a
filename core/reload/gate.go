// Package reload coalesces concurrent rebuild requests for values that are
// swapped wholesale, such as registry and context snapshots.
package reload

import (
	"context"
	"sync"
	"sync/atomic"
)

// Gate runs one rebuild at a time. A caller whose request was already
// covered by a rebuild that started after it arrived receives that result
// instead of starting another, so every caller observes state at least as
// new as its own request.
type Gate[T any] struct {
	requested atomic.Uint64
	mu        sync.Mutex
	covered   uint64
	last      T
}

// Do runs fn unless a rebuild that began after this call has already
// completed successfully. fn runs with a context detached from the caller's
// cancellation so a departing caller cannot abort a rebuild others share.
func (g *Gate[T]) Do(ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	ticket := g.requested.Add(1)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.covered >= ticket {
		return g.last, nil
	}

	covers := g.requested.Load()
	result, err := fn(context.WithoutCancel(ctx))
	if err != nil {
		var zero T
		return zero, err
	}

	g.covered = covers
	g.last = result
	return result, nil
}
