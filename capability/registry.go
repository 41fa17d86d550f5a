package capability

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rapp-os/brainstem/core/reload"
	"github.com/rapp-os/brainstem/observability"
)

// Option configures a Registry after config-driven initialization.
type Option func(*Registry)

// WithObserver overrides the default no-op observer.
func WithObserver(o observability.Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithBuiltin adds descriptors that are present in every snapshot.
func WithBuiltin(builtins ...Descriptor) Option {
	return func(r *Registry) { r.builtins = append(r.builtins, builtins...) }
}

// WithClient sets the HTTP client used by http manifests.
func WithClient(c *http.Client) Option {
	return func(r *Registry) { r.client = c }
}

// Registry holds the current capability snapshot. Reads are lock-free;
// Reload builds a complete snapshot before swapping it in.
type Registry struct {
	dir            string
	defaultTimeout time.Duration
	loadTimeout    time.Duration
	allowedImports []string
	builtins       []Descriptor
	client         *http.Client
	observer       observability.Observer

	current    atomic.Pointer[Snapshot]
	generation atomic.Uint64
	gate       reload.Gate[*Snapshot]
}

// NewRegistry creates a Registry from configuration. The registry starts
// with a snapshot holding only builtins; call Reload to scan the directory.
func NewRegistry(cfg *Config, opts ...Option) *Registry {
	r := &Registry{
		dir:            cfg.Dir,
		defaultTimeout: cfg.DefaultTimeout.Std(),
		loadTimeout:    cfg.LoadTimeout.Std(),
		allowedImports: cfg.AllowedImports,
		client:         http.DefaultClient,
		observer:       observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}

	initial, _ := Load(context.Background(), "", WithBuiltins(r.builtins...))
	r.current.Store(initial)
	return r
}

// Dir returns the directory scanned by Reload.
func (r *Registry) Dir() string {
	return r.dir
}

// Snapshot returns the current snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Reload rescans the directory and atomically replaces the current snapshot.
// Concurrent calls are coalesced; each caller receives a snapshot built after
// its call began. On ErrLoadDir the previous snapshot stays in place.
func (r *Registry) Reload(ctx context.Context) (*Snapshot, error) {
	return r.gate.Do(ctx, func(ctx context.Context) (*Snapshot, error) {
		r.observer.OnEvent(ctx, observability.Event{
			Type:      EventReloadStart,
			Level:     observability.LevelVerbose,
			Timestamp: time.Now(),
			Source:    "capability.Reload",
			Data:      map[string]any{"dir": r.dir},
		})

		opts := []LoadOption{WithBuiltins(r.builtins...), WithHTTPClient(r.client)}
		if r.loadTimeout > 0 {
			opts = append(opts, WithLoadTimeout(r.loadTimeout))
		}
		if len(r.allowedImports) > 0 {
			opts = append(opts, WithAllowedImports(r.allowedImports))
		}

		snap, err := Load(ctx, r.dir, opts...)
		if err != nil {
			r.observer.OnEvent(ctx, observability.Event{
				Type:      EventReloadFailed,
				Level:     observability.LevelError,
				Timestamp: time.Now(),
				Source:    "capability.Reload",
				Data:      map[string]any{"dir": r.dir, "error": err.Error()},
			})
			return nil, err
		}

		snap.generation = r.generation.Add(1)
		r.current.Store(snap)

		for _, f := range snap.failures {
			r.observer.OnEvent(ctx, observability.Event{
				Type:      EventLoadFailure,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "capability.Reload",
				Data:      map[string]any{"source": f.Source, "error": f.Error},
			})
		}

		r.observer.OnEvent(ctx, observability.Event{
			Type:      EventReloadComplete,
			Level:     observability.LevelInfo,
			Timestamp: time.Now(),
			Source:    "capability.Reload",
			Data: map[string]any{
				"generation": snap.generation,
				"loaded":     snap.Len(),
				"failed":     len(snap.failures),
			},
		})

		return snap, nil
	})
}

// Invoke runs d under the registry's default timeout and reports the outcome.
func (r *Registry) Invoke(ctx context.Context, d Descriptor, args map[string]any) Outcome {
	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventInvokeStart,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "capability.Invoke",
		Data:      map[string]any{"name": d.Name, "kind": string(d.Kind)},
	})

	out := Invoke(ctx, d, args, r.defaultTimeout)

	level := observability.LevelVerbose
	if !out.Succeeded() {
		level = observability.LevelWarning
	}
	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventInvokeComplete,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "capability.Invoke",
		Data: map[string]any{
			"name":        d.Name,
			"status":      string(out.Status),
			"duration_ms": out.Duration.Milliseconds(),
		},
	})

	return out
}
