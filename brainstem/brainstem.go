// Package brainstem composes the capability registry, context store, session
// store, dispatcher, and local endpoint into one runnable process.
//
// The BrainStem initializes from configuration via New, creating all
// subsystems internally. Functional options override collaborators for
// tests and embedding.
//
//	b, err := brainstem.New(&cfg)
//	defer b.Close()
//	err = b.Run(ctx)
package brainstem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rapp-os/brainstem/capability"
	"github.com/rapp-os/brainstem/contexts"
	"github.com/rapp-os/brainstem/dispatch"
	"github.com/rapp-os/brainstem/memory"
	"github.com/rapp-os/brainstem/observability"
	"github.com/rapp-os/brainstem/server"
	"github.com/rapp-os/brainstem/session"
	"github.com/rapp-os/brainstem/watch"
)

var (
	agentExts   = []string{".json", ".yaml", ".yml", ".go"}
	contextExts = []string{".json", ".yaml", ".yml"}
)

// Option configures a BrainStem before its subsystems are built.
type Option func(*BrainStem)

// WithLogger sets the process logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(b *BrainStem) { b.logger = l }
}

// WithObserver adds an observer that receives every event alongside the
// one named in the config.
func WithObserver(o observability.Observer) Option {
	return func(b *BrainStem) { b.extraObservers = append(b.extraObservers, o) }
}

// WithVersion sets the version reported by the System capability and the
// MCP bridge.
func WithVersion(v string) Option {
	return func(b *BrainStem) { b.version = v }
}

// WithBuiltins registers additional compiled-in capabilities.
func WithBuiltins(builtins ...capability.Descriptor) Option {
	return func(b *BrainStem) { b.builtins = append(b.builtins, builtins...) }
}

// WithSelector overrides the configured selection strategy.
func WithSelector(s dispatch.Selector) Option {
	return func(b *BrainStem) { b.selector = s }
}

// WithSessions overrides the config-created session store.
func WithSessions(s session.Store) Option {
	return func(b *BrainStem) { b.sessions = s }
}

// BrainStem is the assembled local orchestration endpoint.
type BrainStem struct {
	cfg      Config
	logger   *slog.Logger
	observer observability.Observer
	version  string

	extraObservers []observability.Observer
	builtins []capability.Descriptor
	selector dispatch.Selector

	notes      *memory.Notes
	registry   *capability.Registry
	contexts   *contexts.Store
	sessions   session.Store
	dispatcher *dispatch.Dispatcher
	server     *server.Server
	evictor    *session.Evictor
	watcher    *watch.Watcher
}

// New creates a BrainStem from configuration. Directories are not touched
// until Load or Run.
func New(cfg *Config, opts ...Option) (*BrainStem, error) {
	b := &BrainStem{
		cfg:     *cfg,
		logger:  slog.Default(),
		version: "dev",
	}
	b.cfg.Resolve()

	for _, opt := range opts {
		opt(b)
	}

	name := b.cfg.Observer
	if name == "" {
		name = defaultObserver
	}
	configured, err := observability.GetObserver(name, b.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create observer: %w", err)
	}
	b.observer = observability.Combine(append([]observability.Observer{configured}, b.extraObservers...)...)

	files, err := memory.NewStore(&b.cfg.Memory)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory store: %w", err)
	}
	b.notes = memory.NewNotes(files, b.cfg.Memory.RecallLimit)

	builtins := append([]capability.Descriptor{
		capability.MemoryCapability(b.notes),
		capability.SystemCapability(b.version, b.cfg.Home),
	}, b.builtins...)

	b.registry = capability.NewRegistry(&b.cfg.Capability,
		capability.WithObserver(b.observer),
		capability.WithBuiltin(builtins...),
	)

	b.contexts = contexts.New(&b.cfg.Contexts, contexts.WithObserver(b.observer))

	if b.sessions == nil {
		sessions, err := session.New(&b.cfg.Session)
		if err != nil {
			return nil, fmt.Errorf("failed to create session store: %w", err)
		}
		b.sessions = sessions
	}

	dispatchOpts := []dispatch.Option{
		dispatch.WithObserver(b.observer),
		dispatch.WithMemory(b.notes),
	}
	if b.selector != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithSelector(b.selector))
	}
	b.dispatcher = dispatch.New(&b.cfg.Dispatch, b.registry, b.contexts, b.sessions, dispatchOpts...)

	b.server = server.New(&b.cfg.Server, b.dispatcher, b.registry, b.contexts,
		server.WithLogger(b.logger),
		server.WithObserver(b.observer),
		server.WithVersion(b.version),
	)

	b.evictor = session.NewEvictor(b.sessions, &b.cfg.Session, b.observer)

	b.watcher = watch.New(&b.cfg.Watch, []watch.Target{
		{
			Name: "agents",
			Dir:  b.cfg.Capability.Dir,
			Exts: agentExts,
			Reload: func(ctx context.Context) error {
				_, err := b.registry.Reload(ctx)
				return err
			},
		},
		{
			Name: "contexts",
			Dir:  b.cfg.Contexts.Dir,
			Exts: contextExts,
			Reload: func(ctx context.Context) error {
				_, err := b.contexts.Reload(ctx)
				return err
			},
		},
	}, watch.WithObserver(b.observer))

	return b, nil
}

// Config returns the resolved configuration.
func (b *BrainStem) Config() Config {
	return b.cfg
}

// Registry returns the capability registry.
func (b *BrainStem) Registry() *capability.Registry {
	return b.registry
}

// Contexts returns the context store.
func (b *BrainStem) Contexts() *contexts.Store {
	return b.contexts
}

// Sessions returns the session store.
func (b *BrainStem) Sessions() session.Store {
	return b.sessions
}

// Dispatcher returns the dispatcher.
func (b *BrainStem) Dispatcher() *dispatch.Dispatcher {
	return b.dispatcher
}

// Handler returns the endpoint's HTTP handler.
func (b *BrainStem) Handler() http.Handler {
	return b.server.Handler()
}

// Report summarizes one load of the definition directories.
type Report struct {
	Capabilities *capability.Snapshot
	Contexts     *contexts.Snapshot
}

// Failures returns the number of definitions rejected by the load.
func (r Report) Failures() int {
	return len(r.Capabilities.Failures()) + len(r.Contexts.Failures())
}

// Load creates the home layout, writes the default context when missing,
// and loads both definition directories. Individual bad definitions are
// reported in the Report; an error means a directory could not be read.
func (b *BrainStem) Load(ctx context.Context) (Report, error) {
	for _, dir := range []string{b.cfg.Home, b.cfg.Capability.Dir, b.cfg.Contexts.Dir, b.cfg.Memory.Path} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Report{}, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	if err := b.contexts.EnsureDefault(ctx); err != nil {
		return Report{}, fmt.Errorf("failed to write default context: %w", err)
	}

	caps, capErr := b.registry.Reload(ctx)
	ctxs, ctxErr := b.contexts.Reload(ctx)
	if err := errors.Join(capErr, ctxErr); err != nil {
		return Report{}, err
	}
	return Report{Capabilities: caps, Contexts: ctxs}, nil
}

// Run loads definitions and serves on the configured address until ctx is
// cancelled.
func (b *BrainStem) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", b.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", b.cfg.Server.Addr(), err)
	}
	return b.Serve(ctx, l)
}

// Serve loads definitions, then runs the endpoint on l alongside the session
// evictor and the reload watcher. The first failure stops the others.
func (b *BrainStem) Serve(ctx context.Context, l net.Listener) error {
	report, err := b.Load(ctx)
	if err != nil {
		l.Close()
		return err
	}

	b.observer.OnEvent(ctx, observability.Event{
		Type:      EventStarted,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "brainstem.Serve",
		Data: map[string]any{
			"home":         b.cfg.Home,
			"version":      b.version,
			"capabilities": report.Capabilities.Len(),
			"contexts":     report.Contexts.Len(),
			"failures":     report.Failures(),
		},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.server.Serve(gctx, l) })
	g.Go(func() error { return b.evictor.Run(gctx) })
	if !b.cfg.Watch.Disabled {
		g.Go(func() error { return b.watcher.Run(gctx) })
	}

	err = g.Wait()

	b.observer.OnEvent(context.WithoutCancel(ctx), observability.Event{
		Type:      EventStopped,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "brainstem.Serve",
	})
	return err
}

// Close releases the session store.
func (b *BrainStem) Close() error {
	return b.sessions.Close()
}
