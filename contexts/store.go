package contexts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/rapp-os/brainstem/core/reload"
	"github.com/rapp-os/brainstem/memory"
	"github.com/rapp-os/brainstem/observability"
)

// Option configures a Store after config-driven initialization.
type Option func(*Store)

// WithObserver overrides the default no-op observer.
func WithObserver(o observability.Observer) Option {
	return func(s *Store) { s.observer = o }
}

// WithFiles overrides the config-created file store.
func WithFiles(files memory.Store) Option {
	return func(s *Store) { s.files = files }
}

// Store loads contexts from a memory.Store and serves the current snapshot.
type Store struct {
	files         memory.Store
	defaultPrompt string
	observer      observability.Observer

	current  atomic.Pointer[Snapshot]
	gate     reload.Gate[*Snapshot]
	createMu sync.Mutex
}

// New creates a Store from configuration. The store starts empty; call
// Reload to read the directory.
func New(cfg *Config, opts ...Option) *Store {
	s := &Store{
		files:         memory.NewFileStore(cfg.Dir),
		defaultPrompt: cfg.DefaultPrompt,
		observer:      observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(newSnapshot())
	return s
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Resolve looks up a context in the current snapshot.
func (s *Store) Resolve(id string) (Context, error) {
	return s.Snapshot().Resolve(id)
}

// EnsureDefault writes the default context, admitting every capability,
// when no default.json exists.
func (s *Store) EnsureDefault(ctx context.Context) error {
	key := DefaultID + ".json"
	if _, err := s.files.Load(ctx, key); err == nil {
		return nil
	} else if !errors.Is(err, memory.ErrKeyNotFound) {
		return err
	}

	data, err := json.MarshalIndent(Context{
		ID:           DefaultID,
		Name:         "Default Context",
		Description:  "Default RAPP context with all agents enabled",
		Capabilities: []string{Wildcard},
		Skills:       []string{Wildcard},
		SystemPrompt: s.defaultPrompt,
		Parameters:   map[string]any{},
	}, "", "  ")
	if err != nil {
		return err
	}
	return s.files.Save(ctx, memory.Entry{Key: key, Value: data})
}

// Reload reads every context file and atomically replaces the snapshot.
// A malformed file is recorded as a failure and skipped. Concurrent calls
// are coalesced.
func (s *Store) Reload(ctx context.Context) (*Snapshot, error) {
	return s.gate.Do(ctx, func(ctx context.Context) (*Snapshot, error) {
		snap, err := s.load(ctx)
		if err != nil {
			s.observer.OnEvent(ctx, observability.Event{
				Type:      EventReloadFailed,
				Level:     observability.LevelError,
				Timestamp: time.Now(),
				Source:    "contexts.Reload",
				Data:      map[string]any{"error": err.Error()},
			})
			return nil, err
		}

		s.current.Store(snap)

		for _, f := range snap.failures {
			s.observer.OnEvent(ctx, observability.Event{
				Type:      EventLoadFailure,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "contexts.Reload",
				Data:      map[string]any{"source": f.Source, "error": f.Error},
			})
		}
		s.observer.OnEvent(ctx, observability.Event{
			Type:      EventReloadComplete,
			Level:     observability.LevelInfo,
			Timestamp: time.Now(),
			Source:    "contexts.Reload",
			Data:      map[string]any{"loaded": snap.Len(), "failed": len(snap.failures)},
		})
		return snap, nil
	})
}

func (s *Store) load(ctx context.Context) (*Snapshot, error) {
	keys, err := s.files.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadDir, err)
	}

	snap := newSnapshot()
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.Contains(key, "/") || strings.HasPrefix(key, "_") {
			continue
		}
		ext := strings.ToLower(path.Ext(key))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}

		c, err := s.loadFile(ctx, key, ext)
		if err == nil {
			err = snap.add(key, c)
		}
		if err != nil {
			snap.failures = append(snap.failures, LoadFailure{Source: key, Error: err.Error()})
		}
	}
	return snap, nil
}

func (s *Store) loadFile(ctx context.Context, key, ext string) (Context, error) {
	entries, err := s.files.Load(ctx, key)
	if err != nil {
		return Context{}, err
	}
	data := entries[0].Value

	var c Context
	if ext == ".json" {
		err = json.Unmarshal(data, &c)
	} else {
		err = yaml.NewDecoder(bytes.NewReader(data)).Decode(&c)
	}
	if err != nil {
		return Context{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	stem := strings.TrimSuffix(key, path.Ext(key))
	if c.ID == "" {
		c.ID = stem
	}
	if c.Name == "" {
		c.Name = stem
	}
	if c.Capabilities == nil {
		c.Capabilities = []string{Wildcard}
	}
	if c.Skills == nil {
		c.Skills = []string{Wildcard}
	}
	if c.Parameters == nil {
		c.Parameters = map[string]any{}
	}
	if err := c.validate(); err != nil {
		return Context{}, err
	}
	return c, nil
}

// Create persists a new context under a freshly minted 8-character id and
// reloads so the context is immediately resolvable.
func (s *Store) Create(ctx context.Context, d Draft) (Context, error) {
	if strings.TrimSpace(d.Name) == "" {
		return Context{}, fmt.Errorf("%w: name is required", ErrInvalid)
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	var id string
	for {
		id = uuid.NewString()[:8]
		if _, err := s.files.Load(ctx, id+".json"); errors.Is(err, memory.ErrKeyNotFound) {
			break
		} else if err != nil {
			return Context{}, err
		}
	}

	c := Context{
		ID:           id,
		Name:         d.Name,
		Description:  d.Description,
		Capabilities: d.Capabilities,
		Skills:       d.Skills,
		SystemPrompt: d.SystemPrompt,
		Parameters:   d.Parameters,
	}
	if c.Capabilities == nil {
		c.Capabilities = []string{}
	}
	if c.Skills == nil {
		c.Skills = []string{Wildcard}
	}
	if c.Parameters == nil {
		c.Parameters = map[string]any{}
	}
	if err := c.validate(); err != nil {
		return Context{}, err
	}

	key := id + ".json"
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return Context{}, err
	}
	if err := s.files.Save(ctx, memory.Entry{Key: key, Value: data}); err != nil {
		return Context{}, err
	}

	created, err := s.resolveCreated(ctx, id)
	if err != nil {
		if derr := s.files.Delete(context.WithoutCancel(ctx), key); derr != nil {
			err = errors.Join(err, derr)
		} else {
			s.Reload(context.WithoutCancel(ctx))
		}
		return Context{}, err
	}

	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventCreated,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "contexts.Create",
		Data:      map[string]any{"guid": id, "name": c.Name},
	})
	return created, nil
}

// resolveCreated reloads and looks up a context Create has just written.
func (s *Store) resolveCreated(ctx context.Context, id string) (Context, error) {
	snap, err := s.Reload(ctx)
	if err != nil {
		return Context{}, err
	}
	return snap.Resolve(id)
}
