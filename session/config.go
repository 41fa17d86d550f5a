package session

import (
	"fmt"
	"time"

	"github.com/rapp-os/brainstem/core/config"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"

	defaultIdleTimeout   = 24 * time.Hour
	defaultEvictInterval = 5 * time.Minute
)

// Config holds session store initialization parameters.
type Config struct {
	Backend       string          `json:"backend,omitempty"`
	Path          string          `json:"path,omitempty"` // SQLite database file.
	IdleTimeout   config.Duration `json:"idle_timeout,omitempty"`
	EvictInterval config.Duration `json:"evict_interval,omitempty"`
}

// DefaultConfig returns the default session configuration: an in-memory
// store evicting sessions idle for a day.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendMemory,
		IdleTimeout:   config.Duration(defaultIdleTimeout),
		EvictInterval: config.Duration(defaultEvictInterval),
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Backend != "" {
		c.Backend = source.Backend
	}
	if source.Path != "" {
		c.Path = source.Path
	}
	if source.IdleTimeout > 0 {
		c.IdleTimeout = source.IdleTimeout
	}
	if source.EvictInterval > 0 {
		c.EvictInterval = source.EvictInterval
	}
}

// New creates a Store from configuration.
func New(cfg *Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite session backend requires path")
		}
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}
