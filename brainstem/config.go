package brainstem

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rapp-os/brainstem/capability"
	"github.com/rapp-os/brainstem/contexts"
	"github.com/rapp-os/brainstem/dispatch"
	"github.com/rapp-os/brainstem/memory"
	"github.com/rapp-os/brainstem/server"
	"github.com/rapp-os/brainstem/session"
	"github.com/rapp-os/brainstem/watch"
)

const (
	defaultObserver = "slog"
	sessionsFile    = "sessions.db"
)

// Config holds initialization parameters for every subsystem. Each section
// delegates to that subsystem's config-driven constructor. Directories left
// empty are derived from Home.
type Config struct {
	Home       string            `json:"home,omitempty"`
	Observer   string            `json:"observer,omitempty"`
	Server     server.Config     `json:"server"`
	Capability capability.Config `json:"capability"`
	Contexts   contexts.Config   `json:"contexts"`
	Session    session.Config    `json:"session"`
	Dispatch   dispatch.Config   `json:"dispatch"`
	Watch      watch.Config      `json:"watch"`
	Memory     memory.Config     `json:"memory"`
}

// DefaultConfig returns a Config with defaults for all subsystems, rooted
// at ~/.rapp.
func DefaultConfig() Config {
	return Config{
		Home:       DefaultHome(),
		Observer:   defaultObserver,
		Server:     server.DefaultConfig(),
		Capability: capability.DefaultConfig(),
		Contexts:   contexts.DefaultConfig(),
		Session:    session.DefaultConfig(),
		Dispatch:   dispatch.DefaultConfig(),
		Watch:      watch.DefaultConfig(),
		Memory:     memory.DefaultConfig(),
	}
}

// DefaultHome returns ~/.rapp, or .rapp in the working directory when the
// user's home cannot be determined.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rapp"
	}
	return filepath.Join(home, ".rapp")
}

// Merge applies non-zero values from source into c, delegating to each
// subsystem's Merge method.
func (c *Config) Merge(source *Config) {
	if source.Home != "" {
		c.Home = source.Home
	}
	if source.Observer != "" {
		c.Observer = source.Observer
	}
	c.Server.Merge(&source.Server)
	c.Capability.Merge(&source.Capability)
	c.Contexts.Merge(&source.Contexts)
	c.Session.Merge(&source.Session)
	c.Dispatch.Merge(&source.Dispatch)
	c.Watch.Merge(&source.Watch)
	c.Memory.Merge(&source.Memory)
}

// Resolve fills directories left empty with their locations under Home.
func (c *Config) Resolve() {
	if c.Capability.Dir == "" {
		c.Capability.Dir = filepath.Join(c.Home, "agents")
	}
	if c.Contexts.Dir == "" {
		c.Contexts.Dir = filepath.Join(c.Home, "contexts")
	}
	if c.Memory.Path == "" {
		c.Memory.Path = filepath.Join(c.Home, "memory")
	}
	if c.Session.Backend == session.BackendSQLite && c.Session.Path == "" {
		c.Session.Path = filepath.Join(c.Home, sessionsFile)
	}
}

// LoadConfig reads a JSON config file, merges it with defaults, and returns
// the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
