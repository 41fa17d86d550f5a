package watch

import (
	"time"

	"github.com/rapp-os/brainstem/core/config"
)

const defaultDebounce = 500 * time.Millisecond

// Config holds watcher parameters.
type Config struct {
	Disabled bool            `json:"disabled,omitempty"`
	Debounce config.Duration `json:"debounce,omitempty"`
}

// DefaultConfig returns the default watcher configuration.
func DefaultConfig() Config {
	return Config{Debounce: config.Duration(defaultDebounce)}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Disabled {
		c.Disabled = true
	}
	if source.Debounce > 0 {
		c.Debounce = source.Debounce
	}
}
