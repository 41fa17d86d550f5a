package capability

import (
	"slices"
	"time"

	"github.com/rapp-os/brainstem/core/config"
)

const (
	defaultInvokeTimeout = 30 * time.Second
	defaultLoadTimeout   = 5 * time.Second
)

// Config holds registry initialization parameters.
type Config struct {
	Dir            string          `json:"dir,omitempty"`
	DefaultTimeout config.Duration `json:"default_timeout,omitempty"`
	LoadTimeout    config.Duration `json:"load_timeout,omitempty"` // Per-file bound on evaluating a Go script.
	AllowedImports []string        `json:"allowed_imports,omitempty"`
}

// DefaultConfig returns the default registry configuration. Dir is left
// empty; the composition root derives it from the RAPP home directory.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: config.Duration(defaultInvokeTimeout),
		LoadTimeout:    config.Duration(defaultLoadTimeout),
		AllowedImports: slices.Clone(DefaultAllowedImports),
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Dir != "" {
		c.Dir = source.Dir
	}
	if source.DefaultTimeout > 0 {
		c.DefaultTimeout = source.DefaultTimeout
	}
	if source.LoadTimeout > 0 {
		c.LoadTimeout = source.LoadTimeout
	}
	if len(source.AllowedImports) > 0 {
		c.AllowedImports = slices.Clone(source.AllowedImports)
	}
}
