package dispatch

import (
	"time"

	"github.com/rapp-os/brainstem/core/config"
)

const (
	defaultMaxParallel     = 4
	defaultHistoryWindow   = 10
	defaultTraceLimit      = 200
	defaultSelectorTimeout = 10 * time.Second
)

// SelectorConfig chooses the selection strategy. An empty URL selects the
// built-in RuleSelector.
type SelectorConfig struct {
	URL     string          `json:"url,omitempty"`
	Timeout config.Duration `json:"timeout,omitempty"`
}

// Config holds dispatcher parameters.
type Config struct {
	MaxParallel   int            `json:"max_parallel,omitempty"`
	HistoryWindow int            `json:"history_window,omitempty"`
	TraceLimit    int            `json:"trace_limit,omitempty"`
	Selector      SelectorConfig `json:"selector"`
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		MaxParallel:   defaultMaxParallel,
		HistoryWindow: defaultHistoryWindow,
		TraceLimit:    defaultTraceLimit,
		Selector: SelectorConfig{
			Timeout: config.Duration(defaultSelectorTimeout),
		},
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.MaxParallel > 0 {
		c.MaxParallel = source.MaxParallel
	}
	if source.HistoryWindow > 0 {
		c.HistoryWindow = source.HistoryWindow
	}
	if source.TraceLimit > 0 {
		c.TraceLimit = source.TraceLimit
	}
	if source.Selector.URL != "" {
		c.Selector.URL = source.Selector.URL
	}
	if source.Selector.Timeout > 0 {
		c.Selector.Timeout = source.Selector.Timeout
	}
}
