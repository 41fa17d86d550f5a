package server

import (
	"net"
	"strconv"
	"time"

	"github.com/rapp-os/brainstem/core/config"
)

const (
	defaultHost            = "127.0.0.1"
	defaultPort            = 7071
	defaultMaxBodyBytes    = 1 << 20
	defaultReadHeader      = 10 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Config holds HTTP endpoint parameters.
type Config struct {
	Host              string          `json:"host,omitempty"`
	Port              int             `json:"port,omitempty"`
	MaxBodyBytes      int64           `json:"max_body_bytes,omitempty"`
	ReadHeaderTimeout config.Duration `json:"read_header_timeout,omitempty"`
	ShutdownTimeout   config.Duration `json:"shutdown_timeout,omitempty"`
	AllowOrigin       string          `json:"allow_origin,omitempty"`
	DisableMCP        bool            `json:"disable_mcp,omitempty"`
}

// DefaultConfig returns the default endpoint configuration: loopback only,
// permissive CORS for the desktop shell.
func DefaultConfig() Config {
	return Config{
		Host:              defaultHost,
		Port:              defaultPort,
		MaxBodyBytes:      defaultMaxBodyBytes,
		ReadHeaderTimeout: config.Duration(defaultReadHeader),
		ShutdownTimeout:   config.Duration(defaultShutdownTimeout),
		AllowOrigin:       "*",
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Host != "" {
		c.Host = source.Host
	}
	if source.Port > 0 {
		c.Port = source.Port
	}
	if source.MaxBodyBytes > 0 {
		c.MaxBodyBytes = source.MaxBodyBytes
	}
	if source.ReadHeaderTimeout > 0 {
		c.ReadHeaderTimeout = source.ReadHeaderTimeout
	}
	if source.ShutdownTimeout > 0 {
		c.ShutdownTimeout = source.ShutdownTimeout
	}
	if source.AllowOrigin != "" {
		c.AllowOrigin = source.AllowOrigin
	}
	if source.DisableMCP {
		c.DisableMCP = true
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
