package brainstem_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rapp-os/brainstem/brainstem"
	"github.com/rapp-os/brainstem/core/config"
	"github.com/rapp-os/brainstem/session"
)

func TestDefaultConfig(t *testing.T) {
	cfg := brainstem.DefaultConfig()

	if filepath.Base(cfg.Home) != ".rapp" {
		t.Errorf("got Home %q, want a .rapp directory", cfg.Home)
	}
	if cfg.Observer != "slog" {
		t.Errorf("got Observer %q, want %q", cfg.Observer, "slog")
	}
	if cfg.Server.Addr() != "127.0.0.1:7071" {
		t.Errorf("got Addr %q, want %q", cfg.Server.Addr(), "127.0.0.1:7071")
	}
	if cfg.Session.Backend != session.BackendMemory {
		t.Errorf("got Session.Backend %q, want %q", cfg.Session.Backend, session.BackendMemory)
	}
}

func TestConfig_Merge(t *testing.T) {
	cfg := brainstem.DefaultConfig()

	source := &brainstem.Config{Home: "/srv/rapp"}
	source.Server.Port = 9000
	source.Dispatch.MaxParallel = 8
	source.Watch.Disabled = true

	cfg.Merge(source)

	if cfg.Home != "/srv/rapp" {
		t.Errorf("got Home %q, want %q", cfg.Home, "/srv/rapp")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("got Server.Port %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("got Server.Host %q, want default preserved", cfg.Server.Host)
	}
	if cfg.Dispatch.MaxParallel != 8 {
		t.Errorf("got Dispatch.MaxParallel %d, want 8", cfg.Dispatch.MaxParallel)
	}
	if !cfg.Watch.Disabled {
		t.Error("got Watch.Disabled false, want true")
	}
}

func TestConfig_Merge_ZeroValuesPreserveDefaults(t *testing.T) {
	cfg := brainstem.DefaultConfig()
	original := cfg

	cfg.Merge(&brainstem.Config{})

	if cfg.Home != original.Home || cfg.Server != original.Server || cfg.Dispatch != original.Dispatch {
		t.Errorf("zero-value merge changed defaults: got %+v, want %+v", cfg, original)
	}
}

func TestConfig_Resolve(t *testing.T) {
	tests := []struct {
		name        string
		cfg         brainstem.Config
		wantAgents  string
		wantSession string
	}{
		{
			name:       "derived from home",
			cfg:        brainstem.Config{Home: "/h"},
			wantAgents: filepath.Join("/h", "agents"),
		},
		{
			name: "explicit dir kept",
			cfg: func() brainstem.Config {
				c := brainstem.Config{Home: "/h"}
				c.Capability.Dir = "/elsewhere"
				return c
			}(),
			wantAgents: "/elsewhere",
		},
		{
			name: "sqlite path derived",
			cfg: func() brainstem.Config {
				c := brainstem.Config{Home: "/h"}
				c.Session.Backend = session.BackendSQLite
				return c
			}(),
			wantAgents:  filepath.Join("/h", "agents"),
			wantSession: filepath.Join("/h", "sessions.db"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.Resolve()

			if cfg.Capability.Dir != tt.wantAgents {
				t.Errorf("Capability.Dir = %q, want %q", cfg.Capability.Dir, tt.wantAgents)
			}
			if cfg.Contexts.Dir != filepath.Join("/h", "contexts") {
				t.Errorf("Contexts.Dir = %q, want %q", cfg.Contexts.Dir, filepath.Join("/h", "contexts"))
			}
			if cfg.Memory.Path != filepath.Join("/h", "memory") {
				t.Errorf("Memory.Path = %q, want %q", cfg.Memory.Path, filepath.Join("/h", "memory"))
			}
			if cfg.Session.Path != tt.wantSession {
				t.Errorf("Session.Path = %q, want %q", cfg.Session.Path, tt.wantSession)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	content := `{
		"home": "/opt/rapp",
		"server": {"port": 8088},
		"session": {"backend": "sqlite", "idle_timeout": "2h"},
		"dispatch": {"selector": {"url": "http://127.0.0.1:9999/select", "timeout": "3s"}}
	}`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := brainstem.LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Home != "/opt/rapp" {
		t.Errorf("got Home %q, want %q", cfg.Home, "/opt/rapp")
	}
	if cfg.Server.Port != 8088 {
		t.Errorf("got Server.Port %d, want 8088", cfg.Server.Port)
	}
	if cfg.Session.Backend != session.BackendSQLite {
		t.Errorf("got Session.Backend %q, want %q", cfg.Session.Backend, session.BackendSQLite)
	}
	if cfg.Session.IdleTimeout != config.Duration(2*time.Hour) {
		t.Errorf("got Session.IdleTimeout %v, want 2h", cfg.Session.IdleTimeout)
	}
	if cfg.Dispatch.Selector.Timeout != config.Duration(3*time.Second) {
		t.Errorf("got Selector.Timeout %v, want 3s", cfg.Dispatch.Selector.Timeout)
	}
	if cfg.Dispatch.MaxParallel != 4 {
		t.Errorf("got Dispatch.MaxParallel %d, want default 4", cfg.Dispatch.MaxParallel)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := brainstem.LoadConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("LoadConfig(missing) error = nil, want error")
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := brainstem.LoadConfig(bad); err == nil {
		t.Error("LoadConfig(bad) error = nil, want error")
	}
}
