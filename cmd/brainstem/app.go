package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rapp-os/brainstem/brainstem"
)

// Environment overrides, applied over the config file and under flags.
const (
	envHome     = "RAPP_HOME"
	envHost     = "RAPP_HOST"
	envPort     = "RAPP_PORT"
	envLogLevel = "RAPP_LOG_LEVEL"
)

// app holds the global flags shared by every command.
type app struct {
	configFile string
	envFile    string
	home       string
	host       string
	port       int
	verbose    bool
	logFormat  string
	logLevel   string

	stdout io.Writer
	stderr io.Writer
}

func newApp() *app {
	return &app{stdout: os.Stdout, stderr: os.Stderr}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "brainstem",
		Short: "Local orchestration endpoint for RAPP agents",
		Long: `brainstem serves the RAPP Brain Stem: it loads agents and contexts from the
RAPP home directory, keeps per-user sessions, and routes chat turns to agents
over a local HTTP endpoint.`,
		SilenceUsage: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "Path to JSON config file")
	flags.StringVar(&a.envFile, "env-file", ".env", "Environment file loaded before reading RAPP_* variables")
	flags.StringVar(&a.home, "home", "", "RAPP home directory (default ~/.rapp)")
	flags.StringVar(&a.host, "host", "", "Listen host (default 127.0.0.1)")
	flags.IntVarP(&a.port, "port", "p", 0, "Listen port (default 7071)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&a.logFormat, "log-format", "text", "Log format: text or json")

	root.AddCommand(a.serveCommand(), a.validateCommand(), a.versionCommand())
	return root
}

// loadConfig layers defaults, the config file, RAPP_* variables, and flags.
func (a *app) loadConfig() (*brainstem.Config, error) {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", a.envFile, err)
		}
	}

	cfg := brainstem.DefaultConfig()
	if a.configFile != "" {
		loaded, err := brainstem.LoadConfig(a.configFile)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if v := os.Getenv(envHome); v != "" {
		cfg.Home = v
	}
	if v := os.Getenv(envHost); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv(envPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid %s %q", envPort, v)
		}
		cfg.Server.Port = port
	}
	a.logLevel = os.Getenv(envLogLevel)

	if a.home != "" {
		cfg.Home = a.home
	}
	if a.host != "" {
		cfg.Server.Host = a.host
	}
	if a.port > 0 {
		cfg.Server.Port = a.port
	}

	return &cfg, nil
}

func (a *app) logger() (*slog.Logger, error) {
	level := slog.LevelInfo
	if a.logLevel != "" {
		if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
			return nil, fmt.Errorf("invalid %s %q", envLogLevel, a.logLevel)
		}
	}
	if a.verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(a.logFormat) {
	case "", "text":
		return slog.New(slog.NewTextHandler(a.stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(a.stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", a.logFormat)
	}
}
