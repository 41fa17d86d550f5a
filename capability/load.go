package capability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type loader struct {
	builtins       []Descriptor
	allowedImports map[string]bool
	client         *http.Client
	timeout        time.Duration
}

// LoadOption configures a single Load.
type LoadOption func(*loader)

// WithBuiltins registers descriptors compiled into the binary. Builtins are
// discovered before any file and reserve their names.
func WithBuiltins(builtins ...Descriptor) LoadOption {
	return func(l *loader) { l.builtins = append(l.builtins, builtins...) }
}

// WithAllowedImports replaces the import allow-list applied to Go scripts.
func WithAllowedImports(pkgs []string) LoadOption {
	return func(l *loader) {
		l.allowedImports = make(map[string]bool, len(pkgs))
		for _, p := range pkgs {
			l.allowedImports[p] = true
		}
	}
}

// WithLoadTimeout bounds how long one Go script may take to evaluate. A
// script that exceeds it is recorded as a failure. Non-positive disables the
// bound.
func WithLoadTimeout(d time.Duration) LoadOption {
	return func(l *loader) { l.timeout = d }
}

// WithHTTPClient sets the client used by http manifests.
func WithHTTPClient(c *http.Client) LoadOption {
	return func(l *loader) { l.client = c }
}

// Load scans dir in lexical order and builds a Snapshot. Files whose names
// begin with '_' or '.' are skipped, as are files with unrecognised
// extensions. A definition that fails validation is recorded in the
// snapshot's failures and does not affect the others.
//
// A missing directory is created and yields a snapshot of builtins only.
// Returns ErrLoadDir only when the directory exists but cannot be read.
func Load(ctx context.Context, dir string, opts ...LoadOption) (*Snapshot, error) {
	l := &loader{client: http.DefaultClient, timeout: defaultLoadTimeout}
	WithAllowedImports(DefaultAllowedImports)(l)
	for _, opt := range opts {
		opt(l)
	}

	snap := newSnapshot()
	for _, b := range l.builtins {
		if err := snap.add(b); err != nil {
			snap.fail(b.Source, err)
		}
	}

	if dir == "" {
		return snap, nil
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadDir, err)
		}
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadDir, err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}

		path := filepath.Join(dir, name)
		var d Descriptor
		switch strings.ToLower(filepath.Ext(name)) {
		case ".json", ".yaml", ".yml":
			d, err = l.loadManifest(path)
		case ".go":
			if strings.HasSuffix(name, "_test.go") {
				continue
			}
			d, err = l.loadScript(ctx, path)
		default:
			continue
		}
		if err == nil {
			err = snap.add(d)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			snap.fail(path, err)
		}
	}

	return snap, nil
}
