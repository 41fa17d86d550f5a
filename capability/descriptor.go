// Package capability discovers, validates, and invokes the handlers ("agents")
// that the Brain Stem routes requests to.
//
// Definitions are loaded from a directory into an immutable Snapshot. The
// Registry swaps snapshots atomically on reload, so in-flight dispatches keep
// the snapshot they started with.
//
//	reg := capability.NewRegistry(&cfg)
//	snap, err := reg.Reload(ctx)
//	d, err := snap.Resolve("Weather")
//	outcome := reg.Invoke(ctx, d, map[string]any{"city": "Lisbon"})
package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rapp-os/brainstem/core/config"
	"github.com/rapp-os/brainstem/core/protocol"
)

// Handler performs a capability. Arguments have been checked against the
// descriptor's parameter schema before Invoke is called.
type Handler interface {
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, args map[string]any) (string, error)

func (f HandlerFunc) Invoke(ctx context.Context, args map[string]any) (string, error) {
	return f(ctx, args)
}

// Kind identifies how a capability was defined.
type Kind string

const (
	KindBuiltin  Kind = "builtin"
	KindExec     Kind = "exec"
	KindHTTP     Kind = "http"
	KindTemplate Kind = "template"
	KindScript   Kind = "script"
)

// Descriptor is a loaded capability: its public metadata plus the handle
// used to invoke it.
type Descriptor struct {
	protocol.Capability
	Version string          `json:"version,omitempty"`
	Timeout config.Duration `json:"timeout,omitempty"`
	Kind    Kind            `json:"kind"`
	Source  string          `json:"source"`

	handler Handler
	schema  *jsonschema.Schema
}

// Builtin creates a descriptor for a handler compiled into the binary.
func Builtin(c protocol.Capability, h Handler) Descriptor {
	return Descriptor{
		Capability: c,
		Kind:       KindBuiltin,
		Source:     "builtin:" + c.Name,
		handler:    h,
	}
}

// Clone returns a deep copy of the metadata. The handler is shared; handlers
// are immutable once loaded.
func (d Descriptor) Clone() Descriptor {
	d.Capability = d.Capability.Clone()
	return d
}

// Validate checks the load-time contract every definition must satisfy.
func (d Descriptor) Validate() error {
	_, err := d.validate()
	return err
}

// validate checks d and returns its compiled parameter schema.
func (d Descriptor) validate() (*jsonschema.Schema, error) {
	if d.Name == "" {
		return nil, ErrEmptyName
	}
	if strings.IndexFunc(d.Name, invalidNameRune) >= 0 {
		return nil, fmt.Errorf("%w: name %q may only contain letters, digits, '_', '-', '.'", ErrInvalidDefinition, d.Name)
	}
	if strings.TrimSpace(d.Description) == "" {
		return nil, fmt.Errorf("%w: %s: description is required", ErrInvalidDefinition, d.Name)
	}
	schema, err := compileSchema(d.Parameters)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, d.Name, err)
	}
	if d.Version != "" {
		if _, err := semver.NewVersion(d.Version); err != nil {
			return nil, fmt.Errorf("%w: %s: version %q: %v", ErrInvalidDefinition, d.Name, d.Version, err)
		}
	}
	if d.handler == nil {
		return nil, fmt.Errorf("%w: %s: no handler", ErrInvalidDefinition, d.Name)
	}
	return schema, nil
}

func invalidNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case r == '_', r == '-', r == '.':
		return false
	}
	return true
}
