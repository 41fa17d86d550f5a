// Package contexts loads named configuration contexts. A context carries a
// capability allow-list and static parameters; requests name the context
// they run under. The full set is reloaded and swapped as one unit.
package contexts

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rapp-os/brainstem/core/protocol"
)

// Wildcard in an allow-list admits every capability.
const Wildcard = "*"

// DefaultID names the context written on first start.
const DefaultID = "default"

// Context is an immutable named configuration.
type Context struct {
	ID           string         `json:"guid" yaml:"guid"`
	Name         string         `json:"name" yaml:"name"`
	Description  string         `json:"description" yaml:"description"`
	Capabilities []string       `json:"agents" yaml:"agents"`
	Skills       []string       `json:"skills" yaml:"skills"`
	SystemPrompt string         `json:"system_prompt" yaml:"system_prompt"`
	Parameters   map[string]any `json:"config" yaml:"config"`
}

// Allows reports whether the named capability may run in this context.
func (c Context) Allows(name string) bool {
	for _, n := range c.Capabilities {
		if n == Wildcard || n == name {
			return true
		}
	}
	return false
}

// validate checks the rules every stored context must satisfy, whether it
// was read from disk or created through the store.
func (c Context) validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: %s: name is required", ErrInvalid, c.ID)
	}
	for _, name := range c.Capabilities {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: %s: empty agent name in allow-list", ErrInvalid, c.ID)
		}
	}
	for _, name := range c.Skills {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: %s: empty skill name", ErrInvalid, c.ID)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (c Context) Clone() Context {
	c.Capabilities = slices.Clone(c.Capabilities)
	c.Skills = slices.Clone(c.Skills)
	c.Parameters = protocol.CloneMap(c.Parameters)
	return c
}

// Summary is the listing form of a context.
type Summary struct {
	ID          string `json:"guid"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Draft describes a context to create. The store assigns the id.
type Draft struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Capabilities []string       `json:"agents"`
	Skills       []string       `json:"skills"`
	SystemPrompt string         `json:"system_prompt"`
	Parameters   map[string]any `json:"config"`
}
