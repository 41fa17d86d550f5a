// Package protocol defines the wire-level types shared by every Brain Stem
// subsystem: capability metadata, conversation messages, and session turns.
package protocol

import "maps"

// Capability is the public metadata of a registered handler.
// Parameters uses JSON Schema format to describe the handler's input.
type Capability struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Clone returns a deep copy so callers never alias a loaded snapshot.
func (c Capability) Clone() Capability {
	c.Parameters = CloneMap(c.Parameters)
	return c
}

// CloneMap deep-copies a decoded JSON/YAML value tree. Nested maps and
// slices are copied; scalars are shared.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case map[string]string:
		return maps.Clone(t)
	default:
		return v
	}
}
