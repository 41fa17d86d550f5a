package contexts

import (
	"fmt"
	"time"
)

// LoadFailure records a context file that could not be loaded.
type LoadFailure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Snapshot is an immutable set of loaded contexts.
type Snapshot struct {
	byID     map[string]Context
	order    []string
	failures []LoadFailure
	loadedAt time.Time
}

func newSnapshot() *Snapshot {
	return &Snapshot{byID: make(map[string]Context), loadedAt: time.Now()}
}

func (s *Snapshot) add(source string, c Context) error {
	if _, exists := s.byID[c.ID]; exists {
		return fmt.Errorf("%w: duplicate guid %q (from %s)", ErrInvalid, c.ID, source)
	}
	s.byID[c.ID] = c
	s.order = append(s.order, c.ID)
	return nil
}

// Resolve returns a copy of the context with the given id.
// Returns ErrNotFound for unknown ids; there is no fallback context.
func (s *Snapshot) Resolve(id string) (Context, error) {
	c, ok := s.byID[id]
	if !ok {
		return Context{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.Clone(), nil
}

// List returns summaries in load order.
func (s *Snapshot) List() []Summary {
	out := make([]Summary, 0, len(s.order))
	for _, id := range s.order {
		c := s.byID[id]
		out = append(out, Summary{ID: c.ID, Name: c.Name, Description: c.Description})
	}
	return out
}

// Len returns the number of loaded contexts.
func (s *Snapshot) Len() int {
	return len(s.order)
}

// Failures returns the files rejected during load.
func (s *Snapshot) Failures() []LoadFailure {
	out := make([]LoadFailure, len(s.failures))
	copy(out, s.failures)
	return out
}

// LoadedAt reports when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}
