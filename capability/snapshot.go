package capability

import (
	"fmt"
	"slices"
	"time"
)

// LoadFailure records a definition that could not be loaded. Failures are
// reported alongside the snapshot; they never abort loading of other files.
type LoadFailure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Snapshot is an immutable set of capabilities produced by one load.
// Readers holding a snapshot are unaffected by later reloads.
type Snapshot struct {
	byName     map[string]Descriptor
	order      []string
	failures   []LoadFailure
	generation uint64
	loadedAt   time.Time
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		byName:   make(map[string]Descriptor),
		loadedAt: time.Now(),
	}
}

// add registers d, rejecting it when its name is already taken.
func (s *Snapshot) add(d Descriptor) error {
	schema, err := d.validate()
	if err != nil {
		return err
	}
	d.schema = schema
	if prev, exists := s.byName[d.Name]; exists {
		return fmt.Errorf("%w: %s (first defined in %s)", ErrDuplicate, d.Name, prev.Source)
	}
	s.byName[d.Name] = d
	s.order = append(s.order, d.Name)
	return nil
}

func (s *Snapshot) fail(source string, err error) {
	s.failures = append(s.failures, LoadFailure{Source: source, Error: err.Error()})
}

// Resolve returns a copy of the named descriptor.
// Returns ErrNotFound if no capability with that name is loaded.
func (s *Snapshot) Resolve(name string) (Descriptor, error) {
	d, ok := s.byName[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return d.Clone(), nil
}

// List returns copies of all descriptors in discovery order.
func (s *Snapshot) List() []Descriptor {
	out := make([]Descriptor, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.byName[name].Clone())
	}
	return out
}

// Names returns capability names in discovery order.
func (s *Snapshot) Names() []string {
	return slices.Clone(s.order)
}

// Len returns the number of loaded capabilities.
func (s *Snapshot) Len() int {
	return len(s.order)
}

// Failures returns the definitions rejected during load.
func (s *Snapshot) Failures() []LoadFailure {
	return slices.Clone(s.failures)
}

// Generation is incremented by the Registry on every successful swap.
func (s *Snapshot) Generation() uint64 {
	return s.generation
}

// LoadedAt reports when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}
