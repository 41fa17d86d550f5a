package observability

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Factory builds an observer bound to the process logger.
type Factory func(logger *slog.Logger) Observer

var (
	factories = map[string]Factory{
		"noop": func(*slog.Logger) Observer { return NoOpObserver{} },
		"slog": func(logger *slog.Logger) Observer { return NewSlogObserver(logger) },
	}
	mutex sync.RWMutex
)

// GetObserver builds a registered observer by name. A nil logger falls
// back to slog.Default.
// Pre-registered observers: "noop" (NoOpObserver) and "slog" (SlogObserver).
func GetObserver(name string, logger *slog.Logger) (Observer, error) {
	mutex.RLock()
	defer mutex.RUnlock()

	factory, exists := factories[name]
	if !exists {
		return nil, fmt.Errorf("unknown observer: %s", name)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return factory(logger), nil
}

// RegisterObserver adds or replaces a named observer factory.
func RegisterObserver(name string, factory Factory) {
	mutex.Lock()
	defer mutex.Unlock()

	factories[name] = factory
}

// Observers lists the registered observer names.
func Observers() []string {
	mutex.RLock()
	defer mutex.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
