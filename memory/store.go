// Package memory provides durable key/value storage for Brain Stem state that
// lives on disk: per-user notes and the context definitions directory.
// Keys are /-separated relative paths; values are raw bytes.
package memory

import "context"

// Store translates between external storage and the key-value namespace.
// Implementations perform I/O on each call without caching.
type Store interface {
	// List returns all available keys in lexical order.
	List(ctx context.Context) ([]string, error)
	// Load retrieves entries for the specified keys.
	Load(ctx context.Context, keys ...string) ([]Entry, error)
	// Save persists entries atomically, creating or overwriting as needed.
	Save(ctx context.Context, entries ...Entry) error
	// Delete removes entries from storage. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}
