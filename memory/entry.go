package memory

import (
	"path"
	"strings"
)

// Top-level namespace conventions for the memory key hierarchy.
const (
	NamespaceUsers = "users"
)

// Entry is a key-value pair in the memory namespace.
type Entry struct {
	Key   string
	Value []byte
}

// ValidKey reports whether key is a clean relative path that stays inside
// the store root.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	if path.Clean(key) != key {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return false
		}
	}
	return true
}
