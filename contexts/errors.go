package contexts

import "errors"

// Sentinel errors for the context store.
var (
	ErrNotFound = errors.New("context not found")
	ErrInvalid  = errors.New("invalid context definition")
	ErrLoadDir  = errors.New("context directory unreadable")
)
