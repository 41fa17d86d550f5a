package session

import "errors"

// Sentinel errors for session stores.
var (
	ErrIdentityMismatch = errors.New("session belongs to a different user")
	ErrInvalidIdentity  = errors.New("user identity is required")
	ErrUnknownBackend   = errors.New("unknown session backend")
)
