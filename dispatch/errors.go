package dispatch

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is against a returned *Error.
var (
	ErrValidation       = errors.New("invalid request")
	ErrContextNotFound  = errors.New("context not found")
	ErrIdentityMismatch = errors.New("identity mismatch")
	ErrInternal         = errors.New("internal error")
)

// Error reports a dispatch that failed before a result was produced. Nothing
// is committed to the session when Handle returns an Error.
type Error struct {
	Kind  error // One of the Err* kinds above.
	Phase Phase // Last phase reached before the failure.
	Err   error // Underlying cause.
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("dispatch %s: %v", e.Phase, e.Kind)
	}
	return fmt.Sprintf("dispatch %s: %v: %v", e.Phase, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func fail(kind error, phase Phase, err error) *Error {
	return &Error{Kind: kind, Phase: phase, Err: err}
}
