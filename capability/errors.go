package capability

import "errors"

// Sentinel errors for the capability registry.
var (
	ErrNotFound          = errors.New("capability not found")
	ErrDuplicate         = errors.New("capability already registered")
	ErrEmptyName         = errors.New("capability name is empty")
	ErrInvalidDefinition = errors.New("invalid capability definition")
	ErrInvalidArguments  = errors.New("invalid arguments")
	ErrForbiddenImport   = errors.New("forbidden import")
	ErrLoadTimeout       = errors.New("definition load timed out")
	ErrLoadDir           = errors.New("capability directory unreadable")
)
