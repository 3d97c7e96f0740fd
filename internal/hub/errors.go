package hub

import "errors"

// Errors returned by hub operations. Check with errors.Is.
var (
	// ErrDuplicateService is returned by Register when a service with the
	// same name is already registered. It indicates a programming error.
	ErrDuplicateService = errors.New("duplicate service")

	// ErrServiceNotFound is returned by Unregister for unknown names.
	ErrServiceNotFound = errors.New("service not found")

	// ErrHandlerPanic wraps a panic recovered from a subscriber or a
	// service's Shutdown.
	ErrHandlerPanic = errors.New("handler panicked")
)
