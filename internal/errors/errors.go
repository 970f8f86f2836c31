package errors

import "errors"

// This package defines a centralized set of sentinel errors for the
// application. Services return these (wrapped with context via fmt.Errorf and
// %w) and the API layer maps them to HTTP status codes with errors.Is, so the
// business logic never needs to know about HTTP.

var (
	// ErrNotFound signifies that a requested resource could not be located.
	// Mapped to 404 Not Found.
	ErrNotFound = errors.New("resource not found")

	// ErrValidation signifies that client input failed validation.
	// Mapped to 400 Bad Request.
	ErrValidation = errors.New("validation failed")

	// ErrConflict signifies that an operation conflicts with the current
	// state of a resource. Mapped to 409 Conflict.
	ErrConflict = errors.New("resource conflict")

	// ErrPermission signifies that the authenticated user may not perform
	// the requested action. Mapped to 403 Forbidden.
	ErrPermission = errors.New("permission denied")

	// ErrStoreUnavailable signifies a read-path failure against the message
	// store. Non-fatal: callers keep their prior state. Mapped to 503.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrEndpoint signifies that the language-model exchange failed. The
	// user message may still have been persisted (partial success).
	// Mapped to 502 Bad Gateway.
	ErrEndpoint = errors.New("endpoint failure")

	// ErrInternal signifies an unexpected server-side error. Mapped to 500.
	ErrInternal = errors.New("internal server error")
)
