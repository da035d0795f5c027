package errors

import "errors"

var (
	// ErrInvalidInput marks malformed or missing request fields. Never retried.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks an unknown student, an unknown concept code, or a
	// subgraph that does not contain its own defining code.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks a network or storage failure while fetching a remote
	// artifact. Retried inside the cache; surfaced only once retries exhaust.
	ErrTransient = errors.New("transient failure")
	// ErrIntegrity marks an artifact that fails to deserialize or is missing
	// required fields.
	ErrIntegrity = errors.New("integrity failure")
)
