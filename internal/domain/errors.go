package domain

import "errors"

// Error taxonomy reported synchronously to callers. Callers match with
// errors.Is; the HTTP layer maps each to a status code.
var (
	// ErrInvalidRequest marks malformed create/retry input. Nothing is
	// persisted when it is returned.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidTransition marks an operation attempted from a lifecycle
	// state that forbids it.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrNotFound marks an unknown job, playbook, asset or vulnerability id.
	ErrNotFound = errors.New("not found")

	// ErrNotComparable marks a diff request across mismatched assets or
	// jobs that are not in a terminal successful state.
	ErrNotComparable = errors.New("jobs not comparable")
)
