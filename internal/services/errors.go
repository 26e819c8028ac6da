package services

import "errors"

// Error kinds returned by the orchestrator. Callers match them with
// errors.Is to pick a response status.
var (
	// ErrValidation marks a malformed or unauthenticated request.
	ErrValidation = errors.New("validation failed")
	// ErrResolution marks a request that does not map to a client, device,
	// session or awaited step.
	ErrResolution = errors.New("resolution failed")
	// ErrInvariant marks session state that contradicts the requested step.
	ErrInvariant = errors.New("session invariant violated")
	// ErrChannel marks an outbound delivery that failed.
	ErrChannel = errors.New("channel delivery failed")
)
