package agent

import "errors"

// Common errors returned by the agent package
var (
	// ErrAgentClosed is returned when work is submitted after Shutdown began
	ErrAgentClosed = errors.New("agent is shut down")

	// ErrInvalidSubmission is returned when a submission fails validation
	// and is rejected before entering the queue
	ErrInvalidSubmission = errors.New("invalid submission")

	// ErrInvalidConfig is returned by New when the engine cannot be built
	// from the given configuration
	ErrInvalidConfig = errors.New("invalid engine configuration")

	// ErrRequestNotFound is returned when no request exists with the given ID
	ErrRequestNotFound = errors.New("request not found")

	// ErrBatchNotFound is returned when no batch exists with the given ID
	ErrBatchNotFound = errors.New("batch not found")
)
