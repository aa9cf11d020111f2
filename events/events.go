package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies a lifecycle event.
type Type string

const (
	// TypeQueued fires when a request enters the queue. It fires again on
	// each retry re-queue, with Attempt carrying the attempts so far.
	TypeQueued Type = "queued"

	// TypeStarted fires when a worker picks the request up.
	TypeStarted Type = "started"

	// TypeProgress fires as a worker moves through its stages.
	TypeProgress Type = "progress"

	// TypeCompleted fires when the provider returns a result. Terminal.
	TypeCompleted Type = "completed"

	// TypeFailed fires when the request exhausts its attempts or hits a
	// permanent error. Terminal.
	TypeFailed Type = "failed"

	// TypeCancelled fires when the request is cancelled. Terminal.
	TypeCancelled Type = "cancelled"

	// TypeQueueEmpty fires once each time the engine drains: queue empty,
	// no in-flight workers, no retries pending. RequestID is zero.
	TypeQueueEmpty Type = "queue_empty"
)

// Event is an immutable lifecycle notification. The engine publishes events
// for a given request in the order its state changes were committed.
type Event struct {
	// Type identifies what happened.
	Type Type `json:"type"`

	// RequestID is the request the event is about; zero for queue_empty.
	RequestID uuid.UUID `json:"request_id"`

	// BatchID is set when the request belongs to a batch.
	BatchID string `json:"batch_id,omitempty"`

	// Timestamp is when the state change was committed.
	Timestamp time.Time `json:"timestamp"`

	// Stage names the worker phase for progress events.
	Stage string `json:"stage,omitempty"`

	// Attempt is the number of attempts made so far when the event fired.
	Attempt int `json:"attempt,omitempty"`

	// Message carries the failure or cancellation reason.
	Message string `json:"message,omitempty"`

	// Retryable reports how a failure was classified.
	Retryable bool `json:"retryable,omitempty"`

	// Provider names the backend that served a completed request.
	Provider string `json:"provider,omitempty"`

	// Elapsed is the wall time of a finished attempt.
	Elapsed time.Duration `json:"elapsed,omitempty"`
}

// IsTerminal reports whether the event marks the end of a request's
// lifecycle.
func (e Event) IsTerminal() bool {
	switch e.Type {
	case TypeCompleted, TypeFailed, TypeCancelled:
		return true
	}
	return false
}

// Handler processes a single event. Handlers run synchronously on the
// engine's publishing goroutine and must not block.
type Handler func(Event)
