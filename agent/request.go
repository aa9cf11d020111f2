package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/Kajdep/colorbook-engine-clean-sub001/generation"
)

// Priority represents the scheduling class of a request
type Priority string

// Possible priority values, highest first
const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// weight returns the dispatch weight of the priority. Higher weights are
// dispatched first.
func (p Priority) weight() int {
	switch p {
	case PriorityUrgent:
		return 40
	case PriorityHigh:
		return 30
	case PriorityNormal:
		return 20
	case PriorityLow:
		return 10
	}
	return 0
}

// Status represents the lifecycle state of a request
type Status string

// Possible request status values
const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether the status is final. Terminal requests never
// change state again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Tags associate a request with the product entities it belongs to. All
// fields are optional; set fields are matchable through List.
type Tags struct {
	ProjectID string `json:"project_id,omitempty"`
	PageID    string `json:"page_id,omitempty"`
	BatchID   string `json:"batch_id,omitempty"`
}

// RequestError describes why a request failed.
type RequestError struct {
	// Message is the provider error text from the final attempt.
	Message string `json:"message"`

	// Retryable reports how the final failure was classified. True means
	// the request failed transiently but ran out of attempts.
	Retryable bool `json:"retryable"`
}

// request is the engine's mutable record of one unit of work. It is guarded
// by the Agent mutex; only snapshots leave the package.
type request struct {
	id          uuid.UUID
	contentType generation.ContentType
	payload     generation.Payload
	priority    Priority
	status      Status
	attempts    int
	maxAttempts int
	tags        Tags

	submittedAt time.Time
	startedAt   time.Time
	completedAt time.Time
	elapsed     time.Duration

	result  *generation.Result
	failure *RequestError

	// seq is the submission sequence number, the FIFO tie-break within a
	// priority class. index is the heap position, -1 while not queued.
	seq   uint64
	index int
}

// RequestSnapshot is an immutable copy of a request's state at a point in
// time. Result is shared with the engine and must be treated as read-only.
type RequestSnapshot struct {
	ID          uuid.UUID               `json:"id"`
	ContentType generation.ContentType  `json:"content_type"`
	Priority    Priority                `json:"priority"`
	Status      Status                  `json:"status"`
	Attempts    int                     `json:"attempts"`
	MaxAttempts int                     `json:"max_attempts"`
	Tags        Tags                    `json:"tags"`
	SubmittedAt time.Time               `json:"submitted_at"`
	StartedAt   time.Time               `json:"started_at,omitempty"`
	CompletedAt time.Time               `json:"completed_at,omitempty"`
	Elapsed     time.Duration           `json:"elapsed,omitempty"`
	Error       *RequestError           `json:"error,omitempty"`
	Result      *generation.Result      `json:"result,omitempty"`
}

func (r *request) snapshot() RequestSnapshot {
	snap := RequestSnapshot{
		ID:          r.id,
		ContentType: r.contentType,
		Priority:    r.priority,
		Status:      r.status,
		Attempts:    r.attempts,
		MaxAttempts: r.maxAttempts,
		Tags:        r.tags,
		SubmittedAt: r.submittedAt,
		StartedAt:   r.startedAt,
		CompletedAt: r.completedAt,
		Elapsed:     r.elapsed,
		Result:      r.result,
	}
	if r.failure != nil {
		failure := *r.failure
		snap.Error = &failure
	}
	return snap
}

// Filter selects requests in List. Zero fields match everything.
type Filter struct {
	ProjectID string
	PageID    string
	BatchID   string
	Statuses  []Status
}

func (f Filter) matches(r *request) bool {
	if f.ProjectID != "" && r.tags.ProjectID != f.ProjectID {
		return false
	}
	if f.PageID != "" && r.tags.PageID != f.PageID {
		return false
	}
	if f.BatchID != "" && r.tags.BatchID != f.BatchID {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, s := range f.Statuses {
			if r.status == s {
				return true
			}
		}
		return false
	}
	return true
}
