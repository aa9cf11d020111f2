package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Kajdep/colorbook-engine-clean-sub001/events"
)

// BatchError records one failed member of a batch.
type BatchError struct {
	RequestID uuid.UUID `json:"request_id"`
	Message   string    `json:"message"`
}

// BatchSnapshot is an immutable view of a batch's progress. The bucket
// counts always sum to Total. Done reports that no member is queued or in
// progress anymore.
type BatchSnapshot struct {
	ID         string       `json:"id"`
	Total      int          `json:"total"`
	Queued     int          `json:"queued"`
	InProgress int          `json:"in_progress"`
	Completed  int          `json:"completed"`
	Failed     int          `json:"failed"`
	Cancelled  int          `json:"cancelled"`
	Errors     []BatchError `json:"errors,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	Done       bool         `json:"done"`
}

type batchState struct {
	id        string
	createdAt time.Time
	closedAt  time.Time
	members   map[uuid.UUID]Status
	errors    []BatchError
	done      chan struct{}
	closed    bool
}

// batchTracker maintains batch progress by consuming the engine's event
// stream. It has its own mutex and never takes the Agent mutex, so event
// handling cannot deadlock against submissions.
type batchTracker struct {
	mu      sync.Mutex
	batches map[string]*batchState
}

func newBatchTracker() *batchTracker {
	return &batchTracker{batches: make(map[string]*batchState)}
}

// register creates a batch. It must happen before the first member is
// submitted so no lifecycle event is missed.
func (t *batchTracker) register(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batches[id] = &batchState{
		id:        id,
		createdAt: time.Now().UTC(),
		members:   make(map[uuid.UUID]Status),
		done:      make(chan struct{}),
	}
}

func (t *batchTracker) addMember(batchID string, requestID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.batches[batchID]; ok {
		b.members[requestID] = StatusQueued
	}
}

// handleEvent moves members between buckets as lifecycle events arrive and
// closes the batch once nothing is pending. Wired to the event bus as a
// wildcard subscriber.
func (t *batchTracker) handleEvent(ev events.Event) {
	if ev.BatchID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[ev.BatchID]
	if !ok {
		return
	}
	if _, known := b.members[ev.RequestID]; !known {
		return
	}

	switch ev.Type {
	case events.TypeQueued:
		b.members[ev.RequestID] = StatusQueued
	case events.TypeStarted:
		b.members[ev.RequestID] = StatusInProgress
	case events.TypeCompleted:
		b.members[ev.RequestID] = StatusCompleted
	case events.TypeFailed:
		b.members[ev.RequestID] = StatusFailed
		b.errors = append(b.errors, BatchError{RequestID: ev.RequestID, Message: ev.Message})
	case events.TypeCancelled:
		b.members[ev.RequestID] = StatusCancelled
	default:
		return
	}

	if !b.closed && b.pendingLocked() == 0 {
		b.closed = true
		b.closedAt = time.Now().UTC()
		close(b.done)
	}
}

func (b *batchState) pendingLocked() int {
	n := 0
	for _, s := range b.members {
		if !s.IsTerminal() {
			n++
		}
	}
	return n
}

func (b *batchState) snapshotLocked() BatchSnapshot {
	snap := BatchSnapshot{
		ID:        b.id,
		Total:     len(b.members),
		CreatedAt: b.createdAt,
		Done:      b.closed,
	}
	for _, s := range b.members {
		switch s {
		case StatusQueued:
			snap.Queued++
		case StatusInProgress:
			snap.InProgress++
		case StatusCompleted:
			snap.Completed++
		case StatusFailed:
			snap.Failed++
		case StatusCancelled:
			snap.Cancelled++
		}
	}
	if len(b.errors) > 0 {
		snap.Errors = make([]BatchError, len(b.errors))
		copy(snap.Errors, b.errors)
	}
	return snap
}

func (t *batchTracker) snapshot(id string) (BatchSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[id]
	if !ok {
		return BatchSnapshot{}, false
	}
	return b.snapshotLocked(), true
}

func (t *batchTracker) doneChan(id string) (<-chan struct{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[id]
	if !ok {
		return nil, false
	}
	return b.done, true
}

// pendingMembers returns the IDs of members that have not reached a terminal
// status.
func (t *batchTracker) pendingMembers(id string) ([]uuid.UUID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[id]
	if !ok {
		return nil, false
	}
	var ids []uuid.UUID
	for rid, s := range b.members {
		if !s.IsTerminal() {
			ids = append(ids, rid)
		}
	}
	return ids, true
}

// cleanup drops batches that closed before the cutoff.
func (t *batchTracker) cleanup(cutoff time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, b := range t.batches {
		if b.closed && b.closedAt.Before(cutoff) {
			delete(t.batches, id)
		}
	}
}
