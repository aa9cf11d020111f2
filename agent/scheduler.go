package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Kajdep/colorbook-engine-clean-sub001/events"
	"github.com/Kajdep/colorbook-engine-clean-sub001/generation"
)

// Worker stages reported through progress events.
const (
	// StageDispatching means the payload has been enhanced and the provider
	// call is about to start.
	StageDispatching = "dispatching"

	// StageFinalizing means the provider returned and the outcome is being
	// recorded.
	StageFinalizing = "finalizing"
)

// schedulerLoop owns dispatch. It wakes when work arrives or a slot frees,
// and runs the retention cleanup pass on a ticker.
func (a *Agent) schedulerLoop() {
	defer a.loops.Done()

	ticker := time.NewTicker(a.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.wake:
			a.dispatch()
		case <-ticker.C:
			a.removeExpired()
			a.dispatch()
		case <-a.stopCh:
			return
		}
	}
}

// dispatch starts queued requests until the concurrency ceiling is reached
// or the queue is empty. It never blocks on worker completion.
func (a *Agent) dispatch() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for !a.closed && a.active < a.cfg.MaxConcurrent {
		r := a.queue.pop()
		if r == nil {
			return
		}

		r.status = StatusInProgress
		r.attempts++
		if r.startedAt.IsZero() {
			r.startedAt = time.Now().UTC()
		}
		a.active++
		a.emitLocked(events.Event{
			Type:      events.TypeStarted,
			RequestID: r.id,
			BatchID:   r.tags.BatchID,
			Attempt:   r.attempts,
		})
		a.logger.Debug("request dispatched",
			"request_id", r.id,
			"content_type", r.contentType,
			"priority", r.priority,
			"attempt", r.attempts,
			"active", a.active)

		a.workers.Add(1)
		go a.runWorker(r.id, r.contentType, r.payload, r.attempts, r.tags.BatchID)
	}
}

// runWorker executes one attempt of one request. The worker owns the
// request's in_progress state: nothing else moves the request out of it
// except Cancel, whose advisory mark the worker honors by discarding the
// outcome.
func (a *Agent) runWorker(id uuid.UUID, ct generation.ContentType, payload generation.Payload, attempt int, batchID string) {
	defer a.workers.Done()
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("worker panicked", "request_id", id, "panic", rec)
			a.finishFailure(id, fmt.Errorf("%w: worker panic: %v", generation.ErrPermanent, rec), 0)
		}
	}()

	enhanced := generation.EnhancePayload(ct, payload)
	a.emitProgress(id, batchID, attempt, StageDispatching)

	ctx, cancel := context.WithTimeout(a.baseCtx, a.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	result, err := a.provider.Generate(ctx, ct, enhanced)
	elapsed := time.Since(start)

	a.emitProgress(id, batchID, attempt, StageFinalizing)
	if err != nil {
		a.finishFailure(id, err, elapsed)
		return
	}
	a.finishSuccess(id, result, elapsed)
}

// emitProgress reports a worker stage. Requests cancelled mid-flight stay
// silent so their cancelled event remains the last one observed.
func (a *Agent) emitProgress(id uuid.UUID, batchID string, attempt int, stage string) {
	a.mu.Lock()
	if r, ok := a.requests[id]; ok && r.status == StatusInProgress {
		a.emitLocked(events.Event{
			Type:      events.TypeProgress,
			RequestID: id,
			BatchID:   batchID,
			Attempt:   attempt,
			Stage:     stage,
		})
	}
	a.mu.Unlock()
}

func (a *Agent) finishSuccess(id uuid.UUID, result *generation.Result, elapsed time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.wakeScheduler() // a slot opened either way

	a.active--
	r, ok := a.requests[id]
	if !ok || r.status != StatusInProgress {
		a.logger.Debug("discarding late result", "request_id", id)
		a.maybeQueueEmptyLocked()
		return
	}

	r.status = StatusCompleted
	r.result = result
	r.completedAt = time.Now().UTC()
	r.elapsed = elapsed
	a.statCompleted.Add(1)

	provider := ""
	if result != nil {
		provider = result.Provider
	}
	a.emitLocked(events.Event{
		Type:      events.TypeCompleted,
		RequestID: id,
		BatchID:   r.tags.BatchID,
		Attempt:   r.attempts,
		Provider:  provider,
		Elapsed:   elapsed,
	})
	a.logger.Info("request completed",
		"request_id", id,
		"content_type", r.contentType,
		"attempts", r.attempts,
		"elapsed", elapsed)
	a.maybeQueueEmptyLocked()
}

func (a *Agent) finishFailure(id uuid.UUID, genErr error, elapsed time.Duration) {
	retryable := generation.Classify(genErr)
	if errors.Is(genErr, context.DeadlineExceeded) {
		a.statTimedOut.Add(1)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.wakeScheduler()

	a.active--
	r, ok := a.requests[id]
	if !ok || r.status != StatusInProgress {
		a.logger.Debug("discarding late failure", "request_id", id)
		a.maybeQueueEmptyLocked()
		return
	}

	if retryable && r.attempts < r.maxAttempts {
		if a.closed {
			// shutdown's sweep only reaches requests that were queued when
			// it ran; a failure landing afterwards must not arm a retry
			// timer against a stopping engine
			a.cancelLocked(id, "engine shutdown")
			return
		}
		delay := a.cfg.Retry.NextDelay(r.attempts)
		r.status = StatusQueued
		a.statRetried.Add(1)
		a.emitLocked(events.Event{
			Type:      events.TypeQueued,
			RequestID: id,
			BatchID:   r.tags.BatchID,
			Attempt:   r.attempts,
			Message:   genErr.Error(),
			Retryable: true,
		})
		a.logger.Warn("request failed, will retry",
			"request_id", id,
			"attempt", r.attempts,
			"max_attempts", r.maxAttempts,
			"delay", delay,
			"error", genErr)

		a.pendingRetries++
		a.retryTimers[id] = time.AfterFunc(delay, func() { a.enqueueRetry(id) })
		return
	}

	r.status = StatusFailed
	r.failure = &RequestError{Message: genErr.Error(), Retryable: retryable}
	r.completedAt = time.Now().UTC()
	r.elapsed = elapsed
	a.statFailed.Add(1)
	a.emitLocked(events.Event{
		Type:      events.TypeFailed,
		RequestID: id,
		BatchID:   r.tags.BatchID,
		Attempt:   r.attempts,
		Message:   genErr.Error(),
		Retryable: retryable,
		Elapsed:   elapsed,
	})
	a.logger.Error("request failed",
		"request_id", id,
		"attempts", r.attempts,
		"retryable", retryable,
		"error", genErr)
	a.maybeQueueEmptyLocked()
}

// enqueueRetry returns a request to the queue once its retry delay elapses.
// Fired by the retry timer; a request cancelled while the timer was firing
// is left alone.
func (a *Agent) enqueueRetry(id uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.retryTimers[id]; !ok {
		return
	}
	delete(a.retryTimers, id)
	a.pendingRetries--

	r, ok := a.requests[id]
	if !ok || r.status != StatusQueued {
		a.maybeQueueEmptyLocked()
		return
	}
	a.queue.push(r)
	a.logger.Debug("request requeued after retry delay", "request_id", id, "attempt", r.attempts)
	a.wakeScheduler()
}

// removeExpired drops terminal requests and closed batches older than the
// retention window so long-lived engines do not grow without bound.
func (a *Agent) removeExpired() {
	if a.cfg.Retention <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-a.cfg.Retention)

	a.mu.Lock()
	var dropped []uuid.UUID
	for id, r := range a.requests {
		if r.status.IsTerminal() && !r.completedAt.IsZero() && r.completedAt.Before(cutoff) {
			delete(a.requests, id)
			dropped = append(dropped, id)
		}
	}
	a.mu.Unlock()

	for _, id := range dropped {
		a.bus.DropRequest(id)
	}
	a.tracker.cleanup(cutoff)
	removed := len(dropped)
	if removed > 0 {
		a.logger.Debug("retention pass removed expired requests", "count", removed)
	}
}

// pumpLoop publishes outbox events to the bus. A single pump preserves the
// commit order of state changes, and listeners never run under the engine
// mutex.
func (a *Agent) pumpLoop() {
	defer a.loops.Done()
	for {
		select {
		case <-a.pumpWake:
			a.flushEvents()
		case <-a.pumpStop:
			a.flushEvents()
			return
		}
	}
}

func (a *Agent) flushEvents() {
	for {
		a.mu.Lock()
		if len(a.outbox) == 0 {
			a.mu.Unlock()
			return
		}
		batch := a.outbox
		a.outbox = nil
		a.mu.Unlock()

		for _, ev := range batch {
			a.bus.Publish(ev)
		}
	}
}
