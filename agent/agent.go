package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Kajdep/colorbook-engine-clean-sub001/events"
	"github.com/Kajdep/colorbook-engine-clean-sub001/generation"
)

// Agent coordinates generation requests from submission to completion. See
// the package documentation for the lifecycle model.
type Agent struct {
	cfg      Config
	provider generation.Provider
	logger   *slog.Logger
	bus      *events.Bus
	tracker  *batchTracker
	validate *validator.Validate

	// baseCtx parents every provider call. It is cancelled once shutdown
	// stops waiting for in-flight work.
	baseCtx context.Context
	cancel  context.CancelFunc

	// mu serializes every state mutation: the queue, the request records,
	// the active-worker count, retry timers and the event outbox. Commit
	// order under mu is also event emission order.
	mu             sync.Mutex
	queue          *requestQueue
	requests       map[uuid.UUID]*request
	active         int
	seq            uint64
	closed         bool
	drained        bool
	retryTimers    map[uuid.UUID]*time.Timer
	pendingRetries int
	outbox         []events.Event

	wake     chan struct{}
	pumpWake chan struct{}
	stopCh   chan struct{}
	pumpStop chan struct{}

	workers sync.WaitGroup
	loops   sync.WaitGroup

	statSubmitted atomic.Int64
	statCompleted atomic.Int64
	statFailed    atomic.Int64
	statCancelled atomic.Int64
	statRetried   atomic.Int64
	statTimedOut  atomic.Int64

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an Agent and starts its scheduler. The provider serves every
// request; compose a generation.Router to split content types across
// backends. A nil logger falls back to slog.Default().
func New(cfg Config, provider generation.Provider, logger *slog.Logger) (*Agent, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "agent")

	baseCtx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		cfg:         cfg.withDefaults(),
		provider:    provider,
		logger:      logger,
		bus:         events.NewBus(logger),
		tracker:     newBatchTracker(),
		validate:    validator.New(),
		baseCtx:     baseCtx,
		cancel:      cancel,
		queue:       newRequestQueue(),
		requests:    make(map[uuid.UUID]*request),
		retryTimers: make(map[uuid.UUID]*time.Timer),
		drained:     true,
		wake:        make(chan struct{}, 1),
		pumpWake:    make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		pumpStop:    make(chan struct{}),
	}
	a.bus.SubscribeAll(a.tracker.handleEvent)

	a.loops.Add(2)
	go a.schedulerLoop()
	go a.pumpLoop()

	a.logger.Info("engine started",
		"max_concurrent", a.cfg.MaxConcurrent,
		"retry_attempts", a.cfg.Retry.MaxAttempts,
		"retry_delay", a.cfg.Retry.Delay,
		"request_timeout", a.cfg.RequestTimeout)
	return a, nil
}

// SubmitRequest describes one unit of work.
type SubmitRequest struct {
	// ContentType selects the kind of artifact to produce. Required.
	ContentType generation.ContentType `json:"content_type" validate:"required"`

	// Payload describes the work. Drawable content types require a prompt;
	// exports require a pdf or epub format.
	Payload generation.Payload `json:"payload"`

	// Priority defaults to normal.
	Priority Priority `json:"priority" validate:"omitempty,oneof=urgent high normal low"`

	// MaxAttempts overrides the engine retry policy's attempt count for
	// this request. Zero means the policy default.
	MaxAttempts int `json:"max_attempts" validate:"omitempty,gte=1,lte=10"`

	// Tags associate the request with product entities.
	Tags Tags `json:"tags"`

	// Listener, when set, receives every event for this request starting
	// with its queued event, with none lost to the gap between Submit
	// returning and a Subscribe call. It stays registered for the
	// request's lifetime and must follow the non-blocking handler
	// contract.
	Listener events.Handler `json:"-"`
}

// Submit validates and enqueues a request, returning its ID. Dispatch is
// asynchronous; observe the request through its Listener, Subscribe, or
// GetStatus.
func (a *Agent) Submit(req SubmitRequest) (uuid.UUID, error) {
	if err := a.validateSubmit(&req); err != nil {
		return uuid.Nil, err
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return uuid.Nil, ErrAgentClosed
	}
	id := uuid.New()
	if req.Listener != nil {
		a.bus.Subscribe(id, req.Listener)
	}
	a.enqueueLocked(id, req)
	a.mu.Unlock()

	a.wakeScheduler()
	return id, nil
}

// validateSubmit rejects malformed submissions before they enter the queue
// and fills submission defaults.
func (a *Agent) validateSubmit(req *SubmitRequest) error {
	if err := a.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	if !req.ContentType.IsValid() {
		return fmt.Errorf("%w: unknown content type %q", ErrInvalidSubmission, req.ContentType)
	}
	if req.ContentType.IsDrawable() && strings.TrimSpace(req.Payload.Prompt) == "" {
		return fmt.Errorf("%w: %s requires a prompt", ErrInvalidSubmission, req.ContentType)
	}
	if req.ContentType == generation.ContentTypeExport {
		switch req.Payload.Format {
		case "pdf", "epub":
		default:
			return fmt.Errorf("%w: export format must be pdf or epub, got %q",
				ErrInvalidSubmission, req.Payload.Format)
		}
	}
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}
	if req.MaxAttempts == 0 {
		req.MaxAttempts = a.cfg.Retry.MaxAttempts
	}
	return nil
}

// enqueueLocked registers and queues a validated request. Caller holds a.mu.
func (a *Agent) enqueueLocked(id uuid.UUID, req SubmitRequest) {
	a.seq++
	r := &request{
		id:          id,
		contentType: req.ContentType,
		payload:     req.Payload,
		priority:    req.Priority,
		status:      StatusQueued,
		maxAttempts: req.MaxAttempts,
		tags:        req.Tags,
		submittedAt: time.Now().UTC(),
		seq:         a.seq,
		index:       -1,
	}
	a.requests[r.id] = r
	a.queue.push(r)
	a.drained = false
	a.statSubmitted.Add(1)
	a.emitLocked(events.Event{
		Type:      events.TypeQueued,
		RequestID: r.id,
		BatchID:   r.tags.BatchID,
	})
	a.logger.Debug("request queued",
		"request_id", r.id,
		"content_type", r.contentType,
		"priority", r.priority)
}

// GetStatus returns a snapshot of the request with the given ID.
func (a *Agent) GetStatus(id uuid.UUID) (RequestSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.requests[id]
	if !ok {
		return RequestSnapshot{}, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	return r.snapshot(), nil
}

// List returns snapshots of the requests matching the filter, ordered by
// submission time.
func (a *Agent) List(f Filter) []RequestSnapshot {
	a.mu.Lock()
	out := make([]RequestSnapshot, 0)
	for _, r := range a.requests {
		if f.matches(r) {
			out = append(out, r.snapshot())
		}
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Cancel cancels the request with the given ID. Queued requests and requests
// waiting out a retry delay are withdrawn immediately and never reach the
// provider. For in-progress requests cancellation is advisory: the request
// is marked cancelled and its eventual result discarded, but the in-flight
// provider call is not interrupted. Returns false when the request is
// unknown or already terminal, making repeated calls harmless.
func (a *Agent) Cancel(id uuid.UUID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelLocked(id, "cancelled by caller")
}

func (a *Agent) cancelLocked(id uuid.UUID, reason string) bool {
	r, ok := a.requests[id]
	if !ok || r.status.IsTerminal() {
		return false
	}

	if r.status == StatusQueued {
		if a.queue.remove(id) == nil {
			// not in the queue, so it is waiting out a retry delay
			if timer, ok := a.retryTimers[id]; ok {
				timer.Stop()
				delete(a.retryTimers, id)
				a.pendingRetries--
			}
		}
	}

	r.status = StatusCancelled
	r.completedAt = time.Now().UTC()
	a.statCancelled.Add(1)
	a.emitLocked(events.Event{
		Type:      events.TypeCancelled,
		RequestID: id,
		BatchID:   r.tags.BatchID,
		Attempt:   r.attempts,
		Message:   reason,
	})
	a.logger.Info("request cancelled", "request_id", id, "reason", reason)
	a.maybeQueueEmptyLocked()
	return true
}

// Subscribe registers h for events about one request. The returned function
// removes the subscription. Handlers run on the engine's event pump and
// must not block.
func (a *Agent) Subscribe(id uuid.UUID, h events.Handler) func() {
	return a.bus.Subscribe(id, h)
}

// SubscribeAll registers h for every event the engine publishes, including
// queue_empty.
func (a *Agent) SubscribeAll(h events.Handler) func() {
	return a.bus.SubscribeAll(h)
}

// OnQueueEmpty registers f to run each time the engine drains completely:
// empty queue, no in-flight workers, no retries pending.
func (a *Agent) OnQueueEmpty(f func()) func() {
	return a.bus.SubscribeAll(func(ev events.Event) {
		if ev.Type == events.TypeQueueEmpty {
			f()
		}
	})
}

// BatchItem describes one member of a batch.
type BatchItem struct {
	ContentType generation.ContentType `json:"content_type"`
	Payload     generation.Payload     `json:"payload"`
	PageID      string                 `json:"page_id,omitempty"`
	MaxAttempts int                    `json:"max_attempts,omitempty"`
}

// BatchOptions apply to every member of a batch. Item-level settings win
// over batch-level ones.
type BatchOptions struct {
	Priority    Priority `json:"priority"`
	ProjectID   string   `json:"project_id,omitempty"`
	MaxAttempts int      `json:"max_attempts,omitempty"`
}

// SubmitBatch validates and enqueues a group of requests under one batch
// ID, returning the batch ID and the member request IDs in item order.
// Validation is all-or-nothing: if any item is invalid, nothing is
// queued. Track the batch through BatchStatus, WaitForBatch, or the
// batch-tagged events on the bus.
func (a *Agent) SubmitBatch(items []BatchItem, opts BatchOptions) (string, []uuid.UUID, error) {
	if len(items) == 0 {
		return "", nil, fmt.Errorf("%w: batch has no items", ErrInvalidSubmission)
	}

	batchID := uuid.NewString()
	reqs := make([]SubmitRequest, len(items))
	for i, item := range items {
		req := SubmitRequest{
			ContentType: item.ContentType,
			Payload:     item.Payload,
			Priority:    opts.Priority,
			MaxAttempts: item.MaxAttempts,
			Tags: Tags{
				ProjectID: opts.ProjectID,
				PageID:    item.PageID,
				BatchID:   batchID,
			},
		}
		if req.MaxAttempts == 0 {
			req.MaxAttempts = opts.MaxAttempts
		}
		if err := a.validateSubmit(&req); err != nil {
			return "", nil, fmt.Errorf("item %d: %w", i, err)
		}
		reqs[i] = req
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return "", nil, ErrAgentClosed
	}
	a.tracker.register(batchID)
	ids := make([]uuid.UUID, len(reqs))
	for i, req := range reqs {
		id := uuid.New()
		a.enqueueLocked(id, req)
		a.tracker.addMember(batchID, id)
		ids[i] = id
	}
	a.mu.Unlock()

	a.wakeScheduler()
	a.logger.Info("batch submitted", "batch_id", batchID, "members", len(items))
	return batchID, ids, nil
}

// BatchStatus returns a snapshot of the batch with the given ID.
func (a *Agent) BatchStatus(id string) (BatchSnapshot, error) {
	snap, ok := a.tracker.snapshot(id)
	if !ok {
		return BatchSnapshot{}, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	return snap, nil
}

// CancelBatch withdraws every member of the batch that is still queued,
// retry-waiting included. In-progress members are left to finish and keep
// their natural outcome. Returns false when the batch is unknown.
func (a *Agent) CancelBatch(id string) bool {
	ids, ok := a.tracker.pendingMembers(id)
	if !ok {
		return false
	}

	// check the store, not the tracker: its view trails the event pump
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rid := range ids {
		if r, ok := a.requests[rid]; ok && r.status == StatusQueued {
			a.cancelLocked(rid, "batch cancelled")
		}
	}
	return true
}

// WaitForBatch blocks until every member of the batch reaches a terminal
// status or ctx is done, returning the batch snapshot either way.
func (a *Agent) WaitForBatch(ctx context.Context, id string) (BatchSnapshot, error) {
	done, ok := a.tracker.doneChan(id)
	if !ok {
		return BatchSnapshot{}, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}

	select {
	case <-done:
	case <-ctx.Done():
		snap, _ := a.tracker.snapshot(id)
		return snap, ctx.Err()
	}
	snap, _ := a.tracker.snapshot(id)
	return snap, nil
}

// Shutdown stops the engine. Submissions are rejected from this point on,
// queued and retry-waiting requests are cancelled, and in-flight workers
// get until ctx is done to finish. When the deadline expires the provider
// context is cancelled and the stragglers are marked cancelled; a provider
// that ignores its context may leak its goroutine past return. Safe to call
// more than once; later calls return the first result.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() { a.shutdownErr = a.doShutdown(ctx) })
	return a.shutdownErr
}

func (a *Agent) doShutdown(ctx context.Context) error {
	a.logger.Info("engine shutting down")

	a.mu.Lock()
	a.closed = true
	for id, r := range a.requests {
		if r.status == StatusQueued {
			a.cancelLocked(id, "engine shutdown")
		}
	}
	a.mu.Unlock()

	close(a.stopCh)

	done := make(chan struct{})
	go func() {
		a.workers.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		// sweep before cancelling the provider context so aborting workers
		// find a terminal status and stay silent
		a.mu.Lock()
		for id, r := range a.requests {
			if r.status == StatusInProgress {
				a.cancelLocked(id, "engine shutdown deadline exceeded")
			}
		}
		a.mu.Unlock()
		a.logger.Warn("shutdown deadline exceeded, in-flight requests cancelled")
	}
	a.cancel()

	close(a.pumpStop)
	a.loops.Wait()

	a.logger.Info("engine stopped")
	return err
}

// emitLocked stamps and appends ev to the outbox and nudges the pump.
// Caller holds a.mu; the commit order under the mutex is the publication
// order.
func (a *Agent) emitLocked(ev events.Event) {
	ev.Timestamp = time.Now().UTC()
	a.outbox = append(a.outbox, ev)
	select {
	case a.pumpWake <- struct{}{}:
	default:
	}
}

// maybeQueueEmptyLocked emits queue_empty on the transition to a fully
// drained engine. Caller holds a.mu.
func (a *Agent) maybeQueueEmptyLocked() {
	if a.drained || a.queue.len() > 0 || a.active > 0 || a.pendingRetries > 0 {
		return
	}
	a.drained = true
	a.emitLocked(events.Event{Type: events.TypeQueueEmpty})
}

// wakeScheduler nudges the dispatch loop. Non-blocking; safe with or
// without the engine mutex held.
func (a *Agent) wakeScheduler() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}
