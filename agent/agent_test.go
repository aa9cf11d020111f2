package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kajdep/colorbook-engine-clean-sub001/events"
	"github.com/Kajdep/colorbook-engine-clean-sub001/generation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func newTestAgent(t *testing.T, cfg Config, provider generation.Provider) *Agent {
	t.Helper()
	a, err := New(cfg, provider, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

// fastRetry keeps retry waits short enough for tests.
func fastRetry(maxAttempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: maxAttempts, Delay: 5 * time.Millisecond, BackoffFactor: 1}
}

// gatedProvider blocks every call until release is closed. The marker
// setting identifies which submission reached the provider.
func gatedProvider(entered chan<- string, release <-chan struct{}) *generation.MockProvider {
	return &generation.MockProvider{
		GenerateFn: func(ctx context.Context, ct generation.ContentType, p generation.Payload) (*generation.Result, error) {
			if entered != nil {
				entered <- p.Settings["marker"]
			}
			select {
			case <-release:
				return &generation.Result{Content: []byte("img"), MIME: "image/png", Provider: "gate"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}

func coloringRequest(prompt string) SubmitRequest {
	return SubmitRequest{
		ContentType: generation.ContentTypeColoringPage,
		Payload: generation.Payload{
			Prompt:   prompt,
			Settings: map[string]string{"marker": prompt},
		},
	}
}

func TestAgentRequestLifecycle(t *testing.T) {
	t.Parallel()

	provider := &generation.MockProvider{}
	a := newTestAgent(t, Config{Retry: fastRetry(3)}, provider)

	var mu sync.Mutex
	var seen []events.Event
	terminal := make(chan events.Event, 1)

	req := coloringRequest("a friendly dragon")
	req.Listener = func(ev events.Event) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
		if ev.IsTerminal() {
			terminal <- ev
		}
	}

	id, err := a.Submit(req)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	select {
	case ev := <-terminal:
		assert.Equal(t, events.TypeCompleted, ev.Type)
		assert.Equal(t, 1, ev.Attempt)
		assert.Equal(t, "mock", ev.Provider)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the request to complete")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 5)
	assert.Equal(t, events.TypeQueued, seen[0].Type)
	assert.Equal(t, events.TypeStarted, seen[1].Type)
	assert.Equal(t, events.TypeProgress, seen[2].Type)
	assert.Equal(t, StageDispatching, seen[2].Stage)
	assert.Equal(t, events.TypeProgress, seen[3].Type)
	assert.Equal(t, StageFinalizing, seen[3].Stage)
	assert.Equal(t, events.TypeCompleted, seen[4].Type)

	snap, err := a.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 1, snap.Attempts)
	require.NotNil(t, snap.Result)
	assert.Equal(t, "image/png", snap.Result.MIME)
	assert.False(t, snap.StartedAt.IsZero())
	assert.False(t, snap.CompletedAt.IsZero())
	assert.Nil(t, snap.Error)
}

func TestAgentSubmitValidation(t *testing.T) {
	t.Parallel()

	provider := &generation.MockProvider{}
	a := newTestAgent(t, Config{}, provider)

	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{
			name: "unknown content type",
			req: SubmitRequest{
				ContentType: generation.ContentType("sticker"),
				Payload:     generation.Payload{Prompt: "a cat"},
			},
		},
		{
			name: "missing content type",
			req:  SubmitRequest{Payload: generation.Payload{Prompt: "a cat"}},
		},
		{
			name: "drawable without prompt",
			req:  SubmitRequest{ContentType: generation.ContentTypeColoringPage},
		},
		{
			name: "export with bad format",
			req: SubmitRequest{
				ContentType: generation.ContentTypeExport,
				Payload:     generation.Payload{Format: "docx"},
			},
		},
		{
			name: "unknown priority",
			req: SubmitRequest{
				ContentType: generation.ContentTypeColoringPage,
				Payload:     generation.Payload{Prompt: "a cat"},
				Priority:    Priority("asap"),
			},
		},
		{
			name: "max attempts out of range",
			req: SubmitRequest{
				ContentType: generation.ContentTypeColoringPage,
				Payload:     generation.Payload{Prompt: "a cat"},
				MaxAttempts: 99,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id, err := a.Submit(tc.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSubmission), "expected ErrInvalidSubmission, got %v", err)
			assert.Equal(t, uuid.Nil, id)
		})
	}

	// nothing invalid should have reached the queue or the provider
	assert.Equal(t, int64(0), a.Stats().Submitted)
	assert.Equal(t, 0, provider.CallCount())
}

func TestAgentPriorityDispatchOrder(t *testing.T) {
	t.Parallel()

	entered := make(chan string, 8)
	release := make(chan struct{})
	provider := gatedProvider(entered, release)

	a := newTestAgent(t, Config{MaxConcurrent: 2, Retry: fastRetry(1)}, provider)

	var mu sync.Mutex
	var startOrder []uuid.UUID
	a.SubscribeAll(func(ev events.Event) {
		if ev.Type == events.TypeStarted {
			mu.Lock()
			startOrder = append(startOrder, ev.RequestID)
			mu.Unlock()
		}
	})
	drained := make(chan struct{}, 1)
	a.OnQueueEmpty(func() {
		select {
		case drained <- struct{}{}:
		default:
		}
	})

	submit := func(marker string, priority Priority) uuid.UUID {
		req := coloringRequest(marker)
		req.Priority = priority
		id, err := a.Submit(req)
		require.NoError(t, err)
		return id
	}

	n1 := submit("n1", PriorityNormal)
	n2 := submit("n2", PriorityNormal)
	n3 := submit("n3", PriorityNormal)

	// both slots must be occupied before the urgent work arrives
	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for workers to occupy the slots")
		}
	}

	u1 := submit("u1", PriorityUrgent)
	u2 := submit("u2", PriorityUrgent)

	close(release)

	select {
	case <-drained:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the queue to drain")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, startOrder, 5)
	assert.Equal(t, []uuid.UUID{n1, n2, u1, u2, n3}, startOrder,
		"urgent requests should start before the remaining normal one")
}

func TestAgentConcurrencyCeiling(t *testing.T) {
	t.Parallel()

	var current, peak atomic.Int32
	provider := &generation.MockProvider{
		GenerateFn: func(ctx context.Context, ct generation.ContentType, p generation.Payload) (*generation.Result, error) {
			c := current.Add(1)
			for {
				m := peak.Load()
				if c <= m || peak.CompareAndSwap(m, c) {
					break
				}
			}
			defer current.Add(-1)
			time.Sleep(10 * time.Millisecond)
			return &generation.Result{Content: []byte("img"), MIME: "image/png", Provider: "mock"}, nil
		},
	}

	a := newTestAgent(t, Config{MaxConcurrent: 2, Retry: fastRetry(1)}, provider)

	drained := make(chan struct{}, 1)
	a.OnQueueEmpty(func() {
		select {
		case drained <- struct{}{}:
		default:
		}
	})

	for i := 0; i < 8; i++ {
		_, err := a.Submit(coloringRequest(fmt.Sprintf("page %d", i)))
		require.NoError(t, err)
	}

	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the queue to drain")
	}

	assert.LessOrEqual(t, peak.Load(), int32(2), "concurrency ceiling was exceeded")
	assert.Equal(t, 8, provider.CallCount())

	stats := a.Stats()
	assert.Equal(t, int64(8), stats.Submitted)
	assert.Equal(t, int64(8), stats.Completed)
	assert.Equal(t, 0, stats.InFlight)
	assert.Equal(t, 0, stats.Queued)
}

func TestAgentTransientFailureRetriesUntilExhausted(t *testing.T) {
	t.Parallel()

	provider := &generation.MockProvider{
		GenerateFn: func(ctx context.Context, ct generation.ContentType, p generation.Payload) (*generation.Result, error) {
			return nil, fmt.Errorf("%w: api overloaded", generation.ErrUnavailable)
		},
	}

	a := newTestAgent(t, Config{MaxConcurrent: 1, Retry: fastRetry(3)}, provider)

	var mu sync.Mutex
	var seen []events.Event
	terminal := make(chan events.Event, 1)

	req := coloringRequest("a stormy sea")
	req.Listener = func(ev events.Event) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
		if ev.IsTerminal() {
			terminal <- ev
		}
	}

	id, err := a.Submit(req)
	require.NoError(t, err)

	var failed events.Event
	select {
	case failed = <-terminal:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the request to fail")
	}

	assert.Equal(t, events.TypeFailed, failed.Type)
	assert.Equal(t, 3, failed.Attempt)
	assert.True(t, failed.Retryable, "exhausted transient failures keep their classification")
	assert.Contains(t, failed.Message, "api overloaded")

	assert.Equal(t, 3, provider.CallCount(), "one provider call per attempt")

	snap, err := a.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, 3, snap.Attempts)
	require.NotNil(t, snap.Error)
	assert.True(t, snap.Error.Retryable)

	mu.Lock()
	queued, started := 0, 0
	for _, ev := range seen {
		switch ev.Type {
		case events.TypeQueued:
			queued++
		case events.TypeStarted:
			started++
		}
	}
	mu.Unlock()
	assert.Equal(t, 3, queued, "initial queue plus two retry re-queues")
	assert.Equal(t, 3, started)

	assert.Equal(t, int64(2), a.Stats().Retried)
}

func TestAgentPermanentFailureDoesNotRetry(t *testing.T) {
	t.Parallel()

	provider := &generation.MockProvider{
		GenerateFn: func(ctx context.Context, ct generation.ContentType, p generation.Payload) (*generation.Result, error) {
			return nil, fmt.Errorf("%w: prompt flagged", generation.ErrContentPolicy)
		},
	}

	a := newTestAgent(t, Config{Retry: fastRetry(3)}, provider)

	terminal := make(chan events.Event, 1)
	req := coloringRequest("something questionable")
	req.Listener = func(ev events.Event) {
		if ev.IsTerminal() {
			terminal <- ev
		}
	}

	id, err := a.Submit(req)
	require.NoError(t, err)

	select {
	case ev := <-terminal:
		assert.Equal(t, events.TypeFailed, ev.Type)
		assert.False(t, ev.Retryable)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the request to fail")
	}

	assert.Equal(t, 1, provider.CallCount(), "permanent failures get no second attempt")

	snap, err := a.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, 1, snap.Attempts)
	require.NotNil(t, snap.Error)
	assert.False(t, snap.Error.Retryable)
	assert.Equal(t, int64(0), a.Stats().Retried)
}

func TestAgentRetryThenSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	provider := &generation.MockProvider{
		GenerateFn: func(ctx context.Context, ct generation.ContentType, p generation.Payload) (*generation.Result, error) {
			if calls.Add(1) == 1 {
				return nil, fmt.Errorf("%w: slow down", generation.ErrRateLimited)
			}
			return &generation.Result{Content: []byte("img"), MIME: "image/png", Provider: "mock"}, nil
		},
	}

	a := newTestAgent(t, Config{Retry: fastRetry(3)}, provider)

	terminal := make(chan events.Event, 1)
	req := coloringRequest("a patient turtle")
	req.Listener = func(ev events.Event) {
		if ev.IsTerminal() {
			terminal <- ev
		}
	}

	id, err := a.Submit(req)
	require.NoError(t, err)

	select {
	case ev := <-terminal:
		assert.Equal(t, events.TypeCompleted, ev.Type)
		assert.Equal(t, 2, ev.Attempt)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the request to complete")
	}

	snap, err := a.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.Attempts)
	require.NotNil(t, snap.Result)
	assert.Equal(t, int64(1), a.Stats().Retried)
}

func TestAgentCancelQueuedNeverReachesProvider(t *testing.T) {
	t.Parallel()

	entered := make(chan string, 4)
	release := make(chan struct{})
	provider := gatedProvider(entered, release)

	a := newTestAgent(t, Config{MaxConcurrent: 1, Retry: fastRetry(1)}, provider)

	drained := make(chan struct{}, 1)
	a.OnQueueEmpty(func() {
		select {
		case drained <- struct{}{}:
		default:
		}
	})

	_, err := a.Submit(coloringRequest("blocker"))
	require.NoError(t, err)

	select {
	case marker := <-entered:
		require.Equal(t, "blocker", marker)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the blocker to start")
	}

	terminal := make(chan events.Event, 1)
	victimReq := coloringRequest("victim")
	victimReq.Listener = func(ev events.Event) {
		if ev.IsTerminal() {
			terminal <- ev
		}
	}
	victim, err := a.Submit(victimReq)
	require.NoError(t, err)

	assert.True(t, a.Cancel(victim))

	select {
	case ev := <-terminal:
		assert.Equal(t, events.TypeCancelled, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the cancelled event")
	}

	snap, err := a.GetStatus(victim)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, snap.Status)
	assert.Equal(t, 0, snap.Attempts, "a cancelled queued request never ran")

	assert.False(t, a.Cancel(victim), "cancelling a terminal request is a no-op")
	assert.False(t, a.Cancel(uuid.New()), "cancelling an unknown request is a no-op")

	close(release)
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the queue to drain")
	}

	assert.Equal(t, 1, provider.CallCount(), "the victim must never reach the provider")
}

func TestAgentCancelInFlightDiscardsResult(t *testing.T) {
	t.Parallel()

	entered := make(chan string, 1)
	release := make(chan struct{})
	provider := gatedProvider(entered, release)

	a := newTestAgent(t, Config{MaxConcurrent: 1, Retry: fastRetry(1)}, provider)

	drained := make(chan struct{}, 1)
	a.OnQueueEmpty(func() {
		select {
		case drained <- struct{}{}:
		default:
		}
	})

	var mu sync.Mutex
	var seen []events.Event
	req := coloringRequest("doomed")
	req.Listener = func(ev events.Event) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	}

	id, err := a.Submit(req)
	require.NoError(t, err)

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the worker to start")
	}

	require.True(t, a.Cancel(id))

	snap, err := a.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, snap.Status, "cancellation is visible immediately")

	// let the provider finish; its result must be discarded
	close(release)
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the worker to drain")
	}

	snap, err = a.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, snap.Status)
	assert.Nil(t, snap.Result, "late result of a cancelled request is dropped")

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	last := seen[len(seen)-1]
	assert.Equal(t, events.TypeCancelled, last.Type, "cancelled stays the final event")
	for _, ev := range seen {
		assert.NotEqual(t, events.TypeCompleted, ev.Type, "no completed event after cancellation")
	}
}

func TestAgentCancelDuringRetryDelay(t *testing.T) {
	t.Parallel()

	provider := &generation.MockProvider{
		GenerateFn: func(ctx context.Context, ct generation.ContentType, p generation.Payload) (*generation.Result, error) {
			return nil, fmt.Errorf("%w: flaky backend", generation.ErrTransient)
		},
	}

	// delay long enough that the test always lands inside the wait
	a := newTestAgent(t, Config{
		MaxConcurrent: 1,
		Retry:         RetryPolicy{MaxAttempts: 3, Delay: 10 * time.Second, BackoffFactor: 1},
	}, provider)

	waiting := make(chan struct{}, 1)
	req := coloringRequest("flaky")
	req.Listener = func(ev events.Event) {
		if ev.Type == events.TypeQueued && ev.Attempt == 1 {
			waiting <- struct{}{}
		}
	}

	id, err := a.Submit(req)
	require.NoError(t, err)

	select {
	case <-waiting:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the retry re-queue")
	}

	assert.Equal(t, 1, a.Stats().WaitingRetry)
	assert.True(t, a.Cancel(id))

	snap, err := a.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, snap.Status)
	assert.Equal(t, 1, provider.CallCount(), "the pending retry never ran")
	assert.Equal(t, 0, a.Stats().WaitingRetry)
}

func TestAgentQueueEmptyFiresOncePerDrain(t *testing.T) {
	t.Parallel()

	provider := &generation.MockProvider{}
	a := newTestAgent(t, Config{Retry: fastRetry(1)}, provider)

	var drains atomic.Int32
	drained := make(chan struct{}, 4)
	a.OnQueueEmpty(func() {
		drains.Add(1)
		drained <- struct{}{}
	})

	_, err := a.Submit(coloringRequest("first wave"))
	require.NoError(t, err)

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the first drain")
	}

	_, err = a.Submit(coloringRequest("second wave"))
	require.NoError(t, err)

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the second drain")
	}

	// allow any stray duplicate signal to arrive before counting
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), drains.Load(), "one queue_empty per drain transition")
}

func TestAgentListFiltersByTags(t *testing.T) {
	t.Parallel()

	provider := &generation.MockProvider{}
	a := newTestAgent(t, Config{Retry: fastRetry(1)}, provider)

	drained := make(chan struct{}, 1)
	a.OnQueueEmpty(func() {
		select {
		case drained <- struct{}{}:
		default:
		}
	})

	submit := func(prompt string, tags Tags) uuid.UUID {
		req := coloringRequest(prompt)
		req.Tags = tags
		id, err := a.Submit(req)
		require.NoError(t, err)
		return id
	}

	inProject := submit("castle page", Tags{ProjectID: "book-1", PageID: "page-3"})
	submit("dragon page", Tags{ProjectID: "book-1"})
	submit("other book", Tags{ProjectID: "book-2"})
	submit("untagged", Tags{})

	select {
	case <-drained:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the queue to drain")
	}

	assert.Len(t, a.List(Filter{}), 4)
	assert.Len(t, a.List(Filter{ProjectID: "book-1"}), 2)
	assert.Len(t, a.List(Filter{ProjectID: "book-2"}), 1)
	assert.Len(t, a.List(Filter{ProjectID: "missing"}), 0)
	assert.Len(t, a.List(Filter{Statuses: []Status{StatusCompleted}}), 4)
	assert.Len(t, a.List(Filter{Statuses: []Status{StatusFailed}}), 0)

	byPage := a.List(Filter{ProjectID: "book-1", PageID: "page-3"})
	require.Len(t, byPage, 1)
	assert.Equal(t, inProject, byPage[0].ID)
}

func TestAgentGetStatusUnknownRequest(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t, Config{}, &generation.MockProvider{})

	_, err := a.GetStatus(uuid.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRequestNotFound))
}

func TestNewRequiresProvider(t *testing.T) {
	t.Parallel()

	a, err := New(Config{}, nil, testLogger())
	require.Error(t, err)
	assert.Nil(t, a)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestAgentShutdown(t *testing.T) {
	t.Parallel()

	t.Run("drains in-flight work", func(t *testing.T) {
		t.Parallel()

		entered := make(chan string, 3)
		release := make(chan struct{})
		provider := gatedProvider(entered, release)
		a := newTestAgent(t, Config{MaxConcurrent: 3, Retry: fastRetry(1)}, provider)

		ids := make([]uuid.UUID, 3)
		for i := range ids {
			id, err := a.Submit(coloringRequest(fmt.Sprintf("page %d", i)))
			require.NoError(t, err)
			ids[i] = id
		}
		for i := 0; i < 3; i++ {
			select {
			case <-entered:
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for workers to start")
			}
		}
		close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, a.Shutdown(ctx))

		for _, id := range ids {
			snap, err := a.GetStatus(id)
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, snap.Status)
		}
		assert.Empty(t, a.List(Filter{Statuses: []Status{StatusInProgress}}),
			"nothing may stay in progress after shutdown")
	})

	t.Run("rejects submissions after shutdown", func(t *testing.T) {
		t.Parallel()

		a := newTestAgent(t, Config{}, &generation.MockProvider{})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, a.Shutdown(ctx))

		_, err := a.Submit(coloringRequest("too late"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAgentClosed))

		_, _, err = a.SubmitBatch([]BatchItem{{
			ContentType: generation.ContentTypeColoringPage,
			Payload:     generation.Payload{Prompt: "too late"},
		}}, BatchOptions{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAgentClosed))
	})

	t.Run("cancels queued requests", func(t *testing.T) {
		t.Parallel()

		entered := make(chan string, 1)
		release := make(chan struct{})
		provider := gatedProvider(entered, release)
		a := newTestAgent(t, Config{MaxConcurrent: 1, Retry: fastRetry(1)}, provider)

		blocker, err := a.Submit(coloringRequest("blocker"))
		require.NoError(t, err)
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for the blocker to start")
		}

		cancelled := make(chan struct{}, 2)
		queuedIDs := make([]uuid.UUID, 2)
		for i := range queuedIDs {
			req := coloringRequest(fmt.Sprintf("stuck %d", i))
			req.Listener = func(ev events.Event) {
				if ev.Type == events.TypeCancelled {
					cancelled <- struct{}{}
				}
			}
			id, err := a.Submit(req)
			require.NoError(t, err)
			queuedIDs[i] = id
		}

		shutdownDone := make(chan error, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			shutdownDone <- a.Shutdown(ctx)
		}()

		// queued requests are swept before shutdown waits on the blocker
		for i := 0; i < 2; i++ {
			select {
			case <-cancelled:
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for queued requests to be cancelled")
			}
		}
		close(release)

		select {
		case err := <-shutdownDone:
			require.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for shutdown to finish")
		}

		snap, err := a.GetStatus(blocker)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, snap.Status, "in-flight work finishes during the grace period")

		for _, id := range queuedIDs {
			snap, err := a.GetStatus(id)
			require.NoError(t, err)
			assert.Equal(t, StatusCancelled, snap.Status)
		}
	})

	t.Run("transient failure during shutdown is not retried", func(t *testing.T) {
		t.Parallel()

		entered := make(chan string, 1)
		release := make(chan struct{})
		provider := &generation.MockProvider{
			GenerateFn: func(ctx context.Context, ct generation.ContentType, p generation.Payload) (*generation.Result, error) {
				entered <- p.Settings["marker"]
				<-release
				return nil, fmt.Errorf("%w: backend hiccup", generation.ErrTransient)
			},
		}
		a := newTestAgent(t, Config{MaxConcurrent: 1, Retry: fastRetry(3)}, provider)

		id, err := a.Submit(coloringRequest("unlucky"))
		require.NoError(t, err)
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for the worker to start")
		}

		shutdownDone := make(chan error, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			shutdownDone <- a.Shutdown(ctx)
		}()

		// let shutdown sweep the queue before the failure lands
		time.Sleep(50 * time.Millisecond)
		close(release)

		select {
		case err := <-shutdownDone:
			require.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for shutdown to finish")
		}

		snap, err := a.GetStatus(id)
		require.NoError(t, err)
		assert.True(t, snap.Status.IsTerminal(),
			"no request may stay queued after a completed shutdown")
		assert.Equal(t, StatusCancelled, snap.Status)

		stats := a.Stats()
		assert.Equal(t, 0, stats.WaitingRetry, "no retry timer may outlive shutdown")
		assert.Equal(t, 0, stats.Queued)
	})

	t.Run("deadline expiry cancels in-flight work", func(t *testing.T) {
		t.Parallel()

		entered := make(chan string, 1)
		provider := &generation.MockProvider{
			GenerateFn: func(ctx context.Context, ct generation.ContentType, p generation.Payload) (*generation.Result, error) {
				entered <- p.Settings["marker"]
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}
		a := newTestAgent(t, Config{MaxConcurrent: 1, Retry: fastRetry(1)}, provider)

		id, err := a.Submit(coloringRequest("stuck forever"))
		require.NoError(t, err)
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for the worker to start")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err = a.Shutdown(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))

		snap, err := a.GetStatus(id)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, snap.Status)
	})

	t.Run("repeated shutdown returns the first result", func(t *testing.T) {
		t.Parallel()

		a := newTestAgent(t, Config{}, &generation.MockProvider{})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, a.Shutdown(ctx))
		require.NoError(t, a.Shutdown(context.Background()))
	})
}
