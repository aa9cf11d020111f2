package generation

import (
	"context"
	"sync"
)

// MockProvider is a simple implementation of the Provider interface for
// testing. Set GenerateFn to control outcomes; the zero value succeeds with
// a small PNG result. Invocations are recorded and safe to inspect
// concurrently.
type MockProvider struct {
	GenerateFn func(ctx context.Context, contentType ContentType, payload Payload) (*Result, error)

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a single Generate invocation.
type MockCall struct {
	ContentType ContentType
	Payload     Payload
}

// Generate records the call and delegates to GenerateFn when set.
func (m *MockProvider) Generate(ctx context.Context, contentType ContentType, payload Payload) (*Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{ContentType: contentType, Payload: payload})
	m.mu.Unlock()

	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, contentType, payload)
	}
	return &Result{
		Content:  []byte("mock-image"),
		MIME:     "image/png",
		Provider: "mock",
	}, nil
}

// Calls returns a copy of the recorded invocations.
func (m *MockProvider) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of recorded invocations.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
