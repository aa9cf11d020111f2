package generation

import (
	"context"
	"fmt"
)

// Provider generates content for a single request. Implementations call an
// external backend or assemble an artifact locally. They must honor ctx
// cancellation and deadlines, and should wrap failures in this package's
// sentinels so Classify can tell transient from permanent.
type Provider interface {
	// Generate produces the artifact described by payload. The payload has
	// already been enhanced for the content type.
	Generate(ctx context.Context, contentType ContentType, payload Payload) (*Result, error)
}

// Router is a Provider that dispatches by content type, letting a host
// compose, say, an image backend for drawable types and an export assembler
// for exports behind the single Provider contract. Configure routes before
// first use; Router is not safe for concurrent mutation.
type Router struct {
	routes   map[ContentType]Provider
	fallback Provider
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{routes: make(map[ContentType]Provider)}
}

// Route registers p for the given content types and returns the Router for
// chaining. Later registrations for the same type win.
func (r *Router) Route(p Provider, types ...ContentType) *Router {
	for _, ct := range types {
		r.routes[ct] = p
	}
	return r
}

// Fallback sets the provider used when no route matches.
func (r *Router) Fallback(p Provider) *Router {
	r.fallback = p
	return r
}

// Generate dispatches to the provider registered for contentType, falling
// back to the fallback provider. Returns ErrNoProvider when neither exists.
func (r *Router) Generate(ctx context.Context, contentType ContentType, payload Payload) (*Result, error) {
	if p, ok := r.routes[contentType]; ok {
		return p.Generate(ctx, contentType, payload)
	}
	if r.fallback != nil {
		return r.fallback.Generate(ctx, contentType, payload)
	}
	return nil, fmt.Errorf("%w: %s", ErrNoProvider, contentType)
}
