package generation

import (
	"context"
	"errors"
	"net"
	"strings"

	"google.golang.org/api/googleapi"
)

// Errors returned by providers. The engine's retry policy uses Classify to
// decide whether a failed attempt is worth repeating, so providers should
// wrap their failures in the closest sentinel with fmt.Errorf("%w: ...").
var (
	// ErrRateLimited is returned when the provider rejects the call due to
	// rate or quota limits. Transient.
	ErrRateLimited = errors.New("provider rate limit exceeded")

	// ErrTimeout is returned when a provider call exceeds its deadline.
	// Transient.
	ErrTimeout = errors.New("provider call timed out")

	// ErrUnavailable is returned when the provider is temporarily down or
	// overloaded. Transient.
	ErrUnavailable = errors.New("provider temporarily unavailable")

	// ErrTransient marks any other failure expected to resolve on retry.
	ErrTransient = errors.New("transient provider failure")

	// ErrInvalidInput is returned when the request payload cannot be served
	// regardless of retries. Permanent.
	ErrInvalidInput = errors.New("invalid generation input")

	// ErrContentPolicy is returned when the provider's safety filters reject
	// the prompt or the produced content. Permanent.
	ErrContentPolicy = errors.New("content rejected by provider safety policy")

	// ErrAuthentication is returned when the provider rejects the
	// credentials. Permanent.
	ErrAuthentication = errors.New("provider authentication failed")

	// ErrPermanent marks any other failure that retrying cannot fix.
	ErrPermanent = errors.New("permanent provider failure")

	// ErrNoProvider is returned by Router when no provider is registered for
	// the requested content type. Permanent.
	ErrNoProvider = errors.New("no provider for content type")
)

// ErrInvalidConfig is returned by provider constructors when they are given
// incomplete or inconsistent configuration. It is never retried because it is
// never seen by the engine: construction happens before any work is queued.
var ErrInvalidConfig = errors.New("invalid provider configuration")

// transientMarkers are message fragments that identify retryable failures in
// untyped provider errors. Matching is case-insensitive.
var transientMarkers = []string{
	"rate limit",
	"too many requests",
	"429",
	"quota",
	"timeout",
	"timed out",
	"deadline exceeded",
	"temporar",
	"unavailable",
	"overloaded",
	"connection refused",
	"connection reset",
	"internal server error",
	"bad gateway",
	"500",
	"502",
	"503",
}

// Classify reports whether err is transient, meaning a retry may succeed.
// Explicit sentinels take precedence, then HTTP status codes and network
// timeouts, then message-fragment matching. Anything unrecognized is treated
// as permanent.
func Classify(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrContentPolicy) ||
		errors.Is(err, ErrAuthentication) ||
		errors.Is(err, ErrPermanent) ||
		errors.Is(err, ErrNoProvider) {
		return false
	}

	// A deadline hit is retryable; an explicit cancellation is not.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429 || apiErr.Code == 408:
			return true
		case apiErr.Code >= 500:
			return true
		case apiErr.Code >= 400:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}
