package agent

import (
	"math"
	"time"
)

// RetryPolicy decides how transient failures are repeated. The default is a
// fixed delay between attempts; setting BackoffFactor above 1 switches to
// exponential backoff capped at MaxDelay.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts a request gets, the first
	// one included.
	MaxAttempts int `json:"max_attempts"`

	// Delay is the base wait between attempts.
	Delay time.Duration `json:"delay"`

	// BackoffFactor multiplies the delay after each failed attempt. Values
	// up to 1 mean a fixed delay.
	BackoffFactor float64 `json:"backoff_factor"`

	// MaxDelay caps the grown delay. Zero means no cap.
	MaxDelay time.Duration `json:"max_delay"`
}

// withDefaults fills zero fields with the engine defaults.
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryAttempts
	}
	if p.Delay <= 0 {
		p.Delay = DefaultRetryDelay
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = 1
	}
	return p
}

// NextDelay returns the wait before the next attempt, given the number of
// attempts already made (>= 1).
func (p RetryPolicy) NextDelay(attempts int) time.Duration {
	d := p.Delay
	if p.BackoffFactor > 1 && attempts > 1 {
		d = time.Duration(float64(d) * math.Pow(p.BackoffFactor, float64(attempts-1)))
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
