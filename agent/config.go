package agent

import "time"

// Engine defaults. MaxConcurrent is deliberately small: generation requests
// are long-running provider calls, and the ceiling is the engine's primary
// resource control.
const (
	DefaultMaxConcurrent   = 3
	DefaultRetryAttempts   = 3
	DefaultRetryDelay      = 5 * time.Second
	DefaultRequestTimeout  = 3 * time.Minute
	DefaultRetention       = 30 * time.Minute
	DefaultCleanupInterval = time.Minute
)

// Config controls engine behavior. Zero fields fall back to the defaults
// above, so Config{} is a usable configuration.
type Config struct {
	// MaxConcurrent is the ceiling on simultaneously executing requests.
	MaxConcurrent int `json:"max_concurrent"`

	// Retry is the default retry policy. Submissions can lower their own
	// attempt count through SubmitRequest.MaxAttempts.
	Retry RetryPolicy `json:"retry"`

	// RequestTimeout bounds a single provider call.
	RequestTimeout time.Duration `json:"request_timeout"`

	// Retention is how long terminal requests and closed batches stay
	// queryable before the cleanup pass drops them. Zero or negative
	// disables cleanup.
	Retention time.Duration `json:"retention"`

	// CleanupInterval is how often the cleanup pass runs.
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	c.Retry = c.Retry.withDefaults()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	return c
}
