package config

import (
	"time"

	"github.com/Kajdep/colorbook-engine-clean-sub001/agent"
	"github.com/Kajdep/colorbook-engine-clean-sub001/platform/gemini"
)

// Config holds all engine configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	LogLevel string         `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	Engine   EngineConfig   `mapstructure:"engine" validate:"required"`
	Provider ProviderConfig `mapstructure:"provider" validate:"required"`
}

// EngineConfig contains scheduling, retry, and retention settings. Durations
// are plain integers so they read naturally from environment variables.
type EngineConfig struct {
	MaxConcurrent          int     `mapstructure:"max_concurrent" validate:"required,gte=1,lte=64"`
	RetryMaxAttempts       int     `mapstructure:"retry_max_attempts" validate:"required,gte=1,lte=10"`
	RetryDelaySeconds      int     `mapstructure:"retry_delay_seconds" validate:"required,gte=1"`
	RetryBackoffFactor     float64 `mapstructure:"retry_backoff_factor" validate:"gte=1"`
	RetryMaxDelaySeconds   int     `mapstructure:"retry_max_delay_seconds" validate:"gte=0"`
	RequestTimeoutSeconds  int     `mapstructure:"request_timeout_seconds" validate:"required,gte=1"`
	RetentionMinutes       int     `mapstructure:"retention_minutes" validate:"gte=0"`
	CleanupIntervalSeconds int     `mapstructure:"cleanup_interval_seconds" validate:"required,gte=1"`
}

// ProviderConfig contains all image-provider related settings.
type ProviderConfig struct {
	GeminiAPIKey string  `mapstructure:"gemini_api_key" validate:"required"`
	Model        string  `mapstructure:"model" validate:"required"`
	Temperature  float64 `mapstructure:"temperature" validate:"gte=0,lte=2"`
}

// AgentConfig converts the loaded settings into the engine's config type.
func (c *Config) AgentConfig() agent.Config {
	return agent.Config{
		MaxConcurrent: c.Engine.MaxConcurrent,
		Retry: agent.RetryPolicy{
			MaxAttempts:   c.Engine.RetryMaxAttempts,
			Delay:         time.Duration(c.Engine.RetryDelaySeconds) * time.Second,
			BackoffFactor: c.Engine.RetryBackoffFactor,
			MaxDelay:      time.Duration(c.Engine.RetryMaxDelaySeconds) * time.Second,
		},
		RequestTimeout:  time.Duration(c.Engine.RequestTimeoutSeconds) * time.Second,
		Retention:       time.Duration(c.Engine.RetentionMinutes) * time.Minute,
		CleanupInterval: time.Duration(c.Engine.CleanupIntervalSeconds) * time.Second,
	}
}

// GeminiConfig converts the provider settings into the Gemini client's
// config type.
func (c *Config) GeminiConfig() gemini.Config {
	return gemini.Config{
		APIKey:      c.Provider.GeminiAPIKey,
		Model:       c.Provider.Model,
		Temperature: c.Provider.Temperature,
	}
}
