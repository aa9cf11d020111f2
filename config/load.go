package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and an optional config.yaml
// in the working directory. Environment variables take precedence over
// values from the config file.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom behaves like Load but reads the config file at the given path
// instead of searching the working directory.
func LoadFrom(configPath string) (*Config, error) {
	// .env is optional; plain environment variables work the same way
	_ = godotenv.Load()

	v := viper.New()

	// Set default values
	v.SetDefault("log_level", "info")
	v.SetDefault("engine.max_concurrent", 3)
	v.SetDefault("engine.retry_max_attempts", 3)
	v.SetDefault("engine.retry_delay_seconds", 5)
	v.SetDefault("engine.retry_backoff_factor", 1.0)
	v.SetDefault("engine.retry_max_delay_seconds", 120)
	v.SetDefault("engine.request_timeout_seconds", 180)
	v.SetDefault("engine.retention_minutes", 30)
	v.SetDefault("engine.cleanup_interval_seconds", 60)
	v.SetDefault("provider.model", "gemini-2.0-flash-exp")
	v.SetDefault("provider.temperature", 0.4)

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// The config file is optional
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Configure environment variables
	v.SetEnvPrefix("COLORBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind critical environment variables
	bindEnvs := []struct {
		key    string
		envVar string
	}{
		{"log_level", "COLORBOOK_LOG_LEVEL"},
		{"engine.max_concurrent", "COLORBOOK_ENGINE_MAX_CONCURRENT"},
		{"engine.retry_max_attempts", "COLORBOOK_ENGINE_RETRY_MAX_ATTEMPTS"},
		{"engine.retry_delay_seconds", "COLORBOOK_ENGINE_RETRY_DELAY_SECONDS"},
		{"provider.gemini_api_key", "COLORBOOK_PROVIDER_GEMINI_API_KEY"},
		{"provider.model", "COLORBOOK_PROVIDER_MODEL"},
	}
	for _, env := range bindEnvs {
		if err := v.BindEnv(env.key, env.envVar); err != nil {
			return nil, fmt.Errorf("error binding environment variable %s: %w", env.envVar, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}
