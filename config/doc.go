// Package config handles configuration loading, parsing, and validation
// from environment variables and optional YAML files. It provides type-safe
// access to engine and provider settings while keeping configuration details
// separate from the engine itself.
package config
