// Package config loads, normalizes, and validates conveyor's TOML
// configuration and applies the environment overrides accepted by the
// orchestrator (BATCH_SIZE, MAX_RETRIES).
package config
