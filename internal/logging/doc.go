// Package logging builds slog loggers with conveyor's console and JSON
// handlers and provides the shared attribute helpers used across packages.
package logging
