package logging

import (
	"log/slog"

	"conveyor/internal/config"
)

// NewFromConfig builds the daemon logger: stdout plus the data-dir log file,
// with format and level taken from the logging section.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	return New(Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", cfg.LogPath()},
	})
}
