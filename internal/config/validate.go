package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks configuration invariants after normalization.
func (c *Config) Validate() error {
	var problems []string

	if c.Orchestrator.BatchSize < 1 {
		problems = append(problems, fmt.Sprintf("orchestrator.batch_size must be >= 1 (got %d)", c.Orchestrator.BatchSize))
	}
	if c.Orchestrator.MaxRetries < 0 {
		problems = append(problems, fmt.Sprintf("orchestrator.max_retries must be >= 0 (got %d)", c.Orchestrator.MaxRetries))
	}
	if c.Orchestrator.BatchPause < 0 {
		problems = append(problems, "orchestrator.batch_pause must not be negative")
	}
	if c.Orchestrator.RetryPause < 0 {
		problems = append(problems, "orchestrator.retry_pause must not be negative")
	}
	if c.Worker.PoolSize < 1 {
		problems = append(problems, fmt.Sprintf("worker.pool_size must be >= 1 (got %d)", c.Worker.PoolSize))
	}
	if c.Worker.InvocationTimeout < 1 {
		problems = append(problems, "worker.invocation_timeout must be >= 1 second")
	}
	if c.Worker.StopGracePeriod < 0 {
		problems = append(problems, "worker.stop_grace_period must not be negative")
	}
	if c.Worker.Binary == "" {
		problems = append(problems, "worker.binary is required")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format must be console or json (got %q)", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
