package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// normalize expands paths, fills empty fields with defaults, and applies the
// environment overrides honored by the orchestrator.
func (c *Config) normalize() error {
	dataDir, err := expandPath(strings.TrimSpace(c.Paths.DataDir))
	if err != nil {
		return err
	}
	if dataDir == "" {
		dataDir, err = expandPath(defaultDataDir)
		if err != nil {
			return err
		}
	}
	c.Paths.DataDir = dataDir

	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Worker.Binary = strings.TrimSpace(c.Worker.Binary)
	if c.Worker.Binary == "" {
		c.Worker.Binary = defaultWorkerBinary
	}
	if c.Worker.InvocationTimeout == 0 {
		c.Worker.InvocationTimeout = defaultInvocationTimeout
	}
	if c.Worker.StopGracePeriod == 0 {
		c.Worker.StopGracePeriod = defaultStopGracePeriod
	}
	if c.Worker.PoolSize == 0 {
		c.Worker.PoolSize = defaultPoolSize
	}
	if c.Daemon.PollInterval == 0 {
		c.Daemon.PollInterval = defaultPollInterval
	}
	if c.Daemon.ErrorRetryInterval == 0 {
		c.Daemon.ErrorRetryInterval = defaultErrorRetryInterval
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}

	if err := c.applyEnvOverrides(); err != nil {
		return err
	}
	return nil
}

// applyEnvOverrides lets operators adjust batching without editing the config
// file. BATCH_SIZE and MAX_RETRIES mirror the worker contract's environment
// surface; the retry batch size is intentionally not overridable.
func (c *Config) applyEnvOverrides() error {
	if raw, ok := os.LookupEnv("BATCH_SIZE"); ok {
		value, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("parse BATCH_SIZE: %w", err)
		}
		c.Orchestrator.BatchSize = value
	}
	if raw, ok := os.LookupEnv("MAX_RETRIES"); ok {
		value, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("parse MAX_RETRIES: %w", err)
		}
		c.Orchestrator.MaxRetries = value
	}
	return nil
}
