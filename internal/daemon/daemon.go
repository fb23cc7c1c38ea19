// Package daemon runs the background job-processing service: a single
// flock-guarded process that polls for pending jobs, executes them through
// the orchestrator, and serves the HTTP status API.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"

	"conveyor/internal/config"
	"conveyor/internal/jobs"
	"conveyor/internal/logging"
	"conveyor/internal/orchestrator"
)

// Daemon owns the poll loop and the API server lifecycle.
type Daemon struct {
	cfg    *config.Config
	store  *jobs.Store
	orch   *orchestrator.Orchestrator
	api    *APIServer
	logger *slog.Logger
	lock   *flock.Flock
}

// New assembles a daemon from its components.
func New(cfg *config.Config, store *jobs.Store, orch *orchestrator.Orchestrator, api *APIServer, logger *slog.Logger) *Daemon {
	return &Daemon{
		cfg:    cfg,
		store:  store,
		orch:   orch,
		api:    api,
		logger: logging.NewComponentLogger(logger, "daemon"),
	}
}

// Run acquires the single-instance lock, starts the API server, and polls
// for pending jobs until ctx is cancelled. Jobs run strictly one at a time;
// parallelism lives inside a job's batch phase, not across jobs.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.acquireLock(); err != nil {
		return err
	}
	defer d.releaseLock()

	if d.api != nil {
		if err := d.api.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := d.api.Shutdown(shutdownCtx); err != nil {
				d.logger.Error("api shutdown", logging.Error(err))
			}
		}()
	}

	pollInterval := time.Duration(d.cfg.Daemon.PollInterval) * time.Second
	errorInterval := time.Duration(d.cfg.Daemon.ErrorRetryInterval) * time.Second
	d.logger.Info("daemon started",
		logging.Duration("poll_interval", pollInterval),
		logging.String("db", d.store.Path()))

	for {
		if ctx.Err() != nil {
			d.logger.Info("daemon stopping")
			return nil
		}

		job, err := d.store.NextPending(ctx)
		if err != nil {
			d.logger.Error("poll pending jobs", logging.Error(err))
			if !sleep(ctx, errorInterval) {
				return nil
			}
			continue
		}
		if job == nil {
			if !sleep(ctx, pollInterval) {
				return nil
			}
			continue
		}

		d.logger.Info("claimed job", logging.String(logging.FieldJobID, job.ID))
		if err := d.orch.Execute(ctx, job.ID); err != nil {
			if ctx.Err() != nil {
				d.logger.Warn("job interrupted by shutdown",
					logging.String(logging.FieldJobID, job.ID))
				return nil
			}
			d.logger.Error("job execution failed",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err))
			if !sleep(ctx, errorInterval) {
				return nil
			}
		}
	}
}

func (d *Daemon) acquireLock() error {
	d.lock = flock.New(d.cfg.LockPath())
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another daemon instance holds %s", d.cfg.LockPath())
	}
	return nil
}

func (d *Daemon) releaseLock() {
	if d.lock == nil {
		return
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Error("release daemon lock", logging.Error(err))
	}
}

// sleep waits for d or until ctx is cancelled, reporting whether the wait
// completed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
