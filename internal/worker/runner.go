package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/jobs"
	"conveyor/internal/logging"
)

// jobInputEnv carries the batch payload into the worker process.
const jobInputEnv = "JOB_INPUT"

// timeoutExitCode mirrors the conventional coreutils timeout exit status,
// letting operators distinguish a killed worker in the job log.
const timeoutExitCode = 124

// Outcome classifies one worker invocation.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeFailed      Outcome = "failed"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeLaunchError Outcome = "launch_error"
)

// Result captures how one worker invocation ended.
type Result struct {
	Outcome  Outcome
	ExitCode int
	Err      error
}

// Success reports whether every item in the invocation succeeded.
func (r Result) Success() bool {
	return r.Outcome == OutcomeOK
}

// Option configures the runner.
type Option func(*Runner)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(r *Runner) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// Runner invokes the configured worker binary once per batch.
type Runner struct {
	binary  string
	args    []string
	timeout time.Duration
	grace   time.Duration
	exec    Executor
	logger  *slog.Logger
}

// NewRunner constructs a runner from configuration.
func NewRunner(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Runner, error) {
	if cfg.Worker.Binary == "" {
		return nil, errors.New("worker binary required")
	}
	runner := &Runner{
		binary:  cfg.Worker.Binary,
		args:    append([]string(nil), cfg.Worker.Args...),
		timeout: time.Duration(cfg.Worker.InvocationTimeout) * time.Second,
		grace:   time.Duration(cfg.Worker.StopGracePeriod) * time.Second,
		exec:    NewExecutor(),
		logger:  logging.NewComponentLogger(logger, "worker"),
	}
	for _, opt := range opts {
		opt(runner)
	}
	return runner, nil
}

// Invoke runs the worker once for the given batch, streaming stdout and
// stderr lines to the supplied callbacks. The batch is serialized as a JSON
// array of {platform, code} objects in JOB_INPUT.
func (r *Runner) Invoke(ctx context.Context, batch []jobs.ItemSpec, onStdout, onStderr func(string)) Result {
	if len(batch) == 0 {
		return Result{Outcome: OutcomeOK}
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return Result{Outcome: OutcomeLaunchError, Err: fmt.Errorf("encode batch: %w", err)}
	}

	invCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		invCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	spec := CommandSpec{
		Binary:      r.binary,
		Args:        r.args,
		Env:         []string{jobInputEnv + "=" + string(payload)},
		GracePeriod: r.grace,
	}

	r.logger.DebugContext(ctx, "invoking worker",
		logging.String("binary", r.binary),
		logging.Int("batch_items", len(batch)))

	exitCode, runErr := r.exec.Run(invCtx, spec, onStdout, onStderr)

	timedOut := errors.Is(invCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	switch {
	case timedOut:
		return Result{Outcome: OutcomeTimeout, ExitCode: timeoutExitCode, Err: invCtx.Err()}
	case runErr != nil:
		return Result{Outcome: OutcomeLaunchError, Err: runErr}
	case exitCode != 0:
		return Result{Outcome: OutcomeFailed, ExitCode: exitCode}
	default:
		return Result{Outcome: OutcomeOK}
	}
}

// Timeout returns the configured per-invocation deadline.
func (r *Runner) Timeout() time.Duration {
	return r.timeout
}
