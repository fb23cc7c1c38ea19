package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/jobs"
	"conveyor/internal/logging"
	"conveyor/internal/metrics"
	"conveyor/internal/progress"
	"conveyor/internal/retry"
	"conveyor/internal/worker"
)

const (
	phaseBatch = "batch"
	phaseRetry = "retry"
)

// cancelledMessage is recorded on jobs aborted by shutdown or user request.
const cancelledMessage = "job cancelled"

// Orchestrator executes one job at a time against the configured worker.
type Orchestrator struct {
	store      *jobs.Store
	runner     *worker.Runner
	logger     *slog.Logger
	batchSize  int
	maxRetries int
	poolSize   int
	batchPause time.Duration
	retryPause time.Duration
}

// New constructs an orchestrator from configuration.
func New(cfg *config.Config, store *jobs.Store, runner *worker.Runner, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		runner:     runner,
		logger:     logging.NewComponentLogger(logger, "orchestrator"),
		batchSize:  cfg.Orchestrator.BatchSize,
		maxRetries: cfg.Orchestrator.MaxRetries,
		poolSize:   cfg.Worker.PoolSize,
		batchPause: time.Duration(cfg.Orchestrator.BatchPause) * time.Second,
		retryPause: time.Duration(cfg.Orchestrator.RetryPause) * time.Second,
	}
}

// Execute runs a pending job to a terminal state. Cancellation of ctx marks
// the job failed without entering the retry phase. The returned error
// reports orchestration faults (store failures, illegal states), not work
// item failures; those are reflected in the job state.
func (o *Orchestrator) Execute(ctx context.Context, jobID string) error {
	ctx = logging.WithJobID(ctx, jobID)
	log := logging.WithContext(ctx, o.logger)

	items, err := o.store.Items(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load work items: %w", err)
	}
	if err := o.store.SetState(ctx, jobID, jobs.StateRunning, ""); err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	metrics.JobsStarted.Inc()
	log.InfoContext(ctx, "job started", logging.Int("items", len(items)))
	o.appendLog(ctx, jobID, "INFO", fmt.Sprintf("Starting job with %d items", len(items)))

	queue := retry.New()
	o.runBatchPhase(ctx, jobID, items, queue)

	if ctx.Err() != nil {
		return o.markCancelled(ctx, jobID)
	}

	o.runRetryPhase(ctx, jobID, queue)

	if ctx.Err() != nil {
		return o.markCancelled(ctx, jobID)
	}

	return o.finish(ctx, jobID)
}

// runBatchPhase dispatches bulk batches with bounded parallelism. Failed
// batches land whole in the retry queue.
func (o *Orchestrator) runBatchPhase(parent context.Context, jobID string, items []*jobs.WorkItem, queue *retry.Queue) {
	ctx := logging.WithPhase(parent, phaseBatch)
	log := logging.WithContext(ctx, o.logger)

	batches := partition(items, o.batchSize)
	log.InfoContext(ctx, "dispatching batches",
		logging.Int("batches", len(batches)),
		logging.Int("batch_size", o.batchSize),
		logging.Int("pool_size", o.poolSize))

	var (
		wg      sync.WaitGroup
		queueMu sync.Mutex
	)
	sem := make(chan struct{}, o.poolSize)

	for index, batch := range batches {
		if ctx.Err() != nil {
			break
		}
		if index > 0 {
			o.pause(ctx, o.batchPause)
			if ctx.Err() != nil {
				break
			}
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(number int, batch []jobs.ItemSpec) {
			defer wg.Done()
			defer func() { <-sem }()

			result := o.invoke(ctx, jobID, phaseBatch, number, batch)
			if result.Success() {
				return
			}
			queueMu.Lock()
			for _, item := range batch {
				queue.Offer(item)
				metrics.ItemsRetried.Inc()
			}
			queueMu.Unlock()
			if err := o.store.SetItemState(ctx, jobID, jobs.ItemRetrying, codes(batch)...); err != nil {
				log.ErrorContext(ctx, "mark batch retrying", logging.Error(err))
			}
		}(index+1, specs(batch))
	}
	wg.Wait()
}

// runRetryPhase re-executes failed items one at a time. Each cycle drains
// the queue as it stood at cycle start; items failing again are requeued
// for the next cycle until the retry budget runs out.
func (o *Orchestrator) runRetryPhase(parent context.Context, jobID string, queue *retry.Queue) {
	ctx := logging.WithPhase(parent, phaseRetry)
	log := logging.WithContext(ctx, o.logger)

	for attempt := 1; attempt <= o.maxRetries && queue.Len() > 0; attempt++ {
		if ctx.Err() != nil {
			return
		}
		o.pause(ctx, o.retryPause)
		if ctx.Err() != nil {
			return
		}

		cycleSize := queue.Len()
		log.InfoContext(ctx, "starting retry cycle",
			logging.Int("attempt", attempt),
			logging.Int("queued", cycleSize))
		o.appendLog(ctx, jobID, "INFO",
			fmt.Sprintf("Retry cycle %d/%d: %d items", attempt, o.maxRetries, cycleSize))

		processed := 0
		for item := range queue.Drain() {
			if ctx.Err() != nil {
				// Leave the item unresolved; cancellation fails the job.
				return
			}
			processed++

			result := o.invoke(ctx, jobID, phaseRetry, processed, []jobs.ItemSpec{item})
			switch {
			case result.Success():
			case attempt < o.maxRetries:
				queue.Offer(item)
			default:
				o.recordHardFailure(ctx, jobID, item)
			}

			if processed == cycleSize {
				break
			}
		}
	}

	// Retry budget of zero: everything still queued fails permanently.
	for item := range queue.Drain() {
		o.recordHardFailure(ctx, jobID, item)
	}
}

// invoke runs the worker once for a batch, wiring its stdout into the job
// log and progress store. Returns the classified result.
func (o *Orchestrator) invoke(ctx context.Context, jobID, phase string, number int, batch []jobs.ItemSpec) worker.Result {
	log := logging.WithContext(ctx, o.logger).With(logging.Int(logging.FieldBatch, number))

	if err := o.store.RecordDispatch(ctx, jobID, codes(batch)...); err != nil {
		log.ErrorContext(ctx, "record dispatch", logging.Error(err))
	}
	o.appendLog(ctx, jobID, "INFO",
		fmt.Sprintf("Dispatching %s %d (%d items)", phase, number, len(batch)))

	tracker := progress.NewTracker(len(batch))
	onStdout := func(line string) {
		o.appendLog(ctx, jobID, "INFO", line)
		if delta := tracker.Observe(line); delta > 0 {
			if err := o.store.AppendProgress(ctx, jobID, delta); err != nil {
				log.ErrorContext(ctx, "append progress", logging.Error(err))
			}
		}
	}
	onStderr := func(line string) {
		o.appendLog(ctx, jobID, "ERROR", line)
	}

	started := time.Now()
	result := o.runner.Invoke(ctx, batch, onStdout, onStderr)
	metrics.WorkerInvocations.WithLabelValues(phase, string(result.Outcome)).Inc()
	metrics.InvocationDuration.Observe(time.Since(started).Seconds())

	switch result.Outcome {
	case worker.OutcomeOK:
		if err := o.store.SetItemState(ctx, jobID, jobs.ItemSucceeded, codes(batch)...); err != nil {
			log.ErrorContext(ctx, "mark items succeeded", logging.Error(err))
		}
	case worker.OutcomeFailed:
		log.WarnContext(ctx, "worker invocation failed",
			logging.Int("exit_code", result.ExitCode),
			logging.Int("batch_items", len(batch)))
		o.appendLog(ctx, jobID, "ERROR",
			fmt.Sprintf("Worker exited %d for %s %d", result.ExitCode, phase, number))
	case worker.OutcomeTimeout:
		log.ErrorContext(ctx, "worker invocation timed out",
			logging.Duration("timeout", o.runner.Timeout()),
			logging.Int("batch_items", len(batch)))
		o.appendLog(ctx, jobID, "ERROR",
			fmt.Sprintf("Worker timed out (exit %d) for %s %d", result.ExitCode, phase, number))
	case worker.OutcomeLaunchError:
		log.ErrorContext(ctx, "worker failed to launch", logging.Error(result.Err))
		o.appendLog(ctx, jobID, "ERROR",
			fmt.Sprintf("Worker failed to launch for %s %d: %v", phase, number, result.Err))
	}
	return result
}

func (o *Orchestrator) recordHardFailure(ctx context.Context, jobID string, item jobs.ItemSpec) {
	log := logging.WithContext(ctx, o.logger)
	log.ErrorContext(ctx, "item permanently failed", logging.String(logging.FieldItemCode, item.Code))
	o.appendLog(ctx, jobID, "ERROR", fmt.Sprintf("Item %s permanently failed", item.Code))
	metrics.ItemsHardFailed.Inc()
	if err := o.store.SetItemState(ctx, jobID, jobs.ItemHardFailed, item.Code); err != nil {
		log.ErrorContext(ctx, "mark item hard failed", logging.Error(err))
	}
}

// finish resolves the job's terminal state from its hard failure count.
func (o *Orchestrator) finish(ctx context.Context, jobID string) error {
	log := logging.WithContext(ctx, o.logger)

	failed, err := o.store.ItemsByState(ctx, jobID, jobs.ItemHardFailed)
	if err != nil {
		return fmt.Errorf("load hard failures: %w", err)
	}

	if len(failed) == 0 {
		o.appendLog(ctx, jobID, "INFO", "Job completed")
		if err := o.store.SetState(ctx, jobID, jobs.StateCompleted, ""); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		metrics.JobsFinished.WithLabelValues(string(jobs.StateCompleted)).Inc()
		log.InfoContext(ctx, "job completed")
		return nil
	}

	failedCodes := make([]string, 0, len(failed))
	for _, item := range failed {
		failedCodes = append(failedCodes, item.Code)
	}
	message := fmt.Sprintf("%d items permanently failed", len(failed))
	o.appendLog(ctx, jobID, "ERROR", "Permanently failed codes: "+strings.Join(failedCodes, ", "))
	if err := o.store.SetState(ctx, jobID, jobs.StateFailed, message); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	metrics.JobsFinished.WithLabelValues(string(jobs.StateFailed)).Inc()
	log.ErrorContext(ctx, "job failed",
		logging.Int("hard_failures", len(failed)),
		logging.String("codes", strings.Join(failedCodes, ",")))
	return nil
}

// markCancelled fails a job that was interrupted mid-flight. The retry
// phase is skipped for cancelled jobs.
func (o *Orchestrator) markCancelled(ctx context.Context, jobID string) error {
	// The execution context is spent; store writes use a fresh one.
	storeCtx := context.WithoutCancel(ctx)
	o.appendLog(storeCtx, jobID, "ERROR", cancelledMessage)
	if err := o.store.SetState(storeCtx, jobID, jobs.StateFailed, cancelledMessage); err != nil {
		return fmt.Errorf("mark job cancelled: %w", err)
	}
	metrics.JobsFinished.WithLabelValues(string(jobs.StateFailed)).Inc()
	logging.WithContext(ctx, o.logger).WarnContext(storeCtx, "job cancelled")
	return ctx.Err()
}

func (o *Orchestrator) appendLog(ctx context.Context, jobID, level, message string) {
	if err := o.store.AppendLog(context.WithoutCancel(ctx), jobID, level, message); err != nil {
		logging.WithContext(ctx, o.logger).ErrorContext(ctx, "append job log", logging.Error(err))
	}
}

// pause sleeps for d or until ctx is cancelled.
func (o *Orchestrator) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// partition splits items into batches of at most size elements, preserving
// order.
func partition(items []*jobs.WorkItem, size int) [][]*jobs.WorkItem {
	if size < 1 {
		size = 1
	}
	var batches [][]*jobs.WorkItem
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

func specs(items []*jobs.WorkItem) []jobs.ItemSpec {
	out := make([]jobs.ItemSpec, 0, len(items))
	for _, item := range items {
		out = append(out, jobs.ItemSpec{Platform: item.Platform, Code: item.Code})
	}
	return out
}

func codes(batch []jobs.ItemSpec) []string {
	out := make([]string, 0, len(batch))
	for _, item := range batch {
		out = append(out, item.Code)
	}
	return out
}
