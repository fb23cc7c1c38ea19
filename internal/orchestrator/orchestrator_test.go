package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/jobs"
	"conveyor/internal/logging"
	"conveyor/internal/testsupport"
	"conveyor/internal/worker"
)

// scriptedExecutor plays the worker: it decodes JOB_INPUT, emits progress
// beacons for items that succeed, and exits non-zero when any item in the
// invocation is scripted to fail.
type scriptedExecutor struct {
	mu sync.Mutex
	// failures maps item code to the number of times it should still fail.
	failures map[string]int
	// glyphs switches output from beacons to checkmark lines.
	glyphs bool
	// launchErr fails the invocation before the process would start.
	launchErr error
	// blockOnCode blocks until ctx cancellation when this code is present.
	blockOnCode string
	calls       [][]string
}

func (s *scriptedExecutor) Run(ctx context.Context, spec worker.CommandSpec, onStdout, onStderr func(string)) (int, error) {
	batch := decodeBatch(spec.Env)

	s.mu.Lock()
	s.calls = append(s.calls, batchCodes(batch))
	if s.launchErr != nil {
		err := s.launchErr
		s.mu.Unlock()
		return 0, err
	}

	failed := false
	done := 0
	for _, item := range batch {
		if s.blockOnCode != "" && item.Code == s.blockOnCode {
			s.mu.Unlock()
			<-ctx.Done()
			return -1, nil
		}
		if remaining, ok := s.failures[item.Code]; ok && remaining > 0 {
			s.failures[item.Code] = remaining - 1
			failed = true
			continue
		}
		done++
		if onStdout != nil {
			if s.glyphs {
				onStdout(fmt.Sprintf("✔ %s", item.Code))
			} else {
				onStdout(fmt.Sprintf(`{"item_done": %d}`, done))
			}
		}
	}
	s.mu.Unlock()

	if failed {
		if onStderr != nil {
			onStderr("extraction error")
		}
		return 1, nil
	}
	return 0, nil
}

func (s *scriptedExecutor) callCodes() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([][]string, len(s.calls))
	copy(cp, s.calls)
	return cp
}

func decodeBatch(env []string) []jobs.ItemSpec {
	for _, entry := range env {
		if payload, ok := strings.CutPrefix(entry, "JOB_INPUT="); ok {
			var batch []jobs.ItemSpec
			_ = json.Unmarshal([]byte(payload), &batch)
			return batch
		}
	}
	return nil
}

func batchCodes(batch []jobs.ItemSpec) []string {
	out := make([]string, 0, len(batch))
	for _, item := range batch {
		out = append(out, item.Code)
	}
	return out
}

type fixture struct {
	cfg   *config.Config
	store *jobs.Store
	orch  *Orchestrator
	exec  *scriptedExecutor
}

func newFixture(t *testing.T, exec *scriptedExecutor, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Orchestrator.BatchPause = 0
	cfg.Orchestrator.RetryPause = 0
	cfg.Orchestrator.BatchSize = 2
	if mutate != nil {
		mutate(cfg)
	}

	store, err := jobs.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	runner, err := worker.NewRunner(cfg, logging.NewNop(), worker.WithExecutor(exec))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return &fixture{
		cfg:   cfg,
		store: store,
		orch:  New(cfg, store, runner, logging.NewNop()),
		exec:  exec,
	}
}

func (f *fixture) createJob(t *testing.T, codes ...string) *jobs.Job {
	t.Helper()
	items := make([]jobs.ItemSpec, 0, len(codes))
	for _, code := range codes {
		items = append(items, jobs.ItemSpec{Platform: "steam", Code: code})
	}
	job, err := f.store.CreateJob(context.Background(), items)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func TestExecuteHappyPath(t *testing.T) {
	f := newFixture(t, &scriptedExecutor{}, nil)
	job := f.createJob(t, "alpha", "beta", "gamma", "delta")

	if err := f.orch.Execute(context.Background(), job.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := f.store.GetByID(context.Background(), job.ID)
	if got.State != jobs.StateCompleted {
		t.Errorf("state = %s, want completed", got.State)
	}
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}

	items, _ := f.store.Items(context.Background(), job.ID)
	for _, item := range items {
		if item.State != jobs.ItemSucceeded {
			t.Errorf("item %s state = %s, want succeeded", item.Code, item.State)
		}
		if item.Attempts != 1 {
			t.Errorf("item %s attempts = %d, want 1", item.Code, item.Attempts)
		}
	}

	// Two batches of two for four items at batch size 2.
	calls := f.exec.callCodes()
	if len(calls) != 2 {
		t.Errorf("invocations = %d, want 2", len(calls))
	}
}

func TestExecuteRetriesFailedBatchIndividually(t *testing.T) {
	// beta fails once: its whole batch is requeued, then each item retried
	// alone and everything recovers.
	exec := &scriptedExecutor{failures: map[string]int{"beta": 1}}
	f := newFixture(t, exec, nil)
	job := f.createJob(t, "alpha", "beta", "gamma")

	if err := f.orch.Execute(context.Background(), job.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := f.store.GetByID(context.Background(), job.ID)
	if got.State != jobs.StateCompleted {
		t.Fatalf("state = %s, want completed", got.State)
	}

	calls := f.exec.callCodes()
	// Batch [alpha beta] fails, batch [gamma] succeeds, then alpha and beta
	// retried one at a time.
	var retrySizes []int
	for _, call := range calls[2:] {
		retrySizes = append(retrySizes, len(call))
	}
	for _, size := range retrySizes {
		if size != 1 {
			t.Errorf("retry invocation size = %d, want 1", size)
		}
	}

	items, _ := f.store.Items(context.Background(), job.ID)
	byCode := map[string]*jobs.WorkItem{}
	for _, item := range items {
		byCode[item.Code] = item
	}
	// Conservative whole-batch requeue: alpha was dispatched twice even
	// though only beta failed.
	if byCode["alpha"].Attempts != 2 {
		t.Errorf("alpha attempts = %d, want 2", byCode["alpha"].Attempts)
	}
	if byCode["beta"].Attempts != 2 {
		t.Errorf("beta attempts = %d, want 2", byCode["beta"].Attempts)
	}
	if byCode["gamma"].Attempts != 1 {
		t.Errorf("gamma attempts = %d, want 1", byCode["gamma"].Attempts)
	}
}

func TestExecuteHardFailsAfterRetryBudget(t *testing.T) {
	// beta never succeeds: one bulk attempt plus max_retries individual
	// retries, then a permanent failure.
	exec := &scriptedExecutor{failures: map[string]int{"beta": 100}}
	f := newFixture(t, exec, func(cfg *config.Config) {
		cfg.Orchestrator.MaxRetries = 3
	})
	job := f.createJob(t, "alpha", "beta")

	if err := f.orch.Execute(context.Background(), job.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := f.store.GetByID(context.Background(), job.ID)
	if got.State != jobs.StateFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	if got.ErrorMessage == "" {
		t.Error("failed job has no error message")
	}

	items, _ := f.store.Items(context.Background(), job.ID)
	byCode := map[string]*jobs.WorkItem{}
	for _, item := range items {
		byCode[item.Code] = item
	}
	if byCode["beta"].State != jobs.ItemHardFailed {
		t.Errorf("beta state = %s, want hard_failed", byCode["beta"].State)
	}
	if byCode["beta"].Attempts != 4 {
		t.Errorf("beta attempts = %d, want 4 (1 bulk + 3 retries)", byCode["beta"].Attempts)
	}
	if byCode["alpha"].State != jobs.ItemSucceeded {
		t.Errorf("alpha state = %s, want succeeded", byCode["alpha"].State)
	}

	status, _ := f.store.GetStatus(context.Background(), job.ID)
	if len(status.HardFailures) != 1 || status.HardFailures[0] != "beta" {
		t.Errorf("hard failures = %v", status.HardFailures)
	}
	var sawPermanent bool
	for _, entry := range status.Log {
		if strings.Contains(entry.Message, "Permanently failed codes: beta") {
			sawPermanent = true
		}
	}
	if !sawPermanent {
		t.Error("job log missing permanently-failed summary")
	}
}

func TestExecuteZeroRetriesFailsImmediately(t *testing.T) {
	exec := &scriptedExecutor{failures: map[string]int{"alpha": 100}}
	f := newFixture(t, exec, func(cfg *config.Config) {
		cfg.Orchestrator.MaxRetries = 0
	})
	job := f.createJob(t, "alpha")

	if err := f.orch.Execute(context.Background(), job.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := f.store.GetByID(context.Background(), job.ID)
	if got.State != jobs.StateFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	items, _ := f.store.Items(context.Background(), job.ID)
	if items[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1 with no retry budget", items[0].Attempts)
	}
	if items[0].State != jobs.ItemHardFailed {
		t.Errorf("state = %s, want hard_failed", items[0].State)
	}
}

func TestExecuteGlyphProgress(t *testing.T) {
	f := newFixture(t, &scriptedExecutor{glyphs: true}, func(cfg *config.Config) {
		cfg.Orchestrator.BatchSize = 4
	})
	job := f.createJob(t, "alpha", "beta", "gamma", "delta")

	if err := f.orch.Execute(context.Background(), job.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := f.store.GetByID(context.Background(), job.ID)
	if got.State != jobs.StateCompleted || got.Progress != 100 {
		t.Errorf("state = %s progress = %d, want completed/100", got.State, got.Progress)
	}
}

func TestExecuteCancellationSkipsRetryPhase(t *testing.T) {
	// beta blocks until cancellation; the job must fail without a single
	// retry invocation.
	exec := &scriptedExecutor{blockOnCode: "beta"}
	f := newFixture(t, exec, func(cfg *config.Config) {
		cfg.Orchestrator.BatchSize = 1
	})
	job := f.createJob(t, "alpha", "beta")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err := f.orch.Execute(ctx, job.ID)
	if err == nil {
		t.Fatal("Execute returned nil for cancelled job")
	}

	got, getErr := f.store.GetByID(context.Background(), job.ID)
	if getErr != nil {
		t.Fatalf("GetByID: %v", getErr)
	}
	if got.State != jobs.StateFailed {
		t.Errorf("state = %s, want failed", got.State)
	}
	if !strings.Contains(got.ErrorMessage, "cancelled") {
		t.Errorf("error message = %q, want cancellation notice", got.ErrorMessage)
	}

	// No invocation after cancellation may be a retry: every call is a
	// phase-one batch (size 1 here, but each distinct code at most once).
	seen := map[string]int{}
	for _, call := range f.exec.callCodes() {
		for _, code := range call {
			seen[code]++
		}
	}
	for code, count := range seen {
		if count > 1 {
			t.Errorf("code %s dispatched %d times after cancellation", code, count)
		}
	}
}

func TestExecuteLaunchErrorIsRetriedThenHardFails(t *testing.T) {
	exec := &scriptedExecutor{launchErr: worker.ErrLaunch}
	f := newFixture(t, exec, func(cfg *config.Config) {
		cfg.Orchestrator.MaxRetries = 1
	})
	job := f.createJob(t, "alpha")

	if err := f.orch.Execute(context.Background(), job.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := f.store.GetByID(context.Background(), job.ID)
	if got.State != jobs.StateFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	// One bulk launch attempt plus one retry.
	if calls := f.exec.callCodes(); len(calls) != 2 {
		t.Errorf("invocations = %d, want 2", len(calls))
	}
}

func TestExecuteParallelBatches(t *testing.T) {
	f := newFixture(t, &scriptedExecutor{}, func(cfg *config.Config) {
		cfg.Orchestrator.BatchSize = 1
		cfg.Worker.PoolSize = 4
	})
	job := f.createJob(t, "a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8")

	if err := f.orch.Execute(context.Background(), job.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got, _ := f.store.GetByID(context.Background(), job.ID)
	if got.State != jobs.StateCompleted || got.Progress != 100 {
		t.Errorf("state = %s progress = %d, want completed/100", got.State, got.Progress)
	}
	if calls := f.exec.callCodes(); len(calls) != 8 {
		t.Errorf("invocations = %d, want 8", len(calls))
	}
}

func TestExecuteRejectsNonPendingJob(t *testing.T) {
	f := newFixture(t, &scriptedExecutor{}, nil)
	job := f.createJob(t, "alpha")
	if err := f.orch.Execute(context.Background(), job.ID); err != nil {
		t.Fatalf("first Execute: %v", err)
	}

	err := f.orch.Execute(context.Background(), job.ID)
	if !jobs.IsTransitionError(err) {
		t.Fatalf("second Execute = %v, want transition error", err)
	}
}

func TestExecuteStreamsWorkerOutputIntoJobLog(t *testing.T) {
	exec := &scriptedExecutor{failures: map[string]int{"beta": 1}}
	f := newFixture(t, exec, nil)
	job := f.createJob(t, "alpha", "beta")

	if err := f.orch.Execute(context.Background(), job.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	entries, _ := f.store.Logs(context.Background(), job.ID)
	var sawStdout, sawStderr bool
	for _, entry := range entries {
		if strings.Contains(entry.Message, `"item_done"`) && entry.Level == "INFO" {
			sawStdout = true
		}
		if entry.Message == "extraction error" && entry.Level == "ERROR" {
			sawStderr = true
		}
	}
	if !sawStdout {
		t.Error("job log missing worker stdout lines")
	}
	if !sawStderr {
		t.Error("job log missing worker stderr lines")
	}
}
