package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"conveyor/internal/jobs"
	"conveyor/internal/logging"
	"conveyor/internal/testsupport"
)

type fakeExecutor struct {
	spec     CommandSpec
	exitCode int
	err      error
	stdout   []string
	stderr   []string
	block    time.Duration
}

func (f *fakeExecutor) Run(ctx context.Context, spec CommandSpec, onStdout, onStderr func(string)) (int, error) {
	f.spec = spec
	for _, line := range f.stdout {
		onStdout(line)
	}
	for _, line := range f.stderr {
		onStderr(line)
	}
	if f.block > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(f.block):
		}
	}
	return f.exitCode, f.err
}

func newTestRunner(t *testing.T, exec Executor) *Runner {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Worker.Binary = "/usr/bin/extract-worker"
	cfg.Worker.Args = []string{"--batch"}
	runner, err := NewRunner(cfg, logging.NewNop(), WithExecutor(exec))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return runner
}

func TestInvokePassesBatchAsJobInput(t *testing.T) {
	fake := &fakeExecutor{}
	runner := newTestRunner(t, fake)

	batch := []jobs.ItemSpec{
		{Platform: "steam", Code: "alpha"},
		{Platform: "gog", Code: "beta"},
	}
	result := runner.Invoke(context.Background(), batch, func(string) {}, func(string) {})
	if !result.Success() {
		t.Fatalf("result = %+v, want success", result)
	}

	if fake.spec.Binary != "/usr/bin/extract-worker" {
		t.Errorf("binary = %q", fake.spec.Binary)
	}
	if len(fake.spec.Args) != 1 || fake.spec.Args[0] != "--batch" {
		t.Errorf("args = %v", fake.spec.Args)
	}

	var payload string
	for _, entry := range fake.spec.Env {
		if value, ok := strings.CutPrefix(entry, "JOB_INPUT="); ok {
			payload = value
		}
	}
	if payload == "" {
		t.Fatalf("JOB_INPUT missing from env %v", fake.spec.Env)
	}
	var decoded []jobs.ItemSpec
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		t.Fatalf("decode JOB_INPUT: %v", err)
	}
	if len(decoded) != 2 || decoded[0].Code != "alpha" || decoded[1].Platform != "gog" {
		t.Errorf("decoded batch = %v", decoded)
	}
}

func TestInvokeClassifiesNonZeroExit(t *testing.T) {
	runner := newTestRunner(t, &fakeExecutor{exitCode: 3})

	result := runner.Invoke(context.Background(), []jobs.ItemSpec{{Code: "alpha"}}, nil, nil)
	if result.Outcome != OutcomeFailed || result.ExitCode != 3 {
		t.Errorf("result = %+v, want failed exit 3", result)
	}
}

func TestInvokeClassifiesLaunchError(t *testing.T) {
	runner := newTestRunner(t, &fakeExecutor{err: ErrLaunch})

	result := runner.Invoke(context.Background(), []jobs.ItemSpec{{Code: "alpha"}}, nil, nil)
	if result.Outcome != OutcomeLaunchError {
		t.Errorf("outcome = %s, want launch_error", result.Outcome)
	}
	if !errors.Is(result.Err, ErrLaunch) {
		t.Errorf("err = %v, want ErrLaunch", result.Err)
	}
}

func TestInvokeClassifiesTimeout(t *testing.T) {
	fake := &fakeExecutor{block: 5 * time.Second, exitCode: -1}
	cfg := testsupport.NewConfig(t)
	cfg.Worker.Binary = "/usr/bin/extract-worker"
	cfg.Worker.InvocationTimeout = 1
	runner, err := NewRunner(cfg, logging.NewNop(), WithExecutor(fake))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	runner.timeout = 50 * time.Millisecond

	result := runner.Invoke(context.Background(), []jobs.ItemSpec{{Code: "alpha"}}, nil, nil)
	if result.Outcome != OutcomeTimeout {
		t.Fatalf("outcome = %s, want timeout", result.Outcome)
	}
	if result.ExitCode != 124 {
		t.Errorf("exit code = %d, want 124", result.ExitCode)
	}
}

func TestInvokeCancelledParentIsNotTimeout(t *testing.T) {
	fake := &fakeExecutor{block: 5 * time.Second, exitCode: -1}
	runner := newTestRunner(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	result := runner.Invoke(ctx, []jobs.ItemSpec{{Code: "alpha"}}, nil, nil)
	if result.Outcome == OutcomeTimeout {
		t.Errorf("parent cancellation misclassified as timeout: %+v", result)
	}
}

func TestInvokeEmptyBatchIsNoop(t *testing.T) {
	fake := &fakeExecutor{exitCode: 1}
	runner := newTestRunner(t, fake)

	result := runner.Invoke(context.Background(), nil, nil, nil)
	if !result.Success() {
		t.Errorf("empty batch result = %+v, want success", result)
	}
	if fake.spec.Binary != "" {
		t.Error("executor ran for empty batch")
	}
}
