package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// CommandSpec describes one worker process launch.
type CommandSpec struct {
	Binary string
	Args   []string
	// Env entries are appended to the parent environment.
	Env []string
	// GracePeriod is how long the process group gets between SIGTERM and
	// SIGKILL when the context is cancelled.
	GracePeriod time.Duration
}

// Executor abstracts command execution for testability.
type Executor interface {
	// Run launches the command and streams its output line by line. It
	// returns the process exit code once the process has exited and both
	// output streams are fully drained. A non-nil error means the process
	// could not be started or its output could not be read; exit codes are
	// not errors.
	Run(ctx context.Context, spec CommandSpec, onStdout, onStderr func(string)) (int, error)
}

// ErrLaunch wraps failures to start the worker process.
var ErrLaunch = errors.New("launch worker")

type processExecutor struct{}

// NewExecutor returns the production process executor.
func NewExecutor() Executor {
	return processExecutor{}
}

func (processExecutor) Run(ctx context.Context, spec CommandSpec, onStdout, onStderr func(string)) (int, error) {
	cmd := exec.Command(spec.Binary, spec.Args...) //nolint:gosec
	cmd.Env = append(os.Environ(), spec.Env...)
	// Own process group so cancellation reaches worker children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrLaunch, spec.Binary, err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			terminateGroup(cmd.Process.Pid, spec.GracePeriod, done)
		case <-done:
		}
	}()

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once

	scan := func(r io.Reader, forward func(string)) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if forward != nil {
				forward(scanner.Text())
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() { scanErr = err })
		}
	}

	wg.Add(2)
	go scan(stdout, onStdout)
	go scan(stderr, onStderr)

	// Drain both streams before collecting the exit code so no trailing
	// progress evidence is lost.
	wg.Wait()
	waitErr := cmd.Wait()
	close(done)

	if scanErr != nil {
		return 0, fmt.Errorf("scan worker output: %w", scanErr)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 0, fmt.Errorf("wait worker: %w", waitErr)
	}
	return 0, nil
}

// terminateGroup escalates from SIGTERM to SIGKILL on the whole process
// group. done fires once the process has exited, aborting the escalation.
func terminateGroup(pid int, grace time.Duration, done <-chan struct{}) {
	_ = unix.Kill(-pid, unix.SIGTERM)
	if grace <= 0 {
		grace = time.Second
	}
	select {
	case <-time.After(grace):
		_ = unix.Kill(-pid, unix.SIGKILL)
	case <-done:
	}
}
