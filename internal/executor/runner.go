package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// RunSpec describes one command invocation.
type RunSpec struct {
	// Command is a shell command line, run via "sh -c".
	Command string
	Dir     string
	// Env is the complete child environment.
	Env []string
	// Timeout bounds wall-clock time; zero means unbounded.
	Timeout time.Duration
	// OnOutput receives captured chunks as they arrive. May be called from
	// concurrent goroutines; may be nil.
	OnOutput func(stream, chunk string)
	// Cancel, when closed, requests graceful termination.
	Cancel <-chan struct{}
}

// RunResult is the classified outcome of a finished run.
type RunResult struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	Cancelled bool
	TimedOut  bool
}

// Runner executes one command to completion. Implementations must terminate
// the whole subprocess tree on cancellation or timeout, escalating from a
// graceful signal to a forced kill.
type Runner interface {
	Run(ctx context.Context, spec RunSpec) (*RunResult, error)
}

// LocalRunner runs commands as local subprocesses in their own process
// group, so termination reaches every child the command spawned.
type LocalRunner struct {
	// GracePeriod is how long after SIGTERM to wait before SIGKILL.
	GracePeriod time.Duration
}

func (r *LocalRunner) Run(ctx context.Context, spec RunSpec) (*RunResult, error) {
	grace := r.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.Command("sh", "-c", spec.Command)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	var outBuf, errBuf captureBuffer
	var wg sync.WaitGroup
	wg.Add(2)
	go capture(stdout, "stdout", &outBuf, spec.OnOutput, &wg)
	go capture(stderr, "stderr", &errBuf, spec.OnOutput, &wg)

	// Pipes must be drained before Wait closes them.
	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- cmd.Wait()
	}()

	cancelCh := spec.Cancel
	if cancelCh == nil {
		cancelCh = make(chan struct{})
	}

	var waitErr error
	var cancelled, timedOut bool
	select {
	case waitErr = <-done:
	case <-cancelCh:
		cancelled = true
		waitErr = r.terminate(cmd, grace, done)
	case <-runCtx.Done():
		if spec.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			timedOut = true
		} else {
			cancelled = true
		}
		waitErr = r.terminate(cmd, grace, done)
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	return &RunResult{
		ExitCode:  exitCode,
		Stdout:    outBuf.String(),
		Stderr:    errBuf.String(),
		Duration:  time.Since(start),
		Cancelled: cancelled,
		TimedOut:  timedOut,
	}, nil
}

// terminate signals the whole process group with SIGTERM and escalates to
// SIGKILL after the grace period. Returns the final Wait error.
func (r *LocalRunner) terminate(cmd *exec.Cmd, grace time.Duration, done <-chan error) error {
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		return <-done
	}
}

func capture(src io.Reader, stream string, buf *captureBuffer, onOutput func(string, string), wg *sync.WaitGroup) {
	defer wg.Done()

	chunk := make([]byte, 4096)
	for {
		n, err := src.Read(chunk)
		if n > 0 {
			text := string(chunk[:n])
			buf.WriteString(text)
			if onOutput != nil {
				onOutput(stream, text)
			}
		}
		if err != nil {
			return
		}
	}
}

// captureBuffer is a mutex-guarded string builder; the capture goroutine
// writes while the caller may read after completion.
type captureBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *captureBuffer) WriteString(s string) {
	b.mu.Lock()
	b.buf = append(b.buf, s...)
	b.mu.Unlock()
}

func (b *captureBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
