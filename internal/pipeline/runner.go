package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

// Runner invokes one external tool and blocks until it exits. The combined
// stdout/stderr stream is surfaced line by line for observability.
type Runner interface {
	// Run executes name with args in dir. A non-zero exit is returned as
	// an *exec.ExitError-wrapping error; other errors indicate the tool
	// could not be started at all.
	Run(ctx context.Context, name string, args []string, dir string) error
}

// ExecRunner runs tools as real subprocesses.
//
// Tools are assumed to be well-behaved but a hang in one would block the
// pipeline forever, so a bounded wait is applied when Timeout is set.
type ExecRunner struct {
	// Timeout bounds each invocation. Zero means wait indefinitely.
	Timeout time.Duration

	// Logger receives one Info record per output line. Nil uses the
	// default logger.
	Logger *slog.Logger
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, name string, args []string, dir string) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	// Own process group so a cancellation kills the whole tool tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pipe %s output: %w", name, err)
	}
	cmd.Stderr = cmd.Stdout

	logger.Info("invoking tool", "tool", name, "args", args, "dir", dir)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.Info("tool output", "tool", name, "line", scanner.Text())
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return fmt.Errorf("%s interrupted: %w", name, ctx.Err())
	}
	if waitErr != nil {
		return fmt.Errorf("%s: %w", name, waitErr)
	}
	return nil
}
