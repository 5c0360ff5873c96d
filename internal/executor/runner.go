package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/golang/glog"

	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

// Runner starts an external process and waits for it.
type Runner interface {
	Run(ctx context.Context, argv []string, timeout time.Duration) (*Result, error)
}

// ProcessRunner runs commands with os/exec. The child gets its own process
// group so a timeout kills anything it spawned as well.
type ProcessRunner struct {
	maxOutput int
	waitDelay time.Duration
}

func NewProcessRunner(maxOutputBytes int) *ProcessRunner {
	if maxOutputBytes <= 0 {
		maxOutputBytes = DefaultOptions().MaxOutputBytes
	}
	return &ProcessRunner{
		maxOutput: maxOutputBytes,
		waitDelay: 2 * time.Second,
	}
}

func (r *ProcessRunner) Run(ctx context.Context, argv []string, timeout time.Duration) (*Result, error) {
	if len(argv) == 0 {
		return nil, &models.ExecutionError{ExitStatus: -1, Err: errors.New("empty command")}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	setProcessGroup(cmd)
	cmd.WaitDelay = r.waitDelay

	var stdout, stderr bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdout, limit: r.maxOutput}
	stderrLimited := &limitedWriter{w: &stderr, limit: r.maxOutput}
	cmd.Stdout = stdoutLimited
	cmd.Stderr = stderrLimited

	glog.V(1).Infof("Running %q (timeout %s)", argv, timeout)

	start := time.Now()
	err := cmd.Run()

	result := &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(start),
		Truncated: stdoutLimited.truncated || stderrLimited.truncated,
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitStatus = -1
		glog.Warningf("Command %s timed out after %s", argv[0], timeout)
		return result, &models.TimeoutError{Timeout: timeout}
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitStatus = exitErr.ExitCode()
			return result, nil
		}
		result.ExitStatus = -1
		return result, &models.ExecutionError{
			ExitStatus: -1,
			Stderr:     result.Stderr,
			Err:        fmt.Errorf("failed to run %s: %w", argv[0], err),
		}
	}

	return result, nil
}

// limitedWriter keeps the first limit bytes and discards the rest.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.written >= lw.limit {
		lw.truncated = true
		return len(p), nil
	}

	n := len(p)
	remaining := lw.limit - lw.written
	if len(p) > remaining {
		p = p[:remaining]
		lw.truncated = true
	}

	written, err := lw.w.Write(p)
	lw.written += written
	return n, err
}
