package scanner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes scanner binaries with a per-scan timeout and optional
// line streaming. Adapters that shell out share it so timeout and output
// handling stay uniform.
type Runner struct {
	// DefaultTimeout applies when an adapter passes 0.
	DefaultTimeout time.Duration
}

// ExecResult is the raw outcome of one subprocess execution.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Exec runs the command, streaming stdout lines to stream when non-nil.
// A timeout kills the process and returns an error; a non-zero exit is
// reported in ExitCode, not as an error.
func (r *Runner) Exec(ctx context.Context, stream StreamFunc, timeout time.Duration, name string, args ...string) (*ExecResult, error) {
	if timeout <= 0 {
		timeout = r.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	var lines []string
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if stream != nil {
			stream(line)
		}
	}

	waitErr := cmd.Wait()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%s timed out after %s", name, timeout)
	}

	res := &ExecResult{
		Stdout: strings.Join(lines, "\n"),
		Stderr: stderr.String(),
	}
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("%s failed: %w", name, waitErr)
		}
	}
	return res, nil
}
