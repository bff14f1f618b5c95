package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"time"
)

type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// ExecInvoker runs the worker as a local child process. Output streams are
// buffered in full.
type ExecInvoker struct {
	command   string
	baseArgs  []string
	waitDelay time.Duration
}

// NewExecInvoker runs command with baseArgs placed before the request flags,
// e.g. NewExecInvoker("python3", "/app/loggin_genie.py").
func NewExecInvoker(command string, baseArgs ...string) *ExecInvoker {
	return &ExecInvoker{
		command:   command,
		baseArgs:  baseArgs,
		waitDelay: 5 * time.Second,
	}
}

// Invoke blocks until the process exits. When ctx ends first the process is
// killed and the returned error wraps the context error.
func (e *ExecInvoker) Invoke(ctx context.Context, args []string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	cmd := exec.CommandContext(ctx, e.command, slices.Concat(e.baseArgs, args)...)
	cmd.WaitDelay = e.waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, &StartError{Err: err}
	}

	err := cmd.Wait()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}
	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("worker process killed: %w", ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, &ExitError{Code: exitErr.ExitCode(), Stderr: res.Stderr}
	}

	return res, fmt.Errorf("wait worker process: %w", err)
}
