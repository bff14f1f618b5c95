package worker

import (
	"fmt"
	"strings"
)

// StartError means the worker process could not be launched at all.
type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start worker process: %v", e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// ExitError means the worker ran and exited with a non-zero code.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("worker process exited with code %d", e.Code)
	}
	return fmt.Sprintf("worker process exited with code %d: %s", e.Code, msg)
}
