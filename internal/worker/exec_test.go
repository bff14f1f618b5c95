package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shell(script string) *ExecInvoker {
	return NewExecInvoker("sh", "-c", script, "worker")
}

func TestExecInvoker_CapturesStreams(t *testing.T) {
	res, err := shell(`echo out; echo err >&2; printf '%s|' "$@"`).Invoke(context.Background(), []string{"--file", "a b"})
	require.NoError(t, err)

	assert.Equal(t, "out\n--file|a b|", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
}

func TestExecInvoker_NonZeroExit(t *testing.T) {
	_, err := shell(`echo "bad key" >&2; exit 3`).Invoke(context.Background(), nil)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, "bad key\n", exitErr.Stderr)
	assert.Equal(t, "worker process exited with code 3: bad key", err.Error())

	var startErr *StartError
	assert.False(t, errors.As(err, &startErr))
}

func TestExecInvoker_StartFailure(t *testing.T) {
	_, err := NewExecInvoker("/definitely/not/here/python3").Invoke(context.Background(), []string{"--file", "x"})

	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	assert.Contains(t, err.Error(), "failed to start worker process")

	var exitErr *ExitError
	assert.False(t, errors.As(err, &exitErr))
}

func TestExecInvoker_DeadlineKillsProcess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := shell(`exec sleep 10`).Invoke(ctx, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecInvoker_AlreadyCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := shell(`echo never`).Invoke(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
