package decryptor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/you-humble/loggenie/internal/worker"
)

type panicInvoker struct{}

func (panicInvoker) Invoke(context.Context, []string) (worker.Result, error) {
	panic("boom")
}

func startServer(t *testing.T, inv Invoker) *worker.GRPCInvoker {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(logger, NewService(inv, 2))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return worker.NewGRPCInvoker(conn)
}

func TestService_RunsWorkerRemotely(t *testing.T) {
	client := startServer(t, worker.NewExecInvoker("sh", "-c", `printf '%s ' "$@"`, "worker"))

	res, err := client.Invoke(context.Background(), []string{"--field", "message"})
	require.NoError(t, err)
	assert.Equal(t, "--field message ", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
}

func TestService_PropagatesExitCode(t *testing.T) {
	client := startServer(t, worker.NewExecInvoker("sh", "-c", `echo "Decryption failed" >&2; exit 4`, "worker"))

	_, err := client.Invoke(context.Background(), []string{"--file", "x"})

	var exitErr *worker.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 4, exitErr.Code)
	assert.Contains(t, exitErr.Stderr, "Decryption failed")
}

func TestService_StartFailureIsDistinct(t *testing.T) {
	client := startServer(t, worker.NewExecInvoker("/no/such/interpreter"))

	_, err := client.Invoke(context.Background(), []string{"--file", "x"})

	var startErr *worker.StartError
	require.ErrorAs(t, err, &startErr)
	assert.Contains(t, err.Error(), "failed to start worker process")
	assert.Equal(t, 1, strings.Count(err.Error(), "failed to start worker process"), err.Error())
}

func TestService_RecoversFromPanic(t *testing.T) {
	client := startServer(t, panicInvoker{})

	_, err := client.Invoke(context.Background(), []string{"--file", "x"})
	require.Error(t, err)

	assert.Contains(t, err.Error(), "internal server error")

	var startErr *worker.StartError
	assert.False(t, errors.As(err, &startErr))
}

func TestService_RejectsMalformedRequest(t *testing.T) {
	svc := NewService(panicInvoker{}, 1)

	_, err := svc.Run(context.Background(), nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
