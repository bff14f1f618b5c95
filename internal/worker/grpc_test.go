package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeConn struct {
	gotMethod string
	gotArgs   []string
	reply     Result
	err       error
}

func (f *fakeConn) Invoke(_ context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	f.gotMethod = method
	decoded, err := DecodeArgs(args.(*structpb.Struct))
	if err != nil {
		return err
	}
	f.gotArgs = decoded
	if f.err != nil {
		return f.err
	}

	out, err := EncodeResult(f.reply)
	if err != nil {
		return err
	}
	proto.Merge(reply.(*structpb.Struct), out)
	return nil
}

func (f *fakeConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("not supported")
}

func TestGRPCInvoker_Success(t *testing.T) {
	conn := &fakeConn{reply: Result{Stdout: "done"}}

	res, err := NewGRPCInvoker(conn).Invoke(context.Background(), []string{"--file", "x"})
	require.NoError(t, err)

	assert.Equal(t, RunFullMethod, conn.gotMethod)
	assert.Equal(t, []string{"--file", "x"}, conn.gotArgs)
	assert.Equal(t, "done", res.Stdout)
}

func TestGRPCInvoker_ExitCodeBecomesExitError(t *testing.T) {
	conn := &fakeConn{reply: Result{ExitCode: 2, Stderr: "Invalid key"}}

	_, err := NewGRPCInvoker(conn).Invoke(context.Background(), nil)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
	assert.Contains(t, err.Error(), "Invalid key")
}

func TestGRPCInvoker_UnavailableBecomesStartError(t *testing.T) {
	conn := &fakeConn{err: status.Error(codes.Unavailable, "python3: not found")}

	_, err := NewGRPCInvoker(conn).Invoke(context.Background(), nil)

	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	assert.Contains(t, err.Error(), "python3: not found")
}

func TestDecodeArgs_RejectsNonStrings(t *testing.T) {
	req, err := structpb.NewStruct(map[string]any{"args": []any{"ok", 1.0}})
	require.NoError(t, err)

	_, err = DecodeArgs(req)
	assert.EqualError(t, err, "args[1] is not a string")

	_, err = DecodeArgs(&structpb.Struct{})
	assert.EqualError(t, err, "missing args")
}
