package worker

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func NewConnection(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial decryptor %s: %w", addr, err)
	}

	return conn, nil
}

// GRPCInvoker runs the worker on a remote decryptor service. The service
// must see the same upload and output directories as the caller.
type GRPCInvoker struct {
	conn grpc.ClientConnInterface
}

func NewGRPCInvoker(conn grpc.ClientConnInterface) *GRPCInvoker {
	return &GRPCInvoker{conn: conn}
}

func (g *GRPCInvoker) Invoke(ctx context.Context, args []string) (Result, error) {
	req, err := EncodeArgs(args)
	if err != nil {
		return Result{}, fmt.Errorf("encode args: %w", err)
	}

	resp := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, RunFullMethod, req, resp); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("worker process killed: %w", ctxErr)
		}
		if st, ok := status.FromError(err); ok && st.Code() == codes.Unavailable {
			return Result{}, &StartError{Err: fmt.Errorf("%s", st.Message())}
		}
		return Result{}, fmt.Errorf("decryptor rpc: %w", err)
	}

	res := DecodeResult(resp)
	if res.ExitCode != 0 {
		return res, &ExitError{Code: res.ExitCode, Stderr: res.Stderr}
	}

	return res, nil
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
