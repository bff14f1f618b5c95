package decryptor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/you-humble/loggenie/internal/worker"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type Invoker interface {
	Invoke(ctx context.Context, args []string) (worker.Result, error)
}

// Service exposes a local worker process over gRPC. At most maxParallel
// processes run at once; further calls wait for a slot or their deadline.
type Service struct {
	invoker Invoker
	sem     chan struct{}
}

func NewService(invoker Invoker, maxParallel int) *Service {
	if maxParallel <= 0 {
		maxParallel = 1
	}

	return &Service{invoker: invoker, sem: make(chan struct{}, maxParallel)}
}

func (s *Service) Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	args, err := worker.DecodeArgs(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}

	res, err := s.invoker.Invoke(ctx, args)
	if err != nil {
		var startErr *worker.StartError
		var exitErr *worker.ExitError
		switch {
		case errors.As(err, &startErr):
			slog.Error("worker start failed", slog.String("error", err.Error()))
			return nil, status.Error(codes.Unavailable, startErr.Err.Error())
		case errors.As(err, &exitErr):
			slog.Warn("worker exited with error", slog.Int("exit_code", exitErr.Code))
			res.ExitCode = exitErr.Code
			res.Stderr = exitErr.Stderr
		case ctx.Err() != nil:
			return nil, status.FromContextError(ctx.Err()).Err()
		default:
			return nil, status.Error(codes.Internal, err.Error())
		}
	} else {
		slog.Info("worker finished", slog.Duration("duration", res.Duration))
	}

	resp, err := worker.EncodeResult(res)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode result: %v", err))
	}

	return resp, nil
}
