package filestore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/you-humble/loggenie/internal/domain"
	"github.com/you-humble/loggenie/internal/infra/store/file/replicator"

	"golang.org/x/sync/errgroup"
)

type remoteStore interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, filename string) error
	CleanupOlderThan(ctx context.Context, maxAge time.Duration, keep func(name string) bool) error
}

// asyncStore serves artifacts from local disk and mirrors them to a remote
// store in the background. Reads fall back to the remote copy when the local
// file is gone.
type asyncStore struct {
	local      *localStore
	remote     remoteStore
	replicator *replicator.Replicator
}

func NewAsyncStore(
	ctx context.Context,
	local *localStore,
	remote remoteStore,
	queueSize,
	workerNum,
	maxRetries int,
) *asyncStore {
	repl := replicator.NewReplicator(local, remote, queueSize, workerNum, maxRetries)
	repl.Start(ctx)

	return &asyncStore{
		local:      local,
		remote:     remote,
		replicator: repl,
	}
}

func (s *asyncStore) Close(ctx context.Context) error {
	return s.replicator.Stop(ctx)
}

func (s *asyncStore) Path(filename string) (string, error) {
	return s.local.Path(filename)
}

func (s *asyncStore) Commit(ctx context.Context, filename string) (int64, string, error) {
	size, hash, err := s.local.Commit(ctx, filename)
	if err != nil {
		return 0, "", err
	}

	ok := s.replicator.Enqueue(replicator.ReplicateJob{
		Filename: filename,
		Size:     size,
		Hash:     hash,
	})
	if !ok {
		slog.Error("asyncStore: replication queue full, file saved only locally",
			slog.String("filename", filename),
			slog.Int64("size", size),
		)
	}

	return size, hash, nil
}

func (s *asyncStore) Open(ctx context.Context, filename string) (io.ReadCloser, int64, error) {
	rc, size, err := s.local.Open(ctx, filename)
	if err == nil {
		return rc, size, nil
	}
	if !errors.Is(err, domain.ErrFileNotFound) {
		return nil, 0, err
	}

	slog.Debug("asyncStore: local copy missing, reading replica", slog.String("filename", filename))
	return s.remote.Open(ctx, filename)
}

// Delete removes both copies. A failure on one side does not stop the other.
func (s *asyncStore) Delete(ctx context.Context, filename string) error {
	var eg errgroup.Group

	eg.Go(func() error {
		if err := s.local.Delete(ctx, filename); err != nil {
			slog.Warn("asyncStore: delete local failed",
				slog.String("filename", filename),
				slog.String("error", err.Error()),
			)
			return err
		}
		return nil
	})
	eg.Go(func() error {
		if err := s.remote.Delete(ctx, filename); err != nil {
			slog.Warn("asyncStore: delete remote failed",
				slog.String("filename", filename),
				slog.String("error", err.Error()),
			)
			return err
		}
		return nil
	})

	return eg.Wait()
}

func (s *asyncStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration, keep func(name string) bool) error {
	eg, eCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return s.local.CleanupOlderThan(eCtx, maxAge, keep)
	})
	eg.Go(func() error {
		return s.remote.CleanupOlderThan(eCtx, maxAge, keep)
	})

	return eg.Wait()
}
