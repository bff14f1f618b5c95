package replicator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

type Source interface {
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
}

type Target interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
}

type ReplicateJob struct {
	Filename string
	Size     int64
	Hash     string
	Retries  int
}

// Replicator copies committed artifacts from local disk to the remote replica
// in the background. Failed copies are requeued up to maxRetries times.
type Replicator struct {
	local  Source
	remote Target

	queue      chan ReplicateJob
	workerNum  int
	maxRetries int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

func NewReplicator(local Source, remote Target, queueSize, workerNum, maxRetries int) *Replicator {
	if queueSize <= 0 {
		queueSize = 100
	}
	if workerNum <= 0 {
		workerNum = 1
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Replicator{
		local:      local,
		remote:     remote,
		queue:      make(chan ReplicateJob, queueSize),
		workerNum:  workerNum,
		maxRetries: maxRetries,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (r *Replicator) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.started {
		return
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(r.workerNum)
	for i := range r.workerNum {
		go r.worker(i)
	}
}

// Stop stops accepting jobs and waits for the workers to drain.
func (r *Replicator) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		r.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	case <-doneCh:
	}

	r.cancel()
	slog.Info("replicator: stopped")
	return nil
}

func (r *Replicator) Enqueue(job ReplicateJob) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return false
	}

	select {
	case r.queue <- job:
		return true
	default:
		return false
	}
}

func (r *Replicator) worker(id int) {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case job, ok := <-r.queue:
			if !ok {
				return
			}
			r.handleJob(r.ctx, id, job)
		}
	}
}

func (r *Replicator) handleJob(ctx context.Context, workerID int, job ReplicateJob) {
	l := slog.With(
		slog.Int("worker", workerID),
		slog.String("filename", job.Filename),
		slog.Int("retries", job.Retries),
	)

	err := r.replicateOnce(ctx, job)
	if err == nil {
		l.Debug("replicator: file replicated", slog.Int64("size", job.Size))
		return
	}

	if job.Retries >= r.maxRetries {
		l.Error("replication failed, max retries exceeded", slog.String("error", err.Error()))
		return
	}

	job.Retries++
	if !r.Enqueue(job) {
		l.Error("replication failed and queue is unavailable, dropping job",
			slog.String("error", err.Error()),
		)
		return
	}
	l.Warn("replication failed, job requeued",
		slog.String("error", err.Error()),
		slog.Int("next_retry", job.Retries),
	)
}

func (r *Replicator) replicateOnce(ctx context.Context, job ReplicateJob) error {
	rc, size, err := r.local.Open(ctx, job.Filename)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer rc.Close()

	if job.Size > 0 {
		size = job.Size
	}

	written, remoteHash, err := r.remote.Save(ctx, rc, job.Filename, size)
	if err != nil {
		return fmt.Errorf("save to remote: %w", err)
	}
	if written != size {
		return fmt.Errorf("remote save wrote %d of %d bytes", written, size)
	}
	if job.Hash != "" && remoteHash != "" && job.Hash != remoteHash {
		return fmt.Errorf("hash mismatch: local=%s remote=%s", job.Hash, remoteHash)
	}

	return nil
}
