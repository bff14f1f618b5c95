package usecase

import (
	"context"
	"io"
	"time"

	"github.com/you-humble/loggenie/internal/domain"
	"github.com/you-humble/loggenie/internal/worker"
)

type JobStore interface {
	Put(job domain.Job) error
	Get(id string) (domain.Job, bool)
	List() []domain.Job
	Delete(id string) (domain.Job, bool)
	Finish(id string, fn func(*domain.Job)) (domain.Job, bool)
	Expired(now time.Time, ttl time.Duration) []domain.Job
}

// ArtifactStore holds worker output. The worker writes to Path directly and
// Commit confirms the file before the job completes.
type ArtifactStore interface {
	Path(filename string) (string, error)
	Commit(ctx context.Context, filename string) (int64, string, error)
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, filename string) error
	CleanupOlderThan(ctx context.Context, maxAge time.Duration, keep func(name string) bool) error
}

type UploadStore interface {
	Path(filename string) (string, error)
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
	Delete(ctx context.Context, filename string) error
	CleanupOlderThan(ctx context.Context, maxAge time.Duration, keep func(name string) bool) error
}

type Invoker interface {
	Invoke(ctx context.Context, args []string) (worker.Result, error)
}

// KeyResolver returns the key stored for username, or "" when none is saved.
type KeyResolver interface {
	StoredKey(ctx context.Context, username string) (string, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev domain.JobEvent) error
}

type Recorder interface {
	JobCreated(source string)
	JobFinished(status string)
	JobRejected()
	WorkerStarted()
	WorkerDone(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) JobCreated(string) {}
func (nopRecorder) JobFinished(string) {}
func (nopRecorder) JobRejected() {}
func (nopRecorder) WorkerStarted() {}
func (nopRecorder) WorkerDone(time.Duration) {}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.JobEvent) error { return nil }
