package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/you-humble/loggenie/internal/domain"
	"github.com/you-humble/loggenie/internal/worker"

	"github.com/google/uuid"
)

var errJobDeleted = errors.New("job deleted")

const (
	cleanupTimeout = 30 * time.Second
	publishTimeout = 5 * time.Second
	outboxSize     = 256
)

type Limits struct {
	Timeout       time.Duration
	MaxParallel   int
	QueueCapacity int
}

type Deps struct {
	Jobs      JobStore
	Artifacts ArtifactStore
	Uploads   UploadStore
	Invoker   Invoker
	Keys      KeyResolver
	Events    Publisher
	Metrics   Recorder
}

// jobs runs decryption jobs in the background. At most MaxParallel workers
// run at once and at most MaxParallel+QueueCapacity jobs are admitted.
type jobs struct {
	store     JobStore
	artifacts ArtifactStore
	uploads   UploadStore
	invoker   Invoker
	keys      KeyResolver
	events    Publisher
	metrics   Recorder

	timeout time.Duration
	admit   chan struct{}
	slots   chan struct{}

	base context.Context
	stop context.CancelCauseFunc

	mu      sync.Mutex
	closed  bool
	running map[string]*liveJob
	wg      sync.WaitGroup

	// outbox hands events to deliver so callers never wait on a publisher.
	outbox       chan domain.JobEvent
	outboxClosed bool
	outboxDone   chan struct{}

	now func() time.Time
}

// liveJob is a job that has been admitted and not yet released. Its files
// are kept out of the retention sweep.
type liveJob struct {
	cancel context.CancelCauseFunc
	files  []string
}

func NewJobs(limits Limits, deps Deps) *jobs {
	if limits.MaxParallel <= 0 {
		limits.MaxParallel = 1
	}
	if limits.QueueCapacity < 0 {
		limits.QueueCapacity = 0
	}
	if deps.Events == nil {
		deps.Events = nopPublisher{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}

	base, stop := context.WithCancelCause(context.Background())

	uc := &jobs{
		store:      deps.Jobs,
		artifacts:  deps.Artifacts,
		uploads:    deps.Uploads,
		invoker:    deps.Invoker,
		keys:       deps.Keys,
		events:     deps.Events,
		metrics:    deps.Metrics,
		timeout:    limits.Timeout,
		admit:      make(chan struct{}, limits.MaxParallel+limits.QueueCapacity),
		slots:      make(chan struct{}, limits.MaxParallel),
		base:       base,
		stop:       stop,
		running:    make(map[string]*liveJob),
		outbox:     make(chan domain.JobEvent, outboxSize),
		outboxDone: make(chan struct{}),
		now:        time.Now,
	}
	go uc.deliver()

	return uc
}

// DecryptFile starts a job for an upload saved with SaveUpload. The upload
// is removed once the job ends, or right away when the request is rejected.
func (uc *jobs) DecryptFile(
	ctx context.Context,
	caller domain.Caller,
	upload domain.Upload,
	req domain.FileDecryptRequest,
) (domain.CreateJobResponse, error) {
	resp, err := uc.decryptFile(ctx, caller, upload, req)
	if err != nil {
		uc.removeUpload(upload.Name)
	}
	return resp, err
}

func (uc *jobs) decryptFile(
	ctx context.Context,
	caller domain.Caller,
	upload domain.Upload,
	req domain.FileDecryptRequest,
) (domain.CreateJobResponse, error) {
	if err := req.Normalize(); err != nil {
		return domain.CreateJobResponse{}, err
	}

	key, err := uc.resolveKey(ctx, caller, req.EncryptionKey)
	if err != nil {
		return domain.CreateJobResponse{}, err
	}

	inputPath, err := uc.uploads.Path(upload.Name)
	if err != nil {
		return domain.CreateJobResponse{}, fmt.Errorf("upload path: %w", err)
	}

	job := domain.Job{
		Source:       domain.SourceFile,
		FileName:     upload.OriginalName,
		Algorithm:    req.Algorithm,
		Field:        req.Field,
		OutputFormat: req.OutputFormat,
		CreatedBy:    caller.Username,
	}
	wreq := worker.Request{
		Source:    domain.SourceFile,
		InputPath: inputPath,
		Key:       key,
		Algorithm: req.Algorithm,
		Field:     req.Field,
		Format:    req.OutputFormat,
	}

	return uc.submit(job, wreq, upload.Name)
}

// DecryptSearch starts a job that pulls logs from a remote search index.
func (uc *jobs) DecryptSearch(
	ctx context.Context,
	caller domain.Caller,
	req domain.SearchDecryptRequest,
) (domain.CreateJobResponse, error) {
	if err := req.Normalize(); err != nil {
		return domain.CreateJobResponse{}, err
	}

	key, err := uc.resolveKey(ctx, caller, req.EncryptionKey)
	if err != nil {
		return domain.CreateJobResponse{}, err
	}

	job := domain.Job{
		Source:       domain.SourceElasticsearch,
		Index:        req.Index,
		Algorithm:    req.Algorithm,
		Field:        req.Field,
		OutputFormat: req.OutputFormat,
		CreatedBy:    caller.Username,
	}
	wreq := worker.Request{
		Source:           domain.SourceElasticsearch,
		ElasticsearchURL: req.ElasticsearchURL,
		Index:            req.Index,
		Size:             req.Size,
		Username:         req.Username,
		Password:         req.Password,
		APIKey:           req.APIKey,
		Query:            req.Query,
		Key:              key,
		Algorithm:        req.Algorithm,
		Field:            req.Field,
		Format:           req.OutputFormat,
	}

	return uc.submit(job, wreq, "")
}

// resolveKey prefers an explicit key and falls back to the caller's stored one.
func (uc *jobs) resolveKey(ctx context.Context, caller domain.Caller, explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}
	if uc.keys == nil || caller.Username == "" {
		return "", domain.ErrNoEncryptionKey
	}

	key, err := uc.keys.StoredKey(ctx, caller.Username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return "", domain.ErrNoEncryptionKey
		}
		return "", fmt.Errorf("stored key: %w", err)
	}
	if key == "" {
		return "", domain.ErrNoEncryptionKey
	}

	return key, nil
}

func (uc *jobs) submit(job domain.Job, wreq worker.Request, upload string) (domain.CreateJobResponse, error) {
	select {
	case uc.admit <- struct{}{}:
	default:
		uc.metrics.JobRejected()
		return domain.CreateJobResponse{}, domain.ErrQueueFull
	}

	uc.mu.Lock()
	if uc.closed {
		uc.mu.Unlock()
		<-uc.admit
		return domain.CreateJobResponse{}, domain.ErrShuttingDown
	}
	uc.wg.Add(1)
	uc.mu.Unlock()

	rollback := func() {
		<-uc.admit
		uc.wg.Done()
	}

	job.ID = uuid.NewString()
	job.Status = domain.StatusProcessing
	job.CreatedAt = uc.now()
	job.ArtifactName = job.ID + job.OutputFormat.Ext()

	outputPath, err := uc.artifacts.Path(job.ArtifactName)
	if err != nil {
		rollback()
		return domain.CreateJobResponse{}, fmt.Errorf("artifact path: %w", err)
	}
	wreq.OutputPath = outputPath

	if err := uc.store.Put(job); err != nil {
		rollback()
		return domain.CreateJobResponse{}, fmt.Errorf("create job: %w", err)
	}

	ctx, cancel := context.WithCancelCause(uc.base)
	uc.mu.Lock()
	uc.running[job.ID] = &liveJob{cancel: cancel, files: []string{upload, job.ArtifactName}}
	uc.mu.Unlock()

	uc.metrics.JobCreated(string(job.Source))
	uc.publish(domain.EventCreated, job)

	slog.Info("job created",
		slog.String("job_id", job.ID),
		slog.String("source", string(job.Source)),
		slog.String("algorithm", string(job.Algorithm)),
		slog.String("format", string(job.OutputFormat)),
		slog.String("created_by", job.CreatedBy),
	)

	go uc.run(ctx, job, wreq, upload)

	return domain.CreateJobResponse{
		JobID:     job.ID,
		Status:    domain.StatusProcessing,
		Message:   "Decryption job started",
		StatusURL: "/api/jobs/" + job.ID,
	}, nil
}

type outcome struct {
	result     json.RawMessage
	resultSize int
	size       int64
	sha256     string
}

func (uc *jobs) run(ctx context.Context, job domain.Job, wreq worker.Request, upload string) {
	defer uc.wg.Done()
	defer func() { <-uc.admit }()
	defer uc.release(job.ID)
	if upload != "" {
		defer uc.removeUpload(upload)
	}

	log := slog.With(slog.String("job_id", job.ID))

	out, err := uc.process(ctx, job, wreq)
	now := uc.now()

	if err != nil {
		uc.removeArtifact(job.ArtifactName)

		msg := err.Error()
		failed, ok := uc.store.Finish(job.ID, func(j *domain.Job) {
			j.Status = domain.StatusFailed
			j.Error = msg
			j.CompletedAt = &now
		})
		if !ok {
			log.Info("job no longer processing, failure dropped", slog.String("error", msg))
			return
		}

		log.Warn("job failed", slog.String("error", msg))
		uc.metrics.JobFinished(string(domain.StatusFailed))
		uc.publish(domain.EventFailed, failed)
		return
	}

	completed, ok := uc.store.Finish(job.ID, func(j *domain.Job) {
		j.Status = domain.StatusCompleted
		j.CompletedAt = &now
		j.Result = out.result
		j.ResultSize = out.resultSize
		j.ArtifactSize = out.size
		j.ArtifactSHA256 = out.sha256
		j.DownloadURL = "/api/jobs/" + job.ID + "/download"
	})
	if !ok {
		uc.removeArtifact(job.ArtifactName)
		log.Info("job no longer processing, result dropped")
		return
	}

	log.Info("job completed", slog.Int64("artifact_size", out.size))
	uc.metrics.JobFinished(string(domain.StatusCompleted))
	uc.publish(domain.EventCompleted, completed)
}

// process waits for a worker slot, runs the worker and reads its artifact.
// A job only completes when its artifact is readable.
func (uc *jobs) process(ctx context.Context, job domain.Job, wreq worker.Request) (outcome, error) {
	select {
	case uc.slots <- struct{}{}:
	case <-ctx.Done():
		return outcome{}, context.Cause(ctx)
	}
	defer func() { <-uc.slots }()

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if uc.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, uc.timeout)
	}
	defer cancel()

	uc.metrics.WorkerStarted()
	res, err := uc.invoker.Invoke(runCtx, wreq.Args())
	uc.metrics.WorkerDone(res.Duration)

	if err != nil {
		switch {
		case ctx.Err() != nil:
			return outcome{}, context.Cause(ctx)
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return outcome{}, fmt.Errorf("decryption timed out after %s", uc.timeout)
		}
		return outcome{}, err
	}

	size, sum, err := uc.artifacts.Commit(ctx, job.ArtifactName)
	if err != nil {
		return outcome{}, fmt.Errorf("persist result: %w", err)
	}

	result, err := uc.readResult(ctx, job)
	if err != nil {
		return outcome{}, err
	}

	return outcome{
		result:     result,
		resultSize: compactSize(result),
		size:       size,
		sha256:     sum,
	}, nil
}

// readResult loads the artifact for inline retrieval. Structured output must
// be valid JSON. Text output is kept as a JSON string.
func (uc *jobs) readResult(ctx context.Context, job domain.Job) (json.RawMessage, error) {
	rc, _, err := uc.artifacts.Open(ctx, job.ArtifactName)
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}

	if job.OutputFormat.Structured() {
		if !json.Valid(data) {
			return nil, errors.New("parse result: worker output is not valid JSON")
		}
		return json.RawMessage(data), nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(string(data)); err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// compactSize is the length of result with insignificant whitespace removed.
func compactSize(result json.RawMessage) int {
	var buf bytes.Buffer
	if err := json.Compact(&buf, result); err != nil {
		return len(result)
	}
	return buf.Len()
}

// Cancel fails a processing job and stops its worker.
func (uc *jobs) Cancel(ctx context.Context, id string) (domain.JobMetadata, error) {
	now := uc.now()
	job, ok := uc.store.Finish(id, func(j *domain.Job) {
		j.Status = domain.StatusFailed
		j.Error = domain.ErrJobCanceled.Error()
		j.CompletedAt = &now
	})
	if !ok {
		cur, found := uc.store.Get(id)
		if !found {
			return domain.JobMetadata{}, domain.ErrJobNotFound
		}
		return domain.JobMetadata{}, &domain.StatusError{Err: domain.ErrJobNotRunning, Status: cur.Status}
	}

	uc.interrupt(id, domain.ErrJobCanceled)
	uc.metrics.JobFinished(string(domain.StatusFailed))
	uc.publish(domain.EventFailed, job)
	slog.Info("job canceled", slog.String("job_id", id))

	return job.Metadata(), nil
}

// Delete removes the job record and its artifact. A processing job is
// stopped and its late result is discarded.
func (uc *jobs) Delete(ctx context.Context, id string) error {
	job, ok := uc.store.Delete(id)
	if !ok {
		return domain.ErrJobNotFound
	}

	uc.interrupt(id, errJobDeleted)

	if job.ArtifactName != "" {
		if err := uc.artifacts.Delete(ctx, job.ArtifactName); err != nil {
			slog.Warn("delete artifact",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	uc.publish(domain.EventDeleted, job)
	slog.Info("job deleted", slog.String("job_id", id))

	return nil
}

func (uc *jobs) Status(ctx context.Context, id string) (domain.StatusResponse, error) {
	job, ok := uc.store.Get(id)
	if !ok {
		return domain.StatusResponse{}, domain.ErrJobNotFound
	}

	return domain.StatusResponse{
		JobMetadata: job.Metadata(),
		HasResult:   len(job.Result) > 0,
		ResultSize:  job.ResultSize,
	}, nil
}

// Result returns the inline result of a completed job.
func (uc *jobs) Result(ctx context.Context, id string) (json.RawMessage, error) {
	job, ok := uc.store.Get(id)
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.Status != domain.StatusCompleted {
		return nil, &domain.StatusError{Err: domain.ErrJobNotCompleted, Status: job.Status}
	}

	return job.Result, nil
}

// Download opens the stored artifact of a completed job. The caller closes
// the returned content.
func (uc *jobs) Download(ctx context.Context, id string) (domain.DownloadResult, error) {
	job, ok := uc.store.Get(id)
	if !ok {
		return domain.DownloadResult{}, domain.ErrJobNotFound
	}
	if job.Status != domain.StatusCompleted {
		return domain.DownloadResult{}, &domain.StatusError{Err: domain.ErrJobNotCompleted, Status: job.Status}
	}

	rc, size, err := uc.artifacts.Open(ctx, job.ArtifactName)
	if err != nil {
		if errors.Is(err, domain.ErrFileNotFound) {
			return domain.DownloadResult{}, domain.ErrArtifactMissing
		}
		return domain.DownloadResult{}, fmt.Errorf("open result: %w", err)
	}

	contentType := "application/json"
	if !job.OutputFormat.Structured() {
		contentType = "text/plain; charset=utf-8"
	}

	return domain.DownloadResult{
		FileName:    "decrypted-logs-" + job.ID + job.OutputFormat.Ext(),
		ContentType: contentType,
		Size:        size,
		Content:     rc,
	}, nil
}

// List returns every job without result payloads, newest first.
func (uc *jobs) List(ctx context.Context) domain.ListResponse {
	all := uc.store.List()
	sortNewestFirst(all)

	out := make([]domain.JobMetadata, 0, len(all))
	for _, job := range all {
		out = append(out, job.Metadata())
	}

	return domain.ListResponse{Total: len(out), Jobs: out}
}

// Shutdown stops admitting jobs, cancels running ones and waits for them to
// record their terminal state.
func (uc *jobs) Shutdown(ctx context.Context) error {
	uc.mu.Lock()
	uc.closed = true
	uc.mu.Unlock()

	uc.stop(domain.ErrShuttingDown)

	done := make(chan struct{})
	go func() {
		uc.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("wait for jobs: %w", ctx.Err())
	}

	uc.mu.Lock()
	if !uc.outboxClosed {
		uc.outboxClosed = true
		close(uc.outbox)
	}
	uc.mu.Unlock()

	select {
	case <-uc.outboxDone:
		slog.Info("job executor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush job events: %w", ctx.Err())
	}
}

func sortNewestFirst(all []domain.Job) {
	slices.SortFunc(all, func(a, b domain.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func (uc *jobs) interrupt(id string, cause error) {
	uc.mu.Lock()
	live, ok := uc.running[id]
	uc.mu.Unlock()

	if ok {
		live.cancel(cause)
	}
}

func (uc *jobs) release(id string) {
	uc.mu.Lock()
	live, ok := uc.running[id]
	delete(uc.running, id)
	uc.mu.Unlock()

	if ok {
		live.cancel(nil)
	}
}

// inUse reports whether name is the upload or artifact of an admitted job.
func (uc *jobs) inUse(name string) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	for _, live := range uc.running {
		if slices.Contains(live.files, name) {
			return true
		}
	}
	return false
}

func (uc *jobs) removeUpload(name string) {
	if name == "" || uc.uploads == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := uc.uploads.Delete(ctx, name); err != nil {
		slog.Warn("delete upload", slog.String("file", name), slog.String("error", err.Error()))
	}
}

func (uc *jobs) removeArtifact(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := uc.artifacts.Delete(ctx, name); err != nil {
		slog.Warn("delete artifact", slog.String("file", name), slog.String("error", err.Error()))
	}
}

// publish queues an event for delivery. Events are dropped when the outbox
// is full or closed.
func (uc *jobs) publish(t domain.EventType, job domain.Job) {
	ev := domain.JobEvent{Type: t, Job: job.Metadata(), At: uc.now()}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	if uc.outboxClosed {
		return
	}
	select {
	case uc.outbox <- ev:
	default:
		slog.Warn("job event outbox full, event dropped",
			slog.String("job_id", job.ID),
			slog.String("type", string(t)),
		)
	}
}

// deliver sends queued events in order until the outbox is closed.
func (uc *jobs) deliver() {
	defer close(uc.outboxDone)

	for ev := range uc.outbox {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := uc.events.Publish(ctx, ev); err != nil {
			slog.Warn("publish job event",
				slog.String("job_id", ev.Job.ID),
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}
