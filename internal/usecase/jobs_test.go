package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/you-humble/loggenie/internal/domain"
	"github.com/you-humble/loggenie/internal/infra/cryptoutil"
	filestore "github.com/you-humble/loggenie/internal/infra/store/file"
	jobstore "github.com/you-humble/loggenie/internal/infra/store/job"
	profilestore "github.com/you-humble/loggenie/internal/infra/store/profile"
	"github.com/you-humble/loggenie/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const storedKey = "deadbeefdeadbeefdeadbeefdeadbeef"

type invokerFunc func(ctx context.Context, args []string) (worker.Result, error)

func (f invokerFunc) Invoke(ctx context.Context, args []string) (worker.Result, error) {
	return f(ctx, args)
}

func argValue(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// writes returns an invoker that writes body to the requested output path.
func writes(body string) invokerFunc {
	return func(_ context.Context, args []string) (worker.Result, error) {
		if err := os.WriteFile(argValue(args, "--output"), []byte(body), 0o644); err != nil {
			return worker.Result{}, err
		}
		return worker.Result{Duration: time.Millisecond}, nil
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []domain.JobEvent
}

func (l *eventLog) Publish(_ context.Context, ev domain.JobEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) types(id string) []domain.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.EventType
	for _, ev := range l.events {
		if ev.Job.ID == id {
			out = append(out, ev.Type)
		}
	}
	return out
}

type countingRecorder struct {
	nopRecorder
	mu       sync.Mutex
	rejected int
	finished map[string]int
}

func (r *countingRecorder) JobRejected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected++
}

func (r *countingRecorder) JobFinished(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished == nil {
		r.finished = make(map[string]int)
	}
	r.finished[status]++
}

type fixture struct {
	uc        *jobs
	store     JobStore
	uploads   UploadStore
	artifacts ArtifactStore
	accounts  *accounts
	events    *eventLog
	metrics   *countingRecorder
}

func newFixture(t *testing.T, limits Limits, inv Invoker) *fixture {
	t.Helper()
	return newFixtureWithEvents(t, limits, inv, nil)
}

// newFixtureWithEvents sends job events to pub instead of the fixture's log
// when pub is not nil.
func newFixtureWithEvents(t *testing.T, limits Limits, inv Invoker, pub Publisher) *fixture {
	t.Helper()

	uploads, err := filestore.NewLocalStore(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)
	artifacts, err := filestore.NewLocalStore(filepath.Join(t.TempDir(), "outputs"))
	require.NoError(t, err)

	acc := NewAccounts(profilestore.NewMemoryProfileStore(), cryptoutil.NoopSealer{}, nil)
	acc.cost = bcrypt.MinCost
	require.NoError(t, acc.CreateUser(context.Background(), "alice", "secret", domain.RoleUser))
	require.NoError(t, acc.CreateUser(context.Background(), "bob", "secret", domain.RoleUser))
	_, err = acc.SetEncryptionKey(context.Background(), "alice", storedKey)
	require.NoError(t, err)

	f := &fixture{
		store:     jobstore.NewMemoryJobStore(),
		uploads:   uploads,
		artifacts: artifacts,
		accounts:  acc,
		events:    &eventLog{},
		metrics:   &countingRecorder{},
	}
	if pub == nil {
		pub = f.events
	}
	f.uc = NewJobs(limits, Deps{
		Jobs:      f.store,
		Artifacts: f.artifacts,
		Uploads:   f.uploads,
		Invoker:   inv,
		Keys:      acc,
		Events:    pub,
		Metrics:   f.metrics,
	})

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.uc.Shutdown(ctx)
	})

	return f
}

func defaultLimits() Limits {
	return Limits{Timeout: 5 * time.Second, MaxParallel: 4, QueueCapacity: 8}
}

func (f *fixture) upload(t *testing.T) domain.Upload {
	t.Helper()
	body := `{"message":"ZW5jcnlwdGVk"}` + "\n"
	up, err := f.uc.SaveUpload(context.Background(), strings.NewReader(body), "app.ndjson", "", int64(len(body)))
	require.NoError(t, err)
	return up
}

func (f *fixture) submitFile(t *testing.T, caller domain.Caller, req domain.FileDecryptRequest) (domain.Upload, string) {
	t.Helper()
	up := f.upload(t)
	resp, err := f.uc.DecryptFile(context.Background(), caller, up, req)
	require.NoError(t, err)
	return up, resp.JobID
}

func (f *fixture) waitTerminal(t *testing.T, id string) domain.StatusResponse {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := f.uc.Status(context.Background(), id)
		return err == nil && st.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)

	st, err := f.uc.Status(context.Background(), id)
	require.NoError(t, err)
	return st
}

// waitEvents waits until the events delivered for id match want.
func (f *fixture) waitEvents(t *testing.T, id string, want ...domain.EventType) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return slices.Equal(want, f.events.types(id))
	}, 2*time.Second, 5*time.Millisecond, "events for %s: %v", id, f.events.types(id))
}

func (f *fixture) uploadExists(t *testing.T, up domain.Upload) bool {
	t.Helper()
	p, err := f.uploads.Path(up.Name)
	require.NoError(t, err)
	_, err = os.Stat(p)
	return err == nil
}

var alice = domain.Caller{Username: "alice", Role: "user"}

func TestDecryptFile_StoredKeyLifecycle(t *testing.T) {
	release := make(chan struct{})
	var gotArgs []string
	var mu sync.Mutex

	f := newFixture(t, defaultLimits(), invokerFunc(func(ctx context.Context, args []string) (worker.Result, error) {
		mu.Lock()
		gotArgs = args
		mu.Unlock()
		<-release
		return writes(`[{"message":"user logged in"}]`)(ctx, args)
	}))

	up, id := f.submitFile(t, alice, domain.FileDecryptRequest{Algorithm: domain.AES256CBC, Field: "message"})

	st, err := f.uc.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, st.Status)
	assert.False(t, st.HasResult)
	assert.Equal(t, "app.ndjson", st.FileName)
	assert.Equal(t, "alice", st.CreatedBy)

	close(release)
	st = f.waitTerminal(t, id)

	assert.Equal(t, domain.StatusCompleted, st.Status)
	assert.True(t, st.HasResult)
	assert.Equal(t, len(`[{"message":"user logged in"}]`), st.ResultSize)
	assert.Empty(t, st.Error)
	assert.Equal(t, "/api/jobs/"+id+"/download", st.DownloadURL)
	assert.NotNil(t, st.CompletedAt)
	assert.NotEmpty(t, st.ArtifactSHA256)

	result, err := f.uc.Result(context.Background(), id)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"message":"user logged in"}]`, string(result))

	mu.Lock()
	assert.Equal(t, storedKey, argValue(gotArgs, "--key"))
	assert.Equal(t, "AES-256-CBC", argValue(gotArgs, "--algorithm"))
	assert.Equal(t, "json", argValue(gotArgs, "--format"))
	assert.True(t, strings.HasSuffix(argValue(gotArgs, "--output"), id+".json"))
	mu.Unlock()

	f.uc.wg.Wait()
	assert.False(t, f.uploadExists(t, up), "upload is removed after the job ends")
	f.waitEvents(t, id, domain.EventCreated, domain.EventCompleted)
}

func TestDecrypt_ExplicitKeyWins(t *testing.T) {
	keys := make(chan string, 1)
	f := newFixture(t, defaultLimits(), invokerFunc(func(ctx context.Context, args []string) (worker.Result, error) {
		keys <- argValue(args, "--key")
		return writes(`[]`)(ctx, args)
	}))

	_, id := f.submitFile(t, alice, domain.FileDecryptRequest{EncryptionKey: "cafebabe"})
	f.waitTerminal(t, id)

	assert.Equal(t, "cafebabe", <-keys)
}

func TestDecrypt_BlankKeyFallsBackToStored(t *testing.T) {
	keys := make(chan string, 1)
	f := newFixture(t, defaultLimits(), invokerFunc(func(ctx context.Context, args []string) (worker.Result, error) {
		keys <- argValue(args, "--key")
		return writes(`[]`)(ctx, args)
	}))

	resp, err := f.uc.DecryptSearch(context.Background(), alice, domain.SearchDecryptRequest{
		ElasticsearchURL: "http://es:9200",
		Index:            "logs",
		EncryptionKey:    "   ",
	})
	require.NoError(t, err)
	f.waitTerminal(t, resp.JobID)

	assert.Equal(t, storedKey, <-keys)
}

func TestDecrypt_NoKeyRejectedBeforeJobExists(t *testing.T) {
	f := newFixture(t, defaultLimits(), writes(`[]`))
	bob := domain.Caller{Username: "bob", Role: "user"}

	up := f.upload(t)
	_, err := f.uc.DecryptFile(context.Background(), bob, up, domain.FileDecryptRequest{})
	require.ErrorIs(t, err, domain.ErrNoEncryptionKey)

	_, err = f.uc.DecryptSearch(context.Background(), domain.Caller{Username: "ghost"}, domain.SearchDecryptRequest{
		ElasticsearchURL: "http://es:9200",
		Index:            "logs",
	})
	require.ErrorIs(t, err, domain.ErrNoEncryptionKey)

	assert.Equal(t, 0, f.uc.List(context.Background()).Total)
	assert.False(t, f.uploadExists(t, up), "rejected upload is removed")
}

func TestDecrypt_ValidationLeavesStoreUnchanged(t *testing.T) {
	called := false
	f := newFixture(t, defaultLimits(), invokerFunc(func(context.Context, []string) (worker.Result, error) {
		called = true
		return worker.Result{}, nil
	}))

	up := f.upload(t)
	_, err := f.uc.DecryptFile(context.Background(), alice, up, domain.FileDecryptRequest{Algorithm: "ROT13"})

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, f.uc.List(context.Background()).Total)
	assert.False(t, f.uploadExists(t, up))
	assert.False(t, called)
}

func TestJob_WorkerFailures(t *testing.T) {
	tests := []struct {
		name    string
		invoker invokerFunc
		wantErr string
	}{
		{
			name: "non-zero exit",
			invoker: func(context.Context, []string) (worker.Result, error) {
				return worker.Result{ExitCode: 2}, &worker.ExitError{Code: 2, Stderr: "bad padding\n"}
			},
			wantErr: "worker process exited with code 2: bad padding",
		},
		{
			name: "cannot start",
			invoker: func(context.Context, []string) (worker.Result, error) {
				return worker.Result{}, &worker.StartError{Err: errors.New("exec: \"python3\": executable file not found in $PATH")}
			},
			wantErr: "failed to start worker process",
		},
		{
			name: "success without artifact",
			invoker: func(context.Context, []string) (worker.Result, error) {
				return worker.Result{}, nil
			},
			wantErr: "persist result",
		},
		{
			name:    "artifact is not json",
			invoker: writes("not json at all"),
			wantErr: "worker output is not valid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, defaultLimits(), tt.invoker)

			_, id := f.submitFile(t, alice, domain.FileDecryptRequest{})
			st := f.waitTerminal(t, id)

			assert.Equal(t, domain.StatusFailed, st.Status)
			assert.Contains(t, st.Error, tt.wantErr)
			assert.False(t, st.HasResult)

			_, err := f.uc.Result(context.Background(), id)
			var serr *domain.StatusError
			require.ErrorAs(t, err, &serr)
			assert.ErrorIs(t, err, domain.ErrJobNotCompleted)
			assert.Equal(t, domain.StatusFailed, serr.Status)

			f.uc.wg.Wait()
			_, _, err = f.artifacts.Open(context.Background(), id+".json")
			assert.ErrorIs(t, err, domain.ErrFileNotFound)
		})
	}
}

func TestJob_TextFormat(t *testing.T) {
	f := newFixture(t, defaultLimits(), writes("line one\nline two\n"))

	_, id := f.submitFile(t, alice, domain.FileDecryptRequest{OutputFormat: domain.FormatText})
	st := f.waitTerminal(t, id)
	require.Equal(t, domain.StatusCompleted, st.Status)

	result, err := f.uc.Result(context.Background(), id)
	require.NoError(t, err)
	var text string
	require.NoError(t, json.Unmarshal(result, &text))
	assert.Equal(t, "line one\nline two\n", text)

	dl, err := f.uc.Download(context.Background(), id)
	require.NoError(t, err)
	defer dl.Content.Close()

	assert.Equal(t, "decrypted-logs-"+id+".txt", dl.FileName)
	assert.Equal(t, "text/plain; charset=utf-8", dl.ContentType)
	body, err := io.ReadAll(dl.Content)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(body))
}

func TestDownload(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, defaultLimits(), invokerFunc(func(ctx context.Context, args []string) (worker.Result, error) {
		<-release
		return writes(`{"ok":true}`)(ctx, args)
	}))

	_, id := f.submitFile(t, alice, domain.FileDecryptRequest{})

	_, err := f.uc.Download(context.Background(), id)
	var serr *domain.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, domain.StatusProcessing, serr.Status)

	close(release)
	f.waitTerminal(t, id)

	dl, err := f.uc.Download(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "decrypted-logs-"+id+".json", dl.FileName)
	assert.Equal(t, "application/json", dl.ContentType)
	assert.EqualValues(t, len(`{"ok":true}`), dl.Size)
	require.NoError(t, dl.Content.Close())

	require.NoError(t, f.artifacts.Delete(context.Background(), id+".json"))
	_, err = f.uc.Download(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrArtifactMissing)

	_, err = f.uc.Download(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestJob_QueueFull(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, Limits{Timeout: 5 * time.Second, MaxParallel: 1, QueueCapacity: 1},
		invokerFunc(func(ctx context.Context, args []string) (worker.Result, error) {
			<-release
			return writes(`[]`)(ctx, args)
		}))

	search := domain.SearchDecryptRequest{ElasticsearchURL: "http://es:9200", Index: "logs"}

	_, err := f.uc.DecryptSearch(context.Background(), alice, search)
	require.NoError(t, err)
	_, err = f.uc.DecryptSearch(context.Background(), alice, search)
	require.NoError(t, err)

	up := f.upload(t)
	_, err = f.uc.DecryptFile(context.Background(), alice, up, domain.FileDecryptRequest{})
	require.ErrorIs(t, err, domain.ErrQueueFull)
	assert.Equal(t, 2, f.uc.List(context.Background()).Total)
	assert.False(t, f.uploadExists(t, up))
	assert.Equal(t, 1, f.metrics.rejected)

	close(release)
	f.uc.wg.Wait()

	_, err = f.uc.DecryptSearch(context.Background(), alice, search)
	require.NoError(t, err)
}

func TestJob_Timeout(t *testing.T) {
	f := newFixture(t, Limits{Timeout: 50 * time.Millisecond, MaxParallel: 1},
		invokerFunc(func(ctx context.Context, _ []string) (worker.Result, error) {
			<-ctx.Done()
			return worker.Result{}, fmt.Errorf("worker process killed: %w", ctx.Err())
		}))

	_, id := f.submitFile(t, alice, domain.FileDecryptRequest{})
	st := f.waitTerminal(t, id)

	assert.Equal(t, domain.StatusFailed, st.Status)
	assert.Equal(t, "decryption timed out after 50ms", st.Error)
}

func TestCancel(t *testing.T) {
	started := make(chan struct{})
	stopped := make(chan error, 1)
	f := newFixture(t, defaultLimits(), invokerFunc(func(ctx context.Context, _ []string) (worker.Result, error) {
		close(started)
		<-ctx.Done()
		stopped <- context.Cause(ctx)
		return worker.Result{}, ctx.Err()
	}))

	_, id := f.submitFile(t, alice, domain.FileDecryptRequest{})
	<-started

	meta, err := f.uc.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, meta.Status)
	assert.Equal(t, "job canceled", meta.Error)

	select {
	case cause := <-stopped:
		assert.ErrorIs(t, cause, domain.ErrJobCanceled)
	case <-time.After(5 * time.Second):
		t.Fatal("worker was not interrupted")
	}

	f.uc.wg.Wait()
	st, err := f.uc.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, st.Status)
	assert.Equal(t, "job canceled", st.Error)
	assert.Equal(t, 1, f.metrics.finished["failed"])

	_, err = f.uc.Cancel(context.Background(), id)
	var serr *domain.StatusError
	require.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, domain.ErrJobNotRunning)
	assert.Equal(t, domain.StatusFailed, serr.Status)

	_, err = f.uc.Cancel(context.Background(), "unknown")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestDelete_WhileRunningDropsLateResult(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	f := newFixture(t, defaultLimits(), invokerFunc(func(ctx context.Context, args []string) (worker.Result, error) {
		close(started)
		<-release
		return writes(`[1]`)(context.Background(), args)
	}))

	_, id := f.submitFile(t, alice, domain.FileDecryptRequest{})
	<-started

	require.NoError(t, f.uc.Delete(context.Background(), id))
	_, err := f.uc.Status(context.Background(), id)
	require.ErrorIs(t, err, domain.ErrJobNotFound)

	close(release)
	f.uc.wg.Wait()

	_, err = f.uc.Status(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.Equal(t, 0, f.uc.List(context.Background()).Total)

	_, _, err = f.artifacts.Open(context.Background(), id+".json")
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
	f.waitEvents(t, id, domain.EventCreated, domain.EventDeleted)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, defaultLimits(), writes(`[]`))

	_, keep := f.submitFile(t, alice, domain.FileDecryptRequest{})
	_, drop := f.submitFile(t, alice, domain.FileDecryptRequest{})
	f.waitTerminal(t, keep)
	f.waitTerminal(t, drop)

	require.ErrorIs(t, f.uc.Delete(context.Background(), "unknown"), domain.ErrJobNotFound)
	require.NoError(t, f.uc.Delete(context.Background(), drop))
	require.ErrorIs(t, f.uc.Delete(context.Background(), drop), domain.ErrJobNotFound)

	_, _, err := f.artifacts.Open(context.Background(), drop+".json")
	assert.ErrorIs(t, err, domain.ErrFileNotFound)

	st, err := f.uc.Status(context.Background(), keep)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, st.Status)
}

func TestIsolation(t *testing.T) {
	f := newFixture(t, defaultLimits(), invokerFunc(func(ctx context.Context, args []string) (worker.Result, error) {
		if argValue(args, "--key") == "bad" {
			time.Sleep(20 * time.Millisecond)
			return worker.Result{ExitCode: 1}, &worker.ExitError{Code: 1, Stderr: "wrong key"}
		}
		return writes(`[{"message":"ok"}]`)(ctx, args)
	}))

	_, failing := f.submitFile(t, alice, domain.FileDecryptRequest{EncryptionKey: "bad"})
	_, passing := f.submitFile(t, alice, domain.FileDecryptRequest{EncryptionKey: "good"})

	bad := f.waitTerminal(t, failing)
	good := f.waitTerminal(t, passing)

	assert.Equal(t, domain.StatusFailed, bad.Status)
	assert.Contains(t, bad.Error, "wrong key")
	assert.Equal(t, domain.StatusCompleted, good.Status)
	assert.Empty(t, good.Error)
}

func TestShutdown_FailsRunningJobs(t *testing.T) {
	started := make(chan struct{})
	f := newFixture(t, defaultLimits(), invokerFunc(func(ctx context.Context, _ []string) (worker.Result, error) {
		close(started)
		<-ctx.Done()
		return worker.Result{}, ctx.Err()
	}))

	up, id := f.submitFile(t, alice, domain.FileDecryptRequest{})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.uc.Shutdown(ctx))

	st, err := f.uc.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, st.Status)
	assert.Equal(t, "service shutting down", st.Error)
	assert.False(t, f.uploadExists(t, up))

	_, err = f.uc.DecryptSearch(context.Background(), alice, domain.SearchDecryptRequest{
		ElasticsearchURL: "http://es:9200",
		Index:            "logs",
	})
	assert.ErrorIs(t, err, domain.ErrShuttingDown)
}

func TestList_NewestFirstWithoutResults(t *testing.T) {
	f := newFixture(t, defaultLimits(), writes(`[{"message":"x"}]`))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	var mu sync.Mutex
	f.uc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	_, first := f.submitFile(t, alice, domain.FileDecryptRequest{})
	f.waitTerminal(t, first)
	_, second := f.submitFile(t, alice, domain.FileDecryptRequest{})
	f.waitTerminal(t, second)

	list := f.uc.List(context.Background())
	require.Equal(t, 2, list.Total)
	assert.Equal(t, second, list.Jobs[0].ID)
	assert.Equal(t, first, list.Jobs[1].ID)

	b, err := json.Marshal(list)
	require.NoError(t, err)
	assert.NotContains(t, string(b), `"result"`)
}

func TestSweep_RemovesExpiredJobs(t *testing.T) {
	f := newFixture(t, defaultLimits(), writes(`[]`))

	finishedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.uc.now = func() time.Time { return finishedAt }

	_, id := f.submitFile(t, alice, domain.FileDecryptRequest{})
	f.waitTerminal(t, id)
	f.uc.wg.Wait()

	assert.Zero(t, f.uc.sweep(context.Background(), finishedAt.Add(30*time.Minute), time.Hour))
	_, err := f.uc.Status(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, 1, f.uc.sweep(context.Background(), finishedAt.Add(2*time.Hour), time.Hour))
	_, err = f.uc.Status(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	_, _, err = f.artifacts.Open(context.Background(), id+".json")
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
	f.waitEvents(t, id, domain.EventCreated, domain.EventCompleted, domain.EventDeleted)
}

func TestSaveUpload(t *testing.T) {
	f := newFixture(t, defaultLimits(), writes(`[]`))

	_, err := f.uc.SaveUpload(context.Background(), strings.NewReader("MZ"), "tool.exe", "application/octet-stream", 2)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Only JSON and NDJSON files are allowed", verr.Msg)

	up, err := f.uc.SaveUpload(context.Background(), strings.NewReader("a log line"), "../../etc/app log.txt", "text/plain; charset=utf-8", 10)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(up.Name, "-app_log.txt"))
	assert.Equal(t, "../../etc/app log.txt", up.OriginalName)
	assert.EqualValues(t, 10, up.Size)
	assert.True(t, f.uploadExists(t, up))
}

func TestSweep_KeepsFilesOfLiveJobs(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	f := newFixture(t, Limits{Timeout: 5 * time.Second, MaxParallel: 1, QueueCapacity: 2},
		invokerFunc(func(ctx context.Context, args []string) (worker.Result, error) {
			started <- struct{}{}
			<-release
			if _, err := os.Stat(argValue(args, "--file")); err != nil {
				return worker.Result{}, &worker.ExitError{Code: 1, Stderr: "input missing: " + err.Error()}
			}
			return writes(`[]`)(ctx, args)
		}))

	running, runningID := f.submitFile(t, alice, domain.FileDecryptRequest{})
	<-started
	queued, queuedID := f.submitFile(t, alice, domain.FileDecryptRequest{})
	orphan := f.upload(t)

	past := time.Now().Add(-2 * time.Hour)
	for _, up := range []domain.Upload{running, queued, orphan} {
		p, err := f.uploads.Path(up.Name)
		require.NoError(t, err)
		require.NoError(t, os.Chtimes(p, past, past))
	}

	assert.Zero(t, f.uc.sweep(context.Background(), time.Now(), time.Hour))

	assert.True(t, f.uploadExists(t, running))
	assert.True(t, f.uploadExists(t, queued))
	assert.False(t, f.uploadExists(t, orphan))

	close(release)
	for _, id := range []string{runningID, queuedID} {
		st := f.waitTerminal(t, id)
		assert.Equal(t, domain.StatusCompleted, st.Status, st.Error)
	}
}

type stalledPublisher struct {
	release chan struct{}
}

func (p stalledPublisher) Publish(ctx context.Context, _ domain.JobEvent) error {
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestJobs_DoNotWaitForEventDelivery(t *testing.T) {
	pub := stalledPublisher{release: make(chan struct{})}
	f := newFixtureWithEvents(t, defaultLimits(), writes(`[]`), pub)
	t.Cleanup(func() { close(pub.release) })

	start := time.Now()
	resp, err := f.uc.DecryptSearch(context.Background(), alice, domain.SearchDecryptRequest{
		ElasticsearchURL: "http://es:9200",
		Index:            "logs",
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	st := f.waitTerminal(t, resp.JobID)
	assert.Equal(t, domain.StatusCompleted, st.Status)

	start = time.Now()
	require.NoError(t, f.uc.Delete(context.Background(), resp.JobID))
	assert.Less(t, time.Since(start), time.Second)
}

func TestJob_ResultKeptVerbatim(t *testing.T) {
	const body = "[\n  {\"message\": \"<b>hi</b> & bye\"}\n]\n"
	f := newFixture(t, defaultLimits(), writes(body))

	_, id := f.submitFile(t, alice, domain.FileDecryptRequest{})
	st := f.waitTerminal(t, id)
	require.Equal(t, domain.StatusCompleted, st.Status)
	assert.Equal(t, len(`[{"message":"<b>hi</b> & bye"}]`), st.ResultSize)

	result, err := f.uc.Result(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, body, string(result))
}
