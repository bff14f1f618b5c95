package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

type JobStatus string

const (
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Source string

const (
	SourceFile          Source = "file"
	SourceElasticsearch Source = "elasticsearch"
)

// Job is a single decryption run. Result is set only for completed jobs and
// Error only for failed ones.
type Job struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`

	Source       Source       `json:"source"`
	FileName     string       `json:"fileName,omitempty"`
	Index        string       `json:"index,omitempty"`
	Algorithm    Algorithm    `json:"algorithm"`
	Field        string       `json:"field"`
	OutputFormat OutputFormat `json:"outputFormat"`
	CreatedBy    string       `json:"createdBy,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	// ResultSize is the length of Result in compact JSON form.
	ResultSize int `json:"-"`

	ArtifactName   string `json:"-"`
	ArtifactSize   int64  `json:"artifactSize,omitempty"`
	ArtifactSHA256 string `json:"artifactSha256,omitempty"`
	DownloadURL    string `json:"downloadUrl,omitempty"`
}

// JobMetadata is a Job without its result payload.
type JobMetadata struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`

	Source       Source       `json:"source"`
	FileName     string       `json:"fileName,omitempty"`
	Index        string       `json:"index,omitempty"`
	Algorithm    Algorithm    `json:"algorithm"`
	Field        string       `json:"field"`
	OutputFormat OutputFormat `json:"outputFormat"`
	CreatedBy    string       `json:"createdBy,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Error          string `json:"error,omitempty"`
	ArtifactSize   int64  `json:"artifactSize,omitempty"`
	ArtifactSHA256 string `json:"artifactSha256,omitempty"`
	DownloadURL    string `json:"downloadUrl,omitempty"`
}

func (j Job) Metadata() JobMetadata {
	return JobMetadata{
		ID:             j.ID,
		Status:         j.Status,
		Source:         j.Source,
		FileName:       j.FileName,
		Index:          j.Index,
		Algorithm:      j.Algorithm,
		Field:          j.Field,
		OutputFormat:   j.OutputFormat,
		CreatedBy:      j.CreatedBy,
		CreatedAt:      j.CreatedAt,
		CompletedAt:    j.CompletedAt,
		Error:          j.Error,
		ArtifactSize:   j.ArtifactSize,
		ArtifactSHA256: j.ArtifactSHA256,
		DownloadURL:    j.DownloadURL,
	}
}

type CreateJobResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	Message   string    `json:"message"`
	StatusURL string    `json:"statusUrl"`
}

type StatusResponse struct {
	JobMetadata
	HasResult  bool `json:"hasResult"`
	ResultSize int  `json:"resultSize"`
}

type ListResponse struct {
	Total int           `json:"total"`
	Jobs  []JobMetadata `json:"jobs"`
}

type DownloadResult struct {
	FileName    string
	ContentType string
	Size        int64
	Content     io.ReadCloser
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NotCompletedResponse is returned when a result is requested for a job
// that has not completed.
type NotCompletedResponse struct {
	Error  string    `json:"error"`
	Status JobStatus `json:"status"`
}

type EventType string

const (
	EventCreated   EventType = "created"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventDeleted   EventType = "deleted"
)

// JobEvent announces a change in a job's lifecycle.
type JobEvent struct {
	Type EventType   `json:"type"`
	Job  JobMetadata `json:"job"`
	At   time.Time   `json:"at"`
}

// Caller is the authenticated principal attached to a request.
type Caller struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrJobNotCompleted    = errors.New("job not completed")
	ErrJobNotRunning      = errors.New("job is not processing")
	ErrJobCanceled        = errors.New("job canceled")
	ErrArtifactMissing    = errors.New("result file not found")
	ErrFileNotFound       = errors.New("file not found")
	ErrNoEncryptionKey    = errors.New("no encryption key provided and no key stored in profile. Please provide a key or save one in your profile")
	ErrQueueFull          = errors.New("decryption queue is full, try again later")
	ErrShuttingDown       = errors.New("service shutting down")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrDuplicateJob       = errors.New("job id already exists")
)

// ValidationError is a request rejected before any job is created.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// StatusError reports the current status of a job that cannot serve the
// requested operation.
type StatusError struct {
	Err    error
	Status JobStatus
}

func (e *StatusError) Error() string { return fmt.Sprintf("%s: %s", e.Err, e.Status) }

func (e *StatusError) Unwrap() error { return e.Err }

// Upload is a transient input file saved for a single file decrypt job.
type Upload struct {
	Name         string
	OriginalName string
	Size         int64
	SHA256       string
}
