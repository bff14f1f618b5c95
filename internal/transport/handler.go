package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/you-humble/loggenie/internal/auth"
	"github.com/you-humble/loggenie/internal/domain"

	"github.com/google/uuid"
)

type JobsUsecase interface {
	SaveUpload(ctx context.Context, file io.Reader, originalName, contentType string, size int64) (domain.Upload, error)
	DecryptFile(ctx context.Context, caller domain.Caller, upload domain.Upload, req domain.FileDecryptRequest) (domain.CreateJobResponse, error)
	DecryptSearch(ctx context.Context, caller domain.Caller, req domain.SearchDecryptRequest) (domain.CreateJobResponse, error)
	Status(ctx context.Context, id string) (domain.StatusResponse, error)
	Result(ctx context.Context, id string) (json.RawMessage, error)
	Download(ctx context.Context, id string) (domain.DownloadResult, error)
	List(ctx context.Context) domain.ListResponse
	Cancel(ctx context.Context, id string) (domain.JobMetadata, error)
	Delete(ctx context.Context, id string) error
}

type handler struct {
	maxUploadBytes int64
	jobs           JobsUsecase
	accounts       AccountsUsecase
	cookies        CookieConfig
}

func NewHandler(maxUploadBytesMb int64, jobs JobsUsecase, accounts AccountsUsecase, cookies CookieConfig) *handler {
	return &handler{
		maxUploadBytes: maxUploadBytesMb << 20,
		jobs:           jobs,
		accounts:       accounts,
		cookies:        cookies,
	}
}

func requestLogger(r *http.Request, name string) *slog.Logger {
	return slog.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("handler", name),
		slog.String("remote_addr", r.RemoteAddr),
	)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	_, authenticated := auth.CallerFromContext(r.Context())
	writeJSON(w, http.StatusOK, domain.HealthResponse{
		Status:        "healthy",
		Service:       "Loggin Genie API",
		Version:       "1.0.0",
		Timestamp:     timeNow().UTC(),
		Authenticated: authenticated,
	})
}

func (h *handler) decryptFile(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "decryptFile")
	caller, _ := auth.CallerFromContext(r.Context())

	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		logger.Warn("ParseMultipartForm", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "unable to parse multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("logFile")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	logger = logger.With(slog.String("file_name", header.Filename))

	upload, err := h.jobs.SaveUpload(
		r.Context(),
		file,
		header.Filename,
		header.Header.Get("Content-Type"),
		header.Size,
	)
	if err != nil {
		h.fail(w, logger, err)
		return
	}

	resp, err := h.jobs.DecryptFile(r.Context(), caller, upload, domain.FileDecryptRequest{
		EncryptionKey: r.FormValue("encryptionKey"),
		Algorithm:     domain.Algorithm(r.FormValue("algorithm")),
		Field:         r.FormValue("field"),
		OutputFormat:  domain.OutputFormat(r.FormValue("outputFormat")),
	})
	if err != nil {
		h.fail(w, logger, err)
		return
	}

	logger.Info("decrypt job accepted", slog.String("job_id", resp.JobID))
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *handler) decryptSearch(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "decryptSearch")
	caller, _ := auth.CallerFromContext(r.Context())

	var req domain.SearchDecryptRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.jobs.DecryptSearch(r.Context(), caller, req)
	if err != nil {
		h.fail(w, logger, err)
		return
	}

	logger.Info("decrypt job accepted",
		slog.String("job_id", resp.JobID),
		slog.String("index", req.Index),
	)
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.jobs.List(r.Context()))
}

func (h *handler) jobStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := h.jobs.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, requestLogger(r, "jobStatus"), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) jobResult(w http.ResponseWriter, r *http.Request) {
	result, err := h.jobs.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, requestLogger(r, "jobResult"), err)
		return
	}

	// The stored result is sent byte for byte as the worker wrote it.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result); err != nil {
		slog.Error("jobResult: write", slog.String("error", err.Error()))
	}
}

func (h *handler) download(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "download")
	id := r.PathValue("id")

	result, err := h.jobs.Download(r.Context(), id)
	if err != nil {
		h.fail(w, logger, err)
		return
	}
	defer result.Content.Close()

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+result.FileName+`"`)
	if result.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(result.Size, 10))
	}

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, result.Content); err != nil {
		logger.Error("download: send file",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (h *handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	meta, err := h.jobs.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, requestLogger(r, "cancelJob"), err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (h *handler) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, requestLogger(r, "deleteJob"), err)
		return
	}
	writeJSON(w, http.StatusOK, domain.MessageResponse{Message: "Job deleted successfully"})
}

// fail maps usecase errors to responses. Anything unexpected is logged and
// reported as 500.
func (h *handler) fail(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		verr *domain.ValidationError
		serr *domain.StatusError
	)

	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Msg)
	case errors.As(err, &serr) && errors.Is(err, domain.ErrJobNotCompleted):
		writeJSON(w, http.StatusBadRequest, domain.NotCompletedResponse{Error: "Job not completed", Status: serr.Status})
	case errors.As(err, &serr) && errors.Is(err, domain.ErrJobNotRunning):
		writeJSON(w, http.StatusConflict, domain.NotCompletedResponse{Error: "Job is not processing", Status: serr.Status})
	case errors.Is(err, domain.ErrNoEncryptionKey):
		writeError(w, http.StatusBadRequest, "No encryption key provided and no key stored in profile. Please provide a key or save one in your profile.")
	case errors.Is(err, domain.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, domain.ErrArtifactMissing):
		writeError(w, http.StatusNotFound, "Result file not found")
	case errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Username or password is incorrect")
	case errors.Is(err, domain.ErrQueueFull), errors.Is(err, domain.ErrShuttingDown):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Error("request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	resp := domain.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON", slog.String("error", err.Error()))
	}
}
