package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/you-humble/loggenie/internal/domain"

	"github.com/google/uuid"
)

var uploadTypes = map[string]struct{}{
	"application/json": {},
	"text/plain":       {},
}

// SaveUpload stores an uploaded log file under a unique name. Only JSON,
// NDJSON and plain text files are accepted.
func (uc *jobs) SaveUpload(
	ctx context.Context,
	file io.Reader,
	originalName, contentType string,
	size int64,
) (domain.Upload, error) {
	if !acceptedUpload(originalName, contentType) {
		return domain.Upload{}, domain.NewValidationError("Only JSON and NDJSON files are allowed")
	}

	name := uuid.NewString() + "-" + safeName(originalName)
	written, hash, err := uc.uploads.Save(ctx, file, name, size)
	if err != nil {
		return domain.Upload{}, fmt.Errorf("save upload: %w", err)
	}

	slog.Debug("upload saved",
		slog.String("file", name),
		slog.Int64("size", written),
	)

	return domain.Upload{
		Name:         name,
		OriginalName: originalName,
		Size:         written,
		SHA256:       hash,
	}, nil
}

func acceptedUpload(name, contentType string) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if _, ok := uploadTypes[mt]; ok {
			return true
		}
	}

	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".json" || ext == ".ndjson"
}

// safeName keeps the base name of an uploaded file and drops characters
// that are awkward on disk.
func safeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == "/" || base == ".." {
		return "upload"
	}

	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, base)
}
