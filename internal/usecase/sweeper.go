package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/you-humble/loggenie/internal/domain"
)

// StartCleanup removes finished jobs older than ttl together with their
// artifacts, and stale uploads, every interval until ctx ends.
func (uc *jobs) StartCleanup(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 || ttl <= 0 {
		slog.Info("job retention disabled")
		return
	}

	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				uc.sweep(ctx, now, ttl)
			}
		}
	}()
}

func (uc *jobs) sweep(ctx context.Context, now time.Time, ttl time.Duration) int {
	expired := uc.store.Expired(now, ttl)
	if len(expired) > 0 {
		slog.Info("cleanup", slog.Int("count_of_expired_jobs", len(expired)))
	}

	removed := 0
	for _, job := range expired {
		gone, ok := uc.store.Delete(job.ID)
		if !ok {
			continue
		}
		removed++

		if gone.ArtifactName != "" {
			if err := uc.artifacts.Delete(ctx, gone.ArtifactName); err != nil {
				slog.Warn("cleanup artifact",
					slog.String("job_id", gone.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		uc.publish(domain.EventDeleted, gone)
	}

	if err := uc.uploads.CleanupOlderThan(ctx, ttl, uc.inUse); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("cleanup old uploads", slog.String("error", err.Error()))
	}
	if err := uc.artifacts.CleanupOlderThan(ctx, 2*ttl, uc.inUse); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("cleanup orphan artifacts", slog.String("error", err.Error()))
	}

	return removed
}
