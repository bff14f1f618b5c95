package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/you-humble/loggenie/internal/transport"

	"golang.org/x/sync/errgroup"
)

type app struct {
	di  *dependencyInjector
	srv *http.Server
}

func New(ctx context.Context) *app {
	di := newDI()
	di.Logger()
	mux := http.NewServeMux()
	return &app{
		di: di,
		srv: &http.Server{
			Addr: di.Config().Addr,
			Handler: transport.WithRecover(
				transport.LogMiddleware(
					di.Metrics().Middleware(
						di.Router(ctx).MountRoutes(mux),
					),
				),
			),
		},
	}
}

func (a *app) Run(ctx context.Context) error {
	cfg := a.di.Config()
	a.di.Jobs(ctx).StartCleanup(ctx, cfg.Retention.CleanupInterval, cfg.Retention.JobTTL)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", slog.String("addr", a.srv.Addr))
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", err.Error()))
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		return a.shutdown()
	})

	return g.Wait()
}

// shutdown stops the server first so no new jobs arrive, then fails the
// jobs still in flight and releases the backends.
func (a *app) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		a.di.Config().ShutdownTimeout,
	)
	defer cancel()

	var errs []error
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.di.Jobs(shutdownCtx).Shutdown(shutdownCtx); err != nil {
		slog.Error("jobs shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.di.Hub().Close()

	for _, fn := range slices.Backward(a.di.onShutdown) {
		if err := fn(shutdownCtx); err != nil {
			slog.Warn("release dependency", slog.String("error", err.Error()))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("server gracefully stopped")
	return nil
}
