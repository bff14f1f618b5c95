package dapp

import (
	"context"
	"fmt"
	"net"
	"time"
)

const stopTimeout = 15 * time.Second

type app struct {
	di   *dependencyInjector
	addr string
}

func New() *app {
	di := newDI()
	di.Logger()

	return &app{
		di:   di,
		addr: di.Config().Decryptor.Addr,
	}
}

func (a *app) Run(ctx context.Context) error {
	l := a.di.Logger()

	lis, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.addr, err)
	}

	srv := a.di.Server()
	errCh := make(chan error, 1)

	go func() {
		l.Info("decryptor gRPC service listening", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("failed to serve: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		l.Info("shutdown signal received, starting graceful shutdown")
	case err := <-errCh:
		l.Error("server exited with error", "err", err)
		return err
	}

	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		l.Info("graceful shutdown completed")
	case <-time.After(stopTimeout):
		l.Warn("graceful stop timed out, forcing stop")
		srv.Stop()
	}

	return nil
}
