package dapp

import (
	"log/slog"
	"os"

	"github.com/you-humble/loggenie/internal/decryptor"
	"github.com/you-humble/loggenie/internal/infra/config"
	"github.com/you-humble/loggenie/internal/worker"

	"google.golang.org/grpc"
)

type dependencyInjector struct {
	cfg    *config.Config
	logger *slog.Logger

	service *decryptor.Service
	server  *grpc.Server
}

func newDI() *dependencyInjector {
	return &dependencyInjector{}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		di.cfg = config.MustLoad(config.Path())
	}

	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		var level slog.Level
		if err := level.UnmarshalText([]byte(di.Config().LogLevel)); err != nil {
			level = slog.LevelInfo
		}
		di.logger = slog.New(slog.NewTextHandler(
			os.Stdout,
			&slog.HandlerOptions{
				Level: level,
			},
		)).With(slog.String("service", "decryptor"))
	}

	slog.SetDefault(di.logger)
	return di.logger
}

func (di *dependencyInjector) Service() *decryptor.Service {
	if di.service == nil {
		cfg := di.Config().Worker

		var invoker *worker.ExecInvoker
		if cfg.Script == "" {
			invoker = worker.NewExecInvoker(cfg.Command)
		} else {
			invoker = worker.NewExecInvoker(cfg.Command, cfg.Script)
		}

		di.service = decryptor.NewService(invoker, cfg.MaxParallel)
		di.Logger().Info("initialized decryptor service",
			slog.String("command", cfg.Command),
			slog.String("script", cfg.Script),
			slog.Int("max_parallel", cfg.MaxParallel),
		)
	}

	return di.service
}

func (di *dependencyInjector) Server() *grpc.Server {
	if di.server == nil {
		di.server = decryptor.NewServer(di.Logger(), di.Service())
	}

	return di.server
}
