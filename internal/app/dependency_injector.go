package app

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/you-humble/loggenie/internal/auth"
	"github.com/you-humble/loggenie/internal/infra/config"
	"github.com/you-humble/loggenie/internal/infra/cryptoutil"
	"github.com/you-humble/loggenie/internal/infra/events"
	filestore "github.com/you-humble/loggenie/internal/infra/store/file"
	jobstore "github.com/you-humble/loggenie/internal/infra/store/job"
	profilestore "github.com/you-humble/loggenie/internal/infra/store/profile"
	"github.com/you-humble/loggenie/internal/libs/mio"
	"github.com/you-humble/loggenie/internal/libs/natsq"
	"github.com/you-humble/loggenie/internal/libs/rediscli"
	"github.com/you-humble/loggenie/internal/metrics"
	"github.com/you-humble/loggenie/internal/transport"
	"github.com/you-humble/loggenie/internal/usecase"
	"github.com/you-humble/loggenie/internal/worker"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type Router interface {
	MountRoutes(*http.ServeMux) *http.ServeMux
}

type Jobs interface {
	transport.JobsUsecase
	StartCleanup(ctx context.Context, interval, ttl time.Duration)
	Shutdown(ctx context.Context) error
}

type Accounts interface {
	transport.AccountsUsecase
	usecase.KeyResolver
	SeedAdmin(ctx context.Context, password string) error
}

type dependencyInjector struct {
	cfg    *config.Config
	logger *slog.Logger

	redis    *redis.Client
	profiles usecase.ProfileStore
	tokens   *auth.Tokens
	accounts Accounts

	jobStore  usecase.JobStore
	uploads   usecase.UploadStore
	artifacts usecase.ArtifactStore
	invoker   usecase.Invoker

	natsConn  *nats.Conn
	js        nats.JetStreamContext
	hub       *transport.Hub
	publisher usecase.Publisher
	metrics   *metrics.Metrics

	jobs    Jobs
	handler transport.Handler
	router  Router

	// onShutdown runs in reverse order once the server has stopped.
	onShutdown []func(context.Context) error
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
		di.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		}))
	}

	slog.SetDefault(di.logger)
	return di.logger
}

func (di *dependencyInjector) RedisClient(ctx context.Context) *redis.Client {
	if di.redis == nil {
		cfg := di.Config().Redis
		client, err := rediscli.NewClient(ctx, rediscli.Config{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err != nil {
			log.Fatalf("Redis: %+v", err)
		}

		di.redis = client
		di.onShutdown = append(di.onShutdown, func(context.Context) error { return client.Close() })
		di.Logger().Info("connected to redis", slog.String("addr", cfg.Addr))
	}
	return di.redis
}

func (di *dependencyInjector) ProfileStore(ctx context.Context) usecase.ProfileStore {
	if di.profiles == nil {
		switch di.Config().Profiles.Backend {
		case config.ProfilesRedis:
			di.profiles = profilestore.NewRedisProfileStore(di.RedisClient(ctx))
		default:
			di.profiles = profilestore.NewMemoryProfileStore()
		}
		di.Logger().Info("initialized profile store",
			slog.String("backend", string(di.Config().Profiles.Backend)),
		)
	}
	return di.profiles
}

func (di *dependencyInjector) Tokens() *auth.Tokens {
	if di.tokens == nil {
		cfg := di.Config().Auth
		tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
		if err != nil {
			log.Fatalf("Tokens: %+v", err)
		}
		di.tokens = tokens
	}
	return di.tokens
}

func (di *dependencyInjector) Accounts(ctx context.Context) Accounts {
	if di.accounts == nil {
		sealer, err := cryptoutil.NewSealer(di.Config().Auth.KeySecret)
		if err != nil {
			log.Fatalf("Sealer: %+v", err)
		}
		if _, ok := sealer.(cryptoutil.NoopSealer); ok {
			di.Logger().Warn("auth.key_secret is empty, stored encryption keys are not sealed")
		}

		accounts := usecase.NewAccounts(di.ProfileStore(ctx), sealer, di.Tokens())
		if err := accounts.SeedAdmin(ctx, di.Config().Auth.AdminPassword); err != nil {
			log.Fatalf("Seed admin: %+v", err)
		}
		di.accounts = accounts
	}
	return di.accounts
}

func (di *dependencyInjector) JobStore() usecase.JobStore {
	if di.jobStore == nil {
		di.jobStore = jobstore.NewMemoryJobStore()
	}
	return di.jobStore
}

func (di *dependencyInjector) UploadStore() usecase.UploadStore {
	if di.uploads == nil {
		dir := di.Config().Storage.UploadDir
		local, err := filestore.NewLocalStore(dir)
		if err != nil {
			log.Fatalf("UploadStore local: %+v", err)
		}
		di.uploads = local
		di.Logger().Info("initialized upload store", slog.String("base_dir", dir))
	}
	return di.uploads
}

func (di *dependencyInjector) ArtifactStore(ctx context.Context) usecase.ArtifactStore {
	if di.artifacts == nil {
		cfg := di.Config()

		local, err := filestore.NewLocalStore(cfg.Storage.OutputDir)
		if err != nil {
			log.Fatalf("ArtifactStore local: %+v", err)
		}
		di.Logger().Info("initialized local artifact store", slog.String("base_dir", cfg.Storage.OutputDir))

		if !cfg.MinIO.Enabled() {
			di.artifacts = local
			return di.artifacts
		}

		remote, err := filestore.NewMinIOStore(ctx, mio.Config{
			Endpoint:        cfg.MinIO.Endpoint,
			AccessKeyID:     cfg.MinIO.AccessKeyID,
			SecretAccessKey: cfg.MinIO.SecretAccessKey,
			UseSSL:          cfg.MinIO.UseSSL,
			Bucket:          cfg.MinIO.Bucket,
			BasePath:        "outputs",
		})
		if err != nil {
			log.Fatalf("ArtifactStore minio: %+v", err)
		}
		di.Logger().Info(
			"initialized MinIO artifact store",
			slog.String("endpoint", cfg.MinIO.Endpoint),
			slog.String("bucket", cfg.MinIO.Bucket),
		)

		async := filestore.NewAsyncStore(ctx, local, remote, cfg.MinIO.QueueSize, cfg.MinIO.Workers, cfg.MinIO.MaxRetries)
		di.onShutdown = append(di.onShutdown, async.Close)
		di.artifacts = async
		di.Logger().Info(
			"using async artifact store (local + MinIO)",
			slog.Int("queue_size", cfg.MinIO.QueueSize),
			slog.Int("worker_num", cfg.MinIO.Workers),
			slog.Int("max_retries", cfg.MinIO.MaxRetries),
		)
	}
	return di.artifacts
}

func (di *dependencyInjector) Invoker() usecase.Invoker {
	if di.invoker == nil {
		cfg := di.Config().Worker
		switch cfg.Mode {
		case config.WorkerModeGRPC:
			conn, err := worker.NewConnection(cfg.GRPCAddr)
			if err != nil {
				log.Fatalf("Invoker grpc: %+v", err)
			}
			di.onShutdown = append(di.onShutdown, func(context.Context) error { return conn.Close() })
			di.invoker = worker.NewGRPCInvoker(conn)
			di.Logger().Info("using remote decryptor", slog.String("addr", cfg.GRPCAddr))
		default:
			di.invoker = newExecInvoker(cfg)
			di.Logger().Info("using local worker",
				slog.String("command", cfg.Command),
				slog.String("script", cfg.Script),
			)
		}
	}
	return di.invoker
}

func (di *dependencyInjector) NATSConn() *nats.Conn {
	if di.natsConn == nil {
		cfg := di.Config().NATS
		nc, err := natsq.NewConnect(cfg.URL, natsq.Config{
			Name:          cfg.Name,
			MaxReconnects: cfg.MaxReconnects,
		})
		if err != nil {
			log.Fatalf("NATS connect: %+v", err)
		}
		di.onShutdown = append(di.onShutdown, func(context.Context) error { return nc.Drain() })
		di.natsConn = nc
	}
	return di.natsConn
}

func (di *dependencyInjector) JetStream() nats.JetStreamContext {
	if di.js == nil {
		cfg := di.Config()
		maxAge := 24 * time.Hour
		if cfg.Retention.JobTTL > 0 {
			maxAge = 2 * cfg.Retention.JobTTL
		}

		js, err := natsq.NewJetStream(di.NATSConn(), &nats.StreamConfig{
			Name:     cfg.NATS.Stream,
			Subjects: events.Subjects(cfg.NATS.SubjectPrefix),
			Storage:  nats.FileStorage,
			Replicas: 1,
			MaxAge:   maxAge,
		})
		if err != nil {
			log.Fatalf("DI JetStream: %+v", err)
		}

		di.js = js
	}
	return di.js
}

func (di *dependencyInjector) Hub() *transport.Hub {
	if di.hub == nil {
		di.hub = transport.NewHub()
	}
	return di.hub
}

func (di *dependencyInjector) Publisher() usecase.Publisher {
	if di.publisher == nil {
		cfg := di.Config().NATS
		fanout := events.Fanout{di.Hub()}
		if cfg.Enabled() {
			fanout = append(fanout, events.NewNATSPublisher(di.JetStream(), cfg.SubjectPrefix))
			di.Logger().Info("publishing job events to NATS",
				slog.String("stream", cfg.Stream),
				slog.String("prefix", cfg.SubjectPrefix),
			)
		}
		di.publisher = fanout
	}
	return di.publisher
}

func (di *dependencyInjector) Metrics() *metrics.Metrics {
	if di.metrics == nil {
		di.metrics = metrics.New(prometheus.DefaultRegisterer)
	}
	return di.metrics
}

func (di *dependencyInjector) Jobs(ctx context.Context) Jobs {
	if di.jobs == nil {
		cfg := di.Config().Worker
		di.jobs = usecase.NewJobs(
			usecase.Limits{
				Timeout:       cfg.Timeout,
				MaxParallel:   cfg.MaxParallel,
				QueueCapacity: cfg.QueueCapacity,
			},
			usecase.Deps{
				Jobs:      di.JobStore(),
				Artifacts: di.ArtifactStore(ctx),
				Uploads:   di.UploadStore(),
				Invoker:   di.Invoker(),
				Keys:      di.Accounts(ctx),
				Events:    di.Publisher(),
				Metrics:   di.Metrics(),
			},
		)
	}
	return di.jobs
}

func (di *dependencyInjector) Handler(ctx context.Context) transport.Handler {
	if di.handler == nil {
		cfg := di.Config()
		di.handler = transport.NewHandler(
			cfg.MaxUploadBytesMb,
			di.Jobs(ctx),
			di.Accounts(ctx),
			transport.CookieConfig{Secure: cfg.Auth.CookieSecure, TTL: cfg.Auth.TokenTTL},
		)
	}
	return di.handler
}

func (di *dependencyInjector) Router(ctx context.Context) Router {
	if di.router == nil {
		di.router = transport.NewRouter(
			di.Handler(ctx),
			auth.NewAuthenticator(di.Tokens()),
			di.Hub(),
			promhttp.Handler(),
		)
	}
	return di.router
}

func newExecInvoker(cfg config.Worker) *worker.ExecInvoker {
	if cfg.Script == "" {
		return worker.NewExecInvoker(cfg.Command)
	}
	return worker.NewExecInvoker(cfg.Command, cfg.Script)
}
