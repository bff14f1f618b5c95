package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "./configs/local.yaml"

type WorkerMode string

const (
	WorkerModeExec WorkerMode = "exec"
	WorkerModeGRPC WorkerMode = "grpc"
)

type ProfileBackend string

const (
	ProfilesMemory ProfileBackend = "memory"
	ProfilesRedis  ProfileBackend = "redis"
)

type Config struct {
	Addr             string        `yaml:"addr"             env:"ADDR"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	MaxUploadBytesMb int64         `yaml:"max_upload_mb"    env:"MAX_UPLOAD_MB"`
	LogLevel         string        `yaml:"log_level"        env:"LOG_LEVEL"`

	Storage   Storage   `yaml:"storage"   envPrefix:"STORAGE_"`
	Worker    Worker    `yaml:"worker"    envPrefix:"WORKER_"`
	Retention Retention `yaml:"retention" envPrefix:"RETENTION_"`
	Auth      Auth      `yaml:"auth"      envPrefix:"AUTH_"`
	Profiles  Profiles  `yaml:"profiles"  envPrefix:"PROFILES_"`

	Redis     Redis     `yaml:"redis"     envPrefix:"REDIS_"`
	MinIO     MinIO     `yaml:"minio"     envPrefix:"MINIO_"`
	NATS      NATS      `yaml:"nats"      envPrefix:"NATS_"`
	Decryptor Decryptor `yaml:"decryptor" envPrefix:"DECRYPTOR_"`
}

type Storage struct {
	UploadDir string `yaml:"upload_dir" env:"UPLOAD_DIR"`
	OutputDir string `yaml:"output_dir" env:"OUTPUT_DIR"`
}

type Worker struct {
	Mode          WorkerMode    `yaml:"mode"           env:"MODE"`
	Command       string        `yaml:"command"        env:"COMMAND"`
	Script        string        `yaml:"script"         env:"SCRIPT"`
	GRPCAddr      string        `yaml:"grpc_addr"      env:"GRPC_ADDR"`
	Timeout       time.Duration `yaml:"timeout"        env:"TIMEOUT"`
	MaxParallel   int           `yaml:"max_parallel"   env:"MAX_PARALLEL"`
	QueueCapacity int           `yaml:"queue_capacity" env:"QUEUE_CAPACITY"`
}

// Retention is disabled while JobTTL is zero.
type Retention struct {
	JobTTL          time.Duration `yaml:"job_ttl"          env:"JOB_TTL"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
}

type Auth struct {
	JWTSecret     string        `yaml:"jwt_secret"     env:"JWT_SECRET"`
	TokenTTL      time.Duration `yaml:"token_ttl"      env:"TOKEN_TTL"`
	CookieSecure  bool          `yaml:"cookie_secure"  env:"COOKIE_SECURE"`
	AdminPassword string        `yaml:"admin_password" env:"ADMIN_PASSWORD"`
	KeySecret     string        `yaml:"key_secret"     env:"KEY_SECRET"`
}

type Profiles struct {
	Backend ProfileBackend `yaml:"backend" env:"BACKEND"`
}

type Redis struct {
	Addr     string `yaml:"addr"     env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db"       env:"DB"`
}

// MinIO replication is enabled when Endpoint is set.
type MinIO struct {
	Endpoint        string `yaml:"endpoint"          env:"ENDPOINT"`
	AccessKeyID     string `yaml:"access_key_id"     env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	UseSSL          bool   `yaml:"use_ssl"           env:"USE_SSL"`
	Bucket          string `yaml:"bucket"            env:"BUCKET"`
	QueueSize       int    `yaml:"queue_size"        env:"QUEUE_SIZE"`
	Workers         int    `yaml:"workers"           env:"WORKERS"`
	MaxRetries      int    `yaml:"max_retries"       env:"MAX_RETRIES"`
}

func (m MinIO) Enabled() bool { return m.Endpoint != "" }

// NATS events are published when URL is set.
type NATS struct {
	URL           string `yaml:"url"            env:"URL"`
	Name          string `yaml:"name"           env:"NAME"`
	MaxReconnects int    `yaml:"max_reconnects" env:"MAX_RECONNECTS"`
	Stream        string `yaml:"stream"         env:"STREAM"`
	SubjectPrefix string `yaml:"subject_prefix" env:"SUBJECT_PREFIX"`
}

func (n NATS) Enabled() bool { return n.URL != "" }

type Decryptor struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// Load reads the YAML file at path, applies environment overrides prefixed
// with LOGGENIE_ and fills defaults. A .env file in the working directory is
// loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("config: load .env file: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot unmarshal yaml: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "LOGGENIE_"}); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

// Path returns CONFIG_PATH or the default location.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

func (cfg *Config) applyDefaults() error {
	if cfg.Addr == "" {
		return fmt.Errorf("config: addr is empty")
	}
	if cfg.Storage.UploadDir == "" {
		return fmt.Errorf("config: storage.upload_dir is empty")
	}
	if cfg.Storage.OutputDir == "" {
		return fmt.Errorf("config: storage.output_dir is empty")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxUploadBytesMb <= 0 {
		cfg.MaxUploadBytesMb = 50
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	switch cfg.Worker.Mode {
	case "":
		cfg.Worker.Mode = WorkerModeExec
	case WorkerModeExec:
	case WorkerModeGRPC:
		if cfg.Worker.GRPCAddr == "" {
			return fmt.Errorf("config: worker.grpc_addr is empty for grpc mode")
		}
	default:
		return fmt.Errorf("config: unknown worker.mode %q", cfg.Worker.Mode)
	}
	if cfg.Worker.Command == "" {
		cfg.Worker.Command = "python3"
	}
	if cfg.Worker.Timeout <= 0 {
		cfg.Worker.Timeout = 10 * time.Minute
	}
	if cfg.Worker.MaxParallel <= 0 {
		cfg.Worker.MaxParallel = 4
	}
	if cfg.Worker.QueueCapacity < 0 {
		return fmt.Errorf("config: worker.queue_capacity must not be negative, got %d", cfg.Worker.QueueCapacity)
	}

	if cfg.Retention.JobTTL < 0 {
		return fmt.Errorf("config: retention.job_ttl must not be negative, got %s", cfg.Retention.JobTTL)
	}
	if cfg.Retention.JobTTL > 0 && cfg.Retention.CleanupInterval <= 0 {
		cfg.Retention.CleanupInterval = time.Minute
	}

	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Auth.AdminPassword == "" {
		cfg.Auth.AdminPassword = "admin"
	}

	switch cfg.Profiles.Backend {
	case "":
		cfg.Profiles.Backend = ProfilesMemory
	case ProfilesMemory:
	case ProfilesRedis:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("config: redis.addr is empty for redis profiles")
		}
	default:
		return fmt.Errorf("config: unknown profiles.backend %q", cfg.Profiles.Backend)
	}

	if cfg.MinIO.Enabled() {
		if cfg.MinIO.Bucket == "" {
			return fmt.Errorf("config: minio.bucket is empty")
		}
		if cfg.MinIO.QueueSize <= 0 {
			cfg.MinIO.QueueSize = 100
		}
		if cfg.MinIO.Workers <= 0 {
			cfg.MinIO.Workers = 2
		}
		if cfg.MinIO.MaxRetries <= 0 {
			cfg.MinIO.MaxRetries = 3
		}
	}

	if cfg.NATS.Name == "" {
		cfg.NATS.Name = "loggenie"
	}
	if cfg.NATS.Stream == "" {
		cfg.NATS.Stream = "LOGGENIE_JOBS"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "loggenie.jobs"
	}

	if cfg.Decryptor.Addr == "" {
		cfg.Decryptor.Addr = ":50051"
	}

	return nil
}
