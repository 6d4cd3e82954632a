package config

import (
	"time"

	"github.com/vietddude/uptime/internal/observability"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server          ServerConfig         `yaml:"server"`
	Logging         LoggingConfig        `yaml:"logging"`
	Database        DatabaseConfig       `yaml:"database"`
	Redis           RedisConfig          `yaml:"redis"`
	Queue           QueueConfig          `yaml:"queue"`
	Scheduler       SchedulerConfig      `yaml:"scheduler"`
	Worker          WorkerConfig         `yaml:"worker"`
	Tracing         observability.Config `yaml:"tracing"`
	RetentionPeriod time.Duration        `yaml:"retention_period"` // 0 = keep forever
}

// ServerConfig holds health server settings.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"` // 0 = disabled
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Database drivers.
const (
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// DatabaseConfig selects and configures the result store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// Queue backends.
const (
	QueueRedis  = "redis"
	QueueMemory = "memory"
)

// DefaultTopic is the stream every check task is appended to.
const DefaultTopic = "uptime:checks"

// QueueConfig configures the task queue.
type QueueConfig struct {
	Backend      string        `yaml:"backend"`
	Topic        string        `yaml:"topic"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
	BatchSize    int           `yaml:"batch_size"`
}

// SchedulerConfig configures the pusher.
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Cron     string        `yaml:"cron"` // takes precedence over interval
}

// Ack modes.
const (
	AckBatch     = "batch"
	AckPersisted = "persisted"
)

// WorkerConfig configures the per-region workers.
type WorkerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Regions          []string      `yaml:"regions"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	MaxAttempts      int           `yaml:"max_attempts"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
	IdleSleep        time.Duration `yaml:"idle_sleep"`
	AckMode          string        `yaml:"ack_mode"`
	ReclaimIdle      time.Duration `yaml:"reclaim_idle"` // 0 = never take over peers' tasks
	UserAgent        string        `yaml:"user_agent"`
}
