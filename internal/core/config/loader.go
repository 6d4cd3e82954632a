package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, expanding environment variables first, and
// fills in defaults.
func Parse(data []byte) (*AppConfig, error) {
	cfg := AppConfig{
		Scheduler: SchedulerConfig{Enabled: true},
		Worker:    WorkerConfig{Enabled: true},
	}

	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// applyEnv lets a single-region deployment pin its region without a
// dedicated config file.
func applyEnv(cfg *AppConfig) {
	if region := strings.TrimSpace(os.Getenv("REGION_ID")); region != "" {
		cfg.Worker.Regions = []string{region}
	}
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPgx
	}

	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = QueueRedis
	}
	if cfg.Queue.Topic == "" {
		cfg.Queue.Topic = DefaultTopic
	}
	if cfg.Queue.BlockTimeout == 0 {
		cfg.Queue.BlockTimeout = 5 * time.Second
	}
	if cfg.Queue.BatchSize == 0 {
		cfg.Queue.BatchSize = 10
	}

	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = 30 * time.Second
	}

	w := &cfg.Worker
	if w.ProbeTimeout == 0 {
		w.ProbeTimeout = 10 * time.Second
	}
	if w.MaxAttempts == 0 {
		w.MaxAttempts = 3
	}
	if w.RetryDelay == 0 {
		w.RetryDelay = 500 * time.Millisecond
	}
	if w.ReconnectBackoff == 0 {
		w.ReconnectBackoff = 5 * time.Second
	}
	if w.IdleSleep == 0 {
		w.IdleSleep = 100 * time.Millisecond
	}
	if w.AckMode == "" {
		w.AckMode = AckBatch
	}
	if w.UserAgent == "" {
		w.UserAgent = "Uptime-Worker/1.0"
	}

	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = "none"
	}
}

// Validate reports configuration errors that make startup impossible.
func (c *AppConfig) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverPgx, DriverPostgres, DriverSQLite:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}

	switch c.Queue.Backend {
	case QueueRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis queue backend"))
		}
	case QueueMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown queue.backend %q", c.Queue.Backend))
	}
	if c.Queue.BatchSize < 1 {
		errs = append(errs, errors.New("queue.batch_size must be positive"))
	}

	if c.Scheduler.Enabled && c.Scheduler.Cron == "" && c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval must be positive"))
	}

	if c.Worker.Enabled {
		if len(c.Worker.Regions) == 0 {
			errs = append(errs, errors.New("worker.regions must name at least one region"))
		}
		seen := make(map[string]bool, len(c.Worker.Regions))
		for _, r := range c.Worker.Regions {
			if strings.TrimSpace(r) == "" {
				errs = append(errs, errors.New("worker.regions contains an empty region"))
				continue
			}
			if seen[r] {
				errs = append(errs, fmt.Errorf("worker.regions lists %q twice", r))
			}
			seen[r] = true
		}
		if c.Worker.MaxAttempts < 1 {
			errs = append(errs, errors.New("worker.max_attempts must be at least 1"))
		}
		if c.Worker.AckMode != AckBatch && c.Worker.AckMode != AckPersisted {
			errs = append(errs, fmt.Errorf("unknown worker.ack_mode %q", c.Worker.AckMode))
		}
	}

	return errors.Join(errs...)
}
