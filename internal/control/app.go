package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/uptime/internal/core/config"
	"github.com/vietddude/uptime/internal/infra/queue"
	redisclient "github.com/vietddude/uptime/internal/infra/redis"
	"github.com/vietddude/uptime/internal/infra/storage"
	"github.com/vietddude/uptime/internal/infra/storage/memory"
	"github.com/vietddude/uptime/internal/infra/storage/migrations"
	"github.com/vietddude/uptime/internal/infra/storage/postgres"
	"github.com/vietddude/uptime/internal/infra/storage/sqlite"
	"github.com/vietddude/uptime/internal/monitoring/alert"
	"github.com/vietddude/uptime/internal/monitoring/health"
	"github.com/vietddude/uptime/internal/monitoring/metrics"
	"github.com/vietddude/uptime/internal/monitoring/retention"
	"github.com/vietddude/uptime/internal/monitoring/scheduler"
	"github.com/vietddude/uptime/internal/monitoring/worker"
	"github.com/vietddude/uptime/internal/observability"
)

const serviceName = "uptime"

// App wires the store, the queue, the pusher and the regional workers.
type App struct {
	cfg          *config.AppConfig
	store        storage.Store
	db           *postgres.DB
	queues       []queue.Queue
	pusher       *scheduler.Pusher
	workers      []*worker.Worker
	pruner       *retention.Pruner
	healthMon    *health.Monitor
	healthServer *health.Server
	tracing      func(context.Context) error
	log          *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// OpenStore connects the configured result store and applies migrations.
// The returned DB is non-nil only for PostgreSQL.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (storage.Store, *postgres.DB, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		slog.Info("Using memory storage")
		return memory.New(), nil, nil

	case config.DriverSQLite:
		s, err := sqlite.New(ctx, cfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init sqlite: %w", err)
		}
		slog.Info("Using SQLite storage", "path", cfg.URL)
		return s, nil, nil

	case config.DriverPgx, config.DriverPostgres:
		db, err := postgres.NewDB(ctx, postgres.Config{
			Driver:   cfg.Driver,
			URL:      cfg.URL,
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := migrations.Up(ctx, db.DB.DB, migrations.Postgres); err != nil {
			db.Close()
			return nil, nil, err
		}
		slog.Info("Using PostgreSQL storage", "driver", cfg.Driver)
		return postgres.NewStore(db), db, nil

	default:
		return nil, nil, fmt.Errorf("%w %q", errUnknownDriver, cfg.Driver)
	}
}

var errUnknownDriver = errors.New("unknown database driver")

type storeOpener func(ctx context.Context, cfg config.DatabaseConfig) (storage.Store, *postgres.DB, error)

// ConnectStore opens the store like OpenStore but keeps retrying every
// backoff while it is unreachable. It gives up only when ctx is done or the
// driver is unknown.
func ConnectStore(ctx context.Context, cfg config.DatabaseConfig, backoff time.Duration) (storage.Store, *postgres.DB, error) {
	return connectStore(ctx, cfg, backoff, OpenStore)
}

func connectStore(
	ctx context.Context,
	cfg config.DatabaseConfig,
	backoff time.Duration,
	open storeOpener,
) (storage.Store, *postgres.DB, error) {
	if backoff <= 0 {
		backoff = time.Second
	}
	for attempt := 1; ; attempt++ {
		store, db, err := open(ctx, cfg)
		if err == nil {
			return store, db, nil
		}
		if errors.Is(err, errUnknownDriver) {
			return nil, nil, err
		}
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("store unavailable: %w", err)
		}
		slog.Warn("Store unavailable, retrying",
			"driver", cfg.Driver, "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("store unavailable: %w", err)
		case <-time.After(backoff):
		}
	}
}

// QueueFactory hands out queue handles. Redis gets one client per caller;
// the memory backend is shared so the pusher and workers see one stream.
type QueueFactory struct {
	cfg    *config.AppConfig
	shared *queue.Memory
}

// NewQueueFactory creates a factory for the configured backend.
func NewQueueFactory(cfg *config.AppConfig) *QueueFactory {
	f := &QueueFactory{cfg: cfg}
	if cfg.Queue.Backend == config.QueueMemory {
		f.shared = queue.NewMemory(cfg.Queue.BlockTimeout)
	}
	return f
}

// Open returns a queue handle.
func (f *QueueFactory) Open() (queue.Queue, error) {
	if f.shared != nil {
		return f.shared, nil
	}
	c, err := redisclient.Dial(redisclient.Config{URL: f.cfg.Redis.URL, Password: f.cfg.Redis.Password})
	if err != nil {
		return nil, err
	}
	return redisclient.NewStreamQueue(c, f.cfg.Queue.BlockTimeout), nil
}

// NewApp builds every enabled component. Nothing runs until Start. An
// unreachable store is waited for until ctx is cancelled.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	shutdownTracing, err := observability.InitTracing(ctx, serviceName, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}

	store, db, err := ConnectStore(ctx, cfg.Database, cfg.Worker.ReconnectBackoff)
	if err != nil {
		shutdownTracing(ctx)
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		store:   store,
		db:      db,
		tracing: shutdownTracing,
		log:     slog.Default().With("component", "app"),
	}

	fail := func(err error) (*App, error) {
		a.closeAll()
		a.tracing(ctx)
		return nil, err
	}

	pingers := map[string]health.Pinger{"store": store}
	var workerSources []health.WorkerSource
	var schedSource health.SchedulerSource

	queues := NewQueueFactory(cfg)

	if cfg.Scheduler.Enabled {
		q, err := queues.Open()
		if err != nil {
			return fail(fmt.Errorf("failed to open scheduler queue: %w", err))
		}
		a.queues = append(a.queues, q)
		sched, err := scheduler.New(cfg.Scheduler.Cron, cfg.Scheduler.Interval)
		if err != nil {
			return fail(err)
		}
		a.pusher = scheduler.NewPusher(store.Sites(), q, cfg.Queue.Topic, sched)
		pingers["queue.scheduler"] = q
		schedSource = a.pusher
	}

	if cfg.Worker.Enabled {
		notifier := alert.NewLogNotifier(slog.Default())
		for _, region := range cfg.Worker.Regions {
			q, err := queues.Open()
			if err != nil {
				return fail(fmt.Errorf("failed to open queue for %s: %w", region, err))
			}
			a.queues = append(a.queues, q)

			w := worker.New(workerConfig(cfg, region), q, store.Ticks(), worker.WithNotifier(notifier))
			a.workers = append(a.workers, w)
			workerSources = append(workerSources, w)
			pingers["queue."+region] = q
		}
	}

	if cfg.RetentionPeriod > 0 {
		a.pruner = retention.NewPruner(cfg.RetentionPeriod, store.Ticks())
	}

	a.healthMon = health.NewMonitor(pingers, workerSources, schedSource)
	a.healthServer = health.NewServer(a.healthMon, cfg.Server.Port, cfg.Server.GRPCPort)
	return a, nil
}

func workerConfig(cfg *config.AppConfig, region string) worker.Config {
	return worker.Config{
		Region:           region,
		Topic:            cfg.Queue.Topic,
		BatchSize:        cfg.Queue.BatchSize,
		ReconnectBackoff: cfg.Worker.ReconnectBackoff,
		IdleSleep:        cfg.Worker.IdleSleep,
		AckMode:          cfg.Worker.AckMode,
		ReclaimIdle:      cfg.Worker.ReclaimIdle,
		Probe: worker.ProbeConfig{
			Timeout:     cfg.Worker.ProbeTimeout,
			MaxAttempts: cfg.Worker.MaxAttempts,
			RetryDelay:  cfg.Worker.RetryDelay,
			UserAgent:   cfg.Worker.UserAgent,
		},
	}
}

// Store returns the result store.
func (a *App) Store() storage.Store { return a.store }

// Workers returns the regional workers.
func (a *App) Workers() []*worker.Worker { return a.workers }

// Pusher returns the scheduler, or nil when disabled.
func (a *App) Pusher() *scheduler.Pusher { return a.pusher }

// Health returns the health monitor.
func (a *App) Health() *health.Monitor { return a.healthMon }

// Start launches every component in the background.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	// Start Health Server
	go func() {
		if err := a.healthServer.Start(); err != nil {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	// Start DB Metrics Collector
	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	if a.pusher != nil {
		a.log.Info("Starting pusher", "schedule", a.pusher.Status().Schedule, "topic", a.cfg.Queue.Topic)
		a.goSupervised(ctx, "scheduler", a.pusher.Run)
	}

	for _, w := range a.workers {
		a.log.Info("Starting worker", "region", w.Region())
		a.goSupervised(ctx, w.Region(), w.Run)
	}

	if a.pruner != nil {
		a.log.Info("Starting pruner", "retention", a.cfg.RetentionPeriod)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.pruner.Start(ctx)
		}()
	}
	return nil
}

// goSupervised runs fn until ctx is cancelled, restarting it after the
// reconnect backoff whenever it returns or panics. name is the region label
// of the restart counter.
func (a *App) goSupervised(ctx context.Context, name string, fn func(context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			err := runProtected(ctx, fn)
			if ctx.Err() != nil {
				return
			}
			metrics.WorkerRestarts.WithLabelValues(name).Inc()
			a.log.Error("Component exited, restarting", "name", name, "error", err, "backoff", a.cfg.Worker.ReconnectBackoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(a.cfg.Worker.ReconnectBackoff):
			}
		}
	}()
}

func runProtected(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Stop cancels every component, waits for them and releases connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping...")
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("Timed out waiting for components to stop")
	}

	err := a.healthServer.Stop(ctx)
	return errors.Join(err, a.closeAll(), a.tracing(ctx))
}

func (a *App) closeAll() error {
	var errs []error
	seen := make(map[queue.Queue]bool)
	for _, q := range a.queues {
		if seen[q] {
			continue
		}
		seen[q] = true
		if err := q.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue: %w", err))
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

// SchemaVersion reports the applied migration version of a SQL store.
func SchemaVersion(ctx context.Context, store storage.Store) (int64, error) {
	switch s := store.(type) {
	case *postgres.Store:
		return migrations.Version(ctx, s.DB().DB.DB, migrations.Postgres)
	case *sqlite.Store:
		return migrations.Version(ctx, s.DB().DB, migrations.SQLite)
	default:
		return 0, fmt.Errorf("%T has no schema", store)
	}
}
