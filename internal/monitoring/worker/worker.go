package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/uptime/internal/core/domain"
	"github.com/vietddude/uptime/internal/infra/queue"
	"github.com/vietddude/uptime/internal/infra/storage"
	"github.com/vietddude/uptime/internal/monitoring/alert"
	"github.com/vietddude/uptime/internal/monitoring/metrics"
	"github.com/vietddude/uptime/internal/observability"
)

// Ack modes.
const (
	AckBatch     = "batch"
	AckPersisted = "persisted"
)

// Config holds per-region worker settings.
type Config struct {
	Region           string
	Topic            string
	BatchSize        int
	ReconnectBackoff time.Duration
	IdleSleep        time.Duration
	AckMode          string
	ReclaimIdle      time.Duration // 0 disables taking over peers' stale tasks
	Probe            ProbeConfig
}

// Status is a snapshot of a worker for health reporting.
type Status struct {
	Region         string     `json:"region"`
	State          State      `json:"state"`
	Since          time.Time  `json:"since"`
	LastTransition Transition `json:"last_transition"`
	LastError      string     `json:"last_error,omitempty"`
	LastCycle      time.Time  `json:"last_cycle"`
	Processed      int64      `json:"processed"`
	Acked          int64      `json:"acked"`
}

// Worker claims check tasks for one region, probes them, stores the
// results and acknowledges the batch.
type Worker struct {
	cfg      Config
	group    string
	member   string
	queue    queue.Queue
	ticks    storage.TickRepository
	prober   *Prober
	notifier alert.Notifier
	log      *slog.Logger

	mu        sync.RWMutex
	state     State
	since     time.Time
	last      Transition
	lastErr   string
	lastCycle time.Time

	processed atomic.Int64
	acked     atomic.Int64

	// last status seen per site; only touched by the Run goroutine
	seen map[string]domain.Status
}

// Option customises a Worker.
type Option func(*Worker)

// WithNotifier sets the status change notifier.
func WithNotifier(n alert.Notifier) Option {
	return func(w *Worker) { w.notifier = n }
}

// WithProber replaces the HTTP prober.
func WithProber(p *Prober) Option {
	return func(w *Worker) { w.prober = p }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.log = l }
}

// New creates a worker. A Redis-backed queue should not be shared with
// other workers since a blocking claim holds its connection.
func New(cfg Config, q queue.Queue, ticks storage.TickRepository, opts ...Option) *Worker {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 100 * time.Millisecond
	}
	if cfg.AckMode == "" {
		cfg.AckMode = AckBatch
	}

	w := &Worker{
		cfg:      cfg,
		group:    queue.GroupName(cfg.Region),
		member:   queue.MemberName(cfg.Region),
		queue:    q,
		ticks:    ticks,
		notifier: alert.Nop{},
		log:      slog.Default(),
		state:    StateConnecting,
		since:    time.Now(),
		seen:     make(map[string]domain.Status),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.prober == nil {
		w.prober = NewProber(cfg.Probe, nil)
	}
	w.log = w.log.With("component", "worker", "region", cfg.Region)
	w.publishState()
	return w
}

// Region returns the region this worker probes from.
func (w *Worker) Region() string { return w.cfg.Region }

// State returns the current state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Status returns a snapshot for health reporting.
func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Status{
		Region:         w.cfg.Region,
		State:          w.state,
		Since:          w.since,
		LastTransition: w.last,
		LastError:      w.lastErr,
		LastCycle:      w.lastCycle,
		Processed:      w.processed.Load(),
		Acked:          w.acked.Load(),
	}
}

func (w *Worker) transition(to State, reason string) {
	w.mu.Lock()
	from := w.state
	if from == to && to != StateConnecting {
		w.mu.Unlock()
		return
	}
	if !CanTransition(from, to) {
		w.mu.Unlock()
		w.log.Error("Rejected state transition", "from", from, "to", to, "error", ErrInvalidTransition)
		return
	}
	now := time.Now()
	w.state = to
	w.since = now
	w.last = Transition{From: from, To: to, Reason: reason, Timestamp: now}
	if to == StateConnecting && reason != "" {
		w.lastErr = reason
	}
	w.mu.Unlock()

	w.publishState()
	w.log.Debug("Worker state changed", "from", from, "to", to, "reason", reason)
}

func (w *Worker) publishState() {
	current := w.State()
	for _, s := range AllStates {
		v := 0.0
		if s == current {
			v = 1
		}
		metrics.WorkerState.WithLabelValues(w.cfg.Region, string(s)).Set(v)
	}
}

// Run loops until ctx is cancelled. Queue failures never end the loop; they
// move the worker to CONNECTING and are retried after the backoff.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Worker starting", "group", w.group, "member", w.member, "topic", w.cfg.Topic)
	for {
		if err := ctx.Err(); err != nil {
			w.log.Info("Worker stopped")
			return err
		}

		if w.State() == StateConnecting {
			if err := w.connect(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				w.log.Warn("Queue unavailable, retrying", "error", err, "backoff", w.cfg.ReconnectBackoff)
				w.transition(StateConnecting, err.Error())
				sleep(ctx, w.cfg.ReconnectBackoff)
				continue
			}
			w.transition(StateIdle, "connected")
			continue
		}

		if err := w.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Warn("Queue operation failed, reconnecting", "error", err, "backoff", w.cfg.ReconnectBackoff)
			w.transition(StateConnecting, err.Error())
			sleep(ctx, w.cfg.ReconnectBackoff)
		}
	}
}

func (w *Worker) connect(ctx context.Context) error {
	if err := w.queue.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if err := w.queue.EnsureGroup(ctx, w.cfg.Topic, w.group); err != nil {
		return fmt.Errorf("ensure group: %w", err)
	}
	return nil
}

// cycle runs one claim, probe, persist, ack round.
func (w *Worker) cycle(ctx context.Context) error {
	w.transition(StateClaiming, "")
	tasks, err := w.claim(ctx)
	if err != nil {
		metrics.QueueErrors.WithLabelValues(w.cfg.Region, "claim").Inc()
		return err
	}
	if len(tasks) == 0 {
		w.transition(StateIdle, "no tasks")
		sleep(ctx, w.cfg.IdleSleep)
		return nil
	}

	ctx, span := observability.StartSpan(ctx, "worker.cycle",
		attribute.String("region", w.cfg.Region),
		attribute.Int("batch.size", len(tasks)),
	)
	defer span.End()

	w.transition(StateProcessing, "")
	results := w.probeAll(ctx, tasks)
	if err := ctx.Err(); err != nil {
		// Shutting down mid-batch: leave the batch pending for redelivery.
		return err
	}
	ackIDs := w.persist(ctx, tasks, results)

	w.transition(StateAcking, "")
	n, err := w.queue.Ack(ctx, w.cfg.Topic, w.group, ackIDs)
	if err != nil {
		metrics.QueueErrors.WithLabelValues(w.cfg.Region, "ack").Inc()
		return fmt.Errorf("ack: %w", err)
	}
	w.acked.Add(n)
	metrics.TasksAcked.WithLabelValues(w.cfg.Region).Add(float64(n))

	w.mu.Lock()
	w.lastCycle = time.Now()
	w.mu.Unlock()

	w.transition(StateIdle, "batch done")
	w.log.Debug("Batch complete", "claimed", len(tasks), "acked", n)
	return nil
}

// claim takes this member's pending tasks first, then stale tasks of other
// members when enabled, then new tasks.
func (w *Worker) claim(ctx context.Context) ([]domain.CheckTask, error) {
	tasks, err := w.queue.Claim(ctx, w.cfg.Topic, w.group, w.member, queue.ClaimPending, w.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("claim pending: %w", err)
	}
	if len(tasks) > 0 {
		w.log.Info("Recovered pending tasks", "count", len(tasks))
		return tasks, nil
	}

	if w.cfg.ReclaimIdle > 0 {
		tasks, err = w.queue.ClaimStale(ctx, w.cfg.Topic, w.group, w.member, w.cfg.ReclaimIdle, w.cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("claim stale: %w", err)
		}
		if len(tasks) > 0 {
			w.log.Info("Took over stale tasks", "count", len(tasks))
			return tasks, nil
		}
	}

	tasks, err = w.queue.Claim(ctx, w.cfg.Topic, w.group, w.member, queue.ClaimNew, w.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("claim new: %w", err)
	}
	return tasks, nil
}

// probeAll probes every task concurrently. Entries without a site (trimmed
// from the stream) are skipped and yield a zero result.
func (w *Worker) probeAll(ctx context.Context, tasks []domain.CheckTask) []domain.CheckResult {
	results := make([]domain.CheckResult, len(tasks))

	var g errgroup.Group
	g.SetLimit(w.cfg.BatchSize)
	for i, task := range tasks {
		if task.SiteID == "" {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			res := w.prober.Probe(ctx, task)
			res.RegionID = w.cfg.Region
			results[i] = res

			metrics.ProbeLatency.WithLabelValues(w.cfg.Region).Observe(time.Since(start).Seconds())
			metrics.ProbeAttempts.WithLabelValues(w.cfg.Region).Observe(float64(res.Attempts))
			if res.Err != nil {
				w.log.Debug("Probe failed",
					"site", task.SiteID,
					"url", task.URL,
					"attempts", res.Attempts,
					"timeout", IsTimeout(res.Err),
					"error", res.Err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// persist writes one tick per probed task and returns the delivery ids to
// acknowledge.
func (w *Worker) persist(ctx context.Context, tasks []domain.CheckTask, results []domain.CheckResult) []string {
	ackIDs := make([]string, 0, len(tasks))
	for i, task := range tasks {
		if task.SiteID == "" {
			w.log.Warn("Dropping task without site", "delivery_id", task.DeliveryID)
			ackIDs = append(ackIDs, task.DeliveryID)
			continue
		}

		res := results[i]
		w.processed.Add(1)
		metrics.ProbesTotal.WithLabelValues(w.cfg.Region, string(res.Status)).Inc()

		tick := &domain.Tick{
			SiteID:         res.SiteID,
			RegionID:       res.RegionID,
			Status:         res.Status,
			ResponseTimeMs: res.ResponseTimeMs,
			CreatedAt:      res.ProbedAt,
		}
		err := w.ticks.Insert(ctx, tick)
		switch {
		case err == nil:
			ackIDs = append(ackIDs, task.DeliveryID)
			w.observe(ctx, task, res)
		case errors.Is(err, storage.ErrSiteNotFound):
			// Site deleted after the task was queued; redelivery cannot help.
			metrics.PersistErrors.WithLabelValues(w.cfg.Region, "site_not_found").Inc()
			w.log.Warn("Dropping result for unknown site", "site", task.SiteID, "delivery_id", task.DeliveryID)
			ackIDs = append(ackIDs, task.DeliveryID)
			delete(w.seen, task.SiteID)
		default:
			metrics.PersistErrors.WithLabelValues(w.cfg.Region, "store").Inc()
			w.log.Error("Failed to persist tick", "site", task.SiteID, "delivery_id", task.DeliveryID, "error", err)
			if w.cfg.AckMode != AckPersisted {
				ackIDs = append(ackIDs, task.DeliveryID)
			}
		}
	}
	return ackIDs
}

// observe emits a notification when a site's status differs from the last
// one this worker stored. The first observation only sets the baseline.
func (w *Worker) observe(ctx context.Context, task domain.CheckTask, res domain.CheckResult) {
	prev, ok := w.seen[task.SiteID]
	w.seen[task.SiteID] = res.Status
	if !ok || prev == res.Status {
		return
	}
	err := w.notifier.Notify(ctx, alert.Event{
		SiteID:         task.SiteID,
		URL:            task.URL,
		RegionID:       w.cfg.Region,
		Previous:       prev,
		Current:        res.Status,
		ResponseTimeMs: res.ResponseTimeMs,
		At:             res.ProbedAt,
	})
	if err != nil {
		w.log.Warn("Failed to send status change", "site", task.SiteID, "error", err)
	}
}
