package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vietddude/uptime/internal/core/domain"
	"github.com/vietddude/uptime/internal/monitoring/metrics"
	"github.com/vietddude/uptime/internal/observability"
)

// SiteLister reads the sites to check.
type SiteLister interface {
	List(ctx context.Context) ([]*domain.Site, error)
}

// Appender appends tasks to a topic in one batch.
type Appender interface {
	AppendBatch(ctx context.Context, topic string, tasks []domain.CheckTask) ([]string, error)
}

// Status is a snapshot of the pusher for health reporting.
type Status struct {
	Schedule  string    `json:"schedule"`
	LastRun   time.Time `json:"last_run"`
	NextRun   time.Time `json:"next_run"`
	LastCount int       `json:"last_count"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int64     `json:"runs"`
}

// Pusher enqueues one check task per site on every scheduled tick.
type Pusher struct {
	sites    SiteLister
	queue    Appender
	topic    string
	schedule Schedule
	log      *slog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	status Status
}

// NewPusher creates a pusher appending to topic.
func NewPusher(sites SiteLister, q Appender, topic string, schedule Schedule) *Pusher {
	return &Pusher{
		sites:    sites,
		queue:    q,
		topic:    topic,
		schedule: schedule,
		log:      slog.Default().With("component", "scheduler"),
		now:      time.Now,
		status:   Status{Schedule: schedule.String()},
	}
}

// Status returns a snapshot for health reporting.
func (p *Pusher) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Run fires until ctx is cancelled. Ticks never overlap: the next fire
// time is computed once the previous tick has returned. Failures are
// logged and retried on the next tick.
func (p *Pusher) Run(ctx context.Context) error {
	p.log.Info("Scheduler starting", "schedule", p.schedule.String(), "topic", p.topic)

	if p.schedule.KickOnStart() {
		p.tick(ctx)
	}

	for {
		next := p.schedule.Next(p.now())
		p.mu.Lock()
		p.status.NextRun = next
		p.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			p.log.Info("Scheduler stopped")
			return ctx.Err()
		case <-timer.C:
			p.tick(ctx)
		}
	}
}

func (p *Pusher) tick(ctx context.Context) {
	n, err := p.Push(ctx)

	p.mu.Lock()
	p.status.LastRun = p.now()
	p.status.Runs++
	p.status.LastCount = n
	p.status.LastError = ""
	if err != nil {
		p.status.LastError = err.Error()
	}
	p.mu.Unlock()

	switch {
	case err != nil:
		metrics.SchedulerRuns.WithLabelValues("error").Inc()
		p.log.Error("Scheduler tick failed", "error", err)
	case n == 0:
		metrics.SchedulerRuns.WithLabelValues("empty").Inc()
		p.log.Info("No sites to check")
	default:
		metrics.SchedulerRuns.WithLabelValues("ok").Inc()
		p.log.Info("Enqueued checks", "count", n)
	}
}

// Push lists all sites and appends one task per site as a single batch.
// It returns the number of tasks appended.
func (p *Pusher) Push(ctx context.Context) (int, error) {
	ctx, span := observability.StartSpan(ctx, "scheduler.push", attribute.String("topic", p.topic))
	defer span.End()

	sites, err := p.sites.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sites: %w", err)
	}
	if len(sites) == 0 {
		return 0, nil
	}

	tasks := make([]domain.CheckTask, 0, len(sites))
	for _, s := range sites {
		tasks = append(tasks, domain.CheckTask{SiteID: s.ID, URL: s.URL})
	}
	ids, err := p.queue.AppendBatch(ctx, p.topic, tasks)
	if err != nil {
		return 0, fmt.Errorf("append batch: %w", err)
	}

	span.SetAttributes(attribute.Int("tasks", len(ids)))
	metrics.TasksEnqueued.Add(float64(len(ids)))
	return len(ids), nil
}
