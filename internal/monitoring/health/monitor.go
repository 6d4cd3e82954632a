package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/uptime/internal/monitoring/scheduler"
	"github.com/vietddude/uptime/internal/monitoring/worker"
)

// Pinger is a dependency that can be probed for reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WorkerSource exposes a worker's status snapshot.
type WorkerSource interface {
	Region() string
	Status() worker.Status
}

// SchedulerSource exposes the pusher's status snapshot.
type SchedulerSource interface {
	Status() scheduler.Status
}

const (
	defaultCacheTTL = 2 * time.Second
	pingTimeout     = 2 * time.Second

	// a worker reconnecting this long after its last cycle is critical
	connectingCritical = time.Minute
)

// Monitor aggregates health status from the store, the queues, the workers
// and the scheduler.
type Monitor struct {
	pingers   map[string]Pinger
	workers   []WorkerSource
	scheduler SchedulerSource
	cacheTTL  time.Duration
	now       func() time.Time

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *HealthReport
	listeners  []func(*HealthReport)
}

// NewMonitor creates a new health monitor. Components are keyed by name,
// e.g. "store" or "queue.eu".
func NewMonitor(pingers map[string]Pinger, workers []WorkerSource, sched SchedulerSource) *Monitor {
	return &Monitor{
		pingers:   pingers,
		workers:   workers,
		scheduler: sched,
		cacheTTL:  defaultCacheTTL,
		now:       time.Now,
	}
}

// OnReport registers a callback invoked with every freshly computed report.
func (m *Monitor) OnReport(fn func(*HealthReport)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// CheckHealth evaluates every component. Results are cached briefly so
// probes hitting /health do not hammer the store.
func (m *Monitor) CheckHealth(ctx context.Context) *HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.lastReport != nil && now.Sub(m.lastCheck) < m.cacheTTL {
		return m.lastReport
	}

	report := &HealthReport{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth, len(m.pingers)),
	}

	for name, p := range m.pingers {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := p.Ping(pctx)
		cancel()
		c := ComponentHealth{Status: StatusHealthy}
		if err != nil {
			c = ComponentHealth{Status: StatusCritical, Error: err.Error()}
		}
		report.Components[name] = c
		report.SystemStatus = worse(report.SystemStatus, c.Status)
	}

	if len(m.workers) > 0 {
		report.Workers = make(map[string]WorkerHealth, len(m.workers))
	}
	for _, w := range m.workers {
		st := w.Status()
		h := WorkerHealth{Status: evaluateWorker(st, now), Worker: st}
		report.Workers[w.Region()] = h
		report.SystemStatus = worse(report.SystemStatus, h.Status)
	}

	if m.scheduler != nil {
		st := m.scheduler.Status()
		h := &SchedulerHealth{Status: StatusHealthy, Scheduler: st}
		if st.LastError != "" {
			h.Status = StatusDegraded
		}
		report.Scheduler = h
		report.SystemStatus = worse(report.SystemStatus, h.Status)
	}

	m.lastCheck = now
	m.lastReport = report
	for _, fn := range m.listeners {
		fn(report)
	}
	return report
}

func evaluateWorker(st worker.Status, now time.Time) SystemStatus {
	if st.State != worker.StateConnecting {
		return StatusHealthy
	}
	// the initial connect has no error yet
	if st.LastError == "" {
		return StatusHealthy
	}
	if st.LastCycle.IsZero() || now.Sub(st.LastCycle) > connectingCritical {
		return StatusCritical
	}
	return StatusDegraded
}
