package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/uptime/internal/monitoring/metrics"
)

// TickPruner is the slice of the tick repository the pruner needs.
type TickPruner interface {
	DeleteOlderThan(ctx context.Context, threshold time.Time) (int64, error)
}

// Pruner deletes ticks older than the retention period.
type Pruner struct {
	period time.Duration
	ticks  TickPruner
	now    func() time.Time
}

// NewPruner creates a new Pruner. A non-positive period disables it.
func NewPruner(period time.Duration, ticks TickPruner) *Pruner {
	return &Pruner{period: period, ticks: ticks, now: time.Now}
}

// Interval is 10% of the retention period, clamped to [1m, 1h].
func (p *Pruner) Interval() time.Duration {
	interval := min(p.period/10, 1*time.Hour)
	return max(interval, 1*time.Minute)
}

// Start runs the pruner loop until ctx is cancelled.
func (p *Pruner) Start(ctx context.Context) {
	if p.period <= 0 {
		return // Retention disabled
	}

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	// Initial prune
	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune deletes every tick created before now minus the retention period.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	threshold := p.now().Add(-p.period)

	n, err := p.ticks.DeleteOlderThan(ctx, threshold)
	if err != nil {
		slog.Error("Failed to prune ticks", "threshold", threshold, "error", err)
		return 0, err
	}
	if n > 0 {
		metrics.TicksPruned.Add(float64(n))
		slog.Info("Pruned ticks", "count", n, "threshold", threshold)
	}
	return n, nil
}
