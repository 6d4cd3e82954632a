package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/uptime/internal/core/domain"
	"github.com/vietddude/uptime/internal/infra/storage"
)

const (
	statsWindow  = 30 * day
	recentTicks  = 50
	defaultGraph = day
)

// Engine derives read-time aggregates from tick history. It never writes.
type Engine struct {
	ticks storage.TickRepository
	now   func() time.Time
}

// NewEngine creates an engine reading from ticks.
func NewEngine(ticks storage.TickRepository) *Engine {
	return &Engine{ticks: ticks, now: time.Now}
}

// Graph returns the buckets for [start, end] at the resolution chosen by
// BucketWidth. Empty buckets are omitted. Empty region means all regions.
func (e *Engine) Graph(ctx context.Context, siteID string, start, end time.Time, region string) ([]domain.Bucket, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("invalid window: end %s is not after start %s", end, start)
	}
	buckets, err := e.ticks.Buckets(ctx, storage.BucketQuery{
		SiteID:   siteID,
		RegionID: region,
		Start:    start,
		End:      end,
		Width:    BucketWidth(start, end),
	})
	if err != nil {
		return nil, fmt.Errorf("load buckets: %w", err)
	}
	return buckets, nil
}

// Uptime returns the uptime percentage over the lookback ending now.
func (e *Engine) Uptime(ctx context.Context, siteID, region string, lookback time.Duration) (float64, error) {
	now := e.now()
	buckets, err := e.Graph(ctx, siteID, now.Add(-lookback), now, region)
	if err != nil {
		return 0, err
	}
	return Window(buckets, now, lookback).UptimePercent(), nil
}

// Streak reports how long the site's latest status has held across all
// regions, or nil when the site has never been checked.
func (e *Engine) Streak(ctx context.Context, siteID string) (*domain.Streak, error) {
	first, err := e.ticks.CurrentRunStart(ctx, siteID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load current run: %w", err)
	}

	d := e.now().Sub(first.CreatedAt)
	if d < 0 {
		d = 0 // worker clocks ahead of ours
	}
	return &domain.Streak{
		Status:   first.Status,
		Since:    first.CreatedAt,
		Duration: d.Truncate(time.Second),
	}, nil
}

// SummaryQuery selects the graph window of a summary. A zero Start/End
// pair means the last Days days; Days defaults to 1.
type SummaryQuery struct {
	Start  time.Time
	End    time.Time
	Days   int
	Region string
}

// Stats are rolling figures computed from the last 30 days of buckets.
type Stats struct {
	Uptime24h          float64  `json:"uptime_24h"`
	Uptime7d           *float64 `json:"uptime_7d"`
	Uptime30d          *float64 `json:"uptime_30d"`
	Incidents24h       int64    `json:"incidents_24h"`
	AvgResponseTime24h float64  `json:"avg_response_time_24h"`
}

// Summary is the detail view of one site.
type Summary struct {
	SiteID      string          `json:"site_id"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	BucketWidth time.Duration   `json:"bucket_width"`
	Graph       []domain.Bucket `json:"graph"`
	Stats       Stats           `json:"stats"`
	Recent      []*domain.Tick  `json:"recent_ticks"`
	Streak      *domain.Streak  `json:"streak"`
}

// Summary builds the detail view of a site: the requested graph, rolling
// stats, the latest ticks and the current streak.
func (e *Engine) Summary(ctx context.Context, siteID string, q SummaryQuery) (*Summary, error) {
	now := e.now()
	start, end := q.Start, q.End
	if start.IsZero() || end.IsZero() {
		days := q.Days
		if days <= 0 {
			days = int(defaultGraph / day)
		}
		start, end = now.Add(-time.Duration(days)*day), now
	}

	graph, err := e.Graph(ctx, siteID, start, end, q.Region)
	if err != nil {
		return nil, err
	}

	statsBuckets, err := e.Graph(ctx, siteID, now.Add(-statsWindow), now, q.Region)
	if err != nil {
		return nil, err
	}
	last24h := Window(statsBuckets, now, day)
	stats := Stats{
		Uptime24h:          last24h.UptimePercent(),
		Incidents24h:       last24h.Down,
		AvgResponseTime24h: last24h.AvgResponseTime,
	}
	if w := Window(statsBuckets, now, 7*day); w.Buckets > 0 {
		v := w.UptimePercent()
		stats.Uptime7d = &v
	}
	if w := Window(statsBuckets, now, statsWindow); w.Buckets > 0 {
		v := w.UptimePercent()
		stats.Uptime30d = &v
	}

	recent, err := e.ticks.List(ctx, storage.TickQuery{SiteID: siteID, RegionID: q.Region, Limit: recentTicks})
	if err != nil {
		return nil, fmt.Errorf("load recent ticks: %w", err)
	}

	streak, err := e.Streak(ctx, siteID)
	if err != nil {
		return nil, err
	}

	return &Summary{
		SiteID:      siteID,
		Start:       start,
		End:         end,
		BucketWidth: BucketWidth(start, end),
		Graph:       graph,
		Stats:       stats,
		Recent:      recent,
		Streak:      streak,
	}, nil
}

// Overview is the list view of one site: its latest tick and streak.
type Overview struct {
	Site   *domain.Site   `json:"site"`
	Status string         `json:"status"` // UP, DOWN or unknown
	Latest *domain.Tick   `json:"latest,omitempty"`
	Streak *domain.Streak `json:"streak,omitempty"`
}

// StatusUnknown marks a site with no ticks.
const StatusUnknown = "unknown"

// Overview returns the latest status of a site, optionally for one region.
func (e *Engine) Overview(ctx context.Context, site *domain.Site, region string) (*Overview, error) {
	out := &Overview{Site: site, Status: StatusUnknown}

	latest, err := e.ticks.List(ctx, storage.TickQuery{SiteID: site.ID, RegionID: region, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("load latest tick: %w", err)
	}
	if len(latest) > 0 {
		out.Latest = latest[0]
		out.Status = string(latest[0].Status)
	}

	if out.Streak, err = e.Streak(ctx, site.ID); err != nil {
		return nil, err
	}
	return out, nil
}
