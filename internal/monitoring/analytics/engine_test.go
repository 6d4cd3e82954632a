package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vietddude/uptime/internal/core/domain"
	"github.com/vietddude/uptime/internal/infra/storage"
	"github.com/vietddude/uptime/internal/infra/storage/memory"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestBucketWidth(t *testing.T) {
	tests := []struct {
		name string
		span time.Duration
		want time.Duration
	}{
		{"12 hours", 12 * time.Hour, 2 * time.Minute},
		{"exactly one day", 24 * time.Hour, 2 * time.Minute},
		{"one and a half days", 36 * time.Hour, 2 * time.Minute},
		{"two days", 48 * time.Hour, 15 * time.Minute},
		{"seven days", 7 * day, 15 * time.Minute},
		{"first to eighth of the month", 7*day + 23*time.Hour + 59*time.Minute, 15 * time.Minute},
		{"eight days", 8 * day, 30 * time.Minute},
		{"thirty days", 30 * day, 30 * time.Minute},
		{"ninety days", 90 * day, time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BucketWidth(base, base.Add(tt.span)); got != tt.want {
				t.Errorf("BucketWidth(%s) = %s, want %s", tt.span, got, tt.want)
			}
		})
	}
}

func TestBucketWidth_NeverNarrowsAsSpanGrows(t *testing.T) {
	prev := time.Duration(0)
	for h := 1; h <= 24*120; h++ {
		w := BucketWidth(base, base.Add(time.Duration(h)*time.Hour))
		if w < prev {
			t.Fatalf("width shrank at %dh: %s < %s", h, w, prev)
		}
		prev = w
	}
}

func TestWindow_UptimePercent(t *testing.T) {
	now := base
	buckets := []domain.Bucket{
		{Start: now.Add(-48 * time.Hour), TotalCount: 10, DownCount: 10, AvgResponseTime: 900},
		{Start: now.Add(-time.Hour), TotalCount: 3, DownCount: 1, AvgResponseTime: 100},
		{Start: now.Add(-2 * time.Minute), TotalCount: 1, DownCount: 0, AvgResponseTime: 300},
		{Start: now.Add(time.Minute), TotalCount: 5, DownCount: 5},
	}

	got := Window(buckets, now, day)
	want := Totals{Buckets: 2, Total: 4, Down: 1, AvgResponseTime: 200}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Window mismatch (-want +got):\n%s", diff)
	}
	if p := got.UptimePercent(); p != 75 {
		t.Errorf("UptimePercent() = %v, want 75", p)
	}

	if p := Window(nil, now, day).UptimePercent(); p != 100 {
		t.Errorf("empty UptimePercent() = %v, want 100", p)
	}
}

type fixture struct {
	store  *memory.Store
	engine *Engine
	site   *domain.Site
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	site := &domain.Site{URL: "https://example.com"}
	if err := store.Sites().Create(context.Background(), site); err != nil {
		t.Fatalf("create site: %v", err)
	}
	e := NewEngine(store.Ticks())
	e.now = func() time.Time { return base }
	return &fixture{store: store, engine: e, site: site}
}

func (f *fixture) tick(t *testing.T, region string, status domain.Status, ms int64, at time.Time) {
	t.Helper()
	err := f.store.Ticks().Insert(context.Background(), &domain.Tick{
		SiteID:         f.site.ID,
		RegionID:       region,
		Status:         status,
		ResponseTimeMs: ms,
		CreatedAt:      at,
	})
	if err != nil {
		t.Fatalf("insert tick: %v", err)
	}
}

func TestEngine_Streak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.engine.Streak(ctx, f.site.ID)
	if err != nil {
		t.Fatalf("Streak() error = %v", err)
	}
	if got != nil {
		t.Fatalf("Streak() on a site with no ticks = %+v, want nil", got)
	}

	t3 := base.Add(-30 * time.Minute)
	f.tick(t, "eu", domain.StatusUp, 100, base.Add(-50*time.Minute))
	f.tick(t, "us", domain.StatusUp, 100, base.Add(-40*time.Minute))
	f.tick(t, "eu", domain.StatusDown, 0, t3)
	f.tick(t, "us", domain.StatusDown, 0, base.Add(-20*time.Minute))

	got, err = f.engine.Streak(ctx, f.site.ID)
	if err != nil {
		t.Fatalf("Streak() error = %v", err)
	}
	want := &domain.Streak{Status: domain.StatusDown, Since: t3, Duration: 30 * time.Minute}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Streak mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_StreakClampsFutureTicks(t *testing.T) {
	f := newFixture(t)
	f.tick(t, "eu", domain.StatusUp, 100, base.Add(time.Minute))

	got, err := f.engine.Streak(context.Background(), f.site.ID)
	if err != nil {
		t.Fatalf("Streak() error = %v", err)
	}
	if got.Duration != 0 {
		t.Errorf("Duration = %s, want 0", got.Duration)
	}
}

func TestEngine_UptimeCountsTickAtNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.tick(t, "eu", domain.StatusDown, 40, base)

	graph, err := f.engine.Graph(ctx, f.site.ID, base.Add(-12*time.Hour), base, "")
	if err != nil {
		t.Fatalf("Graph() error = %v", err)
	}
	if len(graph) != 1 || graph[0].DownCount != 1 {
		t.Fatalf("Graph() = %+v, want the tick stamped at end", graph)
	}

	up, err := f.engine.Uptime(ctx, f.site.ID, "", day)
	if err != nil {
		t.Fatalf("Uptime() error = %v", err)
	}
	if up != 0 {
		t.Errorf("Uptime() = %v, want 0", up)
	}
}

func TestEngine_GraphAndUptime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// two ticks in the same 2m bucket, one in the next
	slot := storage.BucketStart(base.Add(-10*time.Minute), 2*time.Minute)
	f.tick(t, "eu", domain.StatusUp, 100, slot)
	f.tick(t, "us", domain.StatusDown, 300, slot.Add(30*time.Second))
	f.tick(t, "eu", domain.StatusUp, 200, slot.Add(2*time.Minute))

	graph, err := f.engine.Graph(ctx, f.site.ID, base.Add(-12*time.Hour), base, "")
	if err != nil {
		t.Fatalf("Graph() error = %v", err)
	}
	want := []domain.Bucket{
		{Start: slot, AvgResponseTime: 200, DownCount: 1, TotalCount: 2},
		{Start: slot.Add(2 * time.Minute), AvgResponseTime: 200, DownCount: 0, TotalCount: 1},
	}
	if diff := cmp.Diff(want, graph); diff != "" {
		t.Errorf("Graph mismatch (-want +got):\n%s", diff)
	}

	eu, err := f.engine.Graph(ctx, f.site.ID, base.Add(-12*time.Hour), base, "eu")
	if err != nil {
		t.Fatalf("Graph(eu) error = %v", err)
	}
	if len(eu) != 2 || eu[0].TotalCount != 1 {
		t.Errorf("Graph(eu) = %+v, want one eu tick per bucket", eu)
	}

	up, err := f.engine.Uptime(ctx, f.site.ID, "", day)
	if err != nil {
		t.Fatalf("Uptime() error = %v", err)
	}
	if want := 200.0 / 3; up != want {
		t.Errorf("Uptime() = %v, want %v", up, want)
	}

	none, err := f.engine.Uptime(ctx, f.site.ID, "ap", day)
	if err != nil {
		t.Fatalf("Uptime(ap) error = %v", err)
	}
	if none != 100 {
		t.Errorf("Uptime(ap) = %v, want 100 with no data", none)
	}

	if _, err := f.engine.Graph(ctx, f.site.ID, base, base, ""); err == nil {
		t.Error("Graph() with empty window should fail")
	}
}

func TestEngine_Summary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := base.Add(-10 * day)
	f.tick(t, "eu", domain.StatusDown, 0, old)
	f.tick(t, "eu", domain.StatusUp, 100, base.Add(-2*time.Hour))
	f.tick(t, "eu", domain.StatusDown, 500, base.Add(-time.Hour))

	s, err := f.engine.Summary(ctx, f.site.ID, SummaryQuery{})
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}

	if !s.Start.Equal(base.Add(-day)) || !s.End.Equal(base) {
		t.Errorf("window = [%s, %s], want the last day", s.Start, s.End)
	}
	if s.BucketWidth != 2*time.Minute {
		t.Errorf("BucketWidth = %s, want 2m", s.BucketWidth)
	}
	if len(s.Graph) != 2 {
		t.Errorf("len(Graph) = %d, want 2", len(s.Graph))
	}
	if len(s.Recent) != 3 || s.Recent[0].Status != domain.StatusDown {
		t.Errorf("Recent = %+v, want 3 ticks newest first", s.Recent)
	}
	if s.Streak == nil || s.Streak.Status != domain.StatusDown || s.Streak.Duration != time.Hour {
		t.Errorf("Streak = %+v, want DOWN for 1h", s.Streak)
	}

	if s.Stats.Uptime24h != 50 {
		t.Errorf("Uptime24h = %v, want 50", s.Stats.Uptime24h)
	}
	if s.Stats.Incidents24h != 1 {
		t.Errorf("Incidents24h = %d, want 1", s.Stats.Incidents24h)
	}
	if s.Stats.AvgResponseTime24h != 300 {
		t.Errorf("AvgResponseTime24h = %v, want 300", s.Stats.AvgResponseTime24h)
	}
	if s.Stats.Uptime7d == nil || *s.Stats.Uptime7d != 50 {
		t.Errorf("Uptime7d = %v, want 50", s.Stats.Uptime7d)
	}
	if s.Stats.Uptime30d == nil || *s.Stats.Uptime30d != 100.0/3 {
		t.Errorf("Uptime30d = %v, want 33.3", s.Stats.Uptime30d)
	}
}

func TestEngine_SummaryWithoutTicks(t *testing.T) {
	f := newFixture(t)

	s, err := f.engine.Summary(context.Background(), f.site.ID, SummaryQuery{Days: 7})
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if s.BucketWidth != 15*time.Minute {
		t.Errorf("BucketWidth = %s, want 15m", s.BucketWidth)
	}
	if s.Stats.Uptime24h != 100 || s.Stats.Uptime7d != nil || s.Stats.Uptime30d != nil {
		t.Errorf("Stats = %+v, want 100 for 24h and no 7d/30d figures", s.Stats)
	}
	if s.Streak != nil || len(s.Recent) != 0 || len(s.Graph) != 0 {
		t.Errorf("Summary = %+v, want empty", s)
	}
}

func TestEngine_Overview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.engine.Overview(ctx, f.site, "")
	if err != nil {
		t.Fatalf("Overview() error = %v", err)
	}
	if o.Status != StatusUnknown || o.Latest != nil || o.Streak != nil {
		t.Errorf("Overview() = %+v, want unknown", o)
	}

	f.tick(t, "eu", domain.StatusUp, 100, base.Add(-2*time.Minute))
	f.tick(t, "us", domain.StatusDown, 0, base.Add(-time.Minute))

	o, err = f.engine.Overview(ctx, f.site, "eu")
	if err != nil {
		t.Fatalf("Overview(eu) error = %v", err)
	}
	if o.Status != "UP" || o.Latest.RegionID != "eu" {
		t.Errorf("Overview(eu) = %+v, want the eu tick", o)
	}
	if o.Streak.Status != domain.StatusDown {
		t.Errorf("Streak = %+v, want the cross-region DOWN run", o.Streak)
	}
}
