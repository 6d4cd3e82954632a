// Package storagetest holds behaviour checks shared by every store backend.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vietddude/uptime/internal/core/domain"
	"github.com/vietddude/uptime/internal/infra/storage"
)

// Run exercises a store. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("SiteLifecycle", func(t *testing.T) { testSiteLifecycle(t, newStore(t)) })
	t.Run("InsertUnknownSite", func(t *testing.T) { testInsertUnknownSite(t, newStore(t)) })
	t.Run("ListNewestFirst", func(t *testing.T) { testListNewestFirst(t, newStore(t)) })
	t.Run("Buckets", func(t *testing.T) { testBuckets(t, newStore(t)) })
	t.Run("BucketsIncludeWindowEdges", func(t *testing.T) { testBucketsIncludeWindowEdges(t, newStore(t)) })
	t.Run("CurrentRunStart", func(t *testing.T) { testCurrentRunStart(t, newStore(t)) })
	t.Run("DeleteOlderThan", func(t *testing.T) { testDeleteOlderThan(t, newStore(t)) })
}

var base = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func mustSite(t *testing.T, s storage.Store, url string) *domain.Site {
	t.Helper()
	site := &domain.Site{URL: url, OwnerID: "owner-1", CreatedAt: base}
	if err := s.Sites().Create(context.Background(), site); err != nil {
		t.Fatalf("Create site failed: %v", err)
	}
	if site.ID == "" {
		t.Fatal("expected site ID to be assigned")
	}
	return site
}

func mustTick(t *testing.T, s storage.Store, siteID, region string, status domain.Status, rt int64, at time.Time) {
	t.Helper()
	tick := &domain.Tick{
		SiteID:         siteID,
		RegionID:       region,
		Status:         status,
		ResponseTimeMs: rt,
		CreatedAt:      at,
	}
	if err := s.Ticks().Insert(context.Background(), tick); err != nil {
		t.Fatalf("Insert tick failed: %v", err)
	}
}

func testSiteLifecycle(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := mustSite(t, s, "https://a.example")
	b := mustSite(t, s, "https://b.example")

	got, err := s.Sites().Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.URL != a.URL || got.OwnerID != a.OwnerID {
		t.Errorf("Get returned %+v, want %+v", got, a)
	}

	sites, err := s.Sites().List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sites) != 2 {
		t.Fatalf("expected 2 sites, got %d", len(sites))
	}

	mustTick(t, s, b.ID, "india-1", domain.StatusUp, 10, base)
	if err := s.Sites().Delete(ctx, b.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Sites().Get(ctx, b.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := s.Ticks().Latest(ctx, b.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ticks removed with site, got %v", err)
	}
	if err := s.Sites().Delete(ctx, b.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func testInsertUnknownSite(t *testing.T, s storage.Store) {
	err := s.Ticks().Insert(context.Background(), &domain.Tick{
		SiteID:    "5b0c8a8e-0000-4000-8000-000000000000",
		RegionID:  "india-1",
		Status:    domain.StatusUp,
		CreatedAt: base,
	})
	if !errors.Is(err, storage.ErrSiteNotFound) {
		t.Fatalf("expected ErrSiteNotFound, got %v", err)
	}
}

func testListNewestFirst(t *testing.T, s storage.Store) {
	site := mustSite(t, s, "https://list.example")
	mustTick(t, s, site.ID, "india-1", domain.StatusUp, 10, base)
	mustTick(t, s, site.ID, "us-east-1", domain.StatusDown, 20, base.Add(time.Minute))
	mustTick(t, s, site.ID, "india-1", domain.StatusUp, 30, base.Add(2*time.Minute))

	ticks, err := s.Ticks().List(context.Background(), storage.TickQuery{SiteID: site.ID, Limit: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var got []int64
	for _, tk := range ticks {
		got = append(got, tk.ResponseTimeMs)
	}
	if diff := cmp.Diff([]int64{30, 20}, got); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}

	ticks, err = s.Ticks().List(context.Background(), storage.TickQuery{SiteID: site.ID, RegionID: "us-east-1"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(ticks) != 1 || ticks[0].Status != domain.StatusDown {
		t.Errorf("region filter returned %+v", ticks)
	}
	if !ticks[0].CreatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("created_at round trip: got %s", ticks[0].CreatedAt)
	}
}

func testBuckets(t *testing.T, s storage.Store) {
	site := mustSite(t, s, "https://buckets.example")
	width := 2 * time.Minute

	// Bucket [00:00, 00:02): UP 100 + DOWN 300.
	mustTick(t, s, site.ID, "india-1", domain.StatusUp, 100, base.Add(10*time.Second))
	mustTick(t, s, site.ID, "us-east-1", domain.StatusDown, 300, base.Add(90*time.Second))
	// Bucket [00:04, 00:06): UP 50.
	mustTick(t, s, site.ID, "india-1", domain.StatusUp, 50, base.Add(5*time.Minute))
	// Outside range.
	mustTick(t, s, site.ID, "india-1", domain.StatusUp, 999, base.Add(time.Hour))

	buckets, err := s.Ticks().Buckets(context.Background(), storage.BucketQuery{
		SiteID: site.ID,
		Start:  base,
		End:    base.Add(10 * time.Minute),
		Width:  width,
	})
	if err != nil {
		t.Fatalf("Buckets failed: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d: %+v", len(buckets), buckets)
	}
	want := []domain.Bucket{
		{Start: base, AvgResponseTime: 200, DownCount: 1, TotalCount: 2},
		{Start: base.Add(4 * time.Minute), AvgResponseTime: 50, DownCount: 0, TotalCount: 1},
	}
	for i := range want {
		if !buckets[i].Start.Equal(want[i].Start) {
			t.Errorf("bucket %d start = %s, want %s", i, buckets[i].Start, want[i].Start)
		}
		buckets[i].Start = want[i].Start
	}
	if diff := cmp.Diff(want, buckets); diff != "" {
		t.Errorf("Buckets mismatch (-want +got):\n%s", diff)
	}

	regional, err := s.Ticks().Buckets(context.Background(), storage.BucketQuery{
		SiteID:   site.ID,
		RegionID: "us-east-1",
		Start:    base,
		End:      base.Add(10 * time.Minute),
		Width:    width,
	})
	if err != nil {
		t.Fatalf("Buckets failed: %v", err)
	}
	if len(regional) != 1 || regional[0].TotalCount != 1 || regional[0].DownCount != 1 {
		t.Errorf("region filter returned %+v", regional)
	}
}

func testBucketsIncludeWindowEdges(t *testing.T, s storage.Store) {
	site := mustSite(t, s, "https://edges.example")
	start := base
	end := base.Add(12 * time.Hour)

	mustTick(t, s, site.ID, "india-1", domain.StatusUp, 20, start)
	mustTick(t, s, site.ID, "india-1", domain.StatusDown, 40, end)
	mustTick(t, s, site.ID, "india-1", domain.StatusDown, 80, end.Add(time.Millisecond))

	buckets, err := s.Ticks().Buckets(context.Background(), storage.BucketQuery{
		SiteID: site.ID,
		Start:  start,
		End:    end,
		Width:  2 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Buckets failed: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("expected buckets at both edges, got %d: %+v", len(buckets), buckets)
	}
	last := buckets[1]
	if !last.Start.Equal(end) || last.TotalCount != 1 || last.DownCount != 1 {
		t.Errorf("end bucket = %+v, want one DOWN tick at %s", last, end)
	}
}

func testCurrentRunStart(t *testing.T, s storage.Store) {
	ctx := context.Background()
	site := mustSite(t, s, "https://streak.example")

	if _, err := s.Ticks().CurrentRunStart(ctx, site.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound with no ticks, got %v", err)
	}

	mustTick(t, s, site.ID, "india-1", domain.StatusUp, 10, base)
	mustTick(t, s, site.ID, "india-1", domain.StatusUp, 10, base.Add(time.Minute))

	got, err := s.Ticks().CurrentRunStart(ctx, site.ID)
	if err != nil {
		t.Fatalf("CurrentRunStart failed: %v", err)
	}
	if !got.CreatedAt.Equal(base) || got.Status != domain.StatusUp {
		t.Errorf("single run: got %s %s, want UP at %s", got.Status, got.CreatedAt, base)
	}

	mustTick(t, s, site.ID, "india-1", domain.StatusDown, 10, base.Add(2*time.Minute))
	mustTick(t, s, site.ID, "india-1", domain.StatusDown, 10, base.Add(3*time.Minute))

	got, err = s.Ticks().CurrentRunStart(ctx, site.ID)
	if err != nil {
		t.Fatalf("CurrentRunStart failed: %v", err)
	}
	if !got.CreatedAt.Equal(base.Add(2*time.Minute)) || got.Status != domain.StatusDown {
		t.Errorf("after change: got %s %s, want DOWN at %s", got.Status, got.CreatedAt, base.Add(2*time.Minute))
	}

	latest, err := s.Ticks().Latest(ctx, site.ID)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if !latest.CreatedAt.Equal(base.Add(3 * time.Minute)) {
		t.Errorf("Latest = %s", latest.CreatedAt)
	}
}

func testDeleteOlderThan(t *testing.T, s storage.Store) {
	ctx := context.Background()
	site := mustSite(t, s, "https://prune.example")
	mustTick(t, s, site.ID, "india-1", domain.StatusUp, 10, base)
	mustTick(t, s, site.ID, "india-1", domain.StatusUp, 10, base.Add(time.Hour))
	mustTick(t, s, site.ID, "india-1", domain.StatusUp, 10, base.Add(2*time.Hour))

	n, err := s.Ticks().DeleteOlderThan(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}
	ticks, err := s.Ticks().List(ctx, storage.TickQuery{SiteID: site.ID})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(ticks) != 2 {
		t.Errorf("expected 2 remaining ticks, got %d", len(ticks))
	}
}
