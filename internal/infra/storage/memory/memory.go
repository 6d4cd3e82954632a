package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/uptime/internal/core/domain"
	"github.com/vietddude/uptime/internal/infra/storage"
)

// Store keeps sites and ticks in process memory.
type Store struct {
	mu    sync.RWMutex
	sites map[string]*domain.Site
	ticks map[string][]*domain.Tick // per site, ascending by CreatedAt
	now   func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		sites: make(map[string]*domain.Site),
		ticks: make(map[string][]*domain.Tick),
		now:   time.Now,
	}
}

func (s *Store) Sites() storage.SiteRepository { return &SiteRepo{store: s} }
func (s *Store) Ticks() storage.TickRepository { return &TickRepo{store: s} }

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }
func (s *Store) Close() error                   { return nil }

// -----------------------------------------------------------------------------
// Site Repository
// -----------------------------------------------------------------------------

type SiteRepo struct {
	store *Store
}

func (r *SiteRepo) Create(ctx context.Context, site *domain.Site) error {
	if site.ID == "" {
		site.ID = uuid.NewString()
	}
	if site.CreatedAt.IsZero() {
		site.CreatedAt = r.store.now().UTC()
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *site
	r.store.sites[site.ID] = &cp
	return nil
}

func (r *SiteRepo) Get(ctx context.Context, id string) (*domain.Site, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	site, ok := r.store.sites[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *site
	return &cp, nil
}

func (r *SiteRepo) List(ctx context.Context) ([]*domain.Site, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.Site, 0, len(r.store.sites))
	for _, site := range r.store.sites {
		cp := *site
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *SiteRepo) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.sites[id]; !ok {
		return storage.ErrNotFound
	}
	delete(r.store.sites, id)
	delete(r.store.ticks, id)
	return nil
}

// -----------------------------------------------------------------------------
// Tick Repository
// -----------------------------------------------------------------------------

type TickRepo struct {
	store *Store
}

func (r *TickRepo) Insert(ctx context.Context, tick *domain.Tick) error {
	if tick.ID == "" {
		tick.ID = uuid.NewString()
	}
	if tick.CreatedAt.IsZero() {
		tick.CreatedAt = r.store.now()
	}
	tick.CreatedAt = tick.CreatedAt.UTC()

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.sites[tick.SiteID]; !ok {
		return storage.ErrSiteNotFound
	}

	cp := *tick
	list := r.store.ticks[tick.SiteID]
	// Keep ascending order; equal timestamps keep insertion order.
	i := sort.Search(len(list), func(i int) bool {
		return list[i].CreatedAt.After(cp.CreatedAt)
	})
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = &cp
	r.store.ticks[tick.SiteID] = list
	return nil
}

func (r *TickRepo) List(ctx context.Context, q storage.TickQuery) ([]*domain.Tick, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	list := r.store.ticks[q.SiteID]
	out := make([]*domain.Tick, 0)
	for i := len(list) - 1; i >= 0; i-- {
		if q.RegionID != "" && list[i].RegionID != q.RegionID {
			continue
		}
		cp := *list[i]
		out = append(out, &cp)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (r *TickRepo) Buckets(ctx context.Context, q storage.BucketQuery) ([]domain.Bucket, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	type agg struct {
		sum   int64
		down  int64
		total int64
	}
	byStart := make(map[int64]*agg)
	for _, t := range r.store.ticks[q.SiteID] {
		if t.CreatedAt.Before(q.Start) || t.CreatedAt.After(q.End) {
			continue
		}
		if q.RegionID != "" && t.RegionID != q.RegionID {
			continue
		}
		key := storage.BucketStart(t.CreatedAt, q.Width).UnixMilli()
		a, ok := byStart[key]
		if !ok {
			a = &agg{}
			byStart[key] = a
		}
		a.sum += t.ResponseTimeMs
		a.total++
		if t.Status == domain.StatusDown {
			a.down++
		}
	}

	out := make([]domain.Bucket, 0, len(byStart))
	for key, a := range byStart {
		out = append(out, domain.Bucket{
			Start:           time.UnixMilli(key).UTC(),
			AvgResponseTime: float64(a.sum) / float64(a.total),
			DownCount:       a.down,
			TotalCount:      a.total,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (r *TickRepo) CurrentRunStart(ctx context.Context, siteID string) (*domain.Tick, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	list := r.store.ticks[siteID]
	if len(list) == 0 {
		return nil, storage.ErrNotFound
	}
	current := list[len(list)-1].Status
	i := len(list) - 1
	for i > 0 && list[i-1].Status == current {
		i--
	}
	cp := *list[i]
	return &cp, nil
}

func (r *TickRepo) Latest(ctx context.Context, siteID string) (*domain.Tick, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	list := r.store.ticks[siteID]
	if len(list) == 0 {
		return nil, storage.ErrNotFound
	}
	cp := *list[len(list)-1]
	return &cp, nil
}

func (r *TickRepo) DeleteOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var deleted int64
	for siteID, list := range r.store.ticks {
		i := sort.Search(len(list), func(i int) bool {
			return !list[i].CreatedAt.Before(threshold)
		})
		deleted += int64(i)
		r.store.ticks[siteID] = append([]*domain.Tick(nil), list[i:]...)
	}
	return deleted, nil
}
