package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/uptime/internal/core/domain"
)

var (
	// ErrNotFound is returned when a requested row doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrSiteNotFound is returned when a tick references a site that doesn't exist
	ErrSiteNotFound = errors.New("site not found")
)

// SiteRepository handles monitored site storage.
type SiteRepository interface {
	// Create stores a site. Empty ID is assigned; zero CreatedAt is set to now.
	Create(ctx context.Context, site *domain.Site) error

	// Get retrieves a site by ID
	Get(ctx context.Context, id string) (*domain.Site, error)

	// List returns all sites ordered by creation time
	List(ctx context.Context) ([]*domain.Site, error)

	// Delete removes a site and its ticks
	Delete(ctx context.Context, id string) error
}

// TickQuery filters tick listings. Empty RegionID means all regions.
type TickQuery struct {
	SiteID   string
	RegionID string
	Limit    int // 0 = no limit
}

// BucketQuery describes an aggregation over [Start, End], both ends inclusive.
type BucketQuery struct {
	SiteID   string
	RegionID string
	Start    time.Time
	End      time.Time
	Width    time.Duration
}

// TickRepository handles check result storage.
type TickRepository interface {
	// Insert stores a tick, returning ErrSiteNotFound if the site is unknown
	Insert(ctx context.Context, tick *domain.Tick) error

	// List returns ticks newest first
	List(ctx context.Context, q TickQuery) ([]*domain.Tick, error)

	// Buckets aggregates ticks into fixed-width buckets aligned to the Unix
	// epoch, ascending by start. Empty buckets are omitted.
	Buckets(ctx context.Context, q BucketQuery) ([]domain.Bucket, error)

	// CurrentRunStart returns the oldest tick of the site's current run of
	// identical statuses, or ErrNotFound if the site has no ticks.
	CurrentRunStart(ctx context.Context, siteID string) (*domain.Tick, error)

	// Latest returns the newest tick for the site, or ErrNotFound.
	Latest(ctx context.Context, siteID string) (*domain.Tick, error)

	// DeleteOlderThan prunes ticks created before the threshold
	DeleteOlderThan(ctx context.Context, threshold time.Time) (int64, error)
}

// Store bundles the repositories behind a single backend.
type Store interface {
	Sites() SiteRepository
	Ticks() TickRepository
	Ping(ctx context.Context) error
	Close() error
}

// BucketStart floors t to the bucket boundary for the given width.
func BucketStart(t time.Time, width time.Duration) time.Time {
	w := width.Milliseconds()
	if w <= 0 {
		return t.UTC()
	}
	ms := t.UnixMilli()
	floor := ms - ms%w
	if ms < 0 && ms%w != 0 {
		floor -= w
	}
	return time.UnixMilli(floor).UTC()
}
