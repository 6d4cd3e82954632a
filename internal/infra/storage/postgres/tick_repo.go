package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/uptime/internal/core/domain"
	"github.com/vietddude/uptime/internal/infra/storage"
)

// TickRepo implements storage.TickRepository using PostgreSQL.
type TickRepo struct {
	db *DB
}

// NewTickRepo creates a new PostgreSQL tick repository.
func NewTickRepo(db *DB) *TickRepo {
	return &TickRepo{db: db}
}

const tickColumns = `id::text AS id, site_id::text AS site_id, region_id, status, response_time_ms, created_at`

// Insert stores a tick.
func (r *TickRepo) Insert(ctx context.Context, tick *domain.Tick) error {
	if tick.ID == "" {
		tick.ID = uuid.NewString()
	}
	if tick.CreatedAt.IsZero() {
		tick.CreatedAt = time.Now()
	}
	tick.CreatedAt = tick.CreatedAt.UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ticks (id, site_id, region_id, status, response_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		tick.ID,
		tick.SiteID,
		tick.RegionID,
		string(tick.Status),
		tick.ResponseTimeMs,
		tick.CreatedAt,
	)
	if err != nil {
		if cerr := classify(err, storage.ErrSiteNotFound); cerr != err {
			return cerr
		}
		return fmt.Errorf("failed to insert tick: %w", err)
	}
	return nil
}

// List returns ticks newest first.
func (r *TickRepo) List(ctx context.Context, q storage.TickQuery) ([]*domain.Tick, error) {
	query := `
		SELECT ` + tickColumns + `
		FROM ticks
		WHERE site_id = $1 AND ($2 = '' OR region_id = $2)
		ORDER BY created_at DESC
	`
	args := []any{q.SiteID, q.RegionID}
	if q.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, q.Limit)
	}

	var ticks []*domain.Tick
	if err := r.db.SelectContext(ctx, &ticks, query, args...); err != nil {
		if cerr := classify(err, storage.ErrNotFound); cerr == storage.ErrNotFound {
			return []*domain.Tick{}, nil
		}
		return nil, fmt.Errorf("failed to list ticks: %w", err)
	}
	for _, t := range ticks {
		t.CreatedAt = t.CreatedAt.UTC()
	}
	return ticks, nil
}

// Buckets aggregates ticks into epoch-aligned buckets.
func (r *TickRepo) Buckets(ctx context.Context, q storage.BucketQuery) ([]domain.Bucket, error) {
	query := `
		SELECT
			to_timestamp(floor(extract(epoch FROM created_at)::double precision / $4::double precision) * $4::double precision) AS bucket_start,
			AVG(response_time_ms)::double precision AS avg_response_time,
			COUNT(*) FILTER (WHERE status = 'DOWN') AS down_count,
			COUNT(*) AS total_count
		FROM ticks
		WHERE site_id = $1
			AND created_at >= $2 AND created_at <= $3
			AND ($5 = '' OR region_id = $5)
		GROUP BY bucket_start
		ORDER BY bucket_start
	`

	var buckets []domain.Bucket
	err := r.db.SelectContext(ctx, &buckets, query,
		q.SiteID,
		q.Start.UTC(),
		q.End.UTC(),
		q.Width.Seconds(),
		q.RegionID,
	)
	if err != nil {
		if cerr := classify(err, storage.ErrNotFound); cerr == storage.ErrNotFound {
			return []domain.Bucket{}, nil
		}
		return nil, fmt.Errorf("failed to aggregate ticks: %w", err)
	}
	for i := range buckets {
		buckets[i].Start = buckets[i].Start.UTC()
	}
	return buckets, nil
}

// CurrentRunStart returns the first tick after the most recent tick whose
// status differs from the latest one.
func (r *TickRepo) CurrentRunStart(ctx context.Context, siteID string) (*domain.Tick, error) {
	query := `
		WITH latest AS (
			SELECT status FROM ticks
			WHERE site_id = $1
			ORDER BY created_at DESC
			LIMIT 1
		), last_change AS (
			SELECT MAX(t.created_at) AS at
			FROM ticks t, latest l
			WHERE t.site_id = $1 AND t.status <> l.status
		)
		SELECT ` + tickColumns + `
		FROM ticks
		WHERE site_id = $1
			AND created_at > COALESCE((SELECT at FROM last_change), '-infinity'::timestamptz)
		ORDER BY created_at ASC
		LIMIT 1
	`

	var tick domain.Tick
	if err := r.db.GetContext(ctx, &tick, query, siteID); err != nil {
		return nil, classify(err, storage.ErrNotFound)
	}
	tick.CreatedAt = tick.CreatedAt.UTC()
	return &tick, nil
}

// Latest returns the newest tick for the site.
func (r *TickRepo) Latest(ctx context.Context, siteID string) (*domain.Tick, error) {
	var tick domain.Tick
	err := r.db.GetContext(ctx, &tick, `
		SELECT `+tickColumns+`
		FROM ticks
		WHERE site_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, siteID)
	if err != nil {
		return nil, classify(err, storage.ErrNotFound)
	}
	tick.CreatedAt = tick.CreatedAt.UTC()
	return &tick, nil
}

// DeleteOlderThan prunes ticks created before the threshold.
func (r *TickRepo) DeleteOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ticks WHERE created_at < $1`, threshold.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune ticks: %w", err)
	}
	return res.RowsAffected()
}
