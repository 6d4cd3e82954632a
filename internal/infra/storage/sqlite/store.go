package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/vietddude/uptime/internal/core/domain"
	"github.com/vietddude/uptime/internal/infra/storage"
	"github.com/vietddude/uptime/internal/infra/storage/migrations"
)

// Store implements storage.Store on a single SQLite file. Timestamps are
// stored as Unix milliseconds.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New opens the database file and applies migrations.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// One connection serializes writers and keeps per-connection pragmas.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA foreign_keys = ON`,
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("unable to set %q: %w", pragma, err)
		}
	}

	if err := migrations.Up(ctx, db.DB, migrations.SQLite); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Sites() storage.SiteRepository { return (*siteRepo)(s) }
func (s *Store) Ticks() storage.TickRepository { return (*tickRepo)(s) }

// DB returns the underlying handle.
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *Store) Close() error                   { return s.db.Close() }

type siteRow struct {
	ID        string `db:"id"`
	URL       string `db:"url"`
	OwnerID   string `db:"owner_id"`
	CreatedAt int64  `db:"created_at"`
}

func (r siteRow) toDomain() *domain.Site {
	return &domain.Site{
		ID:        r.ID,
		URL:       r.URL,
		OwnerID:   r.OwnerID,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
	}
}

type tickRow struct {
	ID             string `db:"id"`
	SiteID         string `db:"site_id"`
	RegionID       string `db:"region_id"`
	Status         string `db:"status"`
	ResponseTimeMs int64  `db:"response_time_ms"`
	CreatedAt      int64  `db:"created_at"`
}

func (r tickRow) toDomain() (*domain.Tick, error) {
	status, err := domain.ParseStatus(r.Status)
	if err != nil {
		return nil, err
	}
	return &domain.Tick{
		ID:             r.ID,
		SiteID:         r.SiteID,
		RegionID:       r.RegionID,
		Status:         status,
		ResponseTimeMs: r.ResponseTimeMs,
		CreatedAt:      time.UnixMilli(r.CreatedAt).UTC(),
	}, nil
}

func toTicks(rows []tickRow) ([]*domain.Tick, error) {
	out := make([]*domain.Tick, 0, len(rows))
	for _, r := range rows {
		t, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Site Repository
// -----------------------------------------------------------------------------

type siteRepo Store

func (r *siteRepo) Create(ctx context.Context, site *domain.Site) error {
	if site.ID == "" {
		site.ID = uuid.NewString()
	}
	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sites (id, url, owner_id, created_at) VALUES (?, ?, ?, ?)`,
		site.ID, site.URL, site.OwnerID, site.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}
	return nil
}

func (r *siteRepo) Get(ctx context.Context, id string) (*domain.Site, error) {
	var row siteRow
	err := r.db.GetContext(ctx, &row, `SELECT id, url, owner_id, created_at FROM sites WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site: %w", err)
	}
	return row.toDomain(), nil
}

func (r *siteRepo) List(ctx context.Context) ([]*domain.Site, error) {
	var rows []siteRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT id, url, owner_id, created_at FROM sites ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	out := make([]*domain.Site, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *siteRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ticks WHERE site_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete ticks: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sites WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete site: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return tx.Commit()
}

// -----------------------------------------------------------------------------
// Tick Repository
// -----------------------------------------------------------------------------

type tickRepo Store

const tickColumns = `id, site_id, region_id, status, response_time_ms, created_at`

func (r *tickRepo) Insert(ctx context.Context, tick *domain.Tick) error {
	if tick.ID == "" {
		tick.ID = uuid.NewString()
	}
	if tick.CreatedAt.IsZero() {
		tick.CreatedAt = time.Now()
	}
	tick.CreatedAt = tick.CreatedAt.UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.GetContext(ctx, &exists, `SELECT 1 FROM sites WHERE id = ?`, tick.SiteID)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrSiteNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up site: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ticks (`+tickColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		tick.ID,
		tick.SiteID,
		tick.RegionID,
		string(tick.Status),
		tick.ResponseTimeMs,
		tick.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert tick: %w", err)
	}
	return tx.Commit()
}

func (r *tickRepo) List(ctx context.Context, q storage.TickQuery) ([]*domain.Tick, error) {
	query := `
		SELECT ` + tickColumns + `
		FROM ticks
		WHERE site_id = ? AND (? = '' OR region_id = ?)
		ORDER BY created_at DESC, seq DESC
	`
	args := []any{q.SiteID, q.RegionID, q.RegionID}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	var rows []tickRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list ticks: %w", err)
	}
	return toTicks(rows)
}

func (r *tickRepo) Buckets(ctx context.Context, q storage.BucketQuery) ([]domain.Bucket, error) {
	width := q.Width.Milliseconds()
	if width <= 0 {
		return nil, fmt.Errorf("invalid bucket width %s", q.Width)
	}

	var rows []struct {
		Start int64   `db:"bucket_start"`
		Avg   float64 `db:"avg_response_time"`
		Down  int64   `db:"down_count"`
		Total int64   `db:"total_count"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT
			(created_at / ?) * ? AS bucket_start,
			AVG(response_time_ms) AS avg_response_time,
			SUM(CASE WHEN status = 'DOWN' THEN 1 ELSE 0 END) AS down_count,
			COUNT(*) AS total_count
		FROM ticks
		WHERE site_id = ?
			AND created_at >= ? AND created_at <= ?
			AND (? = '' OR region_id = ?)
		GROUP BY bucket_start
		ORDER BY bucket_start
	`,
		width, width,
		q.SiteID,
		q.Start.UnixMilli(), q.End.UnixMilli(),
		q.RegionID, q.RegionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate ticks: %w", err)
	}

	out := make([]domain.Bucket, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Bucket{
			Start:           time.UnixMilli(row.Start).UTC(),
			AvgResponseTime: row.Avg,
			DownCount:       row.Down,
			TotalCount:      row.Total,
		})
	}
	return out, nil
}

func (r *tickRepo) CurrentRunStart(ctx context.Context, siteID string) (*domain.Tick, error) {
	var row tickRow
	err := r.db.GetContext(ctx, &row, `
		WITH latest AS (
			SELECT status FROM ticks
			WHERE site_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT 1
		), last_change AS (
			SELECT MAX(t.created_at) AS at
			FROM ticks t, latest l
			WHERE t.site_id = ? AND t.status <> l.status
		)
		SELECT `+tickColumns+`
		FROM ticks
		WHERE site_id = ?
			AND created_at > COALESCE((SELECT at FROM last_change), -1)
		ORDER BY created_at ASC, seq ASC
		LIMIT 1
	`, siteID, siteID, siteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find current run: %w", err)
	}
	return row.toDomain()
}

func (r *tickRepo) Latest(ctx context.Context, siteID string) (*domain.Tick, error) {
	var row tickRow
	err := r.db.GetContext(ctx, &row, `
		SELECT `+tickColumns+`
		FROM ticks
		WHERE site_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`, siteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest tick: %w", err)
	}
	return row.toDomain()
}

func (r *tickRepo) DeleteOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ticks WHERE created_at < ?`, threshold.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune ticks: %w", err)
	}
	return res.RowsAffected()
}
