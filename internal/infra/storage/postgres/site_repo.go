package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/uptime/internal/core/domain"
	"github.com/vietddude/uptime/internal/infra/storage"
)

// SiteRepo implements storage.SiteRepository using PostgreSQL.
type SiteRepo struct {
	db *DB
}

// NewSiteRepo creates a new PostgreSQL site repository.
func NewSiteRepo(db *DB) *SiteRepo {
	return &SiteRepo{db: db}
}

const siteColumns = `id::text AS id, url, owner_id, created_at`

// Create inserts a site.
func (r *SiteRepo) Create(ctx context.Context, site *domain.Site) error {
	if site.ID == "" {
		site.ID = uuid.NewString()
	}
	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO sites (id, url, owner_id, created_at)
		VALUES (:id, :url, :owner_id, :created_at)
	`, site)
	if err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}
	return nil
}

// Get retrieves a site by ID.
func (r *SiteRepo) Get(ctx context.Context, id string) (*domain.Site, error) {
	var site domain.Site
	err := r.db.GetContext(ctx, &site, `SELECT `+siteColumns+` FROM sites WHERE id = $1`, id)
	if err != nil {
		return nil, classify(err, storage.ErrNotFound)
	}
	site.CreatedAt = site.CreatedAt.UTC()
	return &site, nil
}

// List returns all sites ordered by creation time.
func (r *SiteRepo) List(ctx context.Context) ([]*domain.Site, error) {
	var sites []*domain.Site
	err := r.db.SelectContext(ctx, &sites, `SELECT `+siteColumns+` FROM sites ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	for _, s := range sites {
		s.CreatedAt = s.CreatedAt.UTC()
	}
	return sites, nil
}

// Delete removes a site; its ticks cascade.
func (r *SiteRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sites WHERE id = $1`, id)
	if err != nil {
		return classify(err, storage.ErrNotFound)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
