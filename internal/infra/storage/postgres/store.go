package postgres

import (
	"context"

	"github.com/vietddude/uptime/internal/infra/storage"
)

// Store implements storage.Store on PostgreSQL.
type Store struct {
	db    *DB
	sites *SiteRepo
	ticks *TickRepo
}

var _ storage.Store = (*Store)(nil)

// NewStore wraps an open database.
func NewStore(db *DB) *Store {
	return &Store{
		db:    db,
		sites: NewSiteRepo(db),
		ticks: NewTickRepo(db),
	}
}

func (s *Store) Sites() storage.SiteRepository { return s.sites }
func (s *Store) Ticks() storage.TickRepository { return s.ticks }

// DB exposes the underlying connection for migrations and metrics.
func (s *Store) DB() *DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.Health(ctx) }
func (s *Store) Close() error                   { return s.db.Close() }
