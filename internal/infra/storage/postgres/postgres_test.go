package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/vietddude/uptime/internal/infra/storage"
	"github.com/vietddude/uptime/internal/infra/storage/migrations"
	"github.com/vietddude/uptime/internal/infra/storage/storagetest"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"pgx fk", &pgconn.PgError{Code: "23503"}, storage.ErrSiteNotFound},
		{"pq fk", &pq.Error{Code: "23503"}, storage.ErrSiteNotFound},
		{"wrapped pgx fk", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23503"}), storage.ErrSiteNotFound},
		{"bad uuid", &pgconn.PgError{Code: "22P02"}, storage.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err, storage.ErrNotFound); !errors.Is(got, tt.want) {
				t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	other := &pgconn.PgError{Code: "40001"}
	if got := classify(other, storage.ErrNotFound); got != other {
		t.Errorf("expected unrelated error to pass through, got %v", got)
	}
}

// Integration test
func TestStore_Integration(t *testing.T) {
	url := os.Getenv("UPTIME_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("UPTIME_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := NewDB(ctx, Config{URL: url})
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := migrations.Up(ctx, db.DB.DB, migrations.Postgres); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	storagetest.Run(t, func(t *testing.T) storage.Store {
		if _, err := db.ExecContext(ctx, `TRUNCATE ticks, sites`); err != nil {
			t.Fatalf("truncate failed: %v", err)
		}
		return NewStore(db)
	})
}
