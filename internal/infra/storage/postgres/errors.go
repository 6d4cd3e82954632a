package postgres

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/vietddude/uptime/internal/infra/storage"
)

const (
	codeForeignKeyViolation = "23503"
	codeInvalidTextRepr     = "22P02" // malformed uuid
)

// sqlState extracts the SQLSTATE from either driver's error type.
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// classify maps driver errors onto storage sentinels. notFound is the
// sentinel for a lookup key that cannot match any row.
func classify(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	switch sqlState(err) {
	case codeForeignKeyViolation:
		return storage.ErrSiteNotFound
	case codeInvalidTextRepr:
		return notFound
	}
	return err
}
