// Package postgres opens the shared connection pool and applies the schema.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dattas/pkg/platform/sentinel"
)

//go:embed schema.sql
var schema string

// Options configures the pool.
type Options struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects through the pgx stdlib driver and pings once.
func Open(ctx context.Context, opts Options) (*sql.DB, error) {
	if opts.URL == "" {
		return nil, errors.New("postgres: database url is required")
	}
	db, err := sql.Open("pgx", opts.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

// Migrate applies the idempotent schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Classify maps driver errors onto sentinel errors so services can translate
// them without knowing the driver. Unrecognised errors pass through.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == "23505":
		return fmt.Errorf("%w: %s", sentinel.ErrConflict, pgErr.Message)
	case pgErr.Code == "40001", pgErr.Code == "40P01":
		return fmt.Errorf("%w: %s", sentinel.ErrConflict, pgErr.Message)
	case pgErr.Code == "23514":
		return fmt.Errorf("%w: %s", sentinel.ErrInvalidState, pgErr.Message)
	case len(pgErr.Code) == 5 && pgErr.Code[:2] == "08":
		return fmt.Errorf("%w: %s", sentinel.ErrUnavailable, pgErr.Message)
	}
	return err
}
