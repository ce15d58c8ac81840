// Package pgstore is the Postgres implementation of store.Store, built
// on pgx. All writes are plain appends; the unique (from_id, to_id)
// constraint on diffs gives idempotent diff submission.
package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"netwatch/core-go/internal/model"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or
// pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Store struct {
	log  zerolog.Logger
	pool *pgxpool.Pool
	db   DBTX
}

// Open connects, verifies connectivity and applies pending schema
// upgrades.
func Open(ctx context.Context, log zerolog.Logger, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, &model.InfrastructureError{Op: "connect", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &model.InfrastructureError{Op: "ping", Err: err}
	}

	s := &Store{log: log, pool: pool, db: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return &model.InfrastructureError{Op: "ping", Err: errors.New("store not connected")}
	}
	if err := s.pool.Ping(ctx); err != nil {
		return &model.InfrastructureError{Op: "ping", Err: err}
	}
	return nil
}

// infraErr classifies err: row absence maps to NotFound, everything
// else at this boundary is infrastructure (connectivity, constraint
// machinery, serialization).
func infraErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	return &model.InfrastructureError{Op: op, Err: err}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
