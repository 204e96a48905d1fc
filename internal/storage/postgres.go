package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is an interface that both pgxpool.Pool and pgx.Tx implement
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store is the durable extension-local storage backed by PostgreSQL.
// Records live in a single kv_records table.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new Store instance
func New(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	// One wallet per daemon: a small pool is plenty
	config.MaxConns = 5
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close closes the database connection pool
func (s *Store) Close() {
	s.pool.Close()
}

// DB returns the underlying database pool for direct queries
func (s *Store) DB() *pgxpool.Pool {
	return s.pool
}

// Get reads one record
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return getRecord(ctx, s.pool, key)
}

func getRecord(ctx context.Context, db DBTX, key string) ([]byte, bool, error) {
	var value []byte
	err := db.QueryRow(ctx, `SELECT value FROM kv_records WHERE key = $1`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read record %q: %w", key, err)
	}
	return value, true, nil
}

// SetMany upserts every entry inside one transaction
func (s *Store) SetMany(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for k, v := range entries {
			if err := putRecord(ctx, tx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func putRecord(ctx context.Context, db DBTX, key string, value []byte) error {
	_, err := db.Exec(ctx, `
		INSERT INTO kv_records (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write record %q: %w", key, err)
	}
	return nil
}

// Delete removes keys
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM kv_records WHERE key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}
	return nil
}

var _ KV = (*Store)(nil)
