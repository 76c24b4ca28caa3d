package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoValue is returned by GetValue when the key has no row.
var ErrNoValue = errors.New("postgres: key not found")

// DB wraps a pgx connection pool.
type DB struct {
	Pool *pgxpool.Pool
	log  *slog.Logger
}

// Connect opens a connection pool with retry logic.
func Connect(ctx context.Context, dsn string, attempts int, log *slog.Logger) (*DB, error) {
	var pool *pgxpool.Pool
	var err error
	for i := 0; i < attempts; i++ {
		pool, err = pgxpool.New(ctx, dsn)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				log.Info("connected to postgres")
				return &DB{Pool: pool, log: log}, nil
			}
			pool.Close()
		}
		log.Warn("waiting for postgres", "attempt", i+1, "of", attempts)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("postgres: failed after %d attempts: %w", attempts, err)
}

// RunMigrations reads SQL files from the embedded FS and applies them in order.
func (d *DB) RunMigrations(ctx context.Context, migrationFS fs.FS) error {
	_, err := d.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ  DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var sqlFiles []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			sqlFiles = append(sqlFiles, e.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, file := range sqlFiles {
		var count int
		_ = d.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version=$1", file).Scan(&count)
		if count > 0 {
			continue
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		if _, err = d.Pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("exec %s: %w", file, err)
		}
		if _, err = d.Pool.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", file); err != nil {
			return fmt.Errorf("record %s: %w", file, err)
		}
		d.log.Info("applied migration", "file", file)
	}
	return nil
}

// GetValue reads a row from the local_kv table.
func (d *DB) GetValue(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := d.Pool.QueryRow(ctx, `SELECT value FROM local_kv WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoValue
	}
	return v, err
}

// PutValue upserts a row in the local_kv table.
func (d *DB) PutValue(ctx context.Context, key string, value []byte) error {
	_, err := d.Pool.Exec(ctx,
		`INSERT INTO local_kv (key, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	return err
}

// DeleteValue removes a row from the local_kv table.
func (d *DB) DeleteValue(ctx context.Context, key string) error {
	_, err := d.Pool.Exec(ctx, `DELETE FROM local_kv WHERE key=$1`, key)
	return err
}

// Close shuts down the pool.
func (d *DB) Close() { d.Pool.Close() }
