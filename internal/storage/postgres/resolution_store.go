// Package postgres provides Postgres-backed persistence for resolution records.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snapbooks-app/geticon/internal/icon"
)

const defaultTable = "icon_resolutions"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for resolution rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// ResolutionStore implements icon.ResolutionStore.
type ResolutionStore struct {
	pool  execCloser
	table string
}

// NewResolutionStore connects a pool using the provided config.
func NewResolutionStore(ctx context.Context, cfg Config) (*ResolutionStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ResolutionStore{pool: pool, table: table}, nil
}

// NewResolutionStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewResolutionStoreWithPool(pool execCloser, table string) (*ResolutionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ResolutionStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ResolutionStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *ResolutionStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("resolution store is not configured")
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// InsertResolution writes one row. Re-inserting an ID is a no-op.
func (s *ResolutionStore) InsertResolution(ctx context.Context, record icon.ResolutionRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("resolution store is not configured")
	}
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	resolved_at,
	site_url,
	requested_size,
	icon_url,
	icon_kind,
	icon_format,
	icon_bytes,
	content_hash,
	blob_uri,
	candidate_count
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
) ON CONFLICT (id) DO NOTHING`, s.table)

	args := []any{
		record.ID,
		record.ResolvedAt,
		record.SiteURL,
		record.RequestedSize,
		record.IconURL,
		string(record.IconKind),
		string(record.IconFormat),
		record.IconBytes,
		record.ContentHash,
		nullable(record.BlobURI),
		record.CandidateCount,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert resolution: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
