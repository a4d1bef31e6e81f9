// Package postgres persists crawl results to Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/humancrawl/internal/crawler"
	"github.com/JakeFAU/humancrawl/internal/id/uuid"
)

// DefaultTable is used when no table name is configured.
const DefaultTable = "crawl_results"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for result rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ResultStore writes one row per crawl result.
type ResultStore struct {
	pool  execCloser
	table string
	newID func() string
}

// New creates a Postgres-backed ResultStore using the provided config.
func New(ctx context.Context, cfg Config) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.postgres_dsn is required")
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
	return &ResultStore{pool: pool, table: table, newID: uuid.New}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ResultStore{pool: pool, table: name, newID: uuid.New}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the results table when it does not exist.
func (s *ResultStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id                    uuid PRIMARY KEY,
	session_id            text NOT NULL,
	url                   text NOT NULL,
	success               boolean NOT NULL,
	status_code           integer NOT NULL,
	error_text            text NOT NULL,
	protection_system     text NOT NULL,
	protection_confidence double precision NOT NULL,
	duration_ms           bigint NOT NULL,
	size_bytes            integer NOT NULL,
	content_sha256        text NOT NULL,
	headers               jsonb NOT NULL,
	fetched_at            timestamptz NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create results table: %w", err)
	}
	return nil
}

// Save implements crawler.ResultSink.
func (s *ResultStore) Save(ctx context.Context, result crawler.Result) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("result store is not configured")
	}
	headersJSON, err := json.Marshal(normalizeHeaders(result.Headers))
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	system, confidence := "", 0.0
	if result.Protection != nil {
		system, confidence = string(result.Protection.System), result.Protection.Confidence
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	session_id,
	url,
	success,
	status_code,
	error_text,
	protection_system,
	protection_confidence,
	duration_ms,
	size_bytes,
	content_sha256,
	headers,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`, s.table)

	args := []any{
		s.newID(),
		result.SessionID,
		result.URL,
		result.Success,
		result.Status,
		result.Error,
		system,
		confidence,
		result.Metrics.DurationMs,
		result.Metrics.SizeBytes,
		result.ContentHash,
		headersJSON,
		result.FetchedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func normalizeHeaders(h http.Header) map[string][]string {
	if len(h) == 0 {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(h))
	for k, values := range h {
		out[k] = append([]string(nil), values...)
	}
	return out
}
