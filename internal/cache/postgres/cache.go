// Package postgres provides a CacheStore backed by PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haybaler/perception/internal/analysis"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for cache entries.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Cache stores per-(URL, engine) success outcomes in Postgres. Entries are
// independent rows upserted with last-write-wins semantics, so concurrent
// jobs racing on the same key cannot corrupt the store.
type Cache struct {
	pool  pgxPool
	table string
	now   func() time.Time
}

// New creates a Postgres-backed Cache using the provided config.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("cache.dsn is required")
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
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	return NewWithPool(pool, cfg.Table)
}

// NewWithPool wires an existing pool; used by tests with pgxmock.
func NewWithPool(pool pgxPool, table string) (*Cache, error) {
	if table == "" {
		table = "engine_cache"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Cache{pool: pool, table: table, now: time.Now}, nil
}

// Migrate creates the cache table if it does not exist.
func (c *Cache) Migrate(ctx context.Context) error {
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			url TEXT NOT NULL,
			engine TEXT NOT NULL,
			outcome JSONB NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (url, engine)
		)`, c.table)
	if _, err := c.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("create cache table: %w", err)
	}
	return nil
}

// Get returns the cached outcome for (url, engine) if present and unexpired.
// Expired rows are filtered, not deleted; Sweep reclaims them.
func (c *Cache) Get(ctx context.Context, url string, engine analysis.EngineName) (analysis.EngineOutcome, bool, error) {
	query := fmt.Sprintf(
		`SELECT outcome FROM %s WHERE url = $1 AND engine = $2 AND expires_at > $3`,
		c.table,
	)
	var raw []byte
	err := c.pool.QueryRow(ctx, query, url, string(engine), c.now().UTC()).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return analysis.EngineOutcome{}, false, nil
		}
		return analysis.EngineOutcome{}, false, fmt.Errorf("query cache entry: %w", err)
	}
	var outcome analysis.EngineOutcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return analysis.EngineOutcome{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return outcome, true, nil
}

// Put upserts a success outcome. Non-success outcomes are dropped.
func (c *Cache) Put(ctx context.Context, url string, engine analysis.EngineName, outcome analysis.EngineOutcome, ttl time.Duration) error {
	if outcome.Status != analysis.OutcomeSuccess || ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	now := c.now().UTC()
	stmt := fmt.Sprintf(`
		INSERT INTO %s (url, engine, outcome, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (url, engine) DO UPDATE
		SET outcome = EXCLUDED.outcome,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`, c.table)
	if _, err := c.pool.Exec(ctx, stmt, url, string(engine), raw, now.Add(ttl), now); err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Invalidate removes entries for the URL; with no engines given it removes
// every engine's entry.
func (c *Cache) Invalidate(ctx context.Context, url string, engines ...analysis.EngineName) error {
	if len(engines) == 0 {
		stmt := fmt.Sprintf(`DELETE FROM %s WHERE url = $1`, c.table)
		if _, err := c.pool.Exec(ctx, stmt, url); err != nil {
			return fmt.Errorf("invalidate cache entries: %w", err)
		}
		return nil
	}
	names := make([]string, 0, len(engines))
	for _, engine := range engines {
		names = append(names, string(engine))
	}
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE url = $1 AND engine = ANY($2)`, c.table)
	if _, err := c.pool.Exec(ctx, stmt, url, names); err != nil {
		return fmt.Errorf("invalidate cache entries: %w", err)
	}
	return nil
}

// Sweep deletes expired rows; intended for periodic housekeeping, not the
// read path.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, c.table)
	tag, err := c.pool.Exec(ctx, stmt, c.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep cache: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close releases the underlying pool.
func (c *Cache) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}
