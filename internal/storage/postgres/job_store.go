// Package postgres provides Postgres-backed persistence implementations.
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

// JobStoreConfig controls the Postgres connection pool used for job rows.
type JobStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStore persists analysis jobs in Postgres. State transitions are guarded
// in SQL: updates never touch rows already in a terminal state, so the
// monotonic lifecycle holds even across concurrent writers.
type JobStore struct {
	pool  pgxPool
	table string
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	return NewJobStoreWithPool(pool, cfg.Table)
}

// NewJobStoreWithPool wires an existing pool; used by tests with pgxmock.
func NewJobStoreWithPool(pool pgxPool, table string) (*JobStore, error) {
	if table == "" {
		table = "analysis_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{pool: pool, table: table}, nil
}

// Migrate creates the jobs table if it does not exist.
func (s *JobStore) Migrate(ctx context.Context) error {
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL,
			engines TEXT[] NOT NULL,
			force_refresh BOOLEAN NOT NULL DEFAULT FALSE,
			state TEXT NOT NULL,
			error_text TEXT NOT NULL DEFAULT '',
			submitted_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			result JSONB,
			report_uri TEXT NOT NULL DEFAULT ''
		)`, s.table)
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	return nil
}

const terminalStates = "('completed','partial','failed','canceled')"

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job analysis.Job) error {
	engines := make([]string, 0, len(job.Request.Engines))
	for _, e := range job.Request.Engines {
		engines = append(engines, string(e))
	}
	state := job.State
	if state == "" {
		state = analysis.JobStatePending
	}
	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, tenant, url, engines, force_refresh, state, error_text, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.table)
	_, err := s.pool.Exec(ctx, stmt,
		job.ID,
		job.Request.Tenant,
		job.Request.URL,
		engines,
		job.Request.ForceRefresh,
		string(state),
		job.ErrorText,
		job.Submitted.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobState transitions a non-terminal job to the given state.
func (s *JobStore) UpdateJobState(ctx context.Context, jobID string, state analysis.JobState, errText string) error {
	now := time.Now().UTC()
	stmt := fmt.Sprintf(`
		UPDATE %s SET
			state = $2,
			error_text = $3,
			started_at = COALESCE(started_at, CASE WHEN $2 = 'running' THEN $4::timestamptz END),
			finished_at = COALESCE(finished_at, CASE WHEN $5 THEN $4::timestamptz END)
		WHERE id = $1 AND state NOT IN `+terminalStates, s.table)
	tag, err := s.pool.Exec(ctx, stmt, jobID, string(state), errText, now, state.Terminal())
	if err != nil {
		return fmt.Errorf("update job state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMissedUpdate(ctx, jobID)
	}
	return nil
}

// SetJobResult records the aggregate result and the terminal state in one step.
func (s *JobStore) SetJobResult(
	ctx context.Context,
	jobID string,
	state analysis.JobState,
	errText string,
	result analysis.AggregateResult,
	reportURI string,
) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	now := time.Now().UTC()
	stmt := fmt.Sprintf(`
		UPDATE %s SET
			state = $2,
			error_text = $3,
			result = $4,
			report_uri = $5,
			finished_at = COALESCE(finished_at, $6::timestamptz)
		WHERE id = $1 AND state NOT IN `+terminalStates, s.table)
	tag, err := s.pool.Exec(ctx, stmt, jobID, string(state), errText, raw, reportURI, now)
	if err != nil {
		return fmt.Errorf("set job result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMissedUpdate(ctx, jobID)
	}
	return nil
}

// classifyMissedUpdate distinguishes a missing row from a finalized one.
func (s *JobStore) classifyMissedUpdate(ctx context.Context, jobID string) error {
	query := fmt.Sprintf(`SELECT state FROM %s WHERE id = $1`, s.table)
	var state string
	if err := s.pool.QueryRow(ctx, query, jobID).Scan(&state); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return analysis.ErrNotFound
		}
		return fmt.Errorf("query job state: %w", err)
	}
	return analysis.ErrJobFinalized
}

const jobColumns = "id, tenant, url, engines, force_refresh, state, error_text, submitted_at, started_at, finished_at, result, report_uri"

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (analysis.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, s.table)
	row := s.pool.QueryRow(ctx, query, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return analysis.Job{}, analysis.ErrNotFound
		}
		return analysis.Job{}, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

// ListJobs returns a tenant's jobs, newest first. An empty tenant lists all.
func (s *JobStore) ListJobs(ctx context.Context, tenant string, limit, offset int) ([]analysis.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE ($1 = '' OR tenant = $1)
		ORDER BY submitted_at DESC
		LIMIT $2 OFFSET $3`, jobColumns, s.table)
	rows, err := s.pool.Query(ctx, query, tenant, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]analysis.Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

// DeleteJob removes a job row.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, stmt, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return analysis.ErrNotFound
	}
	return nil
}

// Close releases the underlying pool.
func (s *JobStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func scanJob(row pgx.Row) (analysis.Job, error) {
	var (
		job          analysis.Job
		engines      []string
		state        string
		started      *time.Time
		finished     *time.Time
		rawResult    []byte
		forceRefresh bool
	)
	err := row.Scan(
		&job.ID,
		&job.Request.Tenant,
		&job.Request.URL,
		&engines,
		&forceRefresh,
		&state,
		&job.ErrorText,
		&job.Submitted,
		&started,
		&finished,
		&rawResult,
		&job.ReportURI,
	)
	if err != nil {
		return analysis.Job{}, err
	}
	job.Request.ForceRefresh = forceRefresh
	job.Request.Engines = make([]analysis.EngineName, 0, len(engines))
	for _, e := range engines {
		job.Request.Engines = append(job.Request.Engines, analysis.EngineName(e))
	}
	job.State = analysis.JobState(state)
	job.Started = started
	job.Finished = finished
	if len(rawResult) > 0 {
		var result analysis.AggregateResult
		if err := json.Unmarshal(rawResult, &result); err != nil {
			return analysis.Job{}, fmt.Errorf("decode result: %w", err)
		}
		job.Result = &result
	}
	return job, nil
}
