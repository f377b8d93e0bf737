package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/haybaler/perception/internal/analysis"
)

func newMockCache(t *testing.T) (*Cache, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	cache, err := NewWithPool(mock, "engine_cache")
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()
	cache.now = func() time.Time { return now }
	return cache, mock, now
}

func TestCache_PutUpsertsRow(t *testing.T) {
	t.Parallel()

	cache, mock, now := newMockCache(t)

	outcome := analysis.EngineOutcome{
		Engine: analysis.EngineSEO,
		Status: analysis.OutcomeSuccess,
		Score:  70,
	}
	raw, err := json.Marshal(outcome)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO engine_cache").
		WithArgs("https://example.com/", "seo", raw, now.Add(24*time.Hour), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = cache.Put(context.Background(), "https://example.com/", analysis.EngineSEO, outcome, 24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_PutSkipsFailures(t *testing.T) {
	t.Parallel()

	cache, mock, _ := newMockCache(t)

	outcome := analysis.EngineOutcome{
		Engine: analysis.EngineSEO,
		Status: analysis.OutcomeFailure,
		Err:    &analysis.OutcomeError{Kind: analysis.ErrKindNetwork, Message: "refused"},
	}
	// No expectation registered: any statement would fail the test.
	err := cache.Put(context.Background(), "https://example.com/", analysis.EngineSEO, outcome, 24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_GetHit(t *testing.T) {
	t.Parallel()

	cache, mock, now := newMockCache(t)

	stored := analysis.EngineOutcome{
		Engine: analysis.EngineTechnical,
		Status: analysis.OutcomeSuccess,
		Score:  90,
	}
	raw, err := json.Marshal(stored)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT outcome FROM engine_cache").
		WithArgs("https://example.com/", "technical", now).
		WillReturnRows(pgxmock.NewRows([]string{"outcome"}).AddRow(raw))

	got, ok, err := cache.Get(context.Background(), "https://example.com/", analysis.EngineTechnical)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 90, got.Score)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_GetMiss(t *testing.T) {
	t.Parallel()

	cache, mock, now := newMockCache(t)

	mock.ExpectQuery("SELECT outcome FROM engine_cache").
		WithArgs("https://example.com/", "technical", now).
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := cache.Get(context.Background(), "https://example.com/", analysis.EngineTechnical)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_InvalidateAllEngines(t *testing.T) {
	t.Parallel()

	cache, mock, _ := newMockCache(t)

	mock.ExpectExec("DELETE FROM engine_cache WHERE url").
		WithArgs("https://example.com/").
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	err := cache.Invalidate(context.Background(), "https://example.com/")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_InvalidateSingleEngine(t *testing.T) {
	t.Parallel()

	cache, mock, _ := newMockCache(t)

	mock.ExpectExec("DELETE FROM engine_cache WHERE url").
		WithArgs("https://example.com/", []string{"seo"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	err := cache.Invalidate(context.Background(), "https://example.com/", analysis.EngineSEO)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPool_RejectsBadTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "cache; DROP TABLE jobs")
	require.Error(t, err)
}
