package database

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crepo/internal/cr"
)

func TestStore_CaseCache(t *testing.T) {
	ctx := context.Background()
	m := NewMetrics("test", prometheus.NewRegistry())
	s := newTestStore(t, func(o *Options) { o.Metrics = m })
	c := mustCase(t, s, "abc-123")

	queries := countQueries(s)
	for range 3 {
		got, err := s.GetCaseByUUID(ctx, "abc-123")
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)
	}
	_, err := s.GetCaseByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, queries.Load(), "created cases are served from the cache")
	assert.Equal(t, float64(4), promtest.ToFloat64(m.hitsTotal.WithLabelValues(cacheCases)))

	s.ClearCaches()
	_, err = s.GetCaseByUUID(ctx, "abc-123")
	require.NoError(t, err)
	assert.Equal(t, int64(1), queries.Load())
}

func TestStore_CachedCasesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCase(t, s, "abc-123")

	got, err := s.GetCaseByUUID(ctx, "abc-123")
	require.NoError(t, err)
	got.DisplayName = "mutated"

	again, err := s.GetCaseByUUID(ctx, "abc-123")
	require.NoError(t, err)
	assert.Equal(t, "Case abc-123", again.DisplayName)
}

func TestStore_CacheExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, func(o *Options) { o.CacheTTL = 20 * time.Millisecond })
	mustCase(t, s, "abc-123")

	queries := countQueries(s)
	require.Eventually(t, func() bool {
		_, err := s.GetCaseByUUID(ctx, "abc-123")
		return err == nil && queries.Load() > 0
	}, time.Second, 10*time.Millisecond)
}

func TestStore_DataSourceCache(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := mustCase(t, s, "abc-123")
	ds := mustDataSource(t, s, c, 42)

	queries := countQueries(s)
	got, err := s.GetDataSource(ctx, c.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, ds.ID, got.ID)
	_, err = s.GetDataSourceByID(ctx, c.ID, ds.ID)
	require.NoError(t, err)
	assert.Zero(t, queries.Load())
}

func TestStore_CachesMissingCases(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	queries := countQueries(s)
	for range 3 {
		got, err := s.GetCaseByUUID(ctx, "abc-123")
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	assert.Equal(t, int64(1), queries.Load(), "repeated misses share one query")

	c := mustCase(t, s, "abc-123")
	got, err := s.GetCaseByUUID(ctx, "abc-123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.ID)

	_, err = s.GetCaseByUUID(ctx, "def-456")
	require.NoError(t, err)
	require.NoError(t, s.BulkInsertCases(ctx, []*cr.Case{{
		UUID:         "def-456",
		DisplayName:  "Bulk",
		CreationDate: "2024/01/15 10:30:00 (UTC)",
	}}))
	got, err = s.GetCaseByUUID(ctx, "def-456")
	require.NoError(t, err)
	require.NotNil(t, got, "bulk inserts drop cached misses")
}

func TestStore_CachesMissingDataSources(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := mustCase(t, s, "abc-123")

	queries := countQueries(s)
	for range 3 {
		got, err := s.GetDataSource(ctx, c.ID, 42)
		require.NoError(t, err)
		assert.Nil(t, got)
		got, err = s.GetDataSourceByID(ctx, c.ID, 7)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	assert.Equal(t, int64(2), queries.Load())

	ds := mustDataSource(t, s, c, 42)
	got, err := s.GetDataSource(ctx, c.ID, 42)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ds.ID, got.ID)
	got, err = s.GetDataSourceByID(ctx, c.ID, ds.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(42), got.ObjectID)
}

func TestStore_AccountTypeCache(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	queries := countQueries(s)
	for range 2 {
		at, err := s.GetAccountTypeByName(ctx, "NOPE")
		require.NoError(t, err)
		assert.Nil(t, at)
	}
	assert.Equal(t, int64(1), queries.Load(), "misses are cached")
}

func TestStore_CorrelationTypeCache(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.GetDefinedCorrelationTypes(ctx)
	require.NoError(t, err)

	queries := countQueries(s)
	for _, id := range []int{cr.FilesTypeID, cr.PhoneTypeID, 99999} {
		_, err := s.GetCorrelationTypeByID(ctx, id)
		require.NoError(t, err)
	}
	assert.Zero(t, queries.Load())
}
