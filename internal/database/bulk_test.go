package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"crepo/internal/cr"
)

func hexValue(i int) string {
	return fmt.Sprintf("%032x", i)
}

func TestStore_BulkStaging(t *testing.T) {
	t.Run("flushes when the threshold is reached", func(t *testing.T) {
		ctx := context.Background()
		m := NewMetrics("test", prometheus.NewRegistry())
		s := newTestStore(t, func(o *Options) {
			o.BulkThreshold = 5
			o.Metrics = m
		})
		files := mustType(t, s, cr.FilesTypeID)
		c := mustCase(t, s, "abc-123")
		ds := mustDataSource(t, s, c, 42)

		for i := range 4 {
			require.NoError(t, s.AddAttributeInstanceBulk(ctx, fileInstance(c, ds, files, hexValue(i), "/f")))
		}
		count := func() int64 {
			var n int64
			require.NoError(t, s.ExecuteQuery(ctx, "SELECT COUNT(*) FROM file_instances", nil, func(r *sql.Rows) error {
				if r.Next() {
					return r.Scan(&n)
				}
				return nil
			}))
			return n
		}
		assert.Equal(t, int64(0), count(), "nothing is written below the threshold")

		require.NoError(t, s.AddAttributeInstanceBulk(ctx, fileInstance(c, ds, files, hexValue(4), "/f")))
		assert.Equal(t, int64(5), count())
		assert.Equal(t, float64(1), promtest.ToFloat64(m.flushes))
		assert.Equal(t, float64(5), promtest.ToFloat64(m.bulkRows))

		require.NoError(t, s.AddAttributeInstanceBulk(ctx, fileInstance(c, ds, files, hexValue(5), "/f")))
		require.NoError(t, s.CommitAttributeInstancesBulk(ctx))
		assert.Equal(t, int64(6), count())

		// Nothing staged: commit is a no-op.
		require.NoError(t, s.CommitAttributeInstancesBulk(ctx))
		assert.Equal(t, float64(2), promtest.ToFloat64(m.flushes))
	})

	t.Run("resolves case and data source by identity", func(t *testing.T) {
		ctx := context.Background()
		s := newTestStore(t)
		files := mustType(t, s, cr.FilesTypeID)
		c := mustCase(t, s, "abc-123")
		ds := mustDataSource(t, s, c, 42)

		staged := fileInstance(&cr.Case{UUID: "abc-123"}, &cr.DataSource{ObjectID: 42}, files, strings.ToUpper(md5A), "/Mixed/Case")
		require.NoError(t, s.AddAttributeInstanceBulk(ctx, staged))
		require.NoError(t, s.CommitAttributeInstancesBulk(ctx))

		got, err := s.GetCorrelationAttributeInstance(ctx, files, c, ds, md5A, "/mixed/case")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, c.ID, got.Case.ID)
		assert.Equal(t, ds.ID, got.DataSource.ID)
	})

	t.Run("skips empty and over-length values", func(t *testing.T) {
		ctx := context.Background()
		s := newTestStore(t)
		ssid := mustType(t, s, cr.SSIDTypeID)
		c := mustCase(t, s, "abc-123")
		ds := mustDataSource(t, s, c, 1)

		values := []string{
			"",
			strings.Repeat("n", cr.MaxValueLength),
			strings.Repeat("ж", cr.MaxValueLength),
			"home-wifi",
			strings.Repeat("é", 200),
			strings.Repeat("ж", 150),
		}
		for _, v := range values {
			require.NoError(t, s.AddAttributeInstanceBulk(ctx, &cr.Instance{Type: ssid, Value: v, Case: c, DataSource: ds}))
		}
		require.NoError(t, s.CommitAttributeInstancesBulk(ctx))

		n, err := s.CountArtifactInstancesByCaseDataSource(ctx, ds.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n, "only the empty and over-length values are skipped")
	})

	t.Run("failed flush discards the batch", func(t *testing.T) {
		ctx := context.Background()
		s := newTestStore(t)
		files := mustType(t, s, cr.FilesTypeID)
		c := mustCase(t, s, "abc-123")
		ds := mustDataSource(t, s, c, 1)

		require.NoError(t, s.AddAttributeInstanceBulk(ctx, fileInstance(c, ds, files, md5A, "/a")))
		require.NoError(t, s.AddAttributeInstanceBulk(ctx, &cr.Instance{Type: files, Value: md5B}))

		err := s.CommitAttributeInstancesBulk(ctx)
		var verr *cr.ValidationError
		require.ErrorAs(t, err, &verr)

		n, err := s.CountArtifactInstancesByTypeValue(ctx, files, md5A)
		require.NoError(t, err)
		assert.Zero(t, n, "the batch is written in one transaction")

		assert.NoError(t, s.CommitAttributeInstancesBulk(ctx), "the failed batch is not retried")
	})

	t.Run("rejects bad values at stage time", func(t *testing.T) {
		s := newTestStore(t)
		files := mustType(t, s, cr.FilesTypeID)

		err := s.AddAttributeInstanceBulk(context.Background(), &cr.Instance{Type: files, Value: "zzz"})
		var nerr *cr.NormalizationError
		assert.ErrorAs(t, err, &nerr)
	})
}

func TestStore_BulkStagingConcurrent(t *testing.T) {
	const (
		workers   = 8
		perWorker = 50
	)
	ctx := context.Background()
	s := newTestStore(t, func(o *Options) { o.BulkThreshold = 7 })
	files := mustType(t, s, cr.FilesTypeID)
	c := mustCase(t, s, "abc-123")
	ds := mustDataSource(t, s, c, 42)

	done := make(chan struct{})
	var committer errgroup.Group
	committer.Go(func() error {
		for {
			select {
			case <-done:
				return nil
			default:
			}
			if err := s.CommitAttributeInstancesBulk(ctx); err != nil {
				return err
			}
			time.Sleep(time.Millisecond)
		}
	})

	var adders errgroup.Group
	for w := range workers {
		adders.Go(func() error {
			for i := range perWorker {
				inst := fileInstance(c, ds, files, hexValue(w*perWorker+i), "/f")
				if err := s.AddAttributeInstanceBulk(ctx, inst); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, adders.Wait())
	close(done)
	require.NoError(t, committer.Wait())
	require.NoError(t, s.CommitAttributeInstancesBulk(ctx))

	var rows, distinct int64
	require.NoError(t, s.ExecuteQuery(ctx, "SELECT COUNT(*), COUNT(DISTINCT value) FROM file_instances", nil, func(r *sql.Rows) error {
		if r.Next() {
			return r.Scan(&rows, &distinct)
		}
		return nil
	}))
	assert.Equal(t, int64(workers*perWorker), rows)
	assert.Equal(t, rows, distinct)

	for i := range workers * perWorker {
		n, err := s.CountArtifactInstancesByTypeValue(ctx, files, hexValue(i))
		require.NoError(t, err)
		require.Equal(t, int64(1), n, "value %s", hexValue(i))
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{in: "short", n: 32, want: "short"},
		{in: "abcdef", n: 3, want: "abc..."},
		{in: strings.Repeat("ж", 40), n: 32, want: strings.Repeat("ж", 32) + "..."},
		{in: "éé", n: 2, want: "éé"},
	}
	for _, tt := range tests {
		if got := preview(tt.in, tt.n); got != tt.want {
			t.Errorf("preview(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
