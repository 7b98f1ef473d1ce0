package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"crepo/internal/cr"
)

func TestStore_GetOrCreateCase(t *testing.T) {
	t.Run("creates then returns the stored case", func(t *testing.T) {
		ctx := context.Background()
		s := newTestStore(t)

		first, err := s.GetOrCreateCase(ctx, &cr.Case{UUID: "abc-123", DisplayName: "First", CreationDate: "today"})
		require.NoError(t, err)
		assert.Positive(t, first.ID)

		second, err := s.GetOrCreateCase(ctx, &cr.Case{UUID: "abc-123", DisplayName: "Second", CreationDate: "later"})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "First", second.DisplayName, "existing case fields must be kept")
	})

	t.Run("rejects invalid cases", func(t *testing.T) {
		s := newTestStore(t)
		for _, c := range []*cr.Case{nil, {DisplayName: "no uuid"}, {UUID: "no-name"}} {
			_, err := s.GetOrCreateCase(context.Background(), c)
			var verr *cr.ValidationError
			assert.True(t, errors.As(err, &verr), "case %+v: error = %v", c, err)
		}
	})

	t.Run("concurrent creators agree on one row", func(t *testing.T) {
		ctx := context.Background()
		s := newTestStore(t)

		ids := make([]int64, 16)
		var g errgroup.Group
		for i := range ids {
			g.Go(func() error {
				c, err := s.GetOrCreateCase(ctx, &cr.Case{UUID: "racer", DisplayName: fmt.Sprintf("racer %d", i), CreationDate: "now"})
				if err != nil {
					return err
				}
				ids[i] = c.ID
				return nil
			})
		}
		require.NoError(t, g.Wait())
		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}

		cases, err := s.GetCases(ctx)
		require.NoError(t, err)
		assert.Len(t, cases, 1)
	})

	t.Run("keeps the organization", func(t *testing.T) {
		ctx := context.Background()
		s := newTestStore(t)
		org, err := s.NewOrganization(ctx, &cr.Organization{Name: "Lab"})
		require.NoError(t, err)

		c, err := s.GetOrCreateCase(ctx, &cr.Case{UUID: "with-org", DisplayName: "Org case", CreationDate: "now", Org: org})
		require.NoError(t, err)
		require.NotNil(t, c.Org)
		assert.Equal(t, "Lab", c.Org.Name)
	})
}

func TestStore_GetCaseLookups(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := mustCase(t, s, "abc-123")

	byUUID, err := s.GetCaseByUUID(ctx, "abc-123")
	require.NoError(t, err)
	assert.Equal(t, c.ID, byUUID.ID)

	byID, err := s.GetCaseByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", byID.UUID)

	missing, err := s.GetCaseByUUID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	missing, err = s.GetCaseByID(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = s.GetCaseByUUID(ctx, "")
	var verr *cr.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestStore_UpdateCase(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := mustCase(t, s, "abc-123")

	// Warm both caches.
	_, err := s.GetCaseByID(ctx, c.ID)
	require.NoError(t, err)

	c.DisplayName = "Renamed"
	c.Notes = "checked"
	require.NoError(t, s.UpdateCase(ctx, c))

	byID, err := s.GetCaseByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", byID.DisplayName)
	assert.Equal(t, "checked", byID.Notes)

	byUUID, err := s.GetCaseByUUID(ctx, "abc-123")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", byUUID.DisplayName)
}

func TestStore_BulkInsertCases(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, func(o *Options) { o.BulkThreshold = 3 })
	mustCase(t, s, "case-2")

	var cases []*cr.Case
	for i := range 7 {
		cases = append(cases, &cr.Case{UUID: fmt.Sprintf("case-%d", i), DisplayName: fmt.Sprintf("Bulk %d", i), CreationDate: "now"})
	}
	require.NoError(t, s.BulkInsertCases(ctx, cases))

	all, err := s.GetCases(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 7)

	kept, err := s.GetCaseByUUID(ctx, "case-2")
	require.NoError(t, err)
	assert.Equal(t, "Case case-2", kept.DisplayName)
}

func TestStore_DataSources(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := mustCase(t, s, "abc-123")
	ds := mustDataSource(t, s, c, 42)

	again := mustDataSource(t, s, c, 42)
	assert.Equal(t, ds.ID, again.ID)

	got, err := s.GetDataSource(ctx, c.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, ds.ID, got.ID)

	byID, err := s.GetDataSourceByID(ctx, c.ID, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), byID.ObjectID)

	ds.MD5 = md5A
	require.NoError(t, s.UpdateDataSourceMD5(ctx, ds))
	require.NoError(t, s.UpdateDataSourceName(ctx, ds, "renamed.e01"))

	got, err = s.GetDataSource(ctx, c.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, md5A, got.MD5)
	assert.Equal(t, "renamed.e01", got.Name)

	require.NoError(t, s.AddDataSourceObjectID(ctx, ds, 43))
	moved, err := s.GetDataSource(ctx, c.ID, 43)
	require.NoError(t, err)
	require.NotNil(t, moved)
	assert.Equal(t, ds.ID, moved.ID)

	all, err := s.GetDataSources(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	missing, err := s.GetDataSource(ctx, c.ID, 1000)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
