package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crepo/internal/cr"
)

// seedCrossCase stores md5A in two data sources of case-1 and one of case-2, and md5B
// once in case-2. A fourth data source holds nothing.
func seedCrossCase(t *testing.T, s *Store) (files cr.CorrelationType, inCase1 *cr.Instance) {
	t.Helper()
	ctx := context.Background()
	files = mustType(t, s, cr.FilesTypeID)

	c1 := mustCase(t, s, "case-1")
	c2 := mustCase(t, s, "case-2")
	ds1 := mustDataSource(t, s, c1, 1)
	ds2 := mustDataSource(t, s, c1, 2)
	ds3 := mustDataSource(t, s, c2, 1)
	mustDataSource(t, s, c2, 2)

	inCase1 = fileInstance(c1, ds1, files, md5A, "/a")
	inCase1.FileObjectID = 10
	require.NoError(t, s.AddAttributeInstance(ctx, inCase1))
	require.NoError(t, s.AddAttributeInstance(ctx, fileInstance(c1, ds1, files, md5A, "/copy-of-a")))
	require.NoError(t, s.AddAttributeInstance(ctx, fileInstance(c1, ds2, files, md5A, "/a")))
	bad := fileInstance(c2, ds3, files, md5A, "/a")
	bad.KnownStatus = cr.KnownStatusBad
	require.NoError(t, s.AddAttributeInstance(ctx, bad))
	require.NoError(t, s.AddAttributeInstance(ctx, fileInstance(c2, ds3, files, md5B, "/b")))
	return files, inCase1
}

func TestStore_Counts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	files, inst := seedCrossCase(t, s)

	n, err := s.CountArtifactInstancesByTypeValue(ctx, files, md5A)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	tuples, err := s.CountUniqueCaseDataSourceTuplesHavingTypeValue(ctx, files, md5A)
	require.NoError(t, err)
	assert.Equal(t, int64(3), tuples)

	dataSources, err := s.CountUniqueDataSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), dataSources)

	pct, err := s.FrequencyPercentage(ctx, inst)
	require.NoError(t, err)
	assert.Equal(t, 75, pct)

	bad, err := s.CountArtifactInstancesKnownBad(ctx, files, md5A)
	require.NoError(t, err)
	assert.Equal(t, int64(1), bad)

	perDS, err := s.CountArtifactInstancesByCaseDataSource(ctx, inst.DataSource.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), perDS)
}

func TestStore_CountCasesWithOtherInstances(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	files, inst := seedCrossCase(t, s)

	others, err := s.CountCasesWithOtherInstances(ctx, inst)
	require.NoError(t, err)
	assert.Equal(t, int64(2), others, "case-1 still has other copies of the value")

	lone := &cr.Instance{Type: files, Value: md5B}
	n, err := s.CountCasesWithOtherInstances(ctx, lone)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_CaseNameLists(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	files, _ := seedCrossCase(t, s)

	names, err := s.GetListCasesHavingArtifactInstances(ctx, files, md5A)
	require.NoError(t, err)
	assert.Equal(t, []string{"Case case-1", "Case case-2"}, names)

	bad, err := s.GetListCasesHavingArtifactInstancesKnownBad(ctx, files, md5A)
	require.NoError(t, err)
	assert.Equal(t, []string{"Case case-2"}, bad)

	none, err := s.GetListCasesHavingArtifactInstances(ctx, files, md5C)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_FrequencyPercentageWithoutDataSources(t *testing.T) {
	s := newTestStore(t)
	files := mustType(t, s, cr.FilesTypeID)

	pct, err := s.FrequencyPercentage(context.Background(), &cr.Instance{Type: files, Value: md5A})
	require.NoError(t, err)
	assert.Zero(t, pct)
}
