package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crepo/internal/cr"
)

func statusPtr(s cr.KnownStatus) *cr.KnownStatus { return &s }

func mustReferenceSet(t *testing.T, s *Store, name, version string, status cr.KnownStatus) *cr.ReferenceSet {
	t.Helper()
	ctx := context.Background()
	orgs, err := s.GetOrganizations(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, orgs)
	files := mustType(t, s, cr.FilesTypeID)

	set := &cr.ReferenceSet{
		OrgID:       orgs[0].ID,
		Name:        name,
		Version:     version,
		KnownStatus: statusPtr(status),
		Type:        &files,
	}
	_, err = s.NewReferenceSet(ctx, set)
	require.NoError(t, err)
	return set
}

func TestStore_NewReferenceSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	set := mustReferenceSet(t, s, "NSRL", "2.50", cr.KnownStatusKnown)
	assert.Positive(t, set.ID)
	assert.Equal(t, "2024-01-15", set.ImportDate)

	got, err := s.GetReferenceSetByID(ctx, set.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "NSRL", got.Name)
	assert.Equal(t, cr.KnownStatusKnown, *got.KnownStatus)
	assert.Equal(t, cr.FilesTypeID, got.Type.ID)

	dup := *set
	dup.ID = 0
	_, err = s.NewReferenceSet(ctx, &dup)
	assert.ErrorIs(t, err, cr.ErrConstraintConflict)

	exists, err := s.ReferenceSetExists(ctx, "NSRL", "2.50")
	require.NoError(t, err)
	assert.True(t, exists)

	valid, err := s.ReferenceSetIsValid(ctx, set.ID, "NSRL", "2.49")
	require.NoError(t, err)
	assert.False(t, valid)

	sets, err := s.GetAllReferenceSets(ctx, *set.Type)
	require.NoError(t, err)
	assert.Len(t, sets, 1)

	missing, err := s.GetReferenceSetByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_NewReferenceSetValidation(t *testing.T) {
	s := newTestStore(t)
	files := mustType(t, s, cr.FilesTypeID)

	for name, set := range map[string]*cr.ReferenceSet{
		"nil":         nil,
		"no name":     {OrgID: 1, KnownStatus: statusPtr(cr.KnownStatusBad), Type: &files},
		"no org":      {Name: "x", KnownStatus: statusPtr(cr.KnownStatusBad), Type: &files},
		"no status":   {Name: "x", OrgID: 1, Type: &files},
		"no set type": {Name: "x", OrgID: 1, KnownStatus: statusPtr(cr.KnownStatusBad)},
	} {
		_, err := s.NewReferenceSet(context.Background(), set)
		var verr *cr.ValidationError
		assert.ErrorAs(t, err, &verr, name)
	}
}

func TestStore_ReferenceEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	files := mustType(t, s, cr.FilesTypeID)
	bad := mustReferenceSet(t, s, "Notable", "1", cr.KnownStatusBad)

	require.NoError(t, s.AddReferenceInstance(ctx, &cr.ReferenceInstance{
		SetID: bad.ID, Value: md5A, KnownStatus: statusPtr(cr.KnownStatusBad), Comment: "malware",
	}, files))
	// Duplicates through the single-entry path are ignored.
	require.NoError(t, s.AddReferenceInstance(ctx, &cr.ReferenceInstance{
		SetID: bad.ID, Value: md5A, KnownStatus: statusPtr(cr.KnownStatusBad),
	}, files))

	in, err := s.IsFileHashInReferenceSet(ctx, md5A, bad.ID)
	require.NoError(t, err)
	assert.True(t, in)

	in, err = s.IsValueInReferenceSet(ctx, md5B, bad.ID, cr.FilesTypeID)
	require.NoError(t, err)
	assert.False(t, in)

	hit, err := s.LookupHash(ctx, "D41D8CD98F00B204E9800998ECF8427E", bad.ID)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, []string{"malware"}, hit.Comments)

	miss, err := s.LookupHash(ctx, md5B, bad.ID)
	require.NoError(t, err)
	assert.Nil(t, miss)

	knownBad, err := s.IsArtifactKnownBadByReference(ctx, files, md5A)
	require.NoError(t, err)
	assert.True(t, knownBad)

	entries, err := s.GetReferenceInstancesByTypeValue(ctx, files, md5A)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, bad.ID, entries[0].SetID)

	domain := mustType(t, s, cr.DomainTypeID)
	none, err := s.GetReferenceInstancesByTypeValue(ctx, domain, "example.com")
	require.NoError(t, err)
	assert.Nil(t, none)

	err = s.AddReferenceInstance(ctx, &cr.ReferenceInstance{SetID: bad.ID, Value: "example.com", KnownStatus: statusPtr(cr.KnownStatusBad)}, domain)
	var verr *cr.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestStore_BulkInsertReferenceTypeEntries(t *testing.T) {
	t.Run("inserts every entry", func(t *testing.T) {
		ctx := context.Background()
		s := newTestStore(t)
		files := mustType(t, s, cr.FilesTypeID)
		set := mustReferenceSet(t, s, "Known", "1", cr.KnownStatusKnown)

		var entries []*cr.ReferenceInstance
		for i := range 10 {
			entries = append(entries, &cr.ReferenceInstance{SetID: set.ID, Value: hexValue(i), KnownStatus: statusPtr(cr.KnownStatusKnown)})
		}
		require.NoError(t, s.BulkInsertReferenceTypeEntries(ctx, entries, files))

		for i := range 10 {
			in, err := s.IsFileHashInReferenceSet(ctx, hexValue(i), set.ID)
			require.NoError(t, err)
			assert.True(t, in)
		}
	})

	t.Run("a duplicate rolls back the batch", func(t *testing.T) {
		ctx := context.Background()
		s := newTestStore(t)
		files := mustType(t, s, cr.FilesTypeID)
		set := mustReferenceSet(t, s, "Known", "1", cr.KnownStatusKnown)

		entries := []*cr.ReferenceInstance{
			{SetID: set.ID, Value: md5A, KnownStatus: statusPtr(cr.KnownStatusKnown)},
			{SetID: set.ID, Value: md5B, KnownStatus: statusPtr(cr.KnownStatusKnown)},
			{SetID: set.ID, Value: md5A, KnownStatus: statusPtr(cr.KnownStatusKnown)},
		}
		err := s.BulkInsertReferenceTypeEntries(ctx, entries, files)
		assert.ErrorIs(t, err, cr.ErrConstraintConflict)

		in, err := s.IsFileHashInReferenceSet(ctx, md5B, set.ID)
		require.NoError(t, err)
		assert.False(t, in)
	})

	t.Run("an invalid entry rolls back the batch", func(t *testing.T) {
		ctx := context.Background()
		s := newTestStore(t)
		files := mustType(t, s, cr.FilesTypeID)
		set := mustReferenceSet(t, s, "Known", "1", cr.KnownStatusKnown)

		entries := []*cr.ReferenceInstance{
			{SetID: set.ID, Value: md5A, KnownStatus: statusPtr(cr.KnownStatusKnown)},
			{SetID: set.ID, Value: "nope", KnownStatus: statusPtr(cr.KnownStatusKnown)},
		}
		err := s.BulkInsertReferenceTypeEntries(ctx, entries, files)
		var nerr *cr.NormalizationError
		assert.ErrorAs(t, err, &nerr)

		in, err := s.IsFileHashInReferenceSet(ctx, md5A, set.ID)
		require.NoError(t, err)
		assert.False(t, in)
	})
}

func TestStore_DeleteReferenceSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	files := mustType(t, s, cr.FilesTypeID)
	set := mustReferenceSet(t, s, "Gone", "1", cr.KnownStatusBad)
	require.NoError(t, s.AddReferenceInstance(ctx, &cr.ReferenceInstance{SetID: set.ID, Value: md5A, KnownStatus: statusPtr(cr.KnownStatusBad)}, files))

	require.NoError(t, s.DeleteReferenceSet(ctx, set.ID))

	exists, err := s.ReferenceSetExists(ctx, "Gone", "1")
	require.NoError(t, err)
	assert.False(t, exists)

	knownBad, err := s.IsArtifactKnownBadByReference(ctx, files, md5A)
	require.NoError(t, err)
	assert.False(t, knownBad)
}
