package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crepo/internal/cr"
)

func TestStore_AccountTypes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	all, err := s.GetAllAccountTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, all, len(cr.PredefinedAccountTypes))

	phone, err := s.GetAccountTypeByName(ctx, cr.AccountTypePhone)
	require.NoError(t, err)
	require.NotNil(t, phone)
	assert.Equal(t, cr.PhoneTypeID, phone.CorrelationTypeID)

	missing, err := s.GetAccountTypeByName(ctx, "CARRIER_PIGEON")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_GetOrCreateAccount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := mustAccount(t, s, cr.AccountTypePhone, "+1 (555) 010-0199")
	second := mustAccount(t, s, cr.AccountTypePhone, "+15550100199")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "+15550100199", first.Identifier)

	skype := mustAccount(t, s, "SKYPE", " Live:Jane ")
	assert.Equal(t, "live:jane", skype.Identifier)

	got, err := s.GetAccount(ctx, skype.Type, "live:JANE")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, skype.ID, got.ID)

	_, err = s.GetOrCreateAccount(ctx, cr.AccountType{}, "x")
	var verr *cr.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestStore_GetCaseIDsForAccount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	email := mustType(t, s, cr.EmailTypeID)
	acct := mustAccount(t, s, cr.AccountTypeEmail, "bob@example.com")

	var caseIDs []int64
	for _, uuid := range []string{"case-1", "case-2"} {
		c := mustCase(t, s, uuid)
		ds := mustDataSource(t, s, c, 1)
		require.NoError(t, s.AddAttributeInstance(ctx, &cr.Instance{
			Type: email, Value: "bob@example.com", Case: c, DataSource: ds, AccountID: acct.ID,
		}))
		caseIDs = append(caseIDs, c.ID)
	}
	other := mustCase(t, s, "case-3")
	ds := mustDataSource(t, s, other, 1)
	require.NoError(t, s.AddAttributeInstance(ctx, &cr.Instance{Type: email, Value: "bob@example.com", Case: other, DataSource: ds}))

	ids, err := s.GetCaseIDsForAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, caseIDs, ids)
}

func TestStore_CorrelationTypes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	defined, err := s.GetDefinedCorrelationTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, defined, len(cr.DefaultCorrelationTypes()))

	id, err := s.NewCorrelationType(ctx, cr.CorrelationType{
		ID: -1, DisplayName: "Bluetooth Devices", TableName: "bluetooth", Supported: true, Enabled: false,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, id, cr.AdditionalTypesBaseID)

	bt, err := s.GetCorrelationTypeByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, bt)
	assert.Equal(t, "bluetooth_instances", bt.InstanceTable())

	c := mustCase(t, s, "abc-123")
	ds := mustDataSource(t, s, c, 1)
	require.NoError(t, s.AddAttributeInstance(ctx, &cr.Instance{Type: *bt, Value: "AA:BB", Case: c, DataSource: ds}))
	n, err := s.CountArtifactInstancesByTypeValue(ctx, *bt, "aa:bb")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	enabled, err := s.GetEnabledCorrelationTypes(ctx)
	require.NoError(t, err)
	for _, et := range enabled {
		assert.NotEqual(t, id, et.ID, "disabled type listed as enabled")
	}

	bt.Enabled = true
	bt.DisplayName = "Bluetooth"
	require.NoError(t, s.UpdateCorrelationType(ctx, *bt))
	updated, err := s.GetCorrelationTypeByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, updated.Enabled)
	assert.Equal(t, "Bluetooth", updated.DisplayName)

	_, err = s.NewCorrelationType(ctx, cr.CorrelationType{ID: -1, DisplayName: "Bad", TableName: "drop table"})
	var verr *cr.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = s.NewCorrelationType(ctx, cr.CorrelationType{ID: id, DisplayName: "Again", TableName: "again"})
	assert.ErrorIs(t, err, cr.ErrConstraintConflict)
}
