package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/kasuganosora/playeraccounts/config"
	"github.com/kasuganosora/playeraccounts/model"
	"github.com/kasuganosora/playeraccounts/plugin/hook"
	"github.com/kasuganosora/playeraccounts/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var starter = []config.StarterItem{
	{ItemID: 1, Kind: model.ItemKindItem, Qty: 5},
	{ItemID: 3, Kind: model.ItemKindWeapon, Qty: 1},
	{ItemID: 7, Kind: model.ItemKindArmor},
}

func setup(t *testing.T) (*gorm.DB, *Service) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	require.NoError(t, db.AutoMigrate(&model.Account{}))
	return db, NewService(db, zap.NewNop(), starter)
}

func createAccount(t *testing.T, db *gorm.DB, name string) int64 {
	t.Helper()
	acc := &model.Account{Username: name, PasswordHash: "x", LastLoginIP: "127.0.0.1"}
	require.NoError(t, db.Create(acc).Error)
	return acc.AccountID
}

func TestGrantStarter(t *testing.T) {
	db, svc := setup(t)
	ctx := context.Background()
	id := createAccount(t, db, "alice")

	n, err := svc.GrantStarter(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	items, err := svc.List(ctx, id)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, 5, items[0].Qty)
	assert.Equal(t, model.ItemKindWeapon, items[1].Kind)
	assert.Equal(t, 1, items[2].Qty, "zero qty defaults to one")
	for _, it := range items {
		assert.Equal(t, model.ItemSourceStarter, it.Source)
	}
}

func TestGrantStarter_Idempotent(t *testing.T) {
	db, svc := setup(t)
	ctx := context.Background()
	id := createAccount(t, db, "bob")

	_, err := svc.GrantStarter(ctx, id)
	require.NoError(t, err)
	n, err := svc.GrantStarter(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	items, err := svc.List(ctx, id)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestGrantStarter_InvalidAccount(t *testing.T) {
	_, svc := setup(t)
	_, err := svc.GrantStarter(context.Background(), 0)
	assert.Error(t, err)
}

func TestGrantStarter_NoStarterConfigured(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := NewService(db, zap.NewNop(), nil)
	n, err := svc.GrantStarter(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGrantMissingStarters(t *testing.T) {
	db, svc := setup(t)
	ctx := context.Background()
	a := createAccount(t, db, "a")
	b := createAccount(t, db, "b")
	c := createAccount(t, db, "c")

	_, err := svc.GrantStarter(ctx, a)
	require.NoError(t, err)

	n, err := svc.GrantMissingStarters(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "limit caps the batch")

	n, err = svc.GrantMissingStarters(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, id := range []int64{a, b, c} {
		items, err := svc.List(ctx, id)
		require.NoError(t, err)
		assert.Len(t, items, 3)
	}

	n, err = svc.GrantMissingStarters(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegisterHooks(t *testing.T) {
	db, svc := setup(t)
	hc := hook.NewHookCenter()
	svc.RegisterHooks(hc)
	id := createAccount(t, db, "hooked")

	_, err := hc.Trigger(context.Background(), hook.AfterAccountCreate, &model.Account{AccountID: id})
	require.NoError(t, err)

	items, err := svc.List(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	// Accounts without an id are ignored.
	_, err = hc.Trigger(context.Background(), hook.AfterAccountCreate, &model.Account{})
	assert.NoError(t, err)
}

func TestRegisterHooks_PropagatesFailure(t *testing.T) {
	db, svc := setup(t)
	hc := hook.NewHookCenter()
	svc.RegisterHooks(hc)
	id := createAccount(t, db, "closed")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = hc.Trigger(context.Background(), hook.AfterAccountCreate, &model.Account{AccountID: id})
	var he *hook.HandlerError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "inventory.starter", he.Name)
}
