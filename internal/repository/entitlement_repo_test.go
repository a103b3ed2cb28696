package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/premium_server/internal/model"
	"github.com/qs3c/premium_server/internal/testutil"
)

func TestEntitlementRepository_Get_Default(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewEntitlementRepository(db)

	e, err := repo.Get(model.SubjectGuild, 404)
	require.NoError(t, err)
	assert.Equal(t, model.SubjectGuild, e.Kind)
	assert.Equal(t, int64(404), e.SubjectID)
	assert.False(t, e.Active)
	assert.Nil(t, e.ExpireAt)
	assert.Nil(t, e.GrantedBy)
}

func TestEntitlementRepository_UpsertOverwrites(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewEntitlementRepository(db)
	now := model.NormalizeTime(time.Now())
	first := now.Add(time.Hour)
	by := int64(9)

	require.NoError(t, repo.Upsert(&model.Entitlement{
		Kind: model.SubjectUser, SubjectID: 1, Active: true,
		ExpireAt: &first, GrantedBy: &by, GrantedAt: &now, Notified: true,
	}))

	second := now.Add(48 * time.Hour)
	require.NoError(t, repo.Upsert(&model.Entitlement{
		Kind: model.SubjectUser, SubjectID: 1, Active: true,
		ExpireAt: &second, GrantedBy: &by, GrantedAt: &now,
	}))

	e, err := repo.Get(model.SubjectUser, 1)
	require.NoError(t, err)
	assert.True(t, e.Active)
	require.NotNil(t, e.ExpireAt)
	assert.True(t, e.ExpireAt.Equal(second))
	assert.False(t, e.Notified, "regrant resets the notified flag")

	// 用户与服务器互不影响
	g, err := repo.Get(model.SubjectGuild, 1)
	require.NoError(t, err)
	assert.False(t, g.Active)
}

func TestEntitlementRepository_ConditionalDeactivate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewEntitlementRepository(db)
	expire := model.NormalizeTime(time.Now().Add(-time.Minute))
	testutil.TestEntitlement(t, db, model.SubjectGuild, 5, testutil.WithExpireAt(expire))

	stale := expire.Add(-time.Hour)
	ok, err := repo.ConditionalDeactivate(model.SubjectGuild, 5, &stale)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.ConditionalDeactivate(model.SubjectGuild, 5, &expire)
	require.NoError(t, err)
	assert.True(t, ok)

	e, err := repo.Get(model.SubjectGuild, 5)
	require.NoError(t, err)
	assert.False(t, e.Active)
	assert.Nil(t, e.ExpireAt)
	assert.Nil(t, e.GrantedBy)

	ok, err = repo.ConditionalDeactivate(model.SubjectGuild, 5, &expire)
	require.NoError(t, err)
	assert.False(t, ok, "second deactivation is a no-op")
}

func TestEntitlementRepository_DeactivateOwned(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewEntitlementRepository(db)
	e := testutil.TestEntitlement(t, db, model.SubjectGuild, 5, testutil.WithGrantedBy(7))

	ok, err := repo.DeactivateOwned(model.SubjectGuild, 5, 8, e.ExpireAt)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.DeactivateOwned(model.SubjectGuild, 5, 7, e.ExpireAt)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEntitlementRepository_ActivateIfInactive(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewEntitlementRepository(db)
	now := time.Now()
	expire := model.NormalizeTime(now.Add(24 * time.Hour))

	// 记录不存在时先创建再激活
	ok, err := repo.ActivateIfInactive(model.SubjectGuild, 11, &expire, 3, now)
	require.NoError(t, err)
	assert.True(t, ok)

	e, err := repo.Get(model.SubjectGuild, 11)
	require.NoError(t, err)
	assert.True(t, e.Active)
	assert.True(t, e.ExpireAt.Equal(expire))
	assert.Equal(t, int64(3), *e.GrantedBy)

	// 已激活时不覆盖
	ok, err = repo.ActivateIfInactive(model.SubjectGuild, 11, nil, 4, now)
	require.NoError(t, err)
	assert.False(t, ok)

	e, err = repo.Get(model.SubjectGuild, 11)
	require.NoError(t, err)
	assert.Equal(t, int64(3), *e.GrantedBy)
}

func TestEntitlementRepository_Deactivate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewEntitlementRepository(db)
	testutil.TestEntitlement(t, db, model.SubjectUser, 2, testutil.WithLifetime())

	ok, err := repo.Deactivate(model.SubjectUser, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Deactivate(model.SubjectUser, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEntitlementRepository_MarkNotified(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewEntitlementRepository(db)
	testutil.TestEntitlement(t, db, model.SubjectUser, 2, testutil.Inactive())

	ok, err := repo.MarkNotified(model.SubjectUser, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkNotified(model.SubjectUser, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEntitlementRepository_MarkNotified_SkipsRegranted(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewEntitlementRepository(db)
	now := model.NormalizeTime(time.Now())
	old := now.Add(-time.Minute)
	testutil.TestEntitlement(t, db, model.SubjectUser, 3, testutil.WithExpireAt(old))

	ok, err := repo.ConditionalDeactivate(model.SubjectUser, 3, &old)
	require.NoError(t, err)
	require.True(t, ok)

	// 撤销与标记之间插入一次新的授予
	next := now.Add(24 * time.Hour)
	by := int64(8)
	require.NoError(t, repo.Upsert(&model.Entitlement{
		Kind: model.SubjectUser, SubjectID: 3, Active: true,
		ExpireAt: &next, GrantedBy: &by, GrantedAt: &now, Notified: false,
	}))

	ok, err = repo.MarkNotified(model.SubjectUser, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	e, err := repo.Get(model.SubjectUser, 3)
	require.NoError(t, err)
	assert.True(t, e.Active)
	assert.False(t, e.Notified, "new grant must keep its expiry notice pending")
}

func TestEntitlementRepository_ListExpired(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewEntitlementRepository(db)
	now := model.NormalizeTime(time.Now())

	testutil.TestEntitlement(t, db, model.SubjectUser, 1, testutil.WithExpireAt(now.Add(-2*time.Hour)))
	testutil.TestEntitlement(t, db, model.SubjectUser, 2, testutil.WithExpireAt(now.Add(-time.Hour)))
	testutil.TestEntitlement(t, db, model.SubjectUser, 3, testutil.WithExpireAt(now.Add(time.Hour)))
	testutil.TestEntitlement(t, db, model.SubjectUser, 4, testutil.WithLifetime())
	testutil.TestEntitlement(t, db, model.SubjectUser, 5, testutil.Inactive())
	testutil.TestEntitlement(t, db, model.SubjectGuild, 6, testutil.WithExpireAt(now.Add(-time.Hour)))

	list, err := repo.ListExpired(model.SubjectUser, now, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(1), list[0].SubjectID)
	assert.Equal(t, int64(2), list[1].SubjectID)
	assert.Equal(t, model.SubjectUser, list[0].Kind)

	list, err = repo.ListExpired(model.SubjectUser, now, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	count, err := repo.CountActive(model.SubjectUser)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}
