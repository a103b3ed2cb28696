package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/premium_server/config"
)

func TestPlanService_EnsureDefaults(t *testing.T) {
	env := setupEnv(t)

	defaults := []config.PlanConfig{
		{Name: "Lifetime", Price: 999, DurationDays: 0},
		{Name: "Monthly", Price: 99, DurationDays: 30},
	}
	require.NoError(t, env.plans.EnsureDefaults(defaults))
	// 已有套餐时不重复写入
	require.NoError(t, env.plans.EnsureDefaults(defaults))

	plans, err := env.plans.List()
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "Monthly", plans[0].Name)
	assert.Equal(t, 30, *plans[0].DurationDays)
	assert.True(t, plans[1].IsLifetime())

	got, err := env.plans.Get(plans[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Monthly", got.Name)
}

func TestPlanService_Get_NotFound(t *testing.T) {
	env := setupEnv(t)

	_, err := env.plans.Get(404)
	assert.ErrorIs(t, err, ErrPlanNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
}
