package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  host: 0.0.0.0
  port: 8080
  mode: debug
jwt:
  secret: s3cret
  expire_hours: 24
premium:
  admin_ids: [1, 2]
  sweep_spec: "@every 5m"
  min_grant_hours: 48
  upi_id: shop@upi
  plans:
    - name: Weekly
      price: 29
      duration_days: 7
`

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, []int64{1, 2}, cfg.Premium.AdminIDs)
	assert.Equal(t, "@every 5m", cfg.Premium.SweepSpec)
	assert.Equal(t, 48*time.Hour, cfg.Premium.MinGrant())
	require.Len(t, cfg.Premium.Plans, 1)
	assert.Equal(t, "Weekly", cfg.Premium.Plans[0].Name)
	assert.Equal(t, 7, cfg.Premium.Plans[0].DurationDays)

	// 未配置的字段使用默认值
	assert.Equal(t, "premium:expiry", cfg.Queue.ExpiryQueue)
	assert.Equal(t, "premium_notify", cfg.Queue.NotifyChannel)
	assert.Equal(t, 5*time.Second, cfg.Premium.PollInterval())
	assert.Equal(t, 30*time.Second, cfg.Premium.RetryDelay())
	assert.Equal(t, 2, cfg.Premium.Workers)
	assert.Equal(t, 100, cfg.Premium.BatchSize)
	assert.Equal(t, int64(5<<20), cfg.OSS.MaxProofSize)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_PrefersLocalConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", sampleYAML)
	writeConfig(t, dir, "config.local.yaml", "jwt:\n  secret: local-secret\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "local-secret", cfg.JWT.Secret)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyDefaults_Plans(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	require.Len(t, cfg.Premium.Plans, 3)
	assert.Equal(t, 0, cfg.Premium.Plans[2].DurationDays, "last default plan is lifetime")
	assert.Equal(t, 24*time.Hour, cfg.Premium.MinGrant())
	assert.Equal(t, "@every 15m", cfg.Premium.SweepSpec)
}

func TestPremiumConfig_IsAdmin(t *testing.T) {
	p := PremiumConfig{AdminIDs: []int64{5, 9}}
	assert.True(t, p.IsAdmin(9))
	assert.False(t, p.IsAdmin(6))
	assert.False(t, PremiumConfig{}.IsAdmin(1))
}
