package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	m, err := NewManager()
	require.NoError(t, err)
	return m
}

func TestNewManager_Defaults(t *testing.T) {
	m := newTestManager(t)
	cfg := m.GetConfig()

	assert.Equal(t, "localhost", cfg.Registries.Radar.Host)
	assert.Equal(t, 5432, cfg.Registries.UKRDC.Port)
	assert.Equal(t, "ukrr", cfg.Registries.UKRR.Database)
	assert.Equal(t, 5*time.Minute, cfg.Registries.Radar.ConnMaxLifetime)

	assert.Equal(t, 5, cfg.Engine.BurstToleranceDays)
	assert.Equal(t, 15, cfg.Engine.CrossToleranceDays)
	assert.Equal(t, 1000, cfg.Export.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Export.BreakerTimeout)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestManager_EnvironmentOverride(t *testing.T) {
	t.Setenv("RADAR_TIMELINE_REGISTRIES_RADAR_HOST", "db.example.org")
	t.Setenv("RADAR_TIMELINE_ENGINE_CROSS_TOLERANCE_DAYS", "30")

	m := newTestManager(t)
	cfg := m.GetConfig()

	assert.Equal(t, "db.example.org", cfg.Registries.Radar.Host)
	assert.Equal(t, 30, cfg.Engine.CrossToleranceDays)
	assert.Equal(t, "localhost", cfg.Registries.UKRDC.Host, "other registries keep defaults")
}

func TestManager_Validate(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Validate())

	m.config.Registries.Radar.Host = ""
	assert.ErrorContains(t, m.Validate(), "radar database host")

	require.NoError(t, m.Reload())
	m.config.Engine.CrossToleranceDays = 2
	assert.ErrorContains(t, m.Validate(), "cross tolerance")

	require.NoError(t, m.Reload())
	m.config.Export.BatchSize = 0
	assert.ErrorContains(t, m.Validate(), "batch size")

	require.NoError(t, m.Reload())
	m.config.Logging.Level = "verbose"
	assert.ErrorContains(t, m.Validate(), "invalid log level")
}

func TestConnectionString(t *testing.T) {
	m := newTestManager(t)
	dsn := ConnectionString(m.GetConfig().Registries.Radar)
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "dbname=radar")
	assert.Contains(t, dsn, "sslmode=disable")
}
