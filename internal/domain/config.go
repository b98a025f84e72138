package domain

import "time"

// Config is the full application configuration.
type Config struct {
	Registries RegistriesConfig `mapstructure:"registries"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Export     ExportConfig     `mapstructure:"export"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// RegistriesConfig holds one database configuration per upstream registry.
type RegistriesConfig struct {
	Radar DatabaseConfig `mapstructure:"radar"`
	UKRDC DatabaseConfig `mapstructure:"ukrdc"`
	UKRR  DatabaseConfig `mapstructure:"ukrr"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// EngineConfig holds consolidation engine tuning.
type EngineConfig struct {
	// BurstToleranceDays merges update bursts within one source.
	BurstToleranceDays int `mapstructure:"burst_tolerance_days"`
	// CrossToleranceDays merges episodes across modalities and registries.
	CrossToleranceDays int `mapstructure:"cross_tolerance_days"`
	// GroupCacheSize bounds the normaliser's unit lookup cache.
	GroupCacheSize int `mapstructure:"group_cache_size"`
}

// ExportConfig holds persistence tuning for writing consolidated timelines.
type ExportConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	BatchesPerSec  float64       `mapstructure:"batches_per_sec"`
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
}

// AuditConfig holds audit trail output configuration.
type AuditConfig struct {
	Dir     string `mapstructure:"dir"`
	Enabled bool   `mapstructure:"enabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
