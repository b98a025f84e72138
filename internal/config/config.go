package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/renalreg/radar-timeline-data/internal/domain"
)

// Manager loads and holds the application configuration using Viper
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	// Set configuration file name and paths
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/radar-timeline-data/")

	// Set environment variable prefix and enable automatic env binding
	viper.SetEnvPrefix("RADAR_TIMELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	m.setDefaults()

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal configuration into struct
	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	for _, registry := range []string{"radar", "ukrdc", "ukrr"} {
		prefix := "registries." + registry
		viper.SetDefault(prefix+".host", "localhost")
		viper.SetDefault(prefix+".port", 5432)
		viper.SetDefault(prefix+".database", registry)
		viper.SetDefault(prefix+".username", "postgres")
		viper.SetDefault(prefix+".password", "")
		viper.SetDefault(prefix+".ssl_mode", "disable")
		viper.SetDefault(prefix+".max_open_conns", 10)
		viper.SetDefault(prefix+".max_idle_conns", 2)
		viper.SetDefault(prefix+".conn_max_lifetime", "5m")
	}

	// Engine defaults
	viper.SetDefault("engine.burst_tolerance_days", 5)
	viper.SetDefault("engine.cross_tolerance_days", 15)
	viper.SetDefault("engine.group_cache_size", 4096)

	// Export defaults
	viper.SetDefault("export.batch_size", 1000)
	viper.SetDefault("export.batches_per_sec", 5.0)
	viper.SetDefault("export.breaker_timeout", "30s")

	// Audit defaults
	viper.SetDefault("audit.dir", "audit")
	viper.SetDefault("audit.enabled", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetRegistriesConfig returns the per-registry database configuration
func (m *Manager) GetRegistriesConfig() *domain.RegistriesConfig {
	return &m.config.Registries
}

// GetEngineConfig returns consolidation engine configuration
func (m *Manager) GetEngineConfig() *domain.EngineConfig {
	return &m.config.Engine
}

// GetExportConfig returns export configuration
func (m *Manager) GetExportConfig() *domain.ExportConfig {
	return &m.config.Export
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	for _, db := range []struct {
		name string
		cfg  domain.DatabaseConfig
	}{
		{"radar", config.Registries.Radar},
		{"ukrdc", config.Registries.UKRDC},
		{"ukrr", config.Registries.UKRR},
	} {
		if db.cfg.Host == "" {
			return fmt.Errorf("%s database host is required", db.name)
		}
		if db.cfg.Database == "" {
			return fmt.Errorf("%s database name is required", db.name)
		}
		if db.cfg.Username == "" {
			return fmt.Errorf("%s database username is required", db.name)
		}
		if db.cfg.Port <= 0 || db.cfg.Port > 65535 {
			return fmt.Errorf("invalid %s database port: %d", db.name, db.cfg.Port)
		}
	}

	if config.Engine.BurstToleranceDays < 0 {
		return fmt.Errorf("invalid burst tolerance: %d", config.Engine.BurstToleranceDays)
	}
	if config.Engine.CrossToleranceDays < config.Engine.BurstToleranceDays {
		return fmt.Errorf("cross tolerance %d must not be below burst tolerance %d",
			config.Engine.CrossToleranceDays, config.Engine.BurstToleranceDays)
	}
	if config.Export.BatchSize <= 0 {
		return fmt.Errorf("invalid export batch size: %d", config.Export.BatchSize)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// ConnectionString returns a formatted connection string for one registry
func ConnectionString(db domain.DatabaseConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}
