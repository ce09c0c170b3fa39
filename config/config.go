// Package config loads the server configuration from YAML with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Grid      GridConfig      `yaml:"grid"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`

	// Path is the SQLite database file (":memory:" for in-memory).
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`
}

// GridConfig tunes the availability grid defaults.
type GridConfig struct {
	// DefaultWeeks is the bucket count when a request does not specify one.
	DefaultWeeks int `yaml:"default_weeks"`
}

// SchedulerConfig contains the status-nudge scan settings.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`

	// NudgeScan is the cron expression for the booking-status scan.
	NudgeScan string `yaml:"nudge_scan"`
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults, so a bare binary still starts.
func Load(configPath string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.overrideWithEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables.
func (c *Config) overrideWithEnv() {
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.Port)
	}
	if val := os.Getenv("DB_DRIVER"); val != "" {
		c.Database.Driver = val
	}
	if val := os.Getenv("DB_PATH"); val != "" {
		c.Database.Path = val
	}
	if val := os.Getenv("DB_DSN"); val != "" {
		c.Database.DSN = val
	}
	if val := os.Getenv("NUDGE_SCAN_CRON"); val != "" {
		c.Scheduler.NudgeScan = val
	}
}

// Validate fills defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			c.Database.Path = "./data/rental.db"
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver: %q", c.Database.Driver)
	}

	if c.Grid.DefaultWeeks == 0 {
		c.Grid.DefaultWeeks = 12
	}
	if c.Grid.DefaultWeeks < 1 || c.Grid.DefaultWeeks > 20 {
		return fmt.Errorf("grid default_weeks must be between 1 and 20, got %d", c.Grid.DefaultWeeks)
	}

	if c.Scheduler.NudgeScan == "" {
		c.Scheduler.NudgeScan = "0 * * * *" // hourly
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
