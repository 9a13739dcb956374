// Package config loads the Fieldline service configuration from a YAML file
// with environment-variable overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full fieldline configuration.
type Config struct {
	Listen   string `yaml:"listen"`
	DBPath   string `yaml:"db_path"`
	ObsPath  string `yaml:"observability_db_path"`
	LogLevel string `yaml:"log_level"`

	// JWTSecret signs manager session tokens. Overridden by SESSION_SECRET.
	JWTSecret string `yaml:"jwt_secret"`

	// Admin seed account, created on boot when no manager exists.
	AdminEmail    string `yaml:"admin_email"`
	AdminName     string `yaml:"admin_name"`
	AdminPassword string `yaml:"admin_password"`

	Stream    StreamConfig    `yaml:"stream"`
	Retention RetentionConfig `yaml:"retention"`
}

// StreamConfig tunes the live update fan-out.
type StreamConfig struct {
	// PollIntervalMs is how often each session checks the sequence counter.
	PollIntervalMs int `yaml:"poll_interval_ms"`
	// KeepAliveIntervalMs is how often an idle stream writes a comment line
	// to keep intermediary proxies from timing out the connection.
	KeepAliveIntervalMs int `yaml:"keepalive_interval_ms"`
}

// RetentionConfig controls observability table cleanup.
type RetentionConfig struct {
	EventLogsDays  int `yaml:"event_logs_days"`
	HeartbeatsDays int `yaml:"heartbeats_days"`
	// Schedule is a cron expression for the cleanup run.
	Schedule string `yaml:"schedule"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Listen:   ":8090",
		DBPath:   "data/fieldline.db",
		ObsPath:  "data/observability.db",
		LogLevel: "info",
		Stream: StreamConfig{
			PollIntervalMs:      1000,
			KeepAliveIntervalMs: 15000,
		},
		Retention: RetentionConfig{
			EventLogsDays:  90,
			HeartbeatsDays: 7,
			Schedule:       "10 3 * * *",
		},
	}
}

// Load reads a YAML config file, merges it over Default, applies environment
// overrides, and validates. An empty path returns Default with env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Listen = ":" + v
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("OBS_DB_PATH"); v != "" {
		c.ObsPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ADMIN_EMAIL"); v != "" {
		c.AdminEmail = v
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		c.AdminPassword = v
	}
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path is required")
	}
	if c.ObsPath == "" {
		return fmt.Errorf("config: observability_db_path is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("config: jwt_secret is required (or set SESSION_SECRET)")
	}
	if c.Stream.PollIntervalMs <= 0 {
		return fmt.Errorf("config: stream.poll_interval_ms must be > 0")
	}
	if c.Stream.KeepAliveIntervalMs <= 0 {
		return fmt.Errorf("config: stream.keepalive_interval_ms must be > 0")
	}
	return nil
}

// PollInterval returns the stream poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Stream.PollIntervalMs) * time.Millisecond
}

// KeepAliveInterval returns the stream keep-alive interval as a duration.
func (c *Config) KeepAliveInterval() time.Duration {
	return time.Duration(c.Stream.KeepAliveIntervalMs) * time.Millisecond
}
