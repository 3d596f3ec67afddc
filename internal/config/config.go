// Package config loads wingmem configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all wingmem configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Memory  MemoryConfig  `yaml:"memory"`
	Server  ServerConfig  `yaml:"server"`
	Query   QueryConfig   `yaml:"query"`
	Logging LoggingConfig `yaml:"logging"`
}

// MemoryConfig configures the layered memory store.
type MemoryConfig struct {
	// SQLite database file
	DatabasePath string `yaml:"database_path"`
}

// ServerConfig configures the read-only HTTP wrapper.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

// QueryConfig configures retrieval defaults.
type QueryConfig struct {
	// Default result limit when a caller passes none
	DefaultLimit int `yaml:"default_limit"`
	// Heat score at or above which an atom counts as hot in /metrics
	HotThreshold float64 `yaml:"hot_threshold"`
	// Window for the recent-query gauge, e.g. "1h"
	RecentWindow string `yaml:"recent_window"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "wingmem",
		Version: "1.0.0",

		Memory: MemoryConfig{
			DatabasePath: "data/wingmem.db",
		},

		Server: ServerConfig{
			Addr:         ":8900",
			ReadTimeout:  "15s",
			WriteTimeout: "30s",
		},

		Query: QueryConfig{
			DefaultLimit: 20,
			HotThreshold: 5.0,
			RecentWindow: "1h",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment variables override either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides lets deployment environments override file settings.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WINGMEM_DB_PATH"); v != "" {
		c.Memory.DatabasePath = v
	}
	if v := os.Getenv("WINGMEM_HTTP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("WINGMEM_QUERY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Query.DefaultLimit = n
		}
	}
	if v := os.Getenv("WINGMEM_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = b
		}
	}
	if v := os.Getenv("WINGMEM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// DefaultPath returns the conventional config location inside a workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, ".wingmem", "config.yaml")
}
