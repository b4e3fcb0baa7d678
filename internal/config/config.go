// Package config loads application configuration from an optional YAML
// file layered with environment variables. Environment variables win;
// a .env file in the working directory is picked up if present.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendBigQuery = "bigquery"
)

// Config is the full application configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Source SourceConfig `yaml:"source"`
	Jobs   JobsConfig   `yaml:"jobs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// StoreConfig selects and configures the graph store backend.
type StoreConfig struct {
	Backend    string         `yaml:"backend"`
	SQLitePath string         `yaml:"sqlite_path"`
	BigQuery   BigQueryConfig `yaml:"bigquery"`
}

// BigQueryConfig configures the BigQuery-backed store.
type BigQueryConfig struct {
	ProjectID string `yaml:"project_id"`
	DatasetID string `yaml:"dataset_id"`
}

// SourceConfig configures the external transaction feed.
type SourceConfig struct {
	BaseURL  string `yaml:"base_url"`
	PageSize int    `yaml:"page_size"`
}

// JobsConfig configures the in-memory job queue.
type JobsConfig struct {
	Workers    int `yaml:"workers"`
	BufferSize int `yaml:"buffer_size"`
}

// Load reads configuration. Order of precedence, lowest to highest:
// built-in defaults, the YAML file at yamlPath (skipped when empty or
// missing), then environment variables. A .env file is loaded first if
// one exists.
func Load(yamlPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Store:  StoreConfig{Backend: BackendMemory, SQLitePath: "spendgraph.db"},
		Source: SourceConfig{PageSize: 100},
		Jobs:   JobsConfig{Workers: 2, BufferSize: 100},
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("Load: read %s: %w", yamlPath, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("Load: parse %s: %w", yamlPath, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var err error
	if c.Server.Port, err = intEnv("SERVER_PORT", c.Server.Port); err != nil {
		return err
	}
	c.Store.Backend = stringEnv("STORE_BACKEND", c.Store.Backend)
	c.Store.SQLitePath = stringEnv("STORE_SQLITE_PATH", c.Store.SQLitePath)
	c.Store.BigQuery.ProjectID = stringEnv("BIGQUERY_PROJECT_ID", c.Store.BigQuery.ProjectID)
	c.Store.BigQuery.DatasetID = stringEnv("BIGQUERY_DATASET_ID", c.Store.BigQuery.DatasetID)
	c.Source.BaseURL = stringEnv("SOURCE_BASE_URL", c.Source.BaseURL)
	if c.Source.PageSize, err = intEnv("SOURCE_PAGE_SIZE", c.Source.PageSize); err != nil {
		return err
	}
	if c.Jobs.Workers, err = intEnv("JOBS_WORKERS", c.Jobs.Workers); err != nil {
		return err
	}
	if c.Jobs.BufferSize, err = intEnv("JOBS_BUFFER_SIZE", c.Jobs.BufferSize); err != nil {
		return err
	}
	return nil
}

// Validate checks cross-field constraints that defaults cannot cover.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite backend requires store.sqlite_path")
		}
	case BackendBigQuery:
		if c.Store.BigQuery.ProjectID == "" || c.Store.BigQuery.DatasetID == "" {
			return fmt.Errorf("bigquery backend requires project_id and dataset_id")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Source.PageSize <= 0 {
		return fmt.Errorf("source page size must be positive")
	}
	return nil
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %q", key, v)
	}
	return parsed, nil
}
