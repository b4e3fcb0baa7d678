package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("Backend = %s, want memory", cfg.Store.Backend)
	}
	if cfg.Source.PageSize != 100 {
		t.Errorf("PageSize = %d, want 100", cfg.Source.PageSize)
	}
	if cfg.Jobs.Workers != 2 || cfg.Jobs.BufferSize != 100 {
		t.Errorf("Jobs = %+v, want 2 workers / 100 buffer", cfg.Jobs)
	}
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 9090
store:
  backend: sqlite
  sqlite_path: /tmp/test.db
source:
  base_url: http://feed.local
jobs:
  workers: 4
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Store.Backend != BackendSQLite || cfg.Store.SQLitePath != "/tmp/test.db" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Source.BaseURL != "http://feed.local" {
		t.Errorf("BaseURL = %s", cfg.Source.BaseURL)
	}
	if cfg.Jobs.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Jobs.Workers)
	}
	// Untouched keys keep their defaults.
	if cfg.Jobs.BufferSize != 100 {
		t.Errorf("BufferSize = %d, want default 100", cfg.Jobs.BufferSize)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("STORE_BACKEND", "bigquery")
	t.Setenv("BIGQUERY_PROJECT_ID", "proj")
	t.Setenv("BIGQUERY_DATASET_ID", "ds")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Port = %d, want env value 7070", cfg.Server.Port)
	}
	if cfg.Store.Backend != BackendBigQuery {
		t.Errorf("Backend = %s, want bigquery", cfg.Store.Backend)
	}
	if cfg.Store.BigQuery.ProjectID != "proj" || cfg.Store.BigQuery.DatasetID != "ds" {
		t.Errorf("BigQuery = %+v", cfg.Store.BigQuery)
	}
}

func TestLoad_BadIntegerEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-port")
	if _, err := Load(""); err == nil {
		t.Fatal("Expected error for non-integer SERVER_PORT")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{Port: 8080},
			Store:  StoreConfig{Backend: BackendMemory},
			Source: SourceConfig{PageSize: 100},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"memory backend", func(c *Config) {}, false},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }, true},
		{"sqlite without path", func(c *Config) { c.Store.Backend = BackendSQLite }, true},
		{"sqlite with path", func(c *Config) {
			c.Store.Backend = BackendSQLite
			c.Store.SQLitePath = "x.db"
		}, false},
		{"bigquery without project", func(c *Config) { c.Store.Backend = BackendBigQuery }, true},
		{"bigquery complete", func(c *Config) {
			c.Store.Backend = BackendBigQuery
			c.Store.BigQuery = BigQueryConfig{ProjectID: "p", DatasetID: "d"}
		}, false},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, true},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, true},
		{"non-positive page size", func(c *Config) { c.Source.PageSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
