package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestLoadDefaults tests that default configuration values are set correctly.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Failed to load config with defaults: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected default host '0.0.0.0', got '%s'", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected default shutdown timeout 10s, got %v", cfg.Server.ShutdownTimeout)
	}

	if cfg.Storage.Driver != DriverCouchDB {
		t.Errorf("Expected default storage driver '%s', got '%s'", DriverCouchDB, cfg.Storage.Driver)
	}
	if cfg.CouchDB.Database != "stratum" {
		t.Errorf("Expected default database 'stratum', got '%s'", cfg.CouchDB.Database)
	}

	if cfg.Cluster.ProjectHeader != "X-Project" {
		t.Errorf("Expected default project header 'X-Project', got '%s'", cfg.Cluster.ProjectHeader)
	}
	if cfg.Cluster.DefaultQueryLimit != 100 {
		t.Errorf("Expected default query limit 100, got %d", cfg.Cluster.DefaultQueryLimit)
	}
	if cfg.Cluster.DeleteWait != 10*time.Second {
		t.Errorf("Expected default delete wait 10s, got %v", cfg.Cluster.DeleteWait)
	}
	if cfg.Cluster.RemovalTimeout != 10*time.Minute {
		t.Errorf("Expected default removal timeout 10m, got %v", cfg.Cluster.RemovalTimeout)
	}
	if cfg.Cluster.SyntheticRemoval {
		t.Error("Expected synthetic removal to be off by default")
	}

	if !cfg.Admission.VerifyConnection {
		t.Error("Expected connection verification to be on by default")
	}
	if cfg.Admission.ConnectTimeout != 10*time.Second {
		t.Errorf("Expected default connect timeout 10s, got %v", cfg.Admission.ConnectTimeout)
	}

	if cfg.Removal.Workers != 2 {
		t.Errorf("Expected default removal workers 2, got %d", cfg.Removal.Workers)
	}
	if cfg.Removal.SweepInterval != 30*time.Second {
		t.Errorf("Expected default sweep interval 30s, got %v", cfg.Removal.SweepInterval)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default logging level 'info', got '%s'", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected default logging format 'json', got '%s'", cfg.Logging.Format)
	}

	if cfg.Security.AuthEnabled {
		t.Error("Expected auth to be disabled by default")
	}
	if cfg.Security.JWTExpiration != 24*time.Hour {
		t.Errorf("Expected default jwt expiration 24h, got %v", cfg.Security.JWTExpiration)
	}
	if len(cfg.Security.AllowedOrigins) != 1 || cfg.Security.AllowedOrigins[0] != "*" {
		t.Errorf("Expected default allowed origins ['*'], got %v", cfg.Security.AllowedOrigins)
	}

	if cfg.Client.URL != "http://localhost:8080" {
		t.Errorf("Expected default client url 'http://localhost:8080', got '%s'", cfg.Client.URL)
	}
}

// TestLoadFile tests reading values from a YAML file.
func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
storage:
  driver: memory
cluster:
  delete_wait: 2s
  synthetic_removal: true
admission:
  verify_connection: false
removal:
  workers: 4
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Driver != DriverMemory {
		t.Errorf("Expected memory driver, got '%s'", cfg.Storage.Driver)
	}
	if cfg.Cluster.DeleteWait != 2*time.Second {
		t.Errorf("Expected delete wait 2s, got %v", cfg.Cluster.DeleteWait)
	}
	if !cfg.Cluster.SyntheticRemoval {
		t.Error("Expected synthetic removal from file")
	}
	if cfg.Admission.VerifyConnection {
		t.Error("Expected connection verification to be disabled from file")
	}
	if cfg.Removal.Workers != 4 {
		t.Errorf("Expected 4 removal workers, got %d", cfg.Removal.Workers)
	}
}

// TestValidation tests the configuration validation logic.
func TestValidation(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:  ServerConfig{Port: 8080},
			Storage: StorageConfig{Driver: DriverCouchDB},
			CouchDB: CouchDBConfig{
				URL:      "http://localhost:5984",
				Database: "stratum",
			},
			Cluster: ClusterConfig{
				DefaultQueryLimit: 100,
				QueryExpiration:   time.Second,
			},
			Removal: RemovalConfig{Workers: 1},
			Logging: LoggingConfig{Format: "json"},
		}
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		expectErr bool
		errMsg    string
	}{
		{
			name:   "valid configuration",
			mutate: func(*Config) {},
		},
		{
			name:      "invalid port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			expectErr: true,
			errMsg:    "invalid server port",
		},
		{
			name:      "invalid port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			expectErr: true,
			errMsg:    "invalid server port",
		},
		{
			name:      "missing couchdb url",
			mutate:    func(c *Config) { c.CouchDB.URL = "" },
			expectErr: true,
			errMsg:    "couchdb url is required",
		},
		{
			name:      "missing couchdb database",
			mutate:    func(c *Config) { c.CouchDB.Database = "" },
			expectErr: true,
			errMsg:    "couchdb database is required",
		},
		{
			name: "memory driver ignores couchdb",
			mutate: func(c *Config) {
				c.Storage.Driver = DriverMemory
				c.CouchDB = CouchDBConfig{}
			},
		},
		{
			name:      "unknown driver",
			mutate:    func(c *Config) { c.Storage.Driver = "etcd" },
			expectErr: true,
			errMsg:    "unknown storage driver",
		},
		{
			name:      "zero query limit",
			mutate:    func(c *Config) { c.Cluster.DefaultQueryLimit = 0 },
			expectErr: true,
			errMsg:    "default_query_limit",
		},
		{
			name:      "zero query expiration",
			mutate:    func(c *Config) { c.Cluster.QueryExpiration = 0 },
			expectErr: true,
			errMsg:    "query_expiration",
		},
		{
			name:      "negative delete wait",
			mutate:    func(c *Config) { c.Cluster.DeleteWait = -time.Second },
			expectErr: true,
			errMsg:    "delete_wait",
		},
		{
			name:      "no removal workers",
			mutate:    func(c *Config) { c.Removal.Workers = 0 },
			expectErr: true,
			errMsg:    "removal workers",
		},
		{
			name: "auth without secret",
			mutate: func(c *Config) {
				c.Security.AuthEnabled = true
				c.Security.JWTSecret = ""
			},
			expectErr: true,
			errMsg:    "jwt_secret",
		},
		{
			name:      "unknown log format",
			mutate:    func(c *Config) { c.Logging.Format = "xml" },
			expectErr: true,
			errMsg:    "unknown logging format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validate(cfg)
			if tt.expectErr {
				if err == nil {
					t.Errorf("Expected error containing '%s', got nil", tt.errMsg)
				} else if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Expected error containing '%s', got '%s'", tt.errMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

// TestEnvironmentVariableOverride tests that environment variables override config values.
func TestEnvironmentVariableOverride(t *testing.T) {
	t.Setenv("CG_SERVER_PORT", "9999")
	t.Setenv("CG_STORAGE_DRIVER", "memory")
	t.Setenv("CG_CLUSTER_SYNTHETIC_REMOVAL", "true")

	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Expected port 9999 from environment, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Driver != DriverMemory {
		t.Errorf("Expected memory driver from environment, got '%s'", cfg.Storage.Driver)
	}
	if !cfg.Cluster.SyntheticRemoval {
		t.Error("Expected synthetic removal from environment")
	}
}

// TestLoadMalformedFile tests that a file that exists but does not parse is an error.
func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected an error for a malformed config file")
	}
}
