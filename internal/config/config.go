// Package config loads the Stratum server and CLI configuration.
//
// Values are layered, each layer overriding the previous one:
//  1. built-in defaults (setDefaults)
//  2. config.yaml from the path given on the command line, or the first of
//     ./, ./configs, $HOME/.stratum and /etc/stratum that has one
//  3. a .env file in the working directory
//  4. CG_ environment variables, with dots in keys replaced by underscores
//     (CG_STORAGE_DRIVER=memory, CG_CLUSTER_DELETE_WAIT=5s)
//
// Durations accept Go duration strings ("30s", "10m").
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverCouchDB = "couchdb"
	DriverMemory  = "memory"
)

// Config is the root configuration structure for Stratum.
type Config struct {
	// Server contains HTTP server configuration
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Storage selects the document store backend
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// CouchDB contains database connection settings
	CouchDB CouchDBConfig `mapstructure:"couchdb" yaml:"couchdb"`

	// Cluster tunes the cluster orchestrator
	Cluster ClusterConfig `mapstructure:"cluster" yaml:"cluster"`

	// Admission controls host validation
	Admission AdmissionConfig `mapstructure:"admission" yaml:"admission"`

	// Removal tunes the removal task executor
	Removal RemovalConfig `mapstructure:"removal" yaml:"removal"`

	// Logging contains logging settings
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Security contains security and rate limiting settings
	Security SecurityConfig `mapstructure:"security" yaml:"security"`

	// Client configures the stratum CLI when talking to a server
	Client ClientConfig `mapstructure:"client" yaml:"client"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address (default: 0.0.0.0)
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the server listen port (default: 8080)
	Port int `mapstructure:"port" yaml:"port"`

	// ReadTimeout is the maximum duration for reading requests
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing responses
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// ShutdownTimeout is the maximum duration for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// Debug enables debug logging
	Debug bool `mapstructure:"debug" yaml:"debug"`

	TLSEnabled bool   `mapstructure:"tls_enabled" yaml:"tls_enabled"`
	TLSCert    string `mapstructure:"tls_cert" yaml:"tls_cert"`
	TLSKey     string `mapstructure:"tls_key" yaml:"tls_key"`
}

// StorageConfig selects the backend.
type StorageConfig struct {
	// Driver is couchdb or memory
	Driver string `mapstructure:"driver" yaml:"driver"`
}

// CouchDBConfig contains CouchDB connection settings.
type CouchDBConfig struct {
	// URL is the CouchDB server URL (e.g., http://localhost:5984)
	URL string `mapstructure:"url" yaml:"url"`

	// Database is the database name to use
	Database string `mapstructure:"database" yaml:"database"`

	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`

	// MaxConnections is the maximum number of concurrent connections
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections"`

	// Timeout in seconds for database operations
	Timeout int `mapstructure:"timeout" yaml:"timeout"`
}

// ClusterConfig tunes cluster operations.
type ClusterConfig struct {
	// ProjectHeader carries the caller's project when auth is disabled
	ProjectHeader string `mapstructure:"project_header" yaml:"project_header"`

	// DefaultQueryLimit caps host listings without $limit
	DefaultQueryLimit int `mapstructure:"default_query_limit" yaml:"default_query_limit"`

	// QueryExpiration bounds every downstream read
	QueryExpiration time.Duration `mapstructure:"query_expiration" yaml:"query_expiration"`

	// DeleteWait is how long a DELETE waits for teardown before answering 202
	DeleteWait time.Duration `mapstructure:"delete_wait" yaml:"delete_wait"`

	// RemovalTimeout bounds a teardown including dependent cleanup
	RemovalTimeout time.Duration `mapstructure:"removal_timeout" yaml:"removal_timeout"`

	// SyntheticRemoval deletes host records without removal tasks
	SyntheticRemoval bool `mapstructure:"synthetic_removal" yaml:"synthetic_removal"`
}

// AdmissionConfig controls host validation.
type AdmissionConfig struct {
	// VerifyConnection checks the host certificate and pings the daemon
	VerifyConnection bool `mapstructure:"verify_connection" yaml:"verify_connection"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`

	// CAFile adds trusted authorities for host certificates
	CAFile string `mapstructure:"ca_file" yaml:"ca_file"`
}

// RemovalConfig tunes the removal task executor.
type RemovalConfig struct {
	Workers       int           `mapstructure:"workers" yaml:"workers"`
	QueueSize     int           `mapstructure:"queue_size" yaml:"queue_size"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level" yaml:"level"`

	// Format is the log format (json, text)
	Format string `mapstructure:"format" yaml:"format"`

	// Output is stdout, stderr or a file path
	Output string `mapstructure:"output" yaml:"output"`
}

// SecurityConfig contains security and rate limiting settings.
type SecurityConfig struct {
	// RateLimit is the maximum requests per second per client
	RateLimit int `mapstructure:"rate_limit" yaml:"rate_limit"`

	// AllowedOrigins are the CORS allowed origins
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	// AuthEnabled enables JWT and API key authentication
	AuthEnabled bool `mapstructure:"auth_enabled" yaml:"auth_enabled"`

	// JWTSecret is the secret key for signing JWT tokens
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`

	// JWTExpiration is the JWT token expiration duration (default: 24h)
	JWTExpiration time.Duration `mapstructure:"jwt_expiration" yaml:"jwt_expiration"`

	// APIKeyHashes are bcrypt hashes of accepted API keys, written as
	// "<project>=<hash>"
	APIKeyHashes []string `mapstructure:"api_key_hashes" yaml:"api_key_hashes"`
}

// ClientConfig configures the CLI client.
type ClientConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Token   string        `mapstructure:"token" yaml:"token"`
	Project string        `mapstructure:"project" yaml:"project"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Load builds the configuration from cfgFile, or from the standard search
// path when cfgFile is empty, and validates it. A missing file is not an
// error; defaults and the environment still apply.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.stratum")
		v.AddConfigPath("/etc/stratum")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isFileNotFoundError(err) {
			return nil, fmt.Errorf("error reading config file %q: %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.MergeInConfig()

	v.SetEnvPrefix("CG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.tls_enabled", false)

	v.SetDefault("storage.driver", DriverCouchDB)

	v.SetDefault("couchdb.url", "http://localhost:5984")
	v.SetDefault("couchdb.database", "stratum")
	v.SetDefault("couchdb.username", "admin")
	v.SetDefault("couchdb.password", "password")
	v.SetDefault("couchdb.max_connections", 10)
	v.SetDefault("couchdb.timeout", 30)

	v.SetDefault("cluster.project_header", "X-Project")
	v.SetDefault("cluster.default_query_limit", 100)
	v.SetDefault("cluster.query_expiration", "30s")
	v.SetDefault("cluster.delete_wait", "10s")
	v.SetDefault("cluster.removal_timeout", "10m")
	v.SetDefault("cluster.synthetic_removal", false)

	v.SetDefault("admission.verify_connection", true)
	v.SetDefault("admission.connect_timeout", "10s")
	v.SetDefault("admission.ca_file", "")

	v.SetDefault("removal.workers", 2)
	v.SetDefault("removal.queue_size", 64)
	v.SetDefault("removal.sweep_interval", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("security.rate_limit", 100)
	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.auth_enabled", false)
	v.SetDefault("security.jwt_secret", "change-me-in-production")
	v.SetDefault("security.jwt_expiration", "24h")

	v.SetDefault("client.url", "http://localhost:8080")
	v.SetDefault("client.timeout", "60s")
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	switch cfg.Storage.Driver {
	case DriverCouchDB:
		if cfg.CouchDB.URL == "" {
			return fmt.Errorf("couchdb url is required")
		}
		if cfg.CouchDB.Database == "" {
			return fmt.Errorf("couchdb database is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver: %q", cfg.Storage.Driver)
	}

	if cfg.Cluster.DefaultQueryLimit < 1 {
		return fmt.Errorf("cluster default_query_limit must be positive: %d", cfg.Cluster.DefaultQueryLimit)
	}
	if cfg.Cluster.QueryExpiration <= 0 {
		return fmt.Errorf("cluster query_expiration must be positive")
	}
	if cfg.Cluster.DeleteWait < 0 {
		return fmt.Errorf("cluster delete_wait must not be negative")
	}
	if cfg.Removal.Workers < 1 {
		return fmt.Errorf("removal workers must be positive: %d", cfg.Removal.Workers)
	}
	if cfg.Security.AuthEnabled && cfg.Security.JWTSecret == "" {
		return fmt.Errorf("security jwt_secret is required when auth is enabled")
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unknown logging format: %q", cfg.Logging.Format)
	}

	return nil
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
