// Package config loads and validates the object log configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the OBJLOG_ prefix (e.g. OBJLOG_DATABASE_HOST
// overrides database.host in the YAML), so the same binary runs from a config.yaml in
// development and from pure environment variables in containers.
//
// List-valued sections (shipping.shippers, subjects.types) can only be set from the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable override.
const EnvPrefix = "OBJLOG"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Shipping  ShippingConfig  `mapstructure:"shipping"`
	Subjects  SubjectsConfig  `mapstructure:"subjects"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// BaseURL prefixes the locators produced for built-in subject types.
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig is shared by the redis shipper and the redis rate-limit backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	APIKeys APIKeyConfig `mapstructure:"api_keys"`
	// SessionTTL is the lifetime of tokens issued by the issue-token command.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// APIKeyConfig holds API key authentication configuration
type APIKeyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
	// Backend is "memory" (per process) or "redis" (shared across replicas).
	Backend string `mapstructure:"backend"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ShippingConfig configures forwarding of recorded entries to external sinks.
type ShippingConfig struct {
	Enabled  bool            `mapstructure:"enabled"`
	Shippers []ShipperConfig `mapstructure:"shippers"`
}

// ShipperConfig holds configuration for a single shipper
type ShipperConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Type is webhook, file or redis.
	Type    string                `mapstructure:"type"`
	Webhook *WebhookShipperConfig `mapstructure:"webhook"`
	File    *FileShipperConfig    `mapstructure:"file"`
	Redis   *RedisShipperConfig   `mapstructure:"redis"`
}

// WebhookShipperConfig holds webhook shipper configuration
type WebhookShipperConfig struct {
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	TimeoutSecs   int               `mapstructure:"timeout_secs"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval int               `mapstructure:"flush_interval_secs"`
}

// FileShipperConfig holds file shipper configuration
type FileShipperConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// RedisShipperConfig publishes entries to a channel on the shared redis connection.
type RedisShipperConfig struct {
	Channel string `mapstructure:"channel"`
}

// SubjectsConfig lists host-defined subject types beyond the built-in user and group.
type SubjectsConfig struct {
	Types []SubjectTypeConfig `mapstructure:"types"`
}

// SubjectTypeConfig maps a type tag to a table and a locator template containing {id}.
type SubjectTypeConfig struct {
	Tag         string `mapstructure:"tag"`
	Table       string `mapstructure:"table"`
	IDColumn    string `mapstructure:"id_column"`
	URLTemplate string `mapstructure:"url_template"`
}

// RetentionConfig controls the optional disposal of old entries.
type RetentionConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxAgeDays    int           `mapstructure:"max_age_days"`
	IntervalHours int           `mapstructure:"interval_hours"`
	Archive       ArchiveConfig `mapstructure:"archive"`
}

// ArchiveConfig selects where expired entries are exported before they are deleted.
type ArchiveConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Backend is local, s3, azure or gcs.
	Backend string `mapstructure:"backend"`
	// Prefix is prepended to every archive object name.
	Prefix string `mapstructure:"prefix"`
	// EncryptionKey (base64, 32 bytes) or EncryptionPassphrase with EncryptionSalt seals
	// each archived line. Leave all empty to write plain JSON Lines.
	EncryptionKey        string             `mapstructure:"encryption_key"`
	EncryptionPassphrase string             `mapstructure:"encryption_passphrase"`
	EncryptionSalt       string             `mapstructure:"encryption_salt"`
	Azure                AzureStorageConfig `mapstructure:"azure"`
	S3                   S3StorageConfig    `mapstructure:"s3"`
	GCS                  GCSStorageConfig   `mapstructure:"gcs"`
	Local                LocalStorageConfig `mapstructure:"local"`
}

// AzureStorageConfig holds Azure Blob Storage configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is the S3-compatible endpoint URL (optional, for MinIO etc.)
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// AuthMethod is "default", "static", "oidc" or "assume_role".
	AuthMethod string `mapstructure:"auth_method"`

	// Static credentials (auth_method "static", or empty with both keys set)
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// AssumeRole configuration (auth_method "assume_role" or "oidc")
	RoleARN         string `mapstructure:"role_arn"`
	RoleSessionName string `mapstructure:"role_session_name"`
	ExternalID      string `mapstructure:"external_id"`

	// WebIdentityTokenFile is the OIDC token file for auth_method "oidc".
	WebIdentityTokenFile string `mapstructure:"web_identity_token_file"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket string `mapstructure:"bucket"`

	// AuthMethod is "default", "service_account" or "workload_identity".
	AuthMethod string `mapstructure:"auth_method"`

	// CredentialsFile or CredentialsJSON supply a service account key.
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`

	// Endpoint is an optional custom endpoint (for GCS emulators)
	Endpoint string `mapstructure:"endpoint"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// bindEnvVars explicitly binds environment variables to config keys, since AutomaticEnv
// alone does not reach nested keys during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",

		// Auth
		"auth.api_keys.enabled",
		"auth.api_keys.prefix",
		"auth.session_ttl",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.rate_limiting.backend",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Shipping / retention
		"shipping.enabled",
		"retention.enabled",
		"retention.max_age_days",
		"retention.interval_hours",
		"retention.archive.enabled",
		"retention.archive.backend",
		"retention.archive.prefix",
		"retention.archive.encryption_key",
		"retention.archive.encryption_passphrase",
		"retention.archive.encryption_salt",
		"retention.archive.azure.account_name",
		"retention.archive.azure.account_key",
		"retention.archive.azure.container_name",
		"retention.archive.s3.endpoint",
		"retention.archive.s3.region",
		"retention.archive.s3.bucket",
		"retention.archive.s3.auth_method",
		"retention.archive.s3.access_key_id",
		"retention.archive.s3.secret_access_key",
		"retention.archive.s3.role_arn",
		"retention.archive.s3.role_session_name",
		"retention.archive.s3.external_id",
		"retention.archive.s3.web_identity_token_file",
		"retention.archive.gcs.bucket",
		"retention.archive.gcs.auth_method",
		"retention.archive.gcs.credentials_file",
		"retention.archive.gcs.credentials_json",
		"retention.archive.gcs.endpoint",
		"retention.archive.local.base_path",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/object-log")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No file: defaults and environment only.
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Retention.Archive.Azure.AccountKey = expandEnv(cfg.Retention.Archive.Azure.AccountKey)
	cfg.Retention.Archive.S3.SecretAccessKey = expandEnv(cfg.Retention.Archive.S3.SecretAccessKey)
	cfg.Retention.Archive.EncryptionKey = expandEnv(cfg.Retention.Archive.EncryptionKey)
	cfg.Retention.Archive.EncryptionPassphrase = expandEnv(cfg.Retention.Archive.EncryptionPassphrase)
	for i := range cfg.Shipping.Shippers {
		if wh := cfg.Shipping.Shippers[i].Webhook; wh != nil {
			for k, val := range wh.Headers {
				wh.Headers[k] = expandEnv(val)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch reloads the configuration whenever the config file changes and passes each valid
// reload to onChange. Invalid edits are reported through onError and otherwise ignored.
// It returns false when no config file is in use.
func Watch(configPath string, onChange func(*Config), onError func(error)) (bool, error) {
	v, err := newViper(configPath)
	if err != nil {
		return false, err
	}
	if v.ConfigFileUsed() == "" {
		return false, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return true, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "object_log")
	v.SetDefault("database.user", "objlog")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.api_keys.enabled", true)
	v.SetDefault("auth.api_keys.prefix", "olk_")
	v.SetDefault("auth.session_ttl", "24h")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 120)
	v.SetDefault("security.rate_limiting.burst", 20)
	v.SetDefault("security.rate_limiting.backend", "memory")
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "object-log")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Shipping / retention defaults
	v.SetDefault("shipping.enabled", false)
	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.max_age_days", 365)
	v.SetDefault("retention.interval_hours", 24)
	v.SetDefault("retention.archive.enabled", false)
	v.SetDefault("retention.archive.backend", "local")
	v.SetDefault("retention.archive.prefix", "objectlog")
	v.SetDefault("retention.archive.local.base_path", "./archive")
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	switch c.Security.RateLimiting.Backend {
	case "memory":
	case "redis":
		if c.Security.RateLimiting.Enabled && c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when the redis rate limit backend is enabled")
		}
	default:
		return fmt.Errorf("invalid rate limiting backend: %s (must be memory or redis)", c.Security.RateLimiting.Backend)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.Shipping.Enabled {
		for i, s := range c.Shipping.Shippers {
			if !s.Enabled {
				continue
			}
			if err := s.validate(); err != nil {
				return fmt.Errorf("shipping.shippers[%d]: %w", i, err)
			}
			if s.Type == "redis" && c.Redis.Addr == "" {
				return fmt.Errorf("shipping.shippers[%d]: redis.addr is required for the redis shipper", i)
			}
		}
	}

	seen := make(map[string]bool)
	for _, t := range c.Subjects.Types {
		if t.Tag == "" || t.Table == "" {
			return fmt.Errorf("subjects.types: tag and table are required")
		}
		if t.Tag == "user" || t.Tag == "group" {
			return fmt.Errorf("subjects.types: %q is a built-in subject type", t.Tag)
		}
		if seen[t.Tag] {
			return fmt.Errorf("subjects.types: duplicate tag %q", t.Tag)
		}
		seen[t.Tag] = true
	}

	if c.Retention.Enabled {
		if c.Retention.MaxAgeDays < 1 {
			return fmt.Errorf("retention.max_age_days must be at least 1")
		}
		if c.Retention.IntervalHours < 1 {
			return fmt.Errorf("retention.interval_hours must be at least 1")
		}
		if c.Retention.Archive.Enabled {
			if err := c.Retention.Archive.validate(); err != nil {
				return fmt.Errorf("retention.archive: %w", err)
			}
		}
	}

	return nil
}

func (s ShipperConfig) validate() error {
	switch s.Type {
	case "webhook":
		if s.Webhook == nil || s.Webhook.URL == "" {
			return fmt.Errorf("webhook.url is required")
		}
	case "file":
		if s.File == nil || s.File.Path == "" {
			return fmt.Errorf("file.path is required")
		}
	case "redis":
		if s.Redis == nil || s.Redis.Channel == "" {
			return fmt.Errorf("redis.channel is required")
		}
	default:
		return fmt.Errorf("unknown shipper type: %s", s.Type)
	}
	return nil
}

func (a ArchiveConfig) validate() error {
	if a.EncryptionKey != "" && a.EncryptionPassphrase != "" {
		return fmt.Errorf("set encryption_key or encryption_passphrase, not both")
	}
	if a.EncryptionPassphrase != "" && len(a.EncryptionSalt) < 16 {
		return fmt.Errorf("encryption_salt must be at least 16 characters")
	}
	switch a.Backend {
	case "azure":
		if a.Azure.AccountName == "" || a.Azure.AccountKey == "" || a.Azure.ContainerName == "" {
			return fmt.Errorf("azure.account_name, azure.account_key and azure.container_name are required")
		}
	case "s3":
		if a.S3.Bucket == "" || a.S3.Region == "" {
			return fmt.Errorf("s3.bucket and s3.region are required")
		}
	case "gcs":
		if a.GCS.Bucket == "" {
			return fmt.Errorf("gcs.bucket is required")
		}
	case "local":
		if a.Local.BasePath == "" {
			return fmt.Errorf("local.base_path is required")
		}
	default:
		return fmt.Errorf("invalid backend: %s (must be local, s3, azure or gcs)", a.Backend)
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
