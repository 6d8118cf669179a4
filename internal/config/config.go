package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kenneth/zk-vault/internal/crypto"
)

// Config holds the complete application configuration.
type Config struct {
	LogLevel  string        `yaml:"log_level" env:"VAULT_LOG_LEVEL"`
	LogFormat string        `yaml:"log_format" env:"VAULT_LOG_FORMAT"` // text or json
	AccountID string        `yaml:"account_id" env:"VAULT_ACCOUNT_ID"`
	Crypto    CryptoConfig  `yaml:"crypto"`
	Session   SessionConfig `yaml:"session"`
	Limits    LimitsConfig  `yaml:"limits"`
	Storage   StorageConfig `yaml:"storage"`
	Cache     CacheConfig   `yaml:"cache"`
	Audit     AuditConfig   `yaml:"audit"`
	Metrics   MetricsConfig `yaml:"metrics"`
	Tracing   TracingConfig `yaml:"tracing"`
}

// CryptoConfig holds key derivation and cipher settings.
type CryptoConfig struct {
	Algorithm           string `yaml:"algorithm" env:"VAULT_CRYPTO_ALGORITHM"`
	MasterIterations    int    `yaml:"master_iterations" env:"VAULT_CRYPTO_MASTER_ITERATIONS"`
	SecondaryIterations int    `yaml:"secondary_iterations" env:"VAULT_CRYPTO_SECONDARY_ITERATIONS"`
}

// SessionConfig holds unlocked-session settings.
type SessionConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"VAULT_SESSION_IDLE_TIMEOUT"` // 0 disables the inactivity lock
}

// LimitsConfig holds upload limits.
type LimitsConfig struct {
	MaxFileSize int64 `yaml:"max_file_size" env:"VAULT_MAX_FILE_SIZE"` // Max plaintext size in bytes
}

// StorageConfig selects where metadata and ciphertext blobs live.
type StorageConfig struct {
	Metadata MetadataConfig `yaml:"metadata"`
	Blob     BlobConfig     `yaml:"blob"`
}

// MetadataConfig holds metadata store settings.
type MetadataConfig struct {
	Backend string `yaml:"backend" env:"VAULT_METADATA_BACKEND"` // memory or badger
	Path    string `yaml:"path" env:"VAULT_METADATA_PATH"`
}

// BlobConfig holds blob store settings.
type BlobConfig struct {
	Backend string   `yaml:"backend" env:"VAULT_BLOB_BACKEND"` // memory, file or s3
	Dir     string   `yaml:"dir" env:"VAULT_BLOB_DIR"`
	S3      S3Config `yaml:"s3"`
}

// S3Config holds S3 blob backend configuration.
type S3Config struct {
	Bucket       string `yaml:"bucket" env:"VAULT_S3_BUCKET"`
	Prefix       string `yaml:"prefix" env:"VAULT_S3_PREFIX"`
	Region       string `yaml:"region" env:"VAULT_S3_REGION"`
	Endpoint     string `yaml:"endpoint" env:"VAULT_S3_ENDPOINT"` // Leave empty for AWS
	AccessKey    string `yaml:"access_key" env:"VAULT_S3_ACCESS_KEY"`
	SecretKey    string `yaml:"secret_key" env:"VAULT_S3_SECRET_KEY"`
	UsePathStyle bool   `yaml:"use_path_style" env:"VAULT_S3_USE_PATH_STYLE"`
}

// CacheConfig holds blob cache configuration.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled" env:"VAULT_CACHE_ENABLED"`
	MaxSize    int64         `yaml:"max_size" env:"VAULT_CACHE_MAX_SIZE"`   // Max size in bytes
	MaxItems   int           `yaml:"max_items" env:"VAULT_CACHE_MAX_ITEMS"` // Max number of items
	DefaultTTL time.Duration `yaml:"default_ttl" env:"VAULT_CACHE_DEFAULT_TTL"`
}

// AuditConfig holds audit logging configuration.
type AuditConfig struct {
	Enabled   bool `yaml:"enabled" env:"VAULT_AUDIT_ENABLED"`
	MaxEvents int  `yaml:"max_events" env:"VAULT_AUDIT_MAX_EVENTS"` // Max events to keep in memory
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled      bool   `yaml:"enabled" env:"VAULT_METRICS_ENABLED"`
	TextfilePath string `yaml:"textfile_path" env:"VAULT_METRICS_TEXTFILE_PATH"` // node_exporter textfile output
}

// TracingConfig holds OpenTelemetry tracing configuration.
type TracingConfig struct {
	Enabled       bool    `yaml:"enabled" env:"VAULT_TRACING_ENABLED"`
	ServiceName   string  `yaml:"service_name" env:"VAULT_TRACING_SERVICE_NAME"`
	Exporter      string  `yaml:"exporter" env:"VAULT_TRACING_EXPORTER"` // stdout or otlp
	OtlpEndpoint  string  `yaml:"otlp_endpoint" env:"VAULT_TRACING_OTLP_ENDPOINT"`
	SamplingRatio float64 `yaml:"sampling_ratio" env:"VAULT_TRACING_SAMPLING_RATIO"`
}

// Default returns the configuration used when no file or environment overrides are present.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		AccountID: "default",
		Crypto: CryptoConfig{
			Algorithm:           crypto.AlgorithmAES256GCM,
			MasterIterations:    crypto.DefaultMasterIterations,
			SecondaryIterations: crypto.DefaultSecondaryIterations,
		},
		Session: SessionConfig{
			IdleTimeout: 10 * time.Minute,
		},
		Limits: LimitsConfig{
			MaxFileSize: 100 * 1024 * 1024,
		},
		Storage: StorageConfig{
			Metadata: MetadataConfig{Backend: "memory"},
			Blob: BlobConfig{
				Backend: "memory",
				S3:      S3Config{Region: "us-east-1"},
			},
		},
		Cache: CacheConfig{
			Enabled:    false,
			MaxSize:    100 * 1024 * 1024, // 100MB default
			MaxItems:   1000,
			DefaultTTL: 5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:   false,
			MaxEvents: 10000,
		},
		Tracing: TracingConfig{
			Enabled:       false,
			ServiceName:   "zk-vault",
			Exporter:      "stdout",
			SamplingRatio: 1.0,
		},
	}
}

// LoadConfig loads configuration from a file and environment variables.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	// Load from file if provided
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func envInt64(name string, dst *int64) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			*dst = n
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// loadFromEnv loads configuration values from environment variables.
func loadFromEnv(config *Config) {
	envString("VAULT_LOG_LEVEL", &config.LogLevel)
	envString("VAULT_LOG_FORMAT", &config.LogFormat)
	envString("VAULT_ACCOUNT_ID", &config.AccountID)

	envString("VAULT_CRYPTO_ALGORITHM", &config.Crypto.Algorithm)
	envInt("VAULT_CRYPTO_MASTER_ITERATIONS", &config.Crypto.MasterIterations)
	envInt("VAULT_CRYPTO_SECONDARY_ITERATIONS", &config.Crypto.SecondaryIterations)

	envDuration("VAULT_SESSION_IDLE_TIMEOUT", &config.Session.IdleTimeout)
	envInt64("VAULT_MAX_FILE_SIZE", &config.Limits.MaxFileSize)

	// Storage configuration
	envString("VAULT_METADATA_BACKEND", &config.Storage.Metadata.Backend)
	envString("VAULT_METADATA_PATH", &config.Storage.Metadata.Path)
	envString("VAULT_BLOB_BACKEND", &config.Storage.Blob.Backend)
	envString("VAULT_BLOB_DIR", &config.Storage.Blob.Dir)
	envString("VAULT_S3_BUCKET", &config.Storage.Blob.S3.Bucket)
	envString("VAULT_S3_PREFIX", &config.Storage.Blob.S3.Prefix)
	envString("VAULT_S3_REGION", &config.Storage.Blob.S3.Region)
	envString("VAULT_S3_ENDPOINT", &config.Storage.Blob.S3.Endpoint)
	envString("VAULT_S3_ACCESS_KEY", &config.Storage.Blob.S3.AccessKey)
	envString("VAULT_S3_SECRET_KEY", &config.Storage.Blob.S3.SecretKey)
	envBool("VAULT_S3_USE_PATH_STYLE", &config.Storage.Blob.S3.UsePathStyle)

	// Cache configuration
	envBool("VAULT_CACHE_ENABLED", &config.Cache.Enabled)
	envInt64("VAULT_CACHE_MAX_SIZE", &config.Cache.MaxSize)
	envInt("VAULT_CACHE_MAX_ITEMS", &config.Cache.MaxItems)
	envDuration("VAULT_CACHE_DEFAULT_TTL", &config.Cache.DefaultTTL)

	// Audit configuration
	envBool("VAULT_AUDIT_ENABLED", &config.Audit.Enabled)
	envInt("VAULT_AUDIT_MAX_EVENTS", &config.Audit.MaxEvents)

	envBool("VAULT_METRICS_ENABLED", &config.Metrics.Enabled)
	envString("VAULT_METRICS_TEXTFILE_PATH", &config.Metrics.TextfilePath)

	// Tracing configuration
	envBool("VAULT_TRACING_ENABLED", &config.Tracing.Enabled)
	envString("VAULT_TRACING_SERVICE_NAME", &config.Tracing.ServiceName)
	envString("VAULT_TRACING_EXPORTER", &config.Tracing.Exporter)
	envString("VAULT_TRACING_OTLP_ENDPOINT", &config.Tracing.OtlpEndpoint)
	if v := os.Getenv("VAULT_TRACING_SAMPLING_RATIO"); v != "" {
		if ratio, err := strconv.ParseFloat(v, 64); err == nil && ratio >= 0.0 && ratio <= 1.0 {
			config.Tracing.SamplingRatio = ratio
		}
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[c.LogLevel] {
			return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel)
		}
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log_format: %s (must be text or json)", c.LogFormat)
	}

	if c.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if strings.ContainsAny(c.AccountID, `/\`) {
		return fmt.Errorf("account_id must not contain path separators")
	}

	allowed := map[string]bool{
		crypto.AlgorithmAES256GCM:        true,
		crypto.AlgorithmChaCha20Poly1305: true,
	}
	if alg := strings.TrimSpace(c.Crypto.Algorithm); alg != "" && !allowed[alg] {
		return fmt.Errorf("invalid crypto.algorithm: %s", alg)
	}
	if c.Crypto.MasterIterations != 0 && c.Crypto.MasterIterations < crypto.MinMasterIterations {
		return fmt.Errorf("crypto.master_iterations must be at least %d", crypto.MinMasterIterations)
	}
	if c.Crypto.SecondaryIterations != 0 && c.Crypto.SecondaryIterations < crypto.MinSecondaryIterations {
		return fmt.Errorf("crypto.secondary_iterations must be at least %d", crypto.MinSecondaryIterations)
	}

	if c.Session.IdleTimeout < 0 {
		return fmt.Errorf("session.idle_timeout must not be negative")
	}
	if c.Limits.MaxFileSize <= 0 {
		return fmt.Errorf("limits.max_file_size must be positive")
	}

	switch c.Storage.Metadata.Backend {
	case "memory":
	case "badger":
		if c.Storage.Metadata.Path == "" {
			return fmt.Errorf("storage.metadata.path is required when backend is badger")
		}
	default:
		return fmt.Errorf("invalid storage.metadata.backend: %s (must be memory or badger)", c.Storage.Metadata.Backend)
	}

	switch c.Storage.Blob.Backend {
	case "memory":
	case "file":
		if c.Storage.Blob.Dir == "" {
			return fmt.Errorf("storage.blob.dir is required when backend is file")
		}
	case "s3":
		if c.Storage.Blob.S3.Bucket == "" {
			return fmt.Errorf("storage.blob.s3.bucket is required when backend is s3")
		}
		if (c.Storage.Blob.S3.AccessKey == "") != (c.Storage.Blob.S3.SecretKey == "") {
			return fmt.Errorf("storage.blob.s3.access_key and secret_key must be set together")
		}
	default:
		return fmt.Errorf("invalid storage.blob.backend: %s (must be memory, file, or s3)", c.Storage.Blob.Backend)
	}

	if c.Cache.Enabled {
		if c.Cache.MaxSize <= 0 || c.Cache.MaxItems <= 0 {
			return fmt.Errorf("cache.max_size and cache.max_items must be positive when cache is enabled")
		}
	}

	if c.Audit.Enabled && c.Audit.MaxEvents <= 0 {
		return fmt.Errorf("audit.max_events must be positive when audit is enabled")
	}

	// Validate tracing configuration
	if c.Tracing.Enabled {
		if c.Tracing.ServiceName == "" {
			return fmt.Errorf("tracing.service_name is required when tracing is enabled")
		}
		validExporters := map[string]bool{
			"stdout": true,
			"otlp":   true,
		}
		if !validExporters[c.Tracing.Exporter] {
			return fmt.Errorf("invalid tracing.exporter: %s (must be stdout or otlp)", c.Tracing.Exporter)
		}
		if c.Tracing.SamplingRatio < 0.0 || c.Tracing.SamplingRatio > 1.0 {
			return fmt.Errorf("tracing.sampling_ratio must be between 0.0 and 1.0")
		}
		if c.Tracing.Exporter == "otlp" && c.Tracing.OtlpEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is otlp")
		}
	}

	return nil
}
