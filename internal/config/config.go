// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jobrunner/pipservice/internal/domain"
	"github.com/jobrunner/pipservice/internal/ports/output"
)

// EnvPrefix prefixes every environment variable, e.g. PIP_DATA_DIRECTORY.
const EnvPrefix = "PIP"

// Worker modes.
const (
	WorkerModeProcess = "process"
	WorkerModeLocal   = "local"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Data    DataConfig    `mapstructure:"data"`
	Workers WorkersConfig `mapstructure:"workers"`
	Storage StorageConfig `mapstructure:"storage"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Watch   WatchConfig   `mapstructure:"watch"`
	TLS     TLSConfig     `mapstructure:"tls"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["https://example.com", "*.sub.domain.tld"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// DataConfig names the dataset directory and the layers loaded from it.
type DataConfig struct {
	Directory string         `mapstructure:"directory"`
	Layers    []domain.Layer `mapstructure:"layers"`
}

// WorkersConfig holds layer worker configuration.
type WorkersConfig struct {
	Mode           string        `mapstructure:"mode"`       // process, local
	Executable     string        `mapstructure:"executable"` // default: the running binary
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	LookupTimeout  time.Duration `mapstructure:"lookup_timeout"` // 0 disables
	ReloadGrace    time.Duration `mapstructure:"reload_grace"`
}

// StorageConfig holds dataset storage configuration. Datasets are copied
// from the storage into the data directory before the workers start.
type StorageConfig struct {
	Type      string      `mapstructure:"type"` // s3, azure, http, local
	LocalPath string      `mapstructure:"local_path"`
	S3        S3Config    `mapstructure:"s3"`
	Azure     AzureConfig `mapstructure:"azure"`
	HTTP      HTTPConfig  `mapstructure:"http"`
}

// Remote reports whether datasets come from a remote store.
func (c *StorageConfig) Remote() bool {
	switch output.StorageType(c.Type) {
	case output.StorageTypeS3, output.StorageTypeAzure, output.StorageTypeHTTP:
		return true
	default:
		return false
	}
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// SyncConfig holds dataset synchronization configuration.
type SyncConfig struct {
	Interval time.Duration `mapstructure:"interval"` // 0 disables periodic sync
}

// WatchConfig holds dataset file watching configuration.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// TLSConfig holds TLS/CertMagic configuration.
type TLSConfig struct {
	Enabled  bool      `mapstructure:"enabled"`
	Domains  []string  `mapstructure:"domains"`
	Email    string    `mapstructure:"email"`
	CacheDir string    `mapstructure:"cache_dir"`
	Staging  bool      `mapstructure:"staging"` // Use Let's Encrypt staging
	DNS      DNSConfig `mapstructure:"dns"`
}

// DNSConfig holds the Azure DNS zone used for DNS-01 challenges.
type DNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"` // 0 serves metrics on the API listener
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 3102)
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.cors.allowed_origins", []string{})

	// Data defaults
	viper.SetDefault("data.directory", "./data")
	viper.SetDefault("data.layers", domain.DefaultLayers)

	// Worker defaults
	viper.SetDefault("workers.mode", WorkerModeProcess)
	viper.SetDefault("workers.executable", "")
	viper.SetDefault("workers.startup_timeout", 5*time.Minute)
	viper.SetDefault("workers.lookup_timeout", 10*time.Second)
	viper.SetDefault("workers.reload_grace", 5*time.Second)

	// Storage defaults
	viper.SetDefault("storage.type", string(output.StorageTypeLocal))
	viper.SetDefault("storage.local_path", "")
	viper.SetDefault("storage.http.index_file", "index.txt")
	viper.SetDefault("storage.http.timeout", 5*time.Minute)

	// Sync defaults
	viper.SetDefault("sync.interval", time.Duration(0))

	// Watch defaults
	viper.SetDefault("watch.enabled", true)
	viper.SetDefault("watch.debounce", time.Second)

	// TLS defaults
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cache_dir", "./.certmagic")
	viper.SetDefault("tls.staging", false)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9102)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from a .env file, environment and config file.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/pipservice")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return configErr("server.port", "invalid port %d", c.Server.Port)
	}

	if c.Data.Directory == "" {
		return configErr("data.directory", "data directory is required")
	}
	if len(c.Data.Layers) == 0 {
		return configErr("data.layers", "at least one layer is required")
	}
	for _, layer := range c.Data.Layers {
		if layer == "" || strings.ContainsAny(layer, `/\`) {
			return configErr("data.layers", "invalid layer name %q", layer)
		}
	}

	switch c.Workers.Mode {
	case WorkerModeProcess, WorkerModeLocal:
	default:
		return configErr("workers.mode", "unknown worker mode: %s", c.Workers.Mode)
	}
	if c.Workers.LookupTimeout < 0 {
		return configErr("workers.lookup_timeout", "must not be negative")
	}
	if c.Workers.StartupTimeout < 0 {
		return configErr("workers.startup_timeout", "must not be negative")
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 0 || c.Metrics.Port > 65535) {
		return configErr("metrics.port", "invalid port %d", c.Metrics.Port)
	}
	if c.Metrics.Enabled && c.Metrics.Port != 0 && c.Metrics.Port == c.Server.Port {
		return configErr("metrics.port", "must differ from server.port")
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return configErr("tls.domains", "TLS enabled but no domains specified")
		}
		if c.TLS.Email == "" {
			return configErr("tls.email", "TLS enabled but no email specified")
		}
	}

	return c.validateStorage()
}

func (c *Config) validateStorage() error {
	switch output.StorageType(c.Storage.Type) {
	case output.StorageTypeLocal:
		// An empty path reads the data directory in place
	case output.StorageTypeS3:
		if c.Storage.S3.Bucket == "" {
			return configErr("storage.s3.bucket", "S3 bucket is required")
		}
		if c.Storage.S3.Region == "" {
			return configErr("storage.s3.region", "S3 region is required")
		}
	case output.StorageTypeAzure:
		if c.Storage.Azure.Container == "" {
			return configErr("storage.azure.container", "azure container is required")
		}
		if c.Storage.Azure.AccountName == "" && c.Storage.Azure.ConnectionString == "" {
			return configErr("storage.azure", "azure account name or connection string is required")
		}
	case output.StorageTypeHTTP:
		if c.Storage.HTTP.BaseURL == "" {
			return configErr("storage.http.base_url", "HTTP base URL is required")
		}
	default:
		return configErr("storage.type", "unknown storage type: %s", c.Storage.Type)
	}
	return nil
}

func configErr(field, format string, args ...interface{}) error {
	return &domain.ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Address returns the metrics listener address.
func (c *MetricsConfig) Address(host string) string {
	return fmt.Sprintf("%s:%d", host, c.Port)
}
