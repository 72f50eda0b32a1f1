package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/dvuploader/internal/bytesize"
	"github.com/marmos91/dvuploader/pkg/journal"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "DVUPLOADER"

// Config represents the dvuploader configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DVUPLOADER_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Repository identifies the repository and dataset files are uploaded to
	Repository RepositoryConfig `mapstructure:"repository" yaml:"repository"`

	// Upload holds the default batch options
	Upload UploadConfig `mapstructure:"upload" yaml:"upload"`

	// Retry tunes both retry layers
	Retry RetryConfig `mapstructure:"retry" yaml:"retry"`

	// Journal records finished batches
	Journal JournalConfig `mapstructure:"journal" yaml:"journal"`

	// DigestCache persists computed digests between runs
	DigestCache DigestCacheConfig `mapstructure:"digest_cache" yaml:"digest_cache"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	// Default: stderr, so reports on stdout stay machine readable
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// MetricsConfig configures Prometheus metrics.
// When Enabled is false, no metrics are collected.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port serves /metrics while a batch runs. Zero disables the listener.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// Textfile is written in node-exporter textfile format when the batch ends.
	Textfile string `mapstructure:"textfile" yaml:"textfile,omitempty"`
}

// RepositoryConfig identifies the target repository and dataset.
type RepositoryConfig struct {
	// URL is the repository base URL, e.g. https://demo.dataverse.org
	URL string `mapstructure:"url" validate:"omitempty,url" yaml:"url"`

	// APIToken authenticates every request. Prefer DVUPLOADER_REPOSITORY_API_TOKEN.
	APIToken string `mapstructure:"api_token" yaml:"api_token,omitempty"`

	// DatasetPID is the persistent identifier of the target dataset.
	DatasetPID string `mapstructure:"dataset_pid" yaml:"dataset_pid"`

	// InsecureSkipVerify disables TLS certificate checks.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// UploadConfig holds default processBatch options.
type UploadConfig struct {
	// Destination is the dataset directory files are placed under.
	Destination string `mapstructure:"destination" yaml:"destination,omitempty"`

	Recurse bool `mapstructure:"recurse" yaml:"recurse"`
	Verify  bool `mapstructure:"verify" yaml:"verify"`
	Direct  bool `mapstructure:"direct" yaml:"direct"`

	// Concurrency caps files in flight.
	// Default: 4
	Concurrency int `mapstructure:"concurrency" validate:"gte=0,lte=256" yaml:"concurrency"`

	// Timeout bounds one network operation attempt.
	// Default: 5m
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0" yaml:"timeout"`

	// MaxLockWait is the lock-wait budget shared by the whole batch.
	// Default: 60s
	MaxLockWait time.Duration `mapstructure:"max_lock_wait" validate:"gte=0" yaml:"max_lock_wait"`

	// LockPollInterval is how often dataset locks are polled.
	// Default: 2s
	LockPollInterval time.Duration `mapstructure:"lock_poll_interval" validate:"gte=0" yaml:"lock_poll_interval"`

	// Fixity is the algorithm sent with direct uploads.
	// Valid values: MD5, SHA-1, SHA-256, SHA-512
	Fixity string `mapstructure:"fixity" yaml:"fixity"`

	// Description is attached to every new file.
	Description string `mapstructure:"description" yaml:"description,omitempty"`
}

// RetryConfig tunes the per-operation and per-batch retry layers.
type RetryConfig struct {
	// OperationAttempts is the total tries of one network operation.
	// Default: 3
	OperationAttempts int `mapstructure:"operation_attempts" validate:"gte=0" yaml:"operation_attempts"`

	// OperationDelay is the first wait between operation attempts; it doubles.
	// Default: 2s
	OperationDelay time.Duration `mapstructure:"operation_delay" validate:"gte=0" yaml:"operation_delay"`

	// OperationMaxDelay caps the operation wait.
	// Default: 8s
	OperationMaxDelay time.Duration `mapstructure:"operation_max_delay" validate:"gte=0" yaml:"operation_max_delay"`

	// BatchPasses is the total number of batch passes, including the first.
	// Default: 4
	BatchPasses int `mapstructure:"batch_passes" validate:"gte=0" yaml:"batch_passes"`

	// BatchDelay is the first wait between passes; it doubles.
	// Default: 5s
	BatchDelay time.Duration `mapstructure:"batch_delay" validate:"gte=0" yaml:"batch_delay"`

	// BatchMaxDelay caps the pass wait.
	// Default: 20s
	BatchMaxDelay time.Duration `mapstructure:"batch_max_delay" validate:"gte=0" yaml:"batch_max_delay"`
}

// JournalConfig enables the batch history database.
type JournalConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	journal.Config `mapstructure:",squash" yaml:",inline"`
}

// DigestCacheConfig controls the persistent digest cache.
type DigestCacheConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Path is the badger directory.
	// Default: $XDG_CACHE_HOME/dvuploader/digests
	Path string `mapstructure:"path" yaml:"path"`

	// MaxSize is advisory; the cache is compacted when it grows past it.
	MaxSize bytesize.ByteSize `mapstructure:"max_size" yaml:"max_size,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// A missing config file is not an error: environment variables and defaults
// still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the
// requested file does not exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  dvuploader config init\n\n"+
				"Or specify a custom config file:\n"+
				"  dvuploader <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  dvuploader config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may hold the API token.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DVUPLOADER_REPOSITORY_API_TOKEN=xxxx
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, reflect.TypeOf(Config{}), "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// bindEnvs registers every leaf key so Unmarshal sees environment values
// even when the key is absent from the config file.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		name, opts, _ := strings.Cut(tag, ",")

		if opts == "squash" {
			bindEnvs(v, f.Type, prefix)
			continue
		}
		if name == "" || name == "-" {
			continue
		}

		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Time{}) {
			bindEnvs(v, f.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings like "8MiB" and plain numbers to
// bytesize.ByteSize.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dvuploader")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "dvuploader")
}

// getCacheDir mirrors getConfigDir for XDG_CACHE_HOME.
func getCacheDir() string {
	if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
		return filepath.Join(xdgCache, "dvuploader")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".cache", "dvuploader")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
