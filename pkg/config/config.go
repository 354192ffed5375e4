package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Scheduler   SchedulerConfig  `mapstructure:"scheduler"`
	Storage     StorageConfig    `mapstructure:"storage"`
	Ranking     RankingConfig    `mapstructure:"ranking"`
	Cache       CacheConfig      `mapstructure:"cache"`
	Monitoring  MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                int   `mapstructure:"port"`
	ReadTimeoutSeconds  int   `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int   `mapstructure:"write_timeout_seconds"`
	IdleTimeoutSeconds  int   `mapstructure:"idle_timeout_seconds"`
	MaxUploadBytes      int64 `mapstructure:"max_upload_bytes"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host                   string `mapstructure:"host"`
	Port                   int    `mapstructure:"port"`
	User                   string `mapstructure:"user"`
	Password               string `mapstructure:"password"`
	Name                   string `mapstructure:"name"`
	SSLMode                string `mapstructure:"ssl_mode"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes"`
}

// DSN returns the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	Password            string `mapstructure:"password"`
	DB                  int    `mapstructure:"db"`
	PoolSize            int    `mapstructure:"pool_size"`
	ReadTimeoutSeconds  int    `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds"`
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SchedulerConfig holds the delayed activation settings
type SchedulerConfig struct {
	KeyPrefix           string `mapstructure:"key_prefix"`
	PollIntervalMillis  int    `mapstructure:"poll_interval_millis"`
	BatchSize           int    `mapstructure:"batch_size"`
	WorkerCount         int    `mapstructure:"worker_count"`
	RetryAttempts       int    `mapstructure:"retry_attempts"`
	RetryDelaySeconds   int    `mapstructure:"retry_delay_seconds"`
	MaxRequeueAttempts  int    `mapstructure:"max_requeue_attempts"`
	HandleTimeoutMillis int    `mapstructure:"handle_timeout_millis"`
}

// PollInterval returns the queue polling granularity
func (s SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMillis) * time.Millisecond
}

// RetryDelay returns the delay before a failed activation is requeued
func (s SchedulerConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelaySeconds) * time.Second
}

// HandleTimeout bounds a single activation
func (s SchedulerConfig) HandleTimeout() time.Duration {
	return time.Duration(s.HandleTimeoutMillis) * time.Millisecond
}

// StorageConfig holds image storage configuration
type StorageConfig struct {
	BaseDir       string `mapstructure:"base_dir"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// RankingConfig holds ranking maintenance options
type RankingConfig struct {
	ValidateManualReorder bool `mapstructure:"validate_manual_reorder"`
}

// CacheConfig holds storefront cache configuration
type CacheConfig struct {
	PublishedTTLSeconds int  `mapstructure:"published_ttl_seconds"`
	LocalTTLSeconds     int  `mapstructure:"local_ttl_seconds"`
	LocalMaxItems       int  `mapstructure:"local_max_items"`
	EnableLocal         bool `mapstructure:"enable_local"`
}

// PublishedTTL returns how long a cached storefront listing lives
func (c CacheConfig) PublishedTTL() time.Duration {
	return time.Duration(c.PublishedTTLSeconds) * time.Second
}

// LocalTTL bounds how stale the in-process copy of a listing may get
func (c CacheConfig) LocalTTL() time.Duration {
	return time.Duration(c.LocalTTLSeconds) * time.Second
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"` // standalone listener used by the scheduler
}

// Load loads configuration from the default search paths and environment variables
func Load() (*Config, error) {
	return LoadFrom("./configs", "../../configs", "/app/configs")
}

// LoadFrom loads configuration searching the given directories
func LoadFrom(paths ...string) (*Config, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}

	configName := "config"
	if env == "production" {
		configName = "production"
	}

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	setDefaults(v)

	// Missing file is fine, defaults and env still apply
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	processedConfig := v.AllSettings()
	processEnvPatterns(processedConfig)

	processedViper := viper.New()
	for key, value := range processedConfig {
		processedViper.Set(key, value)
	}

	var config Config
	if err := processedViper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal processed config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 30)
	v.SetDefault("server.idle_timeout_seconds", 60)
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "banners")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime_minutes", 30)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.read_timeout_seconds", 3)
	v.SetDefault("redis.write_timeout_seconds", 3)
	v.SetDefault("scheduler.key_prefix", "banner:activation")
	v.SetDefault("scheduler.poll_interval_millis", 500)
	v.SetDefault("scheduler.batch_size", 50)
	v.SetDefault("scheduler.worker_count", 4)
	v.SetDefault("scheduler.retry_attempts", 3)
	v.SetDefault("scheduler.retry_delay_seconds", 30)
	v.SetDefault("scheduler.max_requeue_attempts", 10)
	v.SetDefault("scheduler.handle_timeout_millis", 10000)
	v.SetDefault("storage.base_dir", "./data/assets")
	v.SetDefault("storage.public_base_url", "http://localhost:8080/assets")
	v.SetDefault("ranking.validate_manual_reorder", true)
	v.SetDefault("cache.published_ttl_seconds", 60)
	v.SetDefault("cache.local_ttl_seconds", 5)
	v.SetDefault("cache.local_max_items", 64)
	v.SetDefault("cache.enable_local", true)
	v.SetDefault("monitoring.metrics.enabled", true)
	v.SetDefault("monitoring.metrics.path", "/metrics")
	v.SetDefault("monitoring.metrics.port", 9091)
}

// Validate checks values that would otherwise fail deep inside a component
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler batch size must be positive, got %d", c.Scheduler.BatchSize)
	}
	if c.Scheduler.WorkerCount <= 0 {
		return fmt.Errorf("scheduler worker count must be positive, got %d", c.Scheduler.WorkerCount)
	}
	if c.Scheduler.PollIntervalMillis <= 0 {
		return fmt.Errorf("scheduler poll interval must be positive, got %d", c.Scheduler.PollIntervalMillis)
	}
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage base dir is required")
	}
	return nil
}

var envPattern = regexp.MustCompile(`\{([A-Z_]+)-([^}]*)\}`)

// processEnvPatterns processes {ENV-default} patterns recursively
func processEnvPatterns(config map[string]interface{}) {
	for key, value := range config {
		config[key] = processValue(value)
	}
}

// processValue processes a single value for environment variable substitution
func processValue(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		if matches := envPattern.FindStringSubmatch(v); len(matches) == 3 {
			envVar := matches[1]
			defaultValue := matches[2]

			if envValue := os.Getenv(envVar); envValue != "" {
				return convertValue(envValue, defaultValue)
			}
			return convertValue(defaultValue, defaultValue)
		}
		return v
	case map[string]interface{}:
		processEnvPatterns(v)
		return v
	case []interface{}:
		for i, item := range v {
			v[i] = processValue(item)
		}
		return v
	default:
		return v
	}
}

// convertValue converts string values to appropriate types
func convertValue(value, defaultValue string) interface{} {
	// An empty default marks a free-form string such as a password
	if defaultValue == "" {
		return value
	}

	if value == "" {
		return convertToType(defaultValue)
	}

	return convertToType(value)
}

// convertToType converts a string to the most appropriate type
func convertToType(value string) interface{} {
	if value == "" {
		return ""
	}

	if strings.ToLower(value) == "true" {
		return true
	}
	if strings.ToLower(value) == "false" {
		return false
	}

	if intVal, err := strconv.Atoi(value); err == nil {
		return intVal
	}

	if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
		return floatVal
	}

	return value
}
