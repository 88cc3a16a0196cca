package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultAPIBaseURL = "http://localhost:3000/api"

	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

type Config struct {
	API       APIConfig
	Retry     RetryConfig
	Sync      SyncConfig
	Storage   StorageConfig
	Server    ServerConfig
	JWT       JWTConfig
	Log       LogConfig
	Telemetry TelemetryConfig
}

type APIConfig struct {
	BaseURL   string
	Timeout   time.Duration
	AuthToken string
}

type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

type SyncConfig struct {
	Interval         time.Duration
	TransactionLimit int
	TickTimeout      time.Duration
	RefreshOnOpen    bool
}

type StorageConfig struct {
	Driver        string
	RedisURL      string
	RedisPrefix   string
	Database      DatabaseConfig
	EncryptionKey string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
	HSTS         bool // set when TLS terminates in front of the API
}

type JWTConfig struct {
	Secret string
}

type LogConfig struct {
	Level string
	File  string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

// Load reads configuration from the environment. When BANKLINK_CONFIG names
// a YAML file, its values become the defaults the environment overrides.
func Load() (*Config, error) {
	file, err := loadFile(os.Getenv("BANKLINK_CONFIG"))
	if err != nil {
		return nil, err
	}

	apiTimeout, err := getDurationEnv("BANKLINK_API_TIMEOUT", orDuration(file.API.Timeout, 30*time.Second))
	if err != nil {
		return nil, err
	}

	maxRetries, err := getIntEnv("RETRY_MAX", orInt(file.Retry.MaxRetries, 2))
	if err != nil {
		return nil, err
	}
	retryBaseDelay, err := getDurationEnv("RETRY_BASE_DELAY", orDuration(file.Retry.BaseDelay, time.Second))
	if err != nil {
		return nil, err
	}

	syncInterval, err := getDurationEnv("SYNC_INTERVAL", orDuration(file.Sync.Interval, 5*time.Minute))
	if err != nil {
		return nil, err
	}
	txLimit, err := getIntEnv("SYNC_TRANSACTION_LIMIT", orInt(file.Sync.TransactionLimit, 50))
	if err != nil {
		return nil, err
	}
	tickTimeout, err := getDurationEnv("SYNC_TICK_TIMEOUT", orDuration(file.Sync.TickTimeout, 2*time.Minute))
	if err != nil {
		return nil, err
	}

	dbPort, err := getIntEnv("DB_PORT", orInt(file.Storage.Postgres.Port, 5432))
	if err != nil {
		return nil, err
	}

	// Parse allowed hosts (comma-separated list)
	allowedHostsStr := getEnv("ALLOWED_HOSTS", "")
	var allowedHosts []string
	if allowedHostsStr != "" {
		for _, host := range strings.Split(allowedHostsStr, ",") {
			host = strings.TrimSpace(host)
			if host != "" {
				allowedHosts = append(allowedHosts, host)
			}
		}
	}

	cfg := &Config{
		API: APIConfig{
			BaseURL:   getEnv("BANKLINK_API_URL", orString(file.API.BaseURL, DefaultAPIBaseURL)),
			Timeout:   apiTimeout,
			AuthToken: getEnv("BANKLINK_API_TOKEN", ""),
		},
		Retry: RetryConfig{
			MaxRetries: maxRetries,
			BaseDelay:  retryBaseDelay,
		},
		Sync: SyncConfig{
			Interval:         syncInterval,
			TransactionLimit: txLimit,
			TickTimeout:      tickTimeout,
			RefreshOnOpen:    getBoolEnv("SYNC_REFRESH_ON_OPEN", orBool(file.Sync.RefreshOnOpen, true)),
		},
		Storage: StorageConfig{
			Driver:      strings.ToLower(getEnv("STORAGE_DRIVER", orString(file.Storage.Driver, StorageMemory))),
			RedisURL:    getEnv("REDIS_URL", orString(file.Storage.RedisURL, "redis://localhost:6379/0")),
			RedisPrefix: getEnv("REDIS_PREFIX", orString(file.Storage.RedisPrefix, "")),
			Database: DatabaseConfig{
				Host:     getEnv("DB_HOST", orString(file.Storage.Postgres.Host, "localhost")),
				Port:     dbPort,
				User:     getEnv("DB_USER", orString(file.Storage.Postgres.User, "banklink")),
				Password: getEnv("DB_PASSWORD", ""),
				DBName:   getEnv("DB_NAME", orString(file.Storage.Postgres.DBName, "banklink")),
				SSLMode:  getEnv("DB_SSLMODE", orString(file.Storage.Postgres.SSLMode, "disable")),
			},
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Server: ServerConfig{
			Port:         getEnv("PORT", orString(file.Server.Port, "8080")),
			Host:         getEnv("HOST", orString(file.Server.Host, "0.0.0.0")),
			AllowedHosts: allowedHosts,
			HSTS:         getBoolEnv("SERVER_HSTS", orBool(file.Server.HSTS, false)),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", orString(file.Log.Level, "info")),
			File:  getEnv("LOG_FILE", file.Log.File),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "banklink-api"),
			Environment:  getEnv("OTEL_ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", "9090"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageRedis, StoragePostgres:
	default:
		return fmt.Errorf("STORAGE_DRIVER must be one of memory, redis, postgres (got %q)", c.Storage.Driver)
	}
	if c.Storage.EncryptionKey != "" && len(c.Storage.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("RETRY_MAX must not be negative")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive")
	}
	if c.Sync.TransactionLimit <= 0 {
		return fmt.Errorf("SYNC_TRANSACTION_LIMIT must be positive")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("BANKLINK_API_TIMEOUT must be positive")
	}
	return nil
}

// RequireServer checks the settings only the intent API needs.
func (c *Config) RequireServer() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
