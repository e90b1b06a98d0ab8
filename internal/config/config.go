package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Server       ServerConfig
	Storage      StorageConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Platform     PlatformConfig
	Verification VerificationConfig
	Webhook      WebhookConfig
	Auth         AuthConfig
}

type ServerConfig struct {
	Port         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	AllowOrigins string
}

type StorageConfig struct {
	Backend        string
	Retention      time.Duration // how long expired records stay readable before cleanup
	FriendCacheTTL time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type PlatformConfig struct {
	NcfaToken         string
	BaseURL           string
	CallTimeout       time.Duration
	RequestsPerSecond float64
	Burst             int
}

type VerificationConfig struct {
	CodeExpiry           time.Duration
	CodeLength           int
	RateLimitPerWindow   int
	RateLimitWindow      time.Duration
	ReconcileInterval    time.Duration
	AllowedCallbackHosts []string
}

type WebhookConfig struct {
	Secret  string
	Timeout time.Duration
}

type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

func Load() (*Config, error) {
	// .env is optional in production
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
		},
		Storage: StorageConfig{
			Backend:        strings.ToLower(getEnv("STORAGE_BACKEND", BackendMemory)),
			Retention:      getDurationEnv("SESSION_RETENTION", 24*time.Hour),
			FriendCacheTTL: getDurationEnv("FRIEND_CACHE_TTL", time.Hour),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "geoverify"),
			Password: getEnv("DB_PASSWORD", "geoverify"),
			DBName:   getEnv("DB_NAME", "geoverify"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Platform: PlatformConfig{
			NcfaToken:         getEnv("GEOGUESSR_NCFA_TOKEN", ""),
			BaseURL:           getEnv("GEOGUESSR_BASE_URL", "https://www.geoguessr.com"),
			CallTimeout:       getDurationEnv("PLATFORM_CALL_TIMEOUT", 10*time.Second),
			RequestsPerSecond: getFloatEnv("PLATFORM_REQUESTS_PER_SECOND", 2),
			Burst:             getIntEnv("PLATFORM_BURST", 4),
		},
		Verification: VerificationConfig{
			CodeExpiry:           getDurationEnv("CODE_EXPIRY", 5*time.Minute),
			CodeLength:           getIntEnv("CODE_LENGTH", 6),
			RateLimitPerWindow:   getIntEnv("RATE_LIMIT_PER_HOUR", 3),
			RateLimitWindow:      getDurationEnv("RATE_LIMIT_WINDOW", time.Hour),
			ReconcileInterval:    getDurationEnv("RECONCILE_INTERVAL", 30*time.Second),
			AllowedCallbackHosts: getListEnv("ALLOWED_CALLBACK_HOSTS", []string{"localhost", "127.0.0.1", "::1"}),
		},
		Webhook: WebhookConfig{
			Secret:  getEnv("WEBHOOK_SECRET", ""),
			Timeout: getDurationEnv("WEBHOOK_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("API_JWT_SECRET", ""),
			JWTIssuer: getEnv("API_JWT_ISSUER", "geo-verification"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Platform.NcfaToken == "" {
		errs = append(errs, errors.New("GEOGUESSR_NCFA_TOKEN is required"))
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be one of memory, redis, postgres (got %q)", c.Storage.Backend))
	}
	if c.Verification.CodeExpiry <= 0 {
		errs = append(errs, errors.New("CODE_EXPIRY must be positive"))
	}
	if c.Verification.CodeLength < 4 || c.Verification.CodeLength > 32 {
		errs = append(errs, errors.New("CODE_LENGTH must be between 4 and 32"))
	}
	if c.Verification.RateLimitPerWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_HOUR must be positive"))
	}
	if c.Verification.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
	}
	if c.Verification.ReconcileInterval <= 0 {
		errs = append(errs, errors.New("RECONCILE_INTERVAL must be positive"))
	}
	if c.Platform.CallTimeout <= 0 {
		errs = append(errs, errors.New("PLATFORM_CALL_TIMEOUT must be positive"))
	}
	if c.Webhook.Timeout <= 0 {
		errs = append(errs, errors.New("WEBHOOK_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getListEnv splits a comma-separated value, dropping empty items.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
