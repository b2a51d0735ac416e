package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eduguest/guestidp/pkg/observability"
	"github.com/eduguest/guestidp/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Identity provider configuration
	IdP IdPConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// IdPConfig holds the identity provider settings
type IdPConfig struct {
	// EntityID is this provider's own entity id, asserted as the issuer
	// of every response.
	EntityID string

	// RedirectBaseURL is the base of the interactive login UI.
	RedirectBaseURL string

	// LoginURL is the target of the /register and /doLogin entry points.
	LoginURL string

	// SPBaseURL is the account-management frontend.
	SPBaseURL string

	// SPRegistryPath points at the YAML registry of relying services.
	SPRegistryPath string

	// CertificatePath and PrivateKeyPath hold the PEM signing material.
	CertificatePath string
	PrivateKeyPath  string

	// RememberMeMaxAge bounds the remember-me cookie lifetime.
	RememberMeMaxAge time.Duration

	// SecureCookie marks issued cookies Secure.
	SecureCookie bool

	// LinkingContextClassRefs demand a linked institutional account.
	LinkingContextClassRefs []string

	// OIDCIssuer is the token server backing the attribute API. Empty
	// disables the API.
	OIDCIssuer string

	// SweepSchedule is the cron schedule of the expired-exchange purge.
	SweepSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
	TracingEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		IdP:           loadIdPConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GUESTIDP_HOST", "0.0.0.0"),
		Port:            getEnv("GUESTIDP_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GUESTIDP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GUESTIDP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GUESTIDP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GUESTIDP_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GUESTIDP_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if storageType := getEnv("GUESTIDP_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = storageType
	}

	// PostgreSQL config
	if pgURL := getEnv("GUESTIDP_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("GUESTIDP_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if timeout := getEnvDuration("GUESTIDP_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	if redisURL := getEnv("GUESTIDP_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("GUESTIDP_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("GUESTIDP_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("GUESTIDP_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("GUESTIDP_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	return cfg
}

// loadIdPConfig loads identity provider configuration from environment
func loadIdPConfig() IdPConfig {
	return IdPConfig{
		EntityID:         getEnv("GUESTIDP_ENTITY_ID", "https://guest.idp.example.org"),
		RedirectBaseURL:  getEnv("GUESTIDP_REDIRECT_BASE_URL", "http://localhost:3000"),
		LoginURL:         getEnv("GUESTIDP_LOGIN_URL", "http://localhost:3000/login"),
		SPBaseURL:        getEnv("GUESTIDP_SP_BASE_URL", "http://localhost:3001"),
		SPRegistryPath:   getEnv("GUESTIDP_SP_REGISTRY_PATH", "sp-registry.yaml"),
		CertificatePath:  getEnv("GUESTIDP_CERTIFICATE_PATH", ""),
		PrivateKeyPath:   getEnv("GUESTIDP_PRIVATE_KEY_PATH", ""),
		RememberMeMaxAge: getEnvDuration("GUESTIDP_REMEMBER_ME_MAX_AGE", 180*24*time.Hour),
		SecureCookie:     getEnvBool("GUESTIDP_SECURE_COOKIE", true),
		LinkingContextClassRefs: getEnvList("GUESTIDP_LINKING_CONTEXT_CLASS_REFS",
			[]string{"https://eduid.nl/trust/linked-institution"}),
		OIDCIssuer:    getEnv("GUESTIDP_OIDC_ISSUER", ""),
		SweepSchedule: getEnv("GUESTIDP_SWEEP_SCHEDULE", "@hourly"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(strings.ToLower(getEnv("GUESTIDP_LOG_LEVEL", "info"))),
		MetricsEnabled: getEnvBool("GUESTIDP_METRICS_ENABLED", true),
		TracingEnabled: getEnvBool("GUESTIDP_TRACING_ENABLED", false),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis storage")
		}
		// Users always live in postgres; redis only holds exchanges.
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for redis storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory, postgres, or redis)", c.Storage.Type)
	}

	if c.IdP.EntityID == "" {
		return fmt.Errorf("entity id is required")
	}
	if c.IdP.RedirectBaseURL == "" {
		return fmt.Errorf("redirect base URL is required")
	}
	if c.Storage.Type != "memory" {
		if c.IdP.CertificatePath == "" || c.IdP.PrivateKeyPath == "" {
			return fmt.Errorf("signing certificate and private key are required")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
