// Package config handles application configuration loading and validation
// from environment variables, providing a type-safe configuration structure.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration values loaded from environment
// variables. It provides a centralized, type-safe way to access configuration
// throughout the application.
type Config struct {
	// Server configuration
	ListenAddr     string        // Address to listen on (e.g., ":8000")
	RequestTimeout time.Duration // Read/write timeout for the HTTP server

	// Paths
	StylesDir   string // Directory containing custom/scraped/raster styles
	CacheDir    string // Root directory for the tile cache
	SecretsFile string // Path to the provider credentials JSON file

	// Builtin style registry
	BuiltinStylesConfig string // Optional YAML file overriding the builtin style registry

	// Cache behaviour
	CacheDefaultTTL time.Duration // Default TTL for cached tiles (24h)

	// Upstream fetches
	UpstreamTimeout time.Duration // Bounded timeout for a single upstream fetch

	// Redis-backed cache (file cache when empty)
	RedisCacheURL       string // e.g. redis://localhost:6379/0
	RedisCacheKeyPrefix string // Namespace for cache keys

	// Logging
	LogLevel  string // Log level (debug, info, warn, error)
	LogFormat string // Log format (json, console)
	LogFile   string // Path to log file (empty for stdout)
}

// New creates a new configuration with values from environment variables.
// It applies default values where environment variables are not set and
// validates the resulting configuration.
func New() (*Config, error) {
	cfg := &Config{
		ListenAddr:     getEnvString("LISTEN_ADDR", ":8000"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),

		StylesDir:   getEnvString("STYLES_DIR", "./styles"),
		CacheDir:    getEnvString("CACHE_DIR", "./cache/tiles"),
		SecretsFile: getEnvString("SECRETS_FILE", "./secrets.json"),

		BuiltinStylesConfig: getEnvString("BUILTIN_STYLES_CONFIG", ""),

		CacheDefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 24*time.Hour),
		UpstreamTimeout: getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second),

		RedisCacheURL:       getEnvString("REDIS_CACHE_URL", ""),
		RedisCacheKeyPrefix: getEnvString("REDIS_CACHE_KEY_PREFIX", "tileproxy:cache:"),

		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		LogFormat: getEnvString("LOG_FORMAT", "json"),
		LogFile:   getEnvString("LOG_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.StylesDir == "" {
		return fmt.Errorf("styles directory must not be empty")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache directory must not be empty")
	}
	if c.CacheDefaultTTL <= 0 {
		return fmt.Errorf("cache default TTL must be positive, got %s", c.CacheDefaultTTL)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive, got %s", c.UpstreamTimeout)
	}
	return nil
}

// DefaultConfig returns a configuration with default values, ignoring the
// environment. Primarily used by tests.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:          ":8000",
		RequestTimeout:      30 * time.Second,
		StylesDir:           "./styles",
		CacheDir:            "./cache/tiles",
		SecretsFile:         "./secrets.json",
		CacheDefaultTTL:     24 * time.Hour,
		UpstreamTimeout:     10 * time.Second,
		RedisCacheKeyPrefix: "tileproxy:cache:",
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// getEnvString retrieves a string value from an environment variable,
// falling back to the provided default value if the variable is not set.
func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvDuration retrieves a duration value from an environment variable,
// falling back to the provided default value if the variable is not set
// or cannot be parsed as a duration.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		parsedValue, err := time.ParseDuration(value)
		if err == nil {
			return parsedValue
		}
	}
	return defaultValue
}

// EnvOrDefault returns the value of the environment variable if set,
// otherwise the fallback. Exported for use by CLI flag defaults.
func EnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// EnvBoolOrDefault returns the bool value of the environment variable if set
// and valid, otherwise the fallback.
func EnvBoolOrDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// EnvIntOrDefault returns the int value of the environment variable if set
// and valid, otherwise the fallback.
func EnvIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// normalizeAddr ensures a listen address has a leading colon when only a
// port number is given.
func normalizeAddr(addr string) string {
	if addr == "" {
		return addr
	}
	if !strings.Contains(addr, ":") {
		return ":" + addr
	}
	return addr
}

// ApplyOverrides applies non-empty CLI flag values over the environment
// based configuration.
func (c *Config) ApplyOverrides(listenAddr, stylesDir, cacheDir, secretsFile, logLevel, logFile string) {
	if listenAddr != "" {
		c.ListenAddr = normalizeAddr(listenAddr)
	}
	if stylesDir != "" {
		c.StylesDir = stylesDir
	}
	if cacheDir != "" {
		c.CacheDir = cacheDir
	}
	if secretsFile != "" {
		c.SecretsFile = secretsFile
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
	if logFile != "" {
		c.LogFile = logFile
	}
}
