// Package config loads server settings from the environment, reading a
// .env file first when one exists.
package config

import (
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string

	// DatabasePoolSize is the number of pooled connections kept open.
	DatabasePoolSize int

	// DatabasePoolRecycle forces connections older than this to reconnect.
	DatabasePoolRecycle time.Duration

	// DatabasePoolTimeout bounds the wait for a free connection.
	DatabasePoolTimeout time.Duration

	// ThreadPoolSize sizes the release worker pool and is also the number
	// of connections allowed beyond DatabasePoolSize.
	ThreadPoolSize int

	Port           int
	LogLevel       string
	RateLimitRPS   float64 // Requests per second per client, 0 disables limiting
	RateLimitBurst int

	// RateLimitTrustedProxies are the networks whose X-Real-IP header is
	// believed when rate limiting.
	RateLimitTrustedProxies []netip.Prefix
}

// Load reads the configuration. Missing or malformed values fall back to
// defaults.
func Load() *Config {
	// Try to load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to read .env file", "error", err)
	}

	return &Config{
		DatabaseURL:         getEnv("DATABASE_URL", "./data/ledger.db"),
		DatabasePoolSize:    getEnvInt("DATABASE_POOL_SIZE", 5),
		DatabasePoolRecycle: getEnvSeconds("DATABASE_POOL_RECYCLE", time.Hour),
		DatabasePoolTimeout: getEnvSeconds("DATABASE_POOL_TIMEOUT", 30*time.Second),
		ThreadPoolSize:      getEnvInt("THREAD_POOL_SIZE", 10),
		Port:                getEnvInt("PORT", 8080),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		RateLimitRPS:        getEnvFloat("RATE_LIMIT_RPS", 0),
		RateLimitBurst:      getEnvInt("RATE_LIMIT_BURST", 20),

		RateLimitTrustedProxies: getEnvPrefixes("RATE_LIMIT_TRUSTED_PROXIES"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvSeconds reads a number of seconds, or a Go duration such as "90s".
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

// getEnvPrefixes reads a comma-separated list of CIDRs or bare addresses.
// Entries that parse as neither are skipped.
func getEnvPrefixes(key string) []netip.Prefix {
	var prefixes []netip.Prefix
	for _, field := range strings.Split(os.Getenv(key), ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if p, err := netip.ParsePrefix(field); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(field); err == nil {
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		slog.Warn("Ignoring invalid proxy address", "key", key, "value", field)
	}
	return prefixes
}
