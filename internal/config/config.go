// Package config loads application configuration: ambient knobs from the
// environment (.env) and the run definition from a YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir      string // Base directory for caches and artifacts (defaults to "./data")
	MarketDBPath string // SQLite database with the market tables
	CacheDir     string // msgpack table cache directory
	LogLevel     string
	PrettyLogs   bool
	Port         int
	S3Bucket     string // optional artifact upload target
	CronSchedule string // optional serve-mode re-optimization schedule
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "")
	if dataDir == "" {
		if _, err := os.Stat("./data"); err == nil {
			dataDir = "./data"
		} else {
			dataDir = "../data"
		}
	}

	cfg := &Config{
		DataDir:      dataDir,
		MarketDBPath: getEnv("MARKET_DB_PATH", filepath.Join(dataDir, "market.db")),
		CacheDir:     getEnv("CACHE_DIR", filepath.Join(dataDir, "cache")),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		PrettyLogs:   getEnvAsBool("PRETTY_LOGS", false),
		Port:         getEnvAsInt("PORT", 8080),
		S3Bucket:     getEnv("S3_BUCKET", ""),
		CronSchedule: getEnv("CRON_SCHEDULE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MarketDBPath == "" {
		return fmt.Errorf("market database path is required")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
