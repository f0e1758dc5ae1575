// Package config loads application configuration from the environment.
//
// A .env file in the working directory is loaded first (via godotenv) so
// local development doesn't need a wall of exported variables; real
// environment variables always win over .env entries.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server
	Port int

	// Storage
	DBPath      string // SQLite database file; ":memory:" for tests
	StoragePath string // root directory for content-addressed blobs

	// Auth
	JWTSecret string
	JWTExpiry time.Duration

	// Upload limits
	MaxFileSize          int64 // per-request ceiling for registered users (bytes)
	AnonymousMaxFileSize int64 // per-request ceiling for anonymous users (bytes)

	// Retention
	MaxClipsPerUser        int           // default item quota for registered users
	AnonymousMaxClips      int           // item quota for anonymous users
	AnonymousStorageQuota  int64         // storage quota for anonymous users (bytes)
	AnonymousClipTTL       time.Duration // anonymous session / clip time-based expiry
	EvictionGraceWindow    time.Duration // clips younger than this are protected from LRU eviction
	AllowAnonymous         bool
	DefaultStorageQuota    int64 // storage quota for registered users (bytes)
}

// Load reads configuration from a .env file (if present) and the environment.
// Only JWT_SECRET is mandatory — everything else has a sensible default.
func Load() (*Config, error) {
	// Missing .env is fine; env vars may be set for real.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnvAsInt("PORT", 8080),
		DBPath:                getEnv("DB_PATH", "data/cliplru.db"),
		StoragePath:           getEnv("STORAGE_PATH", "uploads"),
		JWTSecret:             getEnv("JWT_SECRET", ""),
		JWTExpiry:             getEnvAsDuration("JWT_EXPIRY", 24*time.Hour),
		MaxFileSize:           getEnvAsInt64("MAX_FILE_SIZE", 100<<20),          // 100MB
		AnonymousMaxFileSize:  getEnvAsInt64("ANONYMOUS_MAX_FILE_SIZE", 10<<20), // 10MB
		MaxClipsPerUser:       getEnvAsInt("MAX_CLIPS_PER_USER", 1000),
		AnonymousMaxClips:     getEnvAsInt("ANONYMOUS_MAX_CLIPS", 100),
		AnonymousStorageQuota: getEnvAsInt64("ANONYMOUS_STORAGE_QUOTA", 100<<20), // 100MB
		AnonymousClipTTL:      getEnvAsDuration("ANONYMOUS_CLIP_TTL", 24*time.Hour),
		EvictionGraceWindow:   getEnvAsDuration("EVICTION_GRACE_WINDOW", time.Hour),
		AllowAnonymous:        getEnvAsBool("ALLOW_ANONYMOUS", true),
		DefaultStorageQuota:   getEnvAsInt64("DEFAULT_STORAGE_QUOTA", 1<<30), // 1GB
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config: JWT_SECRET is required")
	}
	if cfg.EvictionGraceWindow < 0 {
		return nil, fmt.Errorf("config: EVICTION_GRACE_WINDOW must not be negative")
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
