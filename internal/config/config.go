// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              string
	DBDriver          string // sqlite3, pgx or memory
	DatabaseURL       string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	LockTTL           time.Duration
	LogLevel          string
	ReconcileInterval time.Duration
	AllowedOrigins    []string
	TraceSampleRate   float64
}

// Load reads a .env file if present, then the environment.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	lockTTL, err := strconv.Atoi(getEnv("LOCK_TTL_SECONDS", "30"))
	if err != nil || lockTTL < 1 {
		lockTTL = 30
	}
	sampleRate, err := strconv.ParseFloat(getEnv("TRACE_SAMPLE_RATE", "1"), 64)
	if err != nil {
		sampleRate = 1
	}
	reconcile, err := strconv.Atoi(getEnv("RECONCILE_INTERVAL_MINUTES", "0"))
	if err != nil || reconcile < 0 {
		reconcile = 0
	}

	return Config{
		Port:              getEnv("PORT", "8080"),
		DBDriver:          getEnv("DB_DRIVER", "sqlite3"),
		DatabaseURL:       getEnv("DATABASE_URL", "stock.db"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           redisDB,
		LockTTL:           time.Duration(lockTTL) * time.Second,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ReconcileInterval: time.Duration(reconcile) * time.Minute,
		AllowedOrigins:    splitList(getEnv("ALLOWED_ORIGINS", "*")),
		TraceSampleRate:   sampleRate,
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// UseRedisLocks reports whether a Redis locker should replace the in-process one.
func (c Config) UseRedisLocks() bool {
	return c.RedisAddr != ""
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
