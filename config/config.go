// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// The defaults point at a local Postgres instance and are not production credentials.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Database. Either DATABASE_URL as a full DSN, or the individual
	// DB_HOST/DB_PORT/DB_USER/DB_PASSWORD/DB_NAME pieces.
	DatabaseURL string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string

	// HTTP
	HTTPAddr string

	// Background stats refresh (active-streams gauge).
	StatsRefreshInterval time.Duration
}

// Load reads environment variables and applies defaults. It never fails on
// missing database credentials; the defaults match the local docker-compose
// Postgres and are intentionally insecure for development convenience.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.DBHost = envOr("DB_HOST", "localhost")
	cfg.DBPort = envOr("DB_PORT", "5432")
	cfg.DBUser = envOr("DB_USER", "postgres")
	cfg.DBPassword = envOr("DB_PASSWORD", "postgres")
	cfg.DBName = envOr("DB_NAME", "stream_pulse")

	cfg.HTTPAddr = envOr("HTTP_ADDR", ":8080")

	cfg.StatsRefreshInterval = 30 * time.Second
	if v := os.Getenv("STATS_REFRESH_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid STATS_REFRESH_SECONDS: %q", v)
		}
		cfg.StatsRefreshInterval = time.Duration(n) * time.Second
	}

	return cfg, nil
}

// DSN assembles the Postgres connection string. DATABASE_URL wins when set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
