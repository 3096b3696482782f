// Package config содержит логику чтения конфигурации сервиса бронирования.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

const (
	// DriverPostgres выбирает хранилище PostgreSQL.
	DriverPostgres = "postgres"
	// DriverSQLite выбирает встроенное хранилище SQLite.
	DriverSQLite = "sqlite"

	defaultRunAddress   = "localhost:8080"
	defaultRateLimitRPS = 10.0
)

// Config содержит параметры конфигурации сервиса бронирования.
type Config struct {
	RunAddress     string  `env:"RUN_ADDRESS"`
	DatabaseURI    string  `env:"DATABASE_URI"`
	DatabaseDriver string  `env:"DATABASE_DRIVER"`
	JWTSecret      string  `env:"JWT_SECRET"`
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS"`
	CatalogAddress string  `env:"CATALOG_ADDRESS"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI or SQLite file path")
	flag.StringVar(&cfg.DatabaseDriver, "driver", DriverPostgres, "database driver: postgres or sqlite")
	flag.StringVar(&cfg.JWTSecret, "s", "", "secret for verifying bearer tokens")
	flag.Float64Var(&cfg.RateLimitRPS, "rps", defaultRateLimitRPS, "allowed mutations per second for one user, 0 disables the limit")

	flag.StringVar(&cfg.CatalogAddress, "c", "", "hotel catalog address")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.DatabaseDriver != "" {
		cfg.DatabaseDriver = envCfg.DatabaseDriver
	}
	if envCfg.JWTSecret != "" {
		cfg.JWTSecret = envCfg.JWTSecret
	}
	if envCfg.CatalogAddress != "" {
		cfg.CatalogAddress = envCfg.CatalogAddress
	}
	if envCfg.RateLimitRPS != 0 {
		cfg.RateLimitRPS = envCfg.RateLimitRPS
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	switch cfg.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	if cfg.DatabaseURI == "" && cfg.DatabaseDriver == DriverSQLite {
		cfg.DatabaseURI = "hotelbooking.db"
	}

	if cfg.RateLimitRPS < 0 {
		return nil, fmt.Errorf("rate limit must not be negative, got %v", cfg.RateLimitRPS)
	}

	return cfg, nil
}
