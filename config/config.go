// Package config loads server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the complete server configuration.
type Config struct {
	Port     int
	Env      string // "development" or "production"
	LogLevel string

	DBDriver    string // "sqlite", "sqlite-gorm" or "postgres"
	DBPath      string
	DatabaseURL string

	RedisURL    string
	LockTimeout time.Duration

	SweepInterval   time.Duration
	PaymentLinkBase string
	CORSOrigins     []string
	ReceiptIssuer   string
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Port:            8080,
		Env:             "development",
		LogLevel:        "info",
		DBDriver:        "sqlite",
		DBPath:          "rent-ledger.db",
		LockTimeout:     5 * time.Second,
		SweepInterval:   time.Hour,
		PaymentLinkBase: "http://localhost:8080/pay",
		CORSOrigins:     []string{"http://localhost:*", "http://127.0.0.1:*"},
		ReceiptIssuer:   "Rent Ledger",
	}
}

// Load reads files (".env" when none are given) into the process
// environment without overriding variables that are already set, then
// builds a Config. A missing .env file is not an error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, starting from Default.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	var err error

	if v := getenv("PORT"); v != "" {
		if cfg.Port, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("PORT: %w", err)
		}
	}
	setString(&cfg.Env, getenv("APP_ENV"))
	setString(&cfg.LogLevel, getenv("LOG_LEVEL"))
	setString(&cfg.DBDriver, getenv("DB_DRIVER"))
	setString(&cfg.DBPath, getenv("DB_PATH"))
	setString(&cfg.DatabaseURL, getenv("DATABASE_URL"))
	setString(&cfg.RedisURL, getenv("REDIS_URL"))
	setString(&cfg.PaymentLinkBase, strings.TrimSuffix(getenv("PAYMENT_LINK_BASE"), "/"))
	setString(&cfg.ReceiptIssuer, getenv("RECEIPT_ISSUER"))

	if cfg.LockTimeout, err = duration(getenv, "LOCK_TIMEOUT", cfg.LockTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = duration(getenv, "SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return Config{}, err
	}
	if v := getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}

	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.DBDriver {
	case "sqlite", "sqlite-gorm":
		if c.DBPath == "" {
			return errors.New("DB_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.LockTimeout <= 0 {
		return errors.New("LOCK_TIMEOUT must be positive")
	}
	if c.SweepInterval < 0 {
		return errors.New("SWEEP_INTERVAL must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

func (c Config) Production() bool {
	return c.Env == "production"
}

// Logger builds the process logger: JSON in production, console otherwise.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	if c.Production() {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func duration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
