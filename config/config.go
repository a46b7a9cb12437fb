// Package config resolves runtime configuration for the lead exchange server.
//
// Priority, lowest first: built-in defaults, YAML file, environment
// variables (optionally seeded from a .env file), command-line flags.
// Flags are applied by cmd/server after Load returns.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	DriverSQLite = "sqlite"
	DriverGorm   = "gorm"
	DriverMemory = "memory"
)

// Config is the resolved runtime configuration.
type Config struct {
	Port            int
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	DBDriver    string
	DBPath      string
	DatabaseURL string

	RabbitMQURL      string
	RabbitMQExchange string

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	LogLevel  string
	LogFormat string

	// SweepInterval is how often unassigned leads are re-matched and
	// ledgers reconciled. Zero disables the sweep.
	SweepInterval time.Duration
}

// configFile mirrors the YAML layout of config.yaml.
type configFile struct {
	Server struct {
		Port            int      `yaml:"port"`
		ShutdownTimeout string   `yaml:"shutdown_timeout"`
		AllowedOrigins  []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	RabbitMQ struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"rabbitmq"`
	Retry struct {
		MaxAttempts int    `yaml:"max_attempts"`
		BaseDelay   string `yaml:"base_delay"`
		MaxDelay    string `yaml:"max_delay"`
	} `yaml:"retry"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Scheduler struct {
		SweepInterval string `yaml:"sweep_interval"`
	} `yaml:"scheduler"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:             8080,
		ShutdownTimeout:  10 * time.Second,
		AllowedOrigins:   []string{"*"},
		DBDriver:         DriverSQLite,
		DBPath:           "./data/leads.db",
		RabbitMQExchange: "ex.leads",
		RetryMaxAttempts: 3,
		RetryBaseDelay:   20 * time.Millisecond,
		RetryMaxDelay:    500 * time.Millisecond,
		LogLevel:         "info",
		LogFormat:        "json",
		SweepInterval:    time.Minute,
	}
}

// LoadDotEnv seeds the process environment from .env files. Missing files
// are ignored; variables already set are not overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load resolves configuration: defaults -> file at path (if any) -> env.
// A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.applyFile(raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, fs.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyFile(raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if f.Server.Port > 0 {
		c.Port = f.Server.Port
	}
	if len(f.Server.AllowedOrigins) > 0 {
		c.AllowedOrigins = f.Server.AllowedOrigins
	}
	if f.Database.Driver != "" {
		c.DBDriver = f.Database.Driver
	}
	if f.Database.Path != "" {
		c.DBPath = f.Database.Path
	}
	if f.Database.URL != "" {
		c.DatabaseURL = f.Database.URL
	}
	if f.RabbitMQ.URL != "" {
		c.RabbitMQURL = f.RabbitMQ.URL
	}
	if f.RabbitMQ.Exchange != "" {
		c.RabbitMQExchange = f.RabbitMQ.Exchange
	}
	if f.Retry.MaxAttempts > 0 {
		c.RetryMaxAttempts = f.Retry.MaxAttempts
	}
	if f.Log.Level != "" {
		c.LogLevel = f.Log.Level
	}
	if f.Log.Format != "" {
		c.LogFormat = f.Log.Format
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", f.Server.ShutdownTimeout, &c.ShutdownTimeout},
		{"retry.base_delay", f.Retry.BaseDelay, &c.RetryBaseDelay},
		{"retry.max_delay", f.Retry.MaxDelay, &c.RetryMaxDelay},
		{"scheduler.sweep_interval", f.Scheduler.SweepInterval, &c.SweepInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv() error {
	var err error
	if c.Port, err = envInt("PORT", c.Port); err != nil {
		return err
	}
	c.AllowedOrigins = envCSV("ALLOWED_ORIGINS", c.AllowedOrigins)
	c.DBDriver = strings.ToLower(envOrDefault("DB_DRIVER", c.DBDriver))
	c.DBPath = envOrDefault("DB_PATH", c.DBPath)
	c.DatabaseURL = envOrDefault("DATABASE_URL", c.DatabaseURL)
	c.RabbitMQURL = envOrDefault("RABBITMQ_URL", c.RabbitMQURL)
	c.RabbitMQExchange = envOrDefault("RABBITMQ_EXCHANGE", c.RabbitMQExchange)
	if c.RetryMaxAttempts, err = envInt("RETRY_MAX_ATTEMPTS", c.RetryMaxAttempts); err != nil {
		return err
	}
	if c.RetryBaseDelay, err = envDuration("RETRY_BASE_DELAY", c.RetryBaseDelay); err != nil {
		return err
	}
	if c.RetryMaxDelay, err = envDuration("RETRY_MAX_DELAY", c.RetryMaxDelay); err != nil {
		return err
	}
	if c.ShutdownTimeout, err = envDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout); err != nil {
		return err
	}
	if c.SweepInterval, err = envDuration("SWEEP_INTERVAL", c.SweepInterval); err != nil {
		return err
	}
	c.LogLevel = strings.ToLower(envOrDefault("LOG_LEVEL", c.LogLevel))
	c.LogFormat = strings.ToLower(envOrDefault("LOG_FORMAT", c.LogFormat))
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return errors.New("database.path is required for the sqlite driver")
		}
	case DriverGorm:
		if c.DatabaseURL == "" {
			return errors.New("database.url is required for the gorm driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.DBDriver)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("scheduler.sweep_interval must not be negative, got %s", c.SweepInterval)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// envOrDefault returns an env var when present, otherwise the fallback.
func envOrDefault(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
