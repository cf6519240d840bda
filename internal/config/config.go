package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Config holds all configuration for the dunning engine. Every key is a flat environment
// variable; the nested structs only group them.
type Config struct {
	Server    ServerConfig    `mapstructure:",squash"`
	Database  DatabaseConfig  `mapstructure:",squash"`
	Redis     RedisConfig     `mapstructure:",squash"`
	Scheduler SchedulerConfig `mapstructure:",squash"`
	Dunning   DunningConfig   `mapstructure:",squash"`
	Events    EventsConfig    `mapstructure:",squash"`
	Signals   SignalsConfig   `mapstructure:",squash"`
	Logging   LoggingConfig   `mapstructure:",squash"`
	Health    HealthConfig    `mapstructure:",squash"`
}

type ServerConfig struct {
	Port string `mapstructure:"SERVER_PORT"`
	Host string `mapstructure:"SERVER_HOST"`
	Env  string `mapstructure:"ENV"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"DATABASE_URL"`
}

type RedisConfig struct {
	URL string `mapstructure:"REDIS_URL"`
}

type SchedulerConfig struct {
	Cron          string `mapstructure:"SCHEDULER_CRON"`
	Timezone      string `mapstructure:"SCHEDULER_TIMEZONE"`
	Organizations string `mapstructure:"SCHEDULER_ORGANIZATIONS"`
}

type DunningConfig struct {
	Workers         int    `mapstructure:"DUNNING_WORKERS"`
	ConflictRetries int    `mapstructure:"DUNNING_CONFLICT_RETRIES"`
	LockTTL         string `mapstructure:"DUNNING_LOCK_TTL"`
	LockWait        string `mapstructure:"DUNNING_LOCK_WAIT"`
	LockBackend     string `mapstructure:"DUNNING_LOCK_BACKEND"`
}

type EventsConfig struct {
	Stream string `mapstructure:"EVENTS_STREAM"`
	Buffer int    `mapstructure:"EVENTS_BUFFER"`
}

type SignalsConfig struct {
	Stream   string `mapstructure:"SIGNALS_STREAM"`
	Group    string `mapstructure:"SIGNALS_GROUP"`
	Consumer string `mapstructure:"SIGNALS_CONSUMER"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

type HealthConfig struct {
	Timeout string `mapstructure:"HEALTH_CHECK_TIMEOUT"`
}

var defaults = map[string]interface{}{
	"SERVER_PORT":              "8080",
	"SERVER_HOST":              "0.0.0.0",
	"ENV":                      "development",
	"DATABASE_URL":             "",
	"REDIS_URL":                "",
	"SCHEDULER_CRON":           "0 0 2 * * *",
	"SCHEDULER_TIMEZONE":       "UTC",
	"SCHEDULER_ORGANIZATIONS":  "",
	"DUNNING_WORKERS":          8,
	"DUNNING_CONFLICT_RETRIES": 3,
	"DUNNING_LOCK_TTL":         "30s",
	"DUNNING_LOCK_WAIT":        "5s",
	"DUNNING_LOCK_BACKEND":     LockBackendMemory,
	"EVENTS_STREAM":            "dunning:events",
	"EVENTS_BUFFER":            1024,
	"SIGNALS_STREAM":           "payments:signals",
	"SIGNALS_GROUP":            "dunning-engine",
	"SIGNALS_CONSUMER":         "dunning-1",
	"LOG_LEVEL":                "info",
	"LOG_FORMAT":               "json",
	"HEALTH_CHECK_TIMEOUT":     "5s",
}

// Load reads configuration from environment variables, after loading an optional .env file.
func Load() (*Config, error) {
	// Missing .env files are fine; real environment variables win over them.
	_ = godotenv.Load(".env")
	_ = godotenv.Load("deployments/.env")

	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if _, err := cron.NewParser(CronOptions).Parse(c.Scheduler.Cron); err != nil {
		return fmt.Errorf("SCHEDULER_CRON must be a valid 6-field cron spec: %w", err)
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("SCHEDULER_TIMEZONE must be a valid location: %w", err)
	}

	if c.Dunning.Workers <= 0 {
		return fmt.Errorf("DUNNING_WORKERS must be greater than 0")
	}

	if c.Dunning.ConflictRetries < 0 {
		return fmt.Errorf("DUNNING_CONFLICT_RETRIES must not be negative")
	}

	for key, value := range map[string]string{
		"DUNNING_LOCK_TTL":     c.Dunning.LockTTL,
		"DUNNING_LOCK_WAIT":    c.Dunning.LockWait,
		"HEALTH_CHECK_TIMEOUT": c.Health.Timeout,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}

	switch c.Dunning.LockBackend {
	case LockBackendMemory:
	case LockBackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required when DUNNING_LOCK_BACKEND is redis")
		}
	default:
		return fmt.Errorf("DUNNING_LOCK_BACKEND must be %q or %q", LockBackendMemory, LockBackendRedis)
	}

	if c.Events.Buffer <= 0 {
		return fmt.Errorf("EVENTS_BUFFER must be greater than 0")
	}

	return nil
}

// CronOptions is the parser layout for SCHEDULER_CRON: seconds first, as cron.WithSeconds.
const CronOptions = cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == "dev"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production" || c.Server.Env == "prod"
}

// Organizations returns the organizations the scheduler sweeps.
func (c *Config) Organizations() []string {
	var orgs []string
	for _, org := range strings.Split(c.Scheduler.Organizations, ",") {
		if org = strings.TrimSpace(org); org != "" {
			orgs = append(orgs, org)
		}
	}
	return orgs
}

// Location returns the scheduler timezone, UTC if it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) GetLockTTL() time.Duration {
	d, _ := time.ParseDuration(c.Dunning.LockTTL)
	return d
}

func (c *Config) GetLockWait() time.Duration {
	d, _ := time.ParseDuration(c.Dunning.LockWait)
	return d
}

// GetHealthTimeout returns the health check timeout as duration
func (c *Config) GetHealthTimeout() time.Duration {
	timeout, _ := time.ParseDuration(c.Health.Timeout)
	return timeout
}
