package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds all runtime configuration. Values come from the environment
// first; an optional YAML file (CONFIG_PATH) fills anything the environment
// leaves unset. Defaults match the product contract.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Auth        AuthConfig        `yaml:"auth"`
	Plan        PlanConfig        `yaml:"plan"`
	Repair      RepairConfig      `yaml:"repair"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	KillSwitch  KillSwitchConfig  `yaml:"kill_switch"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"` // "production" or "development"
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	SessionTTLSeconds int    `yaml:"session_ttl_seconds"`
	CookieProdName    string `yaml:"cookie_prod_name"`
	CookieDevName     string `yaml:"cookie_dev_name"`
}

type PlanConfig struct {
	FreezeDurationHours int `yaml:"freeze_duration_hours"`
	PublishReasonMinLen int `yaml:"publish_reason_min_len"`
	PublishDeadlineSecs int `yaml:"publish_deadline_seconds"`
	SolverWorkers       int `yaml:"solver_workers"`
}

type RepairConfig struct {
	SessionTTLSeconds int `yaml:"session_ttl_seconds"`
}

type IdempotencyConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

type KillSwitchConfig struct {
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

type RateLimitConfig struct {
	MaxCallsPerMinute int `yaml:"max_calls_per_minute"`
	BurstSize         int `yaml:"burst_size"`
}

// Load builds the config from the environment plus an optional YAML file.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config file: %w", err)
		}
	}

	// Environment wins over file and defaults.
	strEnv(&cfg.Server.Port, "PORT")
	strEnv(&cfg.Server.Env, "ENV")
	strEnv(&cfg.Database.URL, "DATABASE_URL")
	strEnv(&cfg.Redis.Addr, "REDIS_ADDR")
	strEnv(&cfg.Redis.Password, "REDIS_PASSWORD")
	intEnv(&cfg.Redis.DB, "REDIS_DB")
	intEnv(&cfg.Auth.SessionTTLSeconds, "SESSION_TTL_SECONDS")
	strEnv(&cfg.Auth.CookieProdName, "AUTH_COOKIE_PROD_NAME")
	strEnv(&cfg.Auth.CookieDevName, "AUTH_COOKIE_DEV_NAME")
	intEnv(&cfg.Plan.FreezeDurationHours, "FREEZE_DURATION_HOURS")
	intEnv(&cfg.Plan.PublishReasonMinLen, "PUBLISH_REASON_MIN_LEN")
	intEnv(&cfg.Plan.PublishDeadlineSecs, "PUBLISH_DEADLINE_SECONDS")
	intEnv(&cfg.Plan.SolverWorkers, "SOLVER_WORKERS")
	intEnv(&cfg.Repair.SessionTTLSeconds, "REPAIR_SESSION_TTL_SECONDS")
	intEnv(&cfg.Idempotency.TTLSeconds, "IDEMPOTENCY_TTL_SECONDS")
	intEnv(&cfg.KillSwitch.CacheTTLSeconds, "KILL_SWITCH_CACHE_TTL_SECONDS")

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		Auth: AuthConfig{
			SessionTTLSeconds: 28800, // 8h
			CookieProdName:    "__Host-solvereign_session",
			CookieDevName:     "solvereign_session",
		},
		Plan: PlanConfig{
			FreezeDurationHours: 12,
			PublishReasonMinLen: 10,
			PublishDeadlineSecs: 10,
			SolverWorkers:       4,
		},
		Repair:      RepairConfig{SessionTTLSeconds: 1800},
		Idempotency: IdempotencyConfig{TTLSeconds: 3600},
		KillSwitch:  KillSwitchConfig{CacheTTLSeconds: 5},
		RateLimit:   RateLimitConfig{MaxCallsPerMinute: 120},
	}
}

// IsProduction reports whether cookies must use the __Host- hardened form.
func (c *Config) IsProduction() bool { return c.Server.Env == "production" }

// CookieName returns the session cookie name for the current environment.
func (c *Config) CookieName() string {
	if c.IsProduction() {
		return c.Auth.CookieProdName
	}
	return c.Auth.CookieDevName
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Auth.SessionTTLSeconds) * time.Second
}

func (c *Config) RepairSessionTTL() time.Duration {
	return time.Duration(c.Repair.SessionTTLSeconds) * time.Second
}

func (c *Config) FreezeDuration() time.Duration {
	return time.Duration(c.Plan.FreezeDurationHours) * time.Hour
}

func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.Idempotency.TTLSeconds) * time.Second
}

func (c *Config) KillSwitchCacheTTL() time.Duration {
	return time.Duration(c.KillSwitch.CacheTTLSeconds) * time.Second
}

func (c *Config) PublishDeadline() time.Duration {
	return time.Duration(c.Plan.PublishDeadlineSecs) * time.Second
}

func strEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func intEnv(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
