// Package config loads server configuration from defaults, an optional TOML
// file, an optional .env file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	Log      LogConfig      `toml:"log"`
	Matching MatchingConfig `toml:"matching"`
	Dispatch DispatchConfig `toml:"dispatch"`
	Queue    QueueConfig    `toml:"queue"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// RequestTimeout bounds every REST request, e.g. "30s".
	RequestTimeout string `toml:"request_timeout"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

// MatchingConfig holds the tunable constants of the invoice matching engine.
type MatchingConfig struct {
	AutoMatchThreshold float64 `toml:"auto_match_threshold"`

	WeightAmount       float64 `toml:"weight_amount"`
	WeightCounterparty float64 `toml:"weight_counterparty"`
	WeightDate         float64 `toml:"weight_date"`

	// An amount within either tolerance scores 1.0; the score then decays
	// linearly to 0 at AmountMaxDivergencePct.
	AmountTolerancePct     float64 `toml:"amount_tolerance_pct"`
	AmountToleranceAbs     float64 `toml:"amount_tolerance_abs"`
	AmountMaxDivergencePct float64 `toml:"amount_max_divergence_pct"`

	EmailMatchScore  float64 `toml:"email_match_score"`
	NameMatchCeiling float64 `toml:"name_match_ceiling"`

	DateHorizonDays int `toml:"date_horizon_days"`
	TopCandidates   int `toml:"top_candidates"`

	Workers       int    `toml:"workers"`
	SweepSchedule string `toml:"sweep_schedule"`
	StaleAfter    string `toml:"stale_after"`
}

type DispatchConfig struct {
	Timeout     string `toml:"timeout"`
	Concurrency int    `toml:"concurrency"`
	WebhookURL  string `toml:"webhook_url"`
	CompanyName string `toml:"company_name"`
}

type QueueConfig struct {
	// RedisAddr switches the match queue from in-process to a Redis list.
	RedisAddr string `toml:"redis_addr"`
	RedisKey  string `toml:"redis_key"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			RequestTimeout: "30s",
		},
		Database: DatabaseConfig{
			Path: "./data/payables.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Matching: MatchingConfig{
			AutoMatchThreshold:     0.85,
			WeightAmount:           0.45,
			WeightCounterparty:     0.40,
			WeightDate:             0.15,
			AmountTolerancePct:     0.01,
			AmountToleranceAbs:     1.00,
			AmountMaxDivergencePct: 0.20,
			EmailMatchScore:        0.90,
			NameMatchCeiling:       0.80,
			DateHorizonDays:        90,
			TopCandidates:          3,
			Workers:                2,
			SweepSchedule:          "@every 5m",
			StaleAfter:             "2m",
		},
		Dispatch: DispatchConfig{
			Timeout:     "15s",
			Concurrency: 4,
			CompanyName: "Producao",
		},
		Queue: QueueConfig{
			RedisKey: "payables:match",
		},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg.Server.Addr = getEnv("PAYABLES_ADDR", cfg.Server.Addr)
	cfg.Database.Path = getEnv("PAYABLES_DB_PATH", cfg.Database.Path)
	cfg.Auth.JWTSecret = getEnv("PAYABLES_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	cfg.Dispatch.WebhookURL = getEnv("PAYABLES_DISPATCH_WEBHOOK_URL", cfg.Dispatch.WebhookURL)
	cfg.Queue.RedisAddr = getEnv("REDIS_ADDR", cfg.Queue.RedisAddr)
	if v := os.Getenv("PAYABLES_AUTO_MATCH_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid PAYABLES_AUTO_MATCH_THRESHOLD %q: %w", v, err)
		}
		cfg.Matching.AutoMatchThreshold = f
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks invariants that do not depend on how the process is run.
func (c *Config) Validate() error {
	m := c.Matching
	if m.AutoMatchThreshold <= 0 || m.AutoMatchThreshold > 1 {
		return fmt.Errorf("matching.auto_match_threshold must be in (0, 1], got %v", m.AutoMatchThreshold)
	}
	if m.WeightAmount < 0 || m.WeightCounterparty < 0 || m.WeightDate < 0 {
		return errors.New("matching weights must not be negative")
	}
	if sum := m.WeightAmount + m.WeightCounterparty + m.WeightDate; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("matching weights must sum to 1, got %v", sum)
	}
	if m.WeightDate >= m.WeightAmount || m.WeightDate >= m.WeightCounterparty {
		return errors.New("matching.weight_date must be lower than the amount and counterparty weights")
	}
	if m.AmountMaxDivergencePct <= m.AmountTolerancePct {
		return errors.New("matching.amount_max_divergence_pct must exceed amount_tolerance_pct")
	}
	if m.DateHorizonDays <= 0 {
		return errors.New("matching.date_horizon_days must be positive")
	}
	if m.TopCandidates < 0 {
		return errors.New("matching.top_candidates must not be negative")
	}
	if m.Workers <= 0 {
		return errors.New("matching.workers must be positive")
	}
	if _, err := m.StaleAfterDuration(); err != nil {
		return err
	}
	if _, err := c.Dispatch.TimeoutDuration(); err != nil {
		return err
	}
	if c.Dispatch.Concurrency <= 0 {
		return errors.New("dispatch.concurrency must be positive")
	}
	if _, err := c.Server.RequestTimeoutDuration(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

// ValidateServe adds the checks that only matter for a running server.
func (c *Config) ValidateServe() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("PAYABLES_JWT_SECRET is required")
	}
	return nil
}

func (m MatchingConfig) StaleAfterDuration() (time.Duration, error) {
	return parsePositiveDuration("matching.stale_after", m.StaleAfter)
}

func (d DispatchConfig) TimeoutDuration() (time.Duration, error) {
	return parsePositiveDuration("dispatch.timeout", d.Timeout)
}

func (s ServerConfig) RequestTimeoutDuration() (time.Duration, error) {
	return parsePositiveDuration("server.request_timeout", s.RequestTimeout)
}

func parsePositiveDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return d, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
