// Package config provides configuration loading for the peoplesync
// service: defaults, an optional YAML file, then environment
// overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/salasdw/peoplesync/internal/connector/sesame"
	"github.com/salasdw/peoplesync/internal/staging"
)

// Schedule is one cron entry submitting a job with a relative window.
type Schedule struct {
	// Cron is a standard 5-field cron expression.
	Cron string `yaml:"cron"`
	// Job names one of the ETL pipelines ("employees", "imputations", ...).
	Job string `yaml:"job"`
	// WindowDays is how many days back the window reaches, ending
	// yesterday. Ignored by the jobs that take no window.
	WindowDays int `yaml:"window_days"`
}

// Config holds the whole service configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	// APISecret is the bearer token the HTTP surface requires.
	APISecret string `yaml:"api_secret"`

	SesameBaseURL string           `yaml:"sesame_base_url"`
	Accounts      []sesame.Account `yaml:"accounts"`
	PageSize      int              `yaml:"page_size"`
	MaxAttempts   int              `yaml:"max_attempts"`
	RateLimit     float64          `yaml:"rate_limit"`
	// RequestTimeout bounds one upstream HTTP request.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	WarehouseDSN   string `yaml:"warehouse_dsn"`
	Schema         string `yaml:"schema"`
	DatamartSchema string `yaml:"datamart_schema"`

	Staging   staging.Config `yaml:"staging"`
	Schedules []Schedule     `yaml:"schedules"`
}

// Load builds the configuration. path may be empty; when set, the YAML
// file there is applied over the defaults before the environment.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr:     ":8000",
		SesameBaseURL:  "https://api-eu1.sesametime.com",
		PageSize:       100,
		MaxAttempts:    30,
		RateLimit:      10,
		RequestTimeout: 5 * time.Minute,
		Schema:         "dbo",
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.ListenAddr = getEnv("PS_LISTEN_ADDR", cfg.ListenAddr)
	cfg.APISecret = getEnv("SALAS_API_KEY", cfg.APISecret)
	cfg.SesameBaseURL = getEnv("SESAME_BASE_URL", cfg.SesameBaseURL)
	cfg.WarehouseDSN = getEnv("WAREHOUSE_DSN", cfg.WarehouseDSN)
	cfg.Schema = getEnv("WAREHOUSE_SCHEMA", cfg.Schema)
	cfg.DatamartSchema = getEnv("WAREHOUSE_DATAMART_SCHEMA", cfg.DatamartSchema)
	cfg.PageSize = getEnvInt("SESAME_PAGE_SIZE", cfg.PageSize)
	cfg.MaxAttempts = getEnvInt("SESAME_MAX_ATTEMPTS", cfg.MaxAttempts)

	// A single token in the environment becomes the only account.
	if key := os.Getenv("SESAME_API_KEY"); key != "" && len(cfg.Accounts) == 0 {
		cfg.Accounts = []sesame.Account{{Name: "default", Token: key}}
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.APISecret == "" {
		return fmt.Errorf("api secret is required (SALAS_API_KEY)")
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one Sesame account is required (SESAME_API_KEY or accounts in the config file)")
	}
	if c.WarehouseDSN == "" {
		return fmt.Errorf("warehouse DSN is required (WAREHOUSE_DSN)")
	}
	return nil
}

// Sesame assembles the connector configuration.
func (c *Config) Sesame() sesame.Config {
	return sesame.Config{
		BaseURL:     c.SesameBaseURL,
		Accounts:    c.Accounts,
		PageSize:    c.PageSize,
		MaxAttempts: c.MaxAttempts,
		RateLimit:   c.RateLimit,
		Timeout:     c.RequestTimeout,
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
