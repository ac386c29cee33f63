// Package config loads service configuration from a YAML file with
// environment variable overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" or "2m" decode
// directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level configuration for the execution core.
type Config struct {
	Env       string          `yaml:"env"`
	Server    Server          `yaml:"server"`
	Database  Database        `yaml:"database"`
	Auth      Auth            `yaml:"auth"`
	Webhook   Webhook         `yaml:"webhook"`
	Broker    Broker          `yaml:"broker"`
	Risk      Risk            `yaml:"risk"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Orders    Orders          `yaml:"orders"`
	Breaker   Breaker         `yaml:"breaker"`
	Logging   Logging         `yaml:"logging"`
}

// Server holds network listener configuration.
type Server struct {
	Port string `yaml:"port"`
}

// Database holds persistence settings. Connections are pooled; the limits
// guard against connection exhaustion under load.
type Database struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// Auth holds the JWT signing secret for API and operator tokens, plus the
// shared secret for internal-only routes such as the breaker heartbeat.
type Auth struct {
	JWTSecret      string `yaml:"jwt_secret"`
	InternalSecret string `yaml:"internal_secret"`
}

// Webhook holds the shared secret for broker callback signatures. An empty
// secret disables webhook processing entirely rather than accepting
// unsigned callbacks.
type Webhook struct {
	Secret string `yaml:"secret"`
}

// Broker holds the outbound broker adapter settings.
type Broker struct {
	BaseURL   string   `yaml:"base_url"`
	APIKey    string   `yaml:"api_key"`
	Timeout   Duration `yaml:"timeout"`
	Simulated bool     `yaml:"simulated"`
}

// Risk holds the limits enforced by the safety gate.
type Risk struct {
	MaxOrderQuantity int64   `yaml:"max_order_quantity"`
	MaxNotional      string  `yaml:"max_notional"`
	OrdersPerSecond  float64 `yaml:"orders_per_second"`
}

// SchedulerConfig controls time-sliced execution. Enabled gates creation of
// the scheduler's background work at startup.
type SchedulerConfig struct {
	Enabled   bool `yaml:"enabled"`
	MaxSlices int  `yaml:"max_slices"`
}

// Orders holds order monitoring settings.
type Orders struct {
	StuckAfter   Duration `yaml:"stuck_after"`
	MonitorEvery Duration `yaml:"monitor_every"`
}

// Breaker configures circuit-breaker freshness: a heartbeat older than
// Freshness reads as OPEN.
type Breaker struct {
	Freshness Duration `yaml:"freshness"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Env: "development",
		Server: Server{
			Port: "8080",
		},
		Database: Database{
			Path:         "execution.db",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Auth: Auth{
			JWTSecret:      "dev-secret-key",
			InternalSecret: "dev-internal-secret",
		},
		Broker: Broker{
			Timeout:   Duration(5 * time.Second),
			Simulated: true,
		},
		Risk: Risk{
			MaxOrderQuantity: 10000,
			MaxNotional:      "1000000",
			OrdersPerSecond:  50,
		},
		Scheduler: SchedulerConfig{
			Enabled:   true,
			MaxSlices: 100,
		},
		Orders: Orders{
			StuckAfter:   Duration(2 * time.Minute),
			MonitorEvery: Duration(30 * time.Second),
		},
		Breaker: Breaker{
			Freshness: Duration(time.Minute),
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads the YAML configuration at path, falling back to defaults for
// unset fields, then applies environment overrides. An empty path returns
// the defaults with overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("INTERNAL_SECRET"); v != "" {
		cfg.Auth.InternalSecret = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv("BROKER_BASE_URL"); v != "" {
		cfg.Broker.BaseURL = v
		cfg.Broker.Simulated = false
	}
	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("MAX_ORDER_QUANTITY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Risk.MaxOrderQuantity = n
		}
	}
}

func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port must not be empty")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database max_open_conns must be positive")
	}
	if c.Risk.MaxOrderQuantity <= 0 {
		return fmt.Errorf("risk max_order_quantity must be positive")
	}
	if c.Scheduler.MaxSlices <= 0 {
		return fmt.Errorf("scheduler max_slices must be positive")
	}
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
