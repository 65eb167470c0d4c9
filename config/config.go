package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no -config flag is given.
const DefaultPath = "config/config.yml"

// DefaultBaseURL matches the venue's local development address.
const DefaultBaseURL = "http://localhost:8000"

const (
	envAPIURL       = "TRADEDASH_API_URL"
	envPublicAPIURL = "NEXT_PUBLIC_API_URL"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	API       APIConfig       `yaml:"api"`
	Stream    StreamConfig    `yaml:"stream"`
	Sync      SyncConfig      `yaml:"sync"`
	Orders    OrdersConfig    `yaml:"orders"`
	Logging   LoggingConfig   `yaml:"logging"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

type StreamConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	Backoff      BackoffConfig `yaml:"backoff"`
}

type BackoffConfig struct {
	Min    time.Duration `yaml:"min"`
	Max    time.Duration `yaml:"max"`
	Factor float64       `yaml:"factor"`
}

type SyncConfig struct {
	RefreshInterval     time.Duration `yaml:"refresh_interval"`
	FailureThreshold    int           `yaml:"failure_threshold"`
	RefreshOnTradeEvent bool          `yaml:"refresh_on_trade_event"`
	EventBuffer         int           `yaml:"event_buffer"`
}

type OrdersConfig struct {
	RatePerSecond   float64 `yaml:"rate_per_second"`
	Burst           int     `yaml:"burst"`
	DefaultQuantity float64 `yaml:"default_quantity"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Namespace       string `yaml:"namespace"`
	Dashboard       string `yaml:"dashboard"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() Config {
	return Config{
		App: AppConfig{Name: "tradedash", Version: "dev"},
		API: APIConfig{
			BaseURL: DefaultBaseURL,
			Timeout: 10 * time.Second,
		},
		Stream: StreamConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  90 * time.Second,
			Backoff:      BackoffConfig{Min: 500 * time.Millisecond, Max: 30 * time.Second, Factor: 2},
		},
		Sync: SyncConfig{
			RefreshInterval:  5 * time.Second,
			FailureThreshold: 3,
			EventBuffer:      1024,
		},
		Orders: OrdersConfig{RatePerSecond: 5, Burst: 5, DefaultQuantity: 1},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Dashboard: DashboardConfig{
			Enabled:         true,
			Address:         ":8080",
			LogHistory:      200,
			MetricsHistory:  200,
			RefreshInterval: 5 * time.Second,
		},
		Metrics: MetricsConfig{CloudWatch: CloudWatchConfig{Namespace: "TradeDash", Dashboard: "TradeDash"}},
	}
}

// LoadConfig reads path over the defaults, applies environment overrides and
// validates the result. A missing file at DefaultPath is not an error.
func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, DefaultPath, map[string]string{
		environmentProduction: "config/config.production.yml",
		environmentStaging:    "config/config.staging.yml",
	})

	config := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(envAPIURL)); v != "" {
		cfg.API.BaseURL = v
	} else if v := strings.TrimSpace(os.Getenv(envPublicAPIURL)); v != "" {
		cfg.API.BaseURL = v
	}
	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/")

	if cfg.Metrics.CloudWatch.Enabled {
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Metrics.CloudWatch.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Metrics.CloudWatch.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Metrics.CloudWatch.SecretAccessKey = strings.TrimSpace(v)
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("api.base_url '%s' must be an absolute http or https URL", cfg.API.BaseURL)
	}
	if cfg.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be greater than 0")
	}

	if cfg.Stream.PingInterval < 0 || cfg.Stream.ReadTimeout < 0 {
		return fmt.Errorf("stream.ping_interval and stream.read_timeout must not be negative")
	}
	if cfg.Stream.ReadTimeout > 0 && cfg.Stream.PingInterval >= cfg.Stream.ReadTimeout {
		return fmt.Errorf("stream.ping_interval must be shorter than stream.read_timeout")
	}
	b := cfg.Stream.Backoff
	if b.Min <= 0 {
		return fmt.Errorf("stream.backoff.min must be greater than 0")
	}
	if b.Max < b.Min {
		return fmt.Errorf("stream.backoff.max must not be less than stream.backoff.min")
	}
	if b.Factor < 1 {
		return fmt.Errorf("stream.backoff.factor must be at least 1")
	}

	if cfg.Sync.RefreshInterval < 0 {
		return fmt.Errorf("sync.refresh_interval must not be negative")
	}
	if cfg.Sync.FailureThreshold <= 0 {
		return fmt.Errorf("sync.failure_threshold must be greater than 0")
	}
	if cfg.Sync.EventBuffer <= 0 {
		return fmt.Errorf("sync.event_buffer must be greater than 0")
	}

	if cfg.Orders.RatePerSecond < 0 || cfg.Orders.Burst < 0 {
		return fmt.Errorf("orders.rate_per_second and orders.burst must not be negative")
	}
	if cfg.Orders.DefaultQuantity <= 0 {
		return fmt.Errorf("orders.default_quantity must be greater than 0")
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format '%s' must be json or text", cfg.Logging.Format)
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Namespace == "" {
		return fmt.Errorf("metrics.cloudwatch.namespace is required when CloudWatch is enabled")
	}
	if (cfg.Metrics.CloudWatch.AccessKeyID == "") != (cfg.Metrics.CloudWatch.SecretAccessKey == "") {
		return fmt.Errorf("metrics.cloudwatch.access_key_id and metrics.cloudwatch.secret_access_key must be set together")
	}
	return nil
}
