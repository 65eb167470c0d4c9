package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTempConfig writes content to a config file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{envAPIURL, envPublicAPIURL, "AWS_REGION", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", appEnvVar} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `app:
  name: "TestDash"
  version: "1.0"
api:
  base_url: "http://venue.local:9000/"
  timeout: 3s
sync:
  refresh_interval: 2s
  failure_threshold: 5
  refresh_on_trade_event: true
orders:
  default_quantity: 10
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "TestDash", cfg.App.Name)
	assert.Equal(t, "http://venue.local:9000", cfg.API.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.API.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Sync.RefreshInterval)
	assert.Equal(t, 5, cfg.Sync.FailureThreshold)
	assert.True(t, cfg.Sync.RefreshOnTradeEvent)
	assert.Equal(t, 10.0, cfg.Orders.DefaultQuantity)

	// untouched keys keep their defaults
	assert.Equal(t, 1024, cfg.Sync.EventBuffer)
	assert.Equal(t, 30*time.Second, cfg.Stream.Backoff.Max)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadConfigMissingDefaultUsesDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, 3, cfg.Sync.FailureThreshold)
	assert.Equal(t, 5*time.Second, cfg.Sync.RefreshInterval)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "app:\n  name: x\n")

	t.Setenv(envPublicAPIURL, "https://public.example.com")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://public.example.com", cfg.API.BaseURL)

	t.Setenv(envAPIURL, "https://primary.example.com")
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://primary.example.com", cfg.API.BaseURL)
}

func TestCloudWatchEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "metrics:\n  cloudwatch:\n    enabled: true\n")
	t.Setenv("AWS_REGION", "sa-east-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sa-east-1", cfg.Metrics.CloudWatch.Region)
	assert.Equal(t, "AKIA", cfg.Metrics.CloudWatch.AccessKeyID)
	assert.Equal(t, "TradeDash", cfg.Metrics.CloudWatch.Namespace)
}

func TestValidateConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"empty name":         func(c *Config) { c.App.Name = "" },
		"relative base url":  func(c *Config) { c.API.BaseURL = "localhost:8000" },
		"ftp base url":       func(c *Config) { c.API.BaseURL = "ftp://venue" },
		"zero timeout":       func(c *Config) { c.API.Timeout = 0 },
		"ping after timeout": func(c *Config) { c.Stream.PingInterval = time.Minute; c.Stream.ReadTimeout = time.Second },
		"zero backoff":       func(c *Config) { c.Stream.Backoff.Min = 0 },
		"inverted backoff":   func(c *Config) { c.Stream.Backoff.Max = time.Millisecond },
		"shrinking factor":   func(c *Config) { c.Stream.Backoff.Factor = 0.5 },
		"zero threshold":     func(c *Config) { c.Sync.FailureThreshold = 0 },
		"zero buffer":        func(c *Config) { c.Sync.EventBuffer = 0 },
		"zero quantity":      func(c *Config) { c.Orders.DefaultQuantity = 0 },
		"bad log format":     func(c *Config) { c.Logging.Format = "xml" },
		"half credentials":   func(c *Config) { c.Metrics.CloudWatch.AccessKeyID = "AKIA" },
		"cloudwatch no ns": func(c *Config) {
			c.Metrics.CloudWatch.Enabled = true
			c.Metrics.CloudWatch.Namespace = ""
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, validateConfig(&cfg))
		})
	}

	cfg := Default()
	assert.NoError(t, validateConfig(&cfg))
}

func TestResolveEnvSpecificPath(t *testing.T) {
	dir := t.TempDir()
	def := filepath.Join(dir, "config.yml")
	prod := filepath.Join(dir, "config.production.yml")
	paths := map[string]string{environmentProduction: prod}

	t.Setenv(appEnvVar, "prod")
	assert.Equal(t, def, resolveEnvSpecificPath("", def, paths), "missing env file keeps the default")

	require.NoError(t, os.WriteFile(prod, []byte("app:\n  name: p\n"), 0o600))
	assert.Equal(t, prod, resolveEnvSpecificPath("", def, paths))
	assert.Equal(t, "custom.yml", resolveEnvSpecificPath("custom.yml", def, paths))

	t.Setenv(appEnvVar, "")
	assert.Equal(t, def, resolveEnvSpecificPath(def, def, paths))
	assert.Equal(t, EnvironmentDevelopment, AppEnvironment())
	assert.False(t, IsProductionLike(AppEnvironment()))
	assert.True(t, IsProductionLike(EnvironmentStaging))
}
