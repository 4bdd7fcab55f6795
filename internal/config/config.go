// Package config provides configuration management for the quote service.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/wheel_tracker/internal/batch"
	"github.com/eddiefleurent/wheel_tracker/internal/broker"
	"github.com/eddiefleurent/wheel_tracker/internal/health"
	"github.com/eddiefleurent/wheel_tracker/internal/quotes"
	"github.com/eddiefleurent/wheel_tracker/internal/storage"
)

// Quote and account data sources.
const (
	SourceAlpaca = "alpaca"
	SourceMock   = "mock"
)

const (
	defaultPort        = 8080
	defaultLogLevel    = "info"
	defaultStoragePath = "data/trades.json"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Alpaca      AlpacaConfig      `yaml:"alpaca"`
	Quotes      QuotesConfig      `yaml:"quotes"`
	Connection  ConnectionConfig  `yaml:"connection"`
	Batch       BatchConfig       `yaml:"batch"`
	Storage     StorageConfig     `yaml:"storage"`
	Server      ServerConfig      `yaml:"server"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
	LogFile  string `yaml:"log_file"`  // optional, rotated
}

// AlpacaConfig holds API credentials and hosts.
type AlpacaConfig struct {
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	DataURL    string `yaml:"data_url"`
	TradingURL string `yaml:"trading_url"` // defaults from environment.mode
}

// QuotesConfig tunes quote resolution.
type QuotesConfig struct {
	Source         string   `yaml:"source"` // alpaca | mock
	CacheTTL       string   `yaml:"cache_ttl"`
	RequestTimeout string   `yaml:"request_timeout"`
	RateWindow     string   `yaml:"rate_window"`
	Endpoints      []string `yaml:"endpoints"`
	RateLimit      int      `yaml:"rate_limit"`
}

// ConnectionConfig tunes the account connection check.
type ConnectionConfig struct {
	CacheTTL    string `yaml:"cache_ttl"`
	RetryDelay  string `yaml:"retry_delay"`
	Timeout     string `yaml:"timeout"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// BatchConfig tunes bulk price updates.
type BatchConfig struct {
	Mode               string `yaml:"mode"` // sequential | parallel
	RequestDelay       string `yaml:"request_delay"`
	BatchDelay         string `yaml:"batch_delay"`
	AutoUpdateInterval string `yaml:"auto_update_interval"` // empty or 0 disables
	BatchSize          int    `yaml:"batch_size"`
}

// StorageConfig defines where trades are kept.
type StorageConfig struct {
	Driver string `yaml:"driver"` // json | sqlite
	Path   string `yaml:"path"`
}

// ServerConfig defines the HTTP API.
type ServerConfig struct {
	AuthToken string `yaml:"auth_token"`
	Port      int    `yaml:"port"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate fills defaults and checks that all values are valid.
func (c *Config) Validate() error {
	c.normalize()

	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of debug, info, warn, error")
	}

	switch c.Quotes.Source {
	case SourceAlpaca:
		if c.Alpaca.APIKey == "" {
			return fmt.Errorf("alpaca.api_key is required")
		}
		if c.Alpaca.APISecret == "" {
			return fmt.Errorf("alpaca.api_secret is required")
		}
	case SourceMock:
	default:
		return fmt.Errorf("quotes.source must be 'alpaca' or 'mock'")
	}

	durations := []struct {
		field    string
		value    string
		zeroOK   bool
		optional bool
	}{
		{"quotes.cache_ttl", c.Quotes.CacheTTL, false, false},
		{"quotes.request_timeout", c.Quotes.RequestTimeout, false, false},
		{"quotes.rate_window", c.Quotes.RateWindow, false, false},
		{"connection.cache_ttl", c.Connection.CacheTTL, false, false},
		{"connection.retry_delay", c.Connection.RetryDelay, true, false},
		{"connection.timeout", c.Connection.Timeout, false, false},
		{"batch.request_delay", c.Batch.RequestDelay, true, false},
		{"batch.batch_delay", c.Batch.BatchDelay, true, false},
		{"batch.auto_update_interval", c.Batch.AutoUpdateInterval, true, true},
	}
	for _, d := range durations {
		if d.optional && d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s invalid: %w", d.field, err)
		}
		if v < 0 || (v == 0 && !d.zeroOK) {
			return fmt.Errorf("%s must be > 0", d.field)
		}
	}

	if c.Quotes.RateLimit <= 0 {
		return fmt.Errorf("quotes.rate_limit must be > 0")
	}
	for _, e := range c.Quotes.Endpoints {
		if e != broker.EndpointV1Beta1 && e != broker.EndpointV2 {
			return fmt.Errorf("quotes.endpoints: unknown endpoint %q", e)
		}
	}
	if c.Connection.MaxAttempts <= 0 {
		return fmt.Errorf("connection.max_attempts must be > 0")
	}

	if c.Batch.Mode != batch.ModeSequential && c.Batch.Mode != batch.ModeParallel {
		return fmt.Errorf("batch.mode must be 'sequential' or 'parallel'")
	}
	if c.Batch.BatchSize <= 0 {
		return fmt.Errorf("batch.batch_size must be > 0")
	}

	if c.Storage.Driver != storage.DriverJSON && c.Storage.Driver != storage.DriverSQLite {
		return fmt.Errorf("storage.driver must be 'json' or 'sqlite'")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	return nil
}

// normalize sets default values for unset fields.
func (c *Config) normalize() {
	c.Environment.Mode = strings.ToLower(strings.TrimSpace(c.Environment.Mode))
	if c.Environment.Mode == "" {
		c.Environment.Mode = "paper"
	}
	c.Environment.LogLevel = strings.ToLower(strings.TrimSpace(c.Environment.LogLevel))
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = defaultLogLevel
	}

	if c.Alpaca.DataURL == "" {
		c.Alpaca.DataURL = broker.DefaultDataURL
	}
	if c.Alpaca.TradingURL == "" {
		if c.Environment.Mode == "live" {
			c.Alpaca.TradingURL = broker.DefaultLiveTradingURL
		} else {
			c.Alpaca.TradingURL = broker.DefaultPaperTradingURL
		}
	}

	c.Quotes.Source = strings.ToLower(strings.TrimSpace(c.Quotes.Source))
	if c.Quotes.Source == "" {
		c.Quotes.Source = SourceAlpaca
	}
	setDefault(&c.Quotes.CacheTTL, quotes.DefaultCacheTTL)
	setDefault(&c.Quotes.RequestTimeout, broker.DefaultQuoteTimeout)
	setDefault(&c.Quotes.RateWindow, quotes.DefaultRateWindow)
	if c.Quotes.RateLimit == 0 {
		c.Quotes.RateLimit = quotes.DefaultRateLimit
	}

	setDefault(&c.Connection.CacheTTL, health.DefaultCacheTTL)
	setDefault(&c.Connection.RetryDelay, health.DefaultRetryDelay)
	setDefault(&c.Connection.Timeout, health.DefaultTimeout)
	if c.Connection.MaxAttempts == 0 {
		c.Connection.MaxAttempts = health.DefaultMaxAttempts
	}

	c.Batch.Mode = strings.ToLower(strings.TrimSpace(c.Batch.Mode))
	if c.Batch.Mode == "" {
		c.Batch.Mode = batch.ModeSequential
	}
	setDefault(&c.Batch.RequestDelay, batch.DefaultRequestDelay)
	setDefault(&c.Batch.BatchDelay, batch.DefaultBatchDelay)
	if c.Batch.BatchSize == 0 {
		c.Batch.BatchSize = batch.DefaultBatchSize
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = storage.DriverJSON
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}

	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
}

func setDefault(field *string, d time.Duration) {
	if strings.TrimSpace(*field) == "" {
		*field = d.String()
	}
}

// parse returns s as a duration, or zero when s is empty or invalid.
// Validate has already rejected invalid values.
func parse(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// IsPaperTrading returns true if the service talks to the paper account.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// UseMockData reports whether simulated quotes and account data replace Alpaca.
func (c *Config) UseMockData() bool {
	return c.Quotes.Source == SourceMock
}

// QuoteClientConfig returns the settings for quotes.NewClient.
func (c *Config) QuoteClientConfig() quotes.Config {
	return quotes.Config{
		Endpoints:  c.Quotes.Endpoints,
		CacheTTL:   parse(c.Quotes.CacheTTL),
		RateWindow: parse(c.Quotes.RateWindow),
		RateLimit:  c.Quotes.RateLimit,
	}
}

// QuoteTimeout is the per-request market data timeout.
func (c *Config) QuoteTimeout() time.Duration {
	return parse(c.Quotes.RequestTimeout)
}

// HealthConfig returns the settings for health.NewChecker.
func (c *Config) HealthConfig() health.Config {
	return health.Config{
		CacheTTL:    parse(c.Connection.CacheTTL),
		RetryDelay:  parse(c.Connection.RetryDelay),
		Timeout:     parse(c.Connection.Timeout),
		MaxAttempts: c.Connection.MaxAttempts,
	}
}

// BatchConfig returns the settings for batch.New.
func (c *Config) BatchConfig() batch.Config {
	return batch.Config{
		Mode:         c.Batch.Mode,
		RequestDelay: parse(c.Batch.RequestDelay),
		BatchDelay:   parse(c.Batch.BatchDelay),
		BatchSize:    c.Batch.BatchSize,
	}
}

// AutoUpdateInterval returns how often open trades are repriced. Zero disables it.
func (c *Config) AutoUpdateInterval() time.Duration {
	return parse(c.Batch.AutoUpdateInterval)
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
