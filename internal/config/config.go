// Package config loads service settings from querydesk.yml, a .env file, and
// the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dusk-indust/querydesk/internal/normalize"
	"github.com/dusk-indust/querydesk/internal/oracle"
	"github.com/dusk-indust/querydesk/internal/sandbox"
)

// Config holds all service settings.
type Config struct {
	Server    ServerConfig     `yaml:"server,omitempty"`
	Log       LogConfig        `yaml:"log,omitempty"`
	Oracle    OracleConfig     `yaml:"oracle,omitempty"`
	Analytics AnalyticsConfig  `yaml:"analytics,omitempty"`
	Table     TableConfig      `yaml:"table,omitempty"`
	Agent     AgentConfig      `yaml:"agent,omitempty"`
	Sandbox   sandbox.Config   `yaml:"sandbox,omitempty"`
	Normalize normalize.Policy `yaml:"normalize,omitempty"`
	Telemetry TelemetryConfig  `yaml:"telemetry,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr           string        `yaml:"addr,omitempty"`
	RequestTimeout time.Duration `yaml:"requestTimeout,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // "json" or "console"
}

// OracleConfig configures the OpenAI-compatible text generation backend.
type OracleConfig struct {
	BaseURL     string               `yaml:"baseURL,omitempty"`
	APIKey      string               `yaml:"apiKey,omitempty"`
	Model       string               `yaml:"model,omitempty"`
	Temperature float32              `yaml:"temperature,omitempty"`
	MaxTokens   int                  `yaml:"maxTokens,omitempty"`
	Backoff     oracle.BackoffConfig `yaml:"backoff,omitempty"`
}

// Configured reports whether a backend has been set up.
func (c OracleConfig) Configured() bool {
	return c.APIKey != "" || c.BaseURL != ""
}

// AnalyticsConfig configures the GA4 Data API source.
type AnalyticsConfig struct {
	CredentialsFile string        `yaml:"credentialsFile,omitempty"`
	ReportTimeout   time.Duration `yaml:"reportTimeout,omitempty"`

	// Demo substitutes deterministic sample rows for empty reports.
	Demo bool `yaml:"demo,omitempty"`
}

// Configured reports whether credentials have been provided.
func (c AnalyticsConfig) Configured() bool { return c.CredentialsFile != "" }

// TableConfig configures the crawl table source.
type TableConfig struct {
	// CSVURL is an http(s) URL, a file:// URL, or a local path.
	CSVURL       string        `yaml:"csvURL,omitempty"`
	FetchTimeout time.Duration `yaml:"fetchTimeout,omitempty"`
}

// Configured reports whether a table location has been provided.
func (c TableConfig) Configured() bool { return c.CSVURL != "" }

// AgentConfig configures the specialist agents.
type AgentConfig struct {
	MaxAttempts int `yaml:"maxAttempts,omitempty"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled,omitempty"`
	ServiceName string `yaml:"serviceName,omitempty"`
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080", RequestTimeout: 10 * time.Minute},
		Log:    LogConfig{Level: "info", Format: "json"},
		Oracle: OracleConfig{
			Model:   "gemini-2.5-flash",
			Backoff: oracle.DefaultBackoffConfig(),
		},
		Analytics: AnalyticsConfig{ReportTimeout: 60 * time.Second},
		Table:     TableConfig{FetchTimeout: 10 * time.Second},
		Agent:     AgentConfig{MaxAttempts: 3},
		Sandbox:   sandbox.DefaultConfig(),
		Telemetry: TelemetryConfig{ServiceName: "querydesk"},
	}
}

// Environment variables read by ApplyEnv.
const (
	EnvOracleBaseURL = "QUERYDESK_ORACLE_BASE_URL"
	EnvOracleAPIKey  = "LITELLM_API_KEY"
	EnvOracleModel   = "QUERYDESK_ORACLE_MODEL"
	EnvGA4Creds      = "GA4_CREDENTIALS_FILE"
	EnvTableCSVURL   = "QUERYDESK_TABLE_CSV_URL"
	EnvAddr          = "QUERYDESK_ADDR"
	EnvDemoMode      = "DEMO_MODE"
	EnvLogLevel      = "QUERYDESK_LOG_LEVEL"
)

// Load reads querydesk.yml or querydesk.yaml from dir over the defaults,
// loads dir/.env into the process environment without overriding variables
// already set, and applies environment overrides. A missing file is not an
// error.
func Load(dir string) (*Config, error) {
	cfg := Default()
	for _, name := range []string{"querydesk.yml", "querydesk.yaml"} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		break
	}

	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment as read by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvOracleBaseURL, &c.Oracle.BaseURL)
	set(EnvOracleAPIKey, &c.Oracle.APIKey)
	set(EnvOracleModel, &c.Oracle.Model)
	set(EnvGA4Creds, &c.Analytics.CredentialsFile)
	set(EnvTableCSVURL, &c.Table.CSVURL)
	set(EnvAddr, &c.Server.Addr)
	set(EnvLogLevel, &c.Log.Level)

	if v, ok := lookup(EnvDemoMode); ok && v != "" {
		demo, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvDemoMode, err)
		}
		c.Analytics.Demo = demo
	}
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level))
	}
	if c.Oracle.Configured() && c.Oracle.Model == "" {
		errs = append(errs, errors.New("oracle.model is required when an oracle is configured"))
	}
	if c.Oracle.Backoff.MaxRetries < 1 {
		errs = append(errs, errors.New("oracle.backoff.maxRetries must be at least 1"))
	}
	if c.Agent.MaxAttempts < 1 {
		errs = append(errs, errors.New("agent.maxAttempts must be at least 1"))
	}
	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, errors.New("sandbox.timeout must be positive"))
	}
	if c.Analytics.CredentialsFile != "" {
		if _, err := os.Stat(c.Analytics.CredentialsFile); err != nil {
			errs = append(errs, fmt.Errorf("analytics.credentialsFile: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}
