package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/oriys/keystore/internal/workspace"
)

// DefaultStoreName is the store KEYSTORE_DSN fills when no default is named.
const DefaultStoreName = "default"

// LogConfig holds operational logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// AuditFile, if set, receives one JSON line per command
	AuditFile string `yaml:"audit_file"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// WorkspaceConfig sizes the per-request result arena
type WorkspaceConfig struct {
	Size int `yaml:"size"`
}

// Config is the central configuration struct
type Config struct {
	// Stores maps a store name to its DSN
	Stores       map[string]string `yaml:"stores"`
	DefaultStore string            `yaml:"default_store"`
	Log          LogConfig         `yaml:"log"`
	Metrics      MetricsConfig     `yaml:"metrics"`
	Tracing      TracingConfig     `yaml:"tracing"`
	Workspace    WorkspaceConfig   `yaml:"workspace"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Stores: map[string]string{},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr:      ":9464",
			Namespace: "keystore",
		},
		Tracing: TracingConfig{
			Exporter:    "otlp-http",
			Endpoint:    "localhost:4318",
			ServiceName: "keystore",
			SampleRate:  1.0,
		},
		Workspace: WorkspaceConfig{
			Size: workspace.DefaultSize,
		},
	}
}

// LoadFromFile loads configuration from a YAML file over the defaults
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Stores == nil {
		cfg.Stores = map[string]string{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("KEYSTORE_DSN"); v != "" {
		if cfg.DefaultStore == "" {
			cfg.DefaultStore = DefaultStoreName
		}
		if cfg.Stores == nil {
			cfg.Stores = map[string]string{}
		}
		cfg.Stores[cfg.DefaultStore] = v
	}
	if v := os.Getenv("KEYSTORE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("KEYSTORE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("KEYSTORE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("KEYSTORE_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
		cfg.Tracing.Enabled = true
	}
	if v := os.Getenv("KEYSTORE_WORKSPACE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workspace.Size = n
		}
	}
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.DefaultStore != "" && len(c.Stores) > 0 {
		if _, ok := c.Stores[c.DefaultStore]; !ok {
			return fmt.Errorf("default_store %q is not in stores", c.DefaultStore)
		}
	}
	if c.Workspace.Size < 0 {
		return fmt.Errorf("workspace.size must not be negative")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}
	return nil
}

// DSN returns the DSN of the named store. An empty name selects the default
// store, or the only store when there is exactly one.
func (c *Config) DSN(name string) (string, error) {
	if name == "" {
		name = c.DefaultStore
	}
	if name == "" {
		switch len(c.Stores) {
		case 0:
			return "", fmt.Errorf("no store configured")
		case 1:
			for _, dsn := range c.Stores {
				return dsn, nil
			}
		default:
			return "", fmt.Errorf("several stores configured and no default_store: %v", c.StoreNames())
		}
	}
	dsn, ok := c.Stores[name]
	if !ok {
		return "", fmt.Errorf("unknown store %q", name)
	}
	return dsn, nil
}

// StoreNames lists the configured store names in sorted order
func (c *Config) StoreNames() []string {
	names := make([]string, 0, len(c.Stores))
	for name := range c.Stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
