// Package config loads and validates the Weld service configuration from
// YAML. Defaults are applied before validation so a minimal file (or none
// at all) yields a working development setup.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/weldcode/weld/pkg/sandbox"
	"github.com/weldcode/weld/pkg/telemetry"
)

// Duration unmarshals from YAML duration strings ("30s", "5m") or bare
// nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root service configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Store    StoreConfig    `yaml:"store"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Provider ProviderConfig `yaml:"provider"`
	Schema   SchemaConfig   `yaml:"schema"`
	Policy   PolicyConfig   `yaml:"policy"`
	Dev      DevConfig      `yaml:"dev"`
}

// ServiceConfig identifies the service instance.
type ServiceConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" validate:"oneof=development staging production"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"oneof=console json"`
	Output string `yaml:"output"`
	Caller bool   `yaml:"caller"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address" validate:"required_if=Enabled true"`
	Path          string `yaml:"path"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
	Insecure     bool    `yaml:"insecure"`
}

// StoreConfig configures the session store.
type StoreConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// SandboxConfig configures sandbox resolution and recreation.
type SandboxConfig struct {
	Template            string   `yaml:"template" validate:"required"`
	ProjectDir          string   `yaml:"project_dir" validate:"required"`
	PreviewPort         int      `yaml:"preview_port" validate:"gt=0,lte=65535"`
	CreateTimeout       Duration `yaml:"create_timeout" validate:"gt=0"`
	StabilizePause      Duration `yaml:"stabilize_pause"`
	ScaffoldFiles       []string `yaml:"scaffold_files"`
	DegradedFraction    float64  `yaml:"degraded_fraction" validate:"gte=0,lte=1"`
	DegradedMinFailures int      `yaml:"degraded_min_failures" validate:"gte=0"`
}

// ProviderConfig configures the managed sandbox provider API.
type ProviderConfig struct {
	BaseURL        string   `yaml:"base_url" validate:"omitempty,url"`
	APIKey         string   `yaml:"api_key"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// SchemaConfig configures the schema provisioning backend.
type SchemaConfig struct {
	Endpoint      string `yaml:"endpoint" validate:"omitempty,url"`
	InvalidateURL string `yaml:"invalidate_url" validate:"omitempty,url"`
	TokenURL      string `yaml:"token_url" validate:"omitempty,url"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	RefreshToken  string `yaml:"refresh_token"`
	StaticToken   string `yaml:"static_token"`
}

// PolicyConfig configures mutation policy loading.
type PolicyConfig struct {
	// Paths are extra .rego files or directories loaded on top of the
	// builtin policies.
	Paths []string `yaml:"paths"`
}

// DevConfig configures the local dev sync loop.
type DevConfig struct {
	// WatchDir is the local project mirror to watch.
	WatchDir string `yaml:"watch_dir"`

	// Debounce coalesces rapid file events before syncing.
	Debounce Duration `yaml:"debounce"`

	// Ignore lists path substrings excluded from syncing.
	Ignore []string `yaml:"ignore"`
}

// Default returns the development configuration.
func Default() *Config {
	sb := sandbox.DefaultConfig()
	return &Config{
		Service: ServiceConfig{
			Name:        "weld",
			Version:     "dev",
			Environment: "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
			Path:          "/metrics",
		},
		Tracing: TracingConfig{
			Exporter:     "stdout",
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Store: StoreConfig{
			Path: "weld.db",
		},
		Sandbox: SandboxConfig{
			Template:            sb.Template,
			ProjectDir:          sb.ProjectDir,
			PreviewPort:         sb.PreviewPort,
			CreateTimeout:       Duration(sb.CreateTimeout),
			StabilizePause:      Duration(sb.StabilizePause),
			ScaffoldFiles:       sb.ScaffoldFiles,
			DegradedFraction:    sb.DegradedFraction,
			DegradedMinFailures: sb.DegradedMinFailures,
		},
		Provider: ProviderConfig{
			RequestTimeout: Duration(30 * time.Second),
		},
		Dev: DevConfig{
			Debounce: Duration(300 * time.Millisecond),
			Ignore:   []string{"node_modules", ".next", ".git"},
		},
	}
}

// Load reads a YAML file over the defaults and validates the result. An
// empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration with struct tags plus the cross-field
// rules the tags cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Schema.Endpoint != "" && c.Schema.StaticToken == "" && c.Schema.TokenURL == "" {
		return fmt.Errorf("invalid configuration: schema endpoint requires a static token or a token URL")
	}
	return nil
}

// SandboxLifecycle converts to the lifecycle manager's configuration.
func (c *Config) SandboxLifecycle() sandbox.Config {
	return sandbox.Config{
		Template:            c.Sandbox.Template,
		ProjectDir:          c.Sandbox.ProjectDir,
		PreviewPort:         c.Sandbox.PreviewPort,
		CreateTimeout:       c.Sandbox.CreateTimeout.Std(),
		StabilizePause:      c.Sandbox.StabilizePause.Std(),
		ScaffoldFiles:       c.Sandbox.ScaffoldFiles,
		DegradedFraction:    c.Sandbox.DegradedFraction,
		DegradedMinFailures: c.Sandbox.DegradedMinFailures,
	}
}

// Telemetry converts to the telemetry stack's configuration.
func (c *Config) Telemetry() *telemetry.Config {
	return &telemetry.Config{
		ServiceName:    c.Service.Name,
		ServiceVersion: c.Service.Version,
		Environment:    c.Service.Environment,
		Logging: telemetry.LoggingConfig{
			Level:        c.Logging.Level,
			Format:       c.Logging.Format,
			Output:       c.Logging.Output,
			EnableCaller: c.Logging.Caller,
			TimeFormat:   "rfc3339",
		},
		Tracing: telemetry.TracingConfig{
			Enabled:       c.Tracing.Enabled,
			Exporter:      c.Tracing.Exporter,
			Endpoint:      c.Tracing.Endpoint,
			SamplingRate:  c.Tracing.SamplingRate,
			ExportTimeout: 30 * time.Second,
			Insecure:      c.Tracing.Insecure,
		},
		Metrics: telemetry.MetricsConfig{
			Enabled:       c.Metrics.Enabled,
			ListenAddress: c.Metrics.ListenAddress,
			Path:          c.Metrics.Path,
			Namespace:     "weld",
		},
	}
}
