package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "weld.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Service.Name != "weld" {
		t.Errorf("service name = %q", cfg.Service.Name)
	}
	if cfg.Sandbox.Template != "nextjs16-tailwind4" {
		t.Errorf("template = %q", cfg.Sandbox.Template)
	}
	if cfg.Sandbox.PreviewPort != 3000 {
		t.Errorf("preview port = %d", cfg.Sandbox.PreviewPort)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
service:
  name: weld-staging
  environment: staging
logging:
  level: debug
  format: json
sandbox:
  template: nextjs16-tailwind4
  project_dir: /srv/app
  preview_port: 4000
  create_timeout: 5m
store:
  path: /var/lib/weld/weld.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Service.Environment != "staging" {
		t.Errorf("environment = %q", cfg.Service.Environment)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Sandbox.ProjectDir != "/srv/app" || cfg.Sandbox.PreviewPort != 4000 {
		t.Errorf("sandbox = %+v", cfg.Sandbox)
	}
	if cfg.Sandbox.CreateTimeout.Std() != 5*time.Minute {
		t.Errorf("create timeout = %s", cfg.Sandbox.CreateTimeout.Std())
	}
	// Untouched sections keep their defaults.
	if cfg.Dev.Debounce.Std() != 300*time.Millisecond {
		t.Errorf("debounce = %s", cfg.Dev.Debounce.Std())
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad environment", "service:\n  name: weld\n  environment: prod\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"bad preview port", "sandbox:\n  preview_port: 70000\n"},
		{"bad sampling rate", "tracing:\n  sampling_rate: 2.0\n"},
		{"schema endpoint without token", "schema:\n  endpoint: https://db.example.dev/query\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			if _, err := Load(path); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "service: [this is not\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse") {
		t.Errorf("err = %v", err)
	}
}

func TestSandboxLifecycleConversion(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	lc := cfg.SandboxLifecycle()
	if lc.Template != cfg.Sandbox.Template || lc.ProjectDir != cfg.Sandbox.ProjectDir {
		t.Errorf("conversion mismatch: %+v", lc)
	}
	if lc.DegradedFraction != 0.4 || lc.DegradedMinFailures != 2 {
		t.Errorf("degraded thresholds = %v/%d", lc.DegradedFraction, lc.DegradedMinFailures)
	}
}

func TestTelemetryConversion(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tc := cfg.Telemetry()
	if tc.ServiceName != "weld" || tc.Logging.Level != "info" {
		t.Errorf("telemetry config = %+v", tc)
	}
	if err := tc.Validate(); err != nil {
		t.Errorf("converted config invalid: %v", err)
	}
}
