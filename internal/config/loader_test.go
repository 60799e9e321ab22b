package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Worker.MaxReviewIterations != 3 {
		t.Errorf("expected max_review_iterations 3, got %d", cfg.Worker.MaxReviewIterations)
	}
	if cfg.Worker.SnapshotInterval != 20*time.Second {
		t.Errorf("expected snapshot interval 20s, got %v", cfg.Worker.SnapshotInterval)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
  cors_origin: "http://example.com"
data_root: "/var/lib/fleetforge"
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.CORSOrigin != "http://example.com" {
		t.Errorf("expected cors http://example.com, got %s", cfg.Server.CORSOrigin)
	}
	if cfg.DataRoot != "/var/lib/fleetforge" {
		t.Errorf("expected data_root override, got %s", cfg.DataRoot)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.AssistantBin != "claude" {
		t.Errorf("expected default assistant bin, got %s", cfg.AssistantBin)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("FLEETFORGE_PORT", "7070")
	t.Setenv("FLEETFORGE_DATA_ROOT", "/srv/fleetforge")
	t.Setenv("FLEETFORGE_LOG_LEVEL", "warn")
	t.Setenv("FLEETFORGE_MAX_REVIEW_ITERATIONS", "5")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.DataRoot != "/srv/fleetforge" {
		t.Errorf("expected data root override, got %s", cfg.DataRoot)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Worker.MaxReviewIterations != 5 {
		t.Errorf("expected max_review_iterations 5, got %d", cfg.Worker.MaxReviewIterations)
	}
}

func TestEnvOverride_OTLPEndpoint(t *testing.T) {
	cfg := Defaults()
	if cfg.Observability.OTLPEndpoint != "" {
		t.Fatalf("expected no default otlp endpoint, got %q", cfg.Observability.OTLPEndpoint)
	}

	t.Setenv("FLEETFORGE_OTLP_ENDPOINT", "otel-collector:4317")
	loadEnv(&cfg)

	if cfg.Observability.OTLPEndpoint != "otel-collector:4317" {
		t.Errorf("expected otlp endpoint override, got %q", cfg.Observability.OTLPEndpoint)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }},
		{"empty data root", func(c *Config) { c.DataRoot = "" }},
		{"empty assistant bin", func(c *Config) { c.AssistantBin = "" }},
		{"zero max review iterations", func(c *Config) { c.Worker.MaxReviewIterations = 0 }},
		{"zero snapshot interval", func(c *Config) { c.Worker.SnapshotInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			if err := validate(&cfg); err == nil {
				t.Fatal("expected a validation error, got nil")
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}
