package config

import (
	"os"
	"path/filepath"
	"testing"
)

// Integration tests that exercise the full LoadFrom pipeline:
// defaults < YAML < environment variables.

func TestLoadFrom_FullHierarchy(t *testing.T) {
	// YAML sets port=9090, env overrides to 7070. Env must win.
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
server:
  port: "9090"
logging:
  level: "debug"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FLEETFORGE_PORT", "7070")
	t.Setenv("FLEETFORGE_LOG_LEVEL", "warn")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("env should override YAML: got port %q, want 7070", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("env should override YAML: got level %q, want warn", cfg.Logging.Level)
	}
}

func TestLoadFrom_YAMLPartialOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
logging:
  level: "error"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Logging.Level != "error" {
		t.Errorf("got level %q, want error", cfg.Logging.Level)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("default port should be 8080, got %q", cfg.Server.Port)
	}
	if cfg.DataRoot == "" {
		t.Error("data root should not be empty")
	}
}

func TestLoadFrom_EnvInvalidValuesIgnored(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FLEETFORGE_MAX_REVIEW_ITERATIONS", "notanumber")
	t.Setenv("FLEETFORGE_SNAPSHOT_INTERVAL", "invalid-duration")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Worker.MaxReviewIterations != 3 {
		t.Errorf("invalid int env should be ignored: got %d, want 3", cfg.Worker.MaxReviewIterations)
	}
}

func TestLoadFrom_MissingYAMLFile(t *testing.T) {
	cfg, err := LoadFrom("/nonexistent/path/to/config.yaml")
	if err != nil {
		t.Fatalf("missing YAML should not error, got %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Server.Port)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %q", cfg.Logging.Level)
	}
}

func TestLoadFrom_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(yamlPath, []byte(`{{{invalid yaml`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFrom(yamlPath); err == nil {
		t.Fatal("expected error for malformed YAML, got nil")
	}
}

func TestLoadFrom_ValidationAfterOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
server:
  port: ""
`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFrom(yamlPath); err == nil {
		t.Fatal("expected validation error for empty port, got nil")
	}
}

func TestHolder_ReloadUpdatesFields(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")

	if err := os.WriteFile(yamlPath, []byte(`
logging:
  level: "info"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	holder := NewHolder(cfg, yamlPath)

	if got := holder.Get(); got.Logging.Level != "info" {
		t.Fatalf("initial level should be info, got %q", got.Logging.Level)
	}

	if err := os.WriteFile(yamlPath, []byte(`
logging:
  level: "debug"
`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := holder.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if got := holder.Get(); got.Logging.Level != "debug" {
		t.Errorf("after reload: got level %q, want debug", got.Logging.Level)
	}
}

func TestHolder_ReloadValidationFailurePreservesOld(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")

	if err := os.WriteFile(yamlPath, []byte(`
server:
  port: "9090"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	holder := NewHolder(cfg, yamlPath)

	if err := os.WriteFile(yamlPath, []byte(`
server:
  port: ""
`), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := holder.Reload(); err == nil {
		t.Fatal("expected reload to fail for invalid config")
	}

	if got := holder.Get(); got.Server.Port != "9090" {
		t.Errorf("old config should be preserved: got port %q, want 9090", got.Server.Port)
	}
}
