package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "fleetforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Host, "FLEETFORGE_HOST")
	setString(&cfg.Server.Port, "FLEETFORGE_PORT")
	setString(&cfg.Server.GRPCPort, "FLEETFORGE_GRPC_PORT")
	setString(&cfg.Server.MCPPort, "FLEETFORGE_MCP_PORT")
	setString(&cfg.Server.CORSOrigin, "FLEETFORGE_CORS_ORIGIN")
	setString(&cfg.DataRoot, "FLEETFORGE_DATA_ROOT")
	setString(&cfg.AssistantBin, "FLEETFORGE_ASSISTANT_BIN")
	setString(&cfg.Logging.Level, "FLEETFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FLEETFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "FLEETFORGE_LOG_ASYNC")
	setInt(&cfg.Worker.MaxReviewIterations, "FLEETFORGE_MAX_REVIEW_ITERATIONS")
	setDuration(&cfg.Worker.SnapshotInterval, "FLEETFORGE_SNAPSHOT_INTERVAL")
	setBool(&cfg.Approval.AutoApproveReadOnly, "FLEETFORGE_AUTO_APPROVE_READ_ONLY")
	setDuration(&cfg.Approval.DecisionTimeout, "FLEETFORGE_APPROVAL_TIMEOUT")
	setString(&cfg.Webhook.Secret, "FLEETFORGE_WEBHOOK_SECRET")
	setString(&cfg.Webhook.Header, "FLEETFORGE_WEBHOOK_HEADER")
	setString(&cfg.Observability.OTLPEndpoint, "FLEETFORGE_OTLP_ENDPOINT")
	setString(&cfg.Postgres.DSN, "FLEETFORGE_DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "FLEETFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "FLEETFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "FLEETFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "FLEETFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "FLEETFORGE_PG_HEALTH_CHECK")
}

// validate rejects a Config that would put the orchestrator into an
// unusable state.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port must not be empty")
	}
	if cfg.DataRoot == "" {
		return errors.New("data_root must not be empty")
	}
	if cfg.AssistantBin == "" {
		return errors.New("assistant_bin must not be empty")
	}
	if cfg.Worker.MaxReviewIterations < 1 {
		return errors.New("worker.max_review_iterations must be >= 1")
	}
	if cfg.Worker.SnapshotInterval <= 0 {
		return errors.New("worker.snapshot_interval must be > 0")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Holder makes a loaded Config safe to read concurrently and to swap
// out wholesale on Reload, for long-running processes that want to
// pick up a changed YAML file without a restart.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewHolder wraps an already-loaded Config for concurrent access and
// future reloads from path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{cfg: cfg, path: path}
}

// Get returns the current Config. The returned value is a snapshot;
// callers must not mutate it.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Reload re-runs LoadFrom(path) and swaps the held Config in on
// success. On failure the previously held Config is left in place.
func (h *Holder) Reload() error {
	cfg, err := LoadFrom(h.path)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
	return nil
}
