// Package config provides hierarchical configuration loading for the
// fleet orchestrator.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the orchestrator process.
type Config struct {
	Server        Server        `yaml:"server"`
	DataRoot      string        `yaml:"data_root"`
	AssistantBin  string        `yaml:"assistant_bin"`
	Logging       Logging       `yaml:"logging"`
	Worker        WorkerConfig  `yaml:"worker"`
	Approval      Approval      `yaml:"approval"`
	Postgres      Postgres      `yaml:"postgres"`
	Webhook       Webhook       `yaml:"webhook"`
	Observability Observability `yaml:"observability"`
}

// Observability configures the OpenTelemetry trace/metric exporter. An
// empty OTLPEndpoint leaves the global no-op providers in place, so a
// deployment with no collector pays no cost.
type Observability struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Webhook configures the HMAC-signed webhook route that lets a pull
// request review land back in the fleet without polling. An empty
// Secret disables the route entirely.
type Webhook struct {
	Secret string `yaml:"secret"`
	Header string `yaml:"header"`
}

// Server holds the HTTP/WS/gRPC control-plane listener configuration.
type Server struct {
	Host       string `yaml:"host"`
	Port       string `yaml:"port"`
	GRPCPort   string `yaml:"grpc_port"`
	MCPPort    string `yaml:"mcp_port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// WorkerConfig bounds the dev/review loop the Worker Controller runs
// for each repository.
type WorkerConfig struct {
	MaxReviewIterations int           `yaml:"max_review_iterations"`
	SnapshotInterval    time.Duration `yaml:"snapshot_interval"`
}

// Approval holds the approval-classifier's auto-decision policy.
type Approval struct {
	AutoApproveReadOnly bool          `yaml:"auto_approve_read_only"`
	DecisionTimeout     time.Duration `yaml:"decision_timeout"`
}

// Postgres holds the optional audit-trail connection pool
// configuration. A blank DSN disables the Postgres-backed audit
// trail; the orchestrator's core event-sourced state never depends
// on it.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// Defaults returns a Config with sensible default values for local
// development.
func Defaults() Config {
	return Config{
		Server: Server{
			Host:       "0.0.0.0",
			Port:       "8080",
			GRPCPort:   "9090",
			MCPPort:    "9191",
			CORSOrigin: "http://localhost:3000",
		},
		DataRoot:     "./data",
		AssistantBin: "claude",
		Logging: Logging{
			Level:   "info",
			Service: "fleetforge",
			Async:   true,
		},
		Worker: WorkerConfig{
			MaxReviewIterations: 3,
			SnapshotInterval:    20 * time.Second,
		},
		Approval: Approval{
			AutoApproveReadOnly: true,
			DecisionTimeout:     10 * time.Minute,
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		Webhook: Webhook{
			Header: "X-Hub-Signature-256",
		},
	}
}
