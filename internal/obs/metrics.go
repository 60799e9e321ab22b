package obs

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "fleetforge"

// Metrics holds every instrument the orchestration core reports
// through. A nil *Metrics is always safe to call methods on — every
// method below no-ops rather than panic — so components take it as an
// optional dependency the same way they take an optional
// *audit.Recorder.
type Metrics struct {
	agentsStarted     metric.Int64Counter
	approvalDecisions metric.Int64Counter
	approvalLatency   metric.Float64Histogram
	reviewIterations  metric.Int64Counter
	prsCreated        metric.Int64Counter
}

// NewMetrics creates every instrument against the current global
// MeterProvider. Call after obs.InitProvider so the instruments are
// bound to a real exporter rather than the no-op default.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.agentsStarted, err = meter.Int64Counter("fleetforge.agents.started",
		metric.WithDescription("Number of agent processes started"))
	if err != nil {
		return nil, err
	}

	m.approvalDecisions, err = meter.Int64Counter("fleetforge.approvals.decisions",
		metric.WithDescription("Number of approval decisions recorded"))
	if err != nil {
		return nil, err
	}

	m.approvalLatency, err = meter.Float64Histogram("fleetforge.approvals.latency_seconds",
		metric.WithDescription("Time between an approval request and its decision"))
	if err != nil {
		return nil, err
	}

	m.reviewIterations, err = meter.Int64Counter("fleetforge.review.iterations",
		metric.WithDescription("Number of dev/review loop iterations run"))
	if err != nil {
		return nil, err
	}

	m.prsCreated, err = meter.Int64Counter("fleetforge.prs.created",
		metric.WithDescription("Number of draft pull requests opened"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// AgentStarted records one agent process start for the given role.
func (m *Metrics) AgentStarted(ctx context.Context, role string) {
	if m == nil {
		return
	}
	m.agentsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// ApprovalDecided records one approval decision and, when
// latencySeconds is positive, the latency between request and decision.
func (m *Metrics) ApprovalDecided(ctx context.Context, approved, auto bool, latencySeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Bool("approved", approved),
		attribute.Bool("auto", auto),
	)
	m.approvalDecisions.Add(ctx, 1, attrs)
	if latencySeconds > 0 {
		m.approvalLatency.Record(ctx, latencySeconds, attrs)
	}
}

// ReviewIteration records one dev/review loop pass for a repository.
func (m *Metrics) ReviewIteration(ctx context.Context, repository string, iteration int) {
	if m == nil {
		return
	}
	m.reviewIterations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("repository", repository),
		attribute.Int("iteration", iteration),
	))
}

// PRCreated records one draft pull request opened for a repository.
func (m *Metrics) PRCreated(ctx context.Context, repository string) {
	if m == nil {
		return
	}
	m.prsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("repository", repository)))
}
