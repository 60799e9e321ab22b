package obs

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "fleetforge"

// StartPTYSpawnSpan starts a span around launching one agent's PTY
// child process, the orchestrator's equivalent of CodeForge's
// per-run span.
func StartPTYSpawnSpan(ctx context.Context, itemID, agentID, role string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "pty.spawn",
		trace.WithAttributes(
			attribute.String("item.id", itemID),
			attribute.String("agent.id", agentID),
			attribute.String("agent.role", role),
		),
	)
}

// StartGitPushSpan starts a span around pushing a repository's work
// branch and opening its pull request.
func StartGitPushSpan(ctx context.Context, itemID, repository, branch string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "git.push",
		trace.WithAttributes(
			attribute.String("item.id", itemID),
			attribute.String("repository", repository),
			attribute.String("branch", branch),
		),
	)
}
