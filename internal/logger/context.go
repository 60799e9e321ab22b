package logger

import "context"

// contextKey is a private type to prevent collisions with other context keys.
type contextKey int

// itemIDKey and agentIDKey are the context keys for the two ids almost
// every log line in this system is scoped to.
var (
	itemIDKey  = contextKey(0)
	agentIDKey = contextKey(1)
)

// WithItemID returns a new context with the given item id stored.
func WithItemID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, itemIDKey, id)
}

// ItemID extracts the item id from the context.
// Returns an empty string if no item id is set.
func ItemID(ctx context.Context) string {
	id, _ := ctx.Value(itemIDKey).(string)
	return id
}

// WithAgentID returns a new context with the given agent id stored.
func WithAgentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, agentIDKey, id)
}

// AgentID extracts the agent id from the context.
// Returns an empty string if no agent id is set.
func AgentID(ctx context.Context) string {
	id, _ := ctx.Value(agentIDKey).(string)
	return id
}
