// Package audit records a human-readable, high-level lifecycle
// narration of an item's run, separate from the low-level per-item
// and per-agent event logs: "plan created with 4 tasks", "review
// iteration 2 of repo backend returned pass", "pull request opened
// for frontend". It mirrors the teacher's audit_trail table and
// AuditEntry/appendAudit split between raw agent events and audit
// entries, adapted from run/agent ids to item/agent ids.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one row of the audit trail.
type Entry struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"itemId"`
	AgentID   string    `json:"agentId,omitempty"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Filter narrows a LoadAudit query.
type Filter struct {
	ItemID  string
	AgentID string
	Action  string
	After   *time.Time
	Before  *time.Time
}

// Page is a cursor-paginated page of audit entries, newest first.
type Page struct {
	Entries []Entry
	Cursor  string
	HasMore bool
	Total   int
}

// Store persists and retrieves audit entries. A deployment that does
// not configure Postgres runs with a nil Store; Recorder treats a nil
// Store as a no-op so the audit trail is always optional.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Load(ctx context.Context, filter Filter, cursor string, limit int) (Page, error)
}

// Recorder narrates item lifecycle actions into a Store. A nil
// *Recorder, or one constructed with a nil Store, silently drops
// every Record call — callers never need to nil-check before use.
type Recorder struct {
	store Store
	clock Clock
}

// Clock supplies entry timestamps; production code uses the wall
// clock, tests can substitute a fixed one.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// NewRecorder constructs a Recorder over store. A nil store is valid
// and makes every Record call a no-op.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, clock: wallClock{}}
}

// WithClock returns a copy of r using clock instead of the wall clock.
func (r *Recorder) WithClock(clock Clock) *Recorder {
	if r == nil {
		return nil
	}
	return &Recorder{store: r.store, clock: clock}
}

// Record appends one audit entry. Failures are swallowed: surfacing
// them would require threading a logger through every call site;
// callers that need failure
// visibility should wrap Store themselves. A nil Recorder, or one
// with a nil Store, is always a no-op.
func (r *Recorder) Record(ctx context.Context, itemID, agentID, action, details string) {
	if r == nil || r.store == nil {
		return
	}
	entry := Entry{
		ItemID:    itemID,
		AgentID:   agentID,
		Action:    action,
		CreatedAt: r.clock.Now(),
	}
	entry.Details = details
	_ = r.store.Append(ctx, entry)
}

// Recordf is Record with a formatted details string.
func (r *Recorder) Recordf(ctx context.Context, itemID, agentID, action, format string, args ...any) {
	if r == nil || r.store == nil {
		return
	}
	r.Record(ctx, itemID, agentID, action, fmt.Sprintf(format, args...))
}

// PostgresStore persists audit entries in a Postgres audit_trail
// table, mirroring the teacher's EventStore.AppendAudit/LoadAudit
// queries with project/run/tenant columns narrowed to item/agent.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool. The caller owns
// the pool's lifecycle (including Close).
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_trail (item_id, agent_id, action, details, created_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5)`,
		e.ItemID, e.AgentID, e.Action, e.Details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: append entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, filter Filter, cursor string, limit int) (Page, error) {
	if limit <= 0 {
		limit = 50
	}

	var conditions []string
	var args []any
	argIdx := 1

	add := func(clause string, value any) {
		conditions = append(conditions, fmt.Sprintf(clause, argIdx))
		args = append(args, value)
		argIdx++
	}
	if filter.ItemID != "" {
		add("item_id = $%d", filter.ItemID)
	}
	if filter.AgentID != "" {
		add("agent_id = $%d", filter.AgentID)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.After != nil {
		add("created_at > $%d", *filter.After)
	}
	if filter.Before != nil {
		add("created_at < $%d", *filter.Before)
	}
	if cursor != "" {
		add("id < $%d", cursor)
	}

	where := "TRUE"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}

	var total int
	countSQL := fmt.Sprintf(`SELECT COUNT(*) FROM audit_trail WHERE %s`, where)
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("audit: count entries: %w", err)
	}

	fetchSQL := fmt.Sprintf(
		`SELECT id, item_id, COALESCE(agent_id, ''), action, COALESCE(details, ''), created_at
		 FROM audit_trail WHERE %s ORDER BY created_at DESC LIMIT $%d`,
		where, argIdx)
	fetchArgs := append(append([]any{}, args...), limit+1)

	rows, err := s.pool.Query(ctx, fetchSQL, fetchArgs...)
	if err != nil {
		return Page{}, fmt.Errorf("audit: load entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ItemID, &e.AgentID, &e.Action, &e.Details, &e.CreatedAt); err != nil {
			return Page{}, fmt.Errorf("audit: scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return Page{}, err
	}

	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}
	var nextCursor string
	if hasMore && len(entries) > 0 {
		nextCursor = entries[len(entries)-1].ID
	}

	return Page{Entries: entries, Cursor: nextCursor, HasMore: hasMore, Total: total}, nil
}
