package agentmgr

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
	"github.com/fleetforge/orchestrator/internal/orch/bus"
	"github.com/fleetforge/orchestrator/internal/orch/eventlog"
	"github.com/fleetforge/orchestrator/internal/orch/layout"
)

type fakeClock struct {
	n int
}

func (c *fakeClock) NewEventID() string {
	c.n++
	return "ev-" + string(rune('a'+c.n))
}

func (c *fakeClock) Now() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func TestReconcileOrphans_WritesStoppedBeforeForgettingLiveEntry(t *testing.T) {
	dataRoot := t.TempDir()
	l := layout.New(dataRoot)
	b := bus.New()
	clk := &fakeClock{}
	mgr := New(l, b, nil, clk)

	itemID := "item-1"
	agentID := "item-1--dev--backend--abc123"
	itemLog := eventlog.Open(l.ItemEventLogPath(itemID))

	if err := itemLog.Append(orch.Event{
		ID: "1", Type: orch.EventAgentStarted, Timestamp: clk.Now(), ItemID: itemID, AgentID: agentID,
		Payload: orch.MustPayload(orch.AgentStartedPayload{Role: "dev", Repository: "backend", PID: 4242}),
	}); err != nil {
		t.Fatalf("seed agent_started: %v", err)
	}

	if err := mgr.ReconcileOrphans(context.Background(), []string{itemID}); err != nil {
		t.Fatalf("ReconcileOrphans: %v", err)
	}

	events, err := itemLog.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var sawStopped bool
	for _, ev := range events {
		if ev.Type == orch.EventStatusChanged && ev.AgentID == agentID {
			var p orch.StatusChangedPayload
			if err := ev.DecodePayload(&p); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if p.To == orch.AgentStopped {
				sawStopped = true
			}
		}
	}
	if !sawStopped {
		t.Fatal("expected a status_changed(*->stopped) event for the orphaned agent")
	}

	if _, stillLive := mgr.live[agentID]; stillLive {
		t.Fatal("orphaned agent should not remain in the live map")
	}
}

func TestReconcileOrphans_SkipsTerminalAgents(t *testing.T) {
	dataRoot := t.TempDir()
	l := layout.New(dataRoot)
	b := bus.New()
	clk := &fakeClock{}
	mgr := New(l, b, nil, clk)

	itemID := "item-2"
	agentID := "item-2--dev--backend--def456"
	itemLog := eventlog.Open(l.ItemEventLogPath(itemID))

	if err := itemLog.Append(orch.Event{
		ID: "1", Type: orch.EventAgentStarted, Timestamp: clk.Now(), ItemID: itemID, AgentID: agentID,
		Payload: orch.MustPayload(orch.AgentStartedPayload{Role: "dev", Repository: "backend", PID: 1}),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := itemLog.Append(orch.Event{
		ID: "2", Type: orch.EventAgentExited, Timestamp: clk.Now(), ItemID: itemID, AgentID: agentID,
		Payload: orch.MustPayload(orch.AgentExitedPayload{ExitCode: 0}),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := mgr.ReconcileOrphans(context.Background(), []string{itemID}); err != nil {
		t.Fatalf("ReconcileOrphans: %v", err)
	}

	events, err := itemLog.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, ev := range events {
		if ev.Type == orch.EventStatusChanged {
			t.Fatal("expected no status_changed event for an already-terminal agent")
		}
	}
}

func TestReconcileOrphans_SkipsLiveAgents(t *testing.T) {
	dataRoot := t.TempDir()
	l := layout.New(dataRoot)
	b := bus.New()
	clk := &fakeClock{}
	mgr := New(l, b, nil, clk)

	itemID := "item-3"
	agentID := "item-3--dev--backend--ghi789"
	itemLog := eventlog.Open(l.ItemEventLogPath(itemID))
	if err := itemLog.Append(orch.Event{
		ID: "1", Type: orch.EventAgentStarted, Timestamp: clk.Now(), ItemID: itemID, AgentID: agentID,
		Payload: orch.MustPayload(orch.AgentStartedPayload{Role: "dev", Repository: "backend", PID: 1}),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	mgr.mu.Lock()
	mgr.live[agentID] = nil // presence alone marks it live for this test
	mgr.mu.Unlock()

	if err := mgr.ReconcileOrphans(context.Background(), []string{itemID}); err != nil {
		t.Fatalf("ReconcileOrphans: %v", err)
	}

	events, err := itemLog.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, ev := range events {
		if ev.Type == orch.EventStatusChanged {
			t.Fatal("expected no status_changed event for a still-live agent")
		}
	}
}

func TestAgentLogPaths_AreUnderItemDir(t *testing.T) {
	l := layout.New("/data")
	mgr := New(l, bus.New(), nil, &fakeClock{})
	got := mgr.agentLog("item-1", "item-1--dev--repo--abc").Path()
	want := filepath.Join("/data", "items", "item-1", "agents", "item-1--dev--repo--abc", "events.jsonl")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
