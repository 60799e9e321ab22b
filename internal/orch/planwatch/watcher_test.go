package planwatch

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
	"github.com/fleetforge/orchestrator/internal/orch/bus"
	"github.com/fleetforge/orchestrator/internal/orch/eventlog"
	"github.com/fleetforge/orchestrator/internal/orch/item"
	"github.com/fleetforge/orchestrator/internal/orch/layout"
)

type fakeClock struct{ n int }

func (c *fakeClock) NewEventID() string {
	c.n++
	return "ev-" + string(rune('a'+c.n))
}

func (c *fakeClock) Now() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func newTestSetup(t *testing.T) (layout.Layout, *bus.Bus, *item.Manager, orch.Item) {
	t.Helper()
	l := layout.New(t.TempDir())
	b := bus.New()
	clk := &fakeClock{}
	items := item.New(l, b, nil, nil, clk, nil)

	it, err := items.CreateItem(context.Background(), item.CreateItemRequest{
		Name: "Add widget",
		Repositories: []orch.RepositoryConfig{
			{DirectoryName: "backend", Role: "back", Type: orch.RepoLocal, Path: t.TempDir(), LinkMode: orch.LinkSymlink},
		},
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if err := os.MkdirAll(l.WorkspaceRoot(it.ID), 0o755); err != nil {
		t.Fatal(err)
	}
	return l, b, items, it
}

func writePlan(t *testing.T, path string, it orch.Item) {
	t.Helper()
	content := "version: \"1\"\nitemId: " + it.ID + "\nsummary: test\ntasks:\n" +
		"  - id: t1\n    title: do it\n    agent: back\n    repository: backend\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatch_DetectsValidPlanAndSignalsProducer(t *testing.T) {
	pollInterval = 20 * time.Millisecond
	t.Cleanup(func() { pollInterval = 3 * time.Second })

	l, b, items, it := newTestSetup(t)
	clk := &fakeClock{}
	w := New(l, b, nil, items, clk)

	agentID := "planner-1"
	agentLog := eventlog.Open(l.AgentEventLogPath(it.ID, agentID))
	if err := agentLog.Append(orch.Event{
		ID: "a1", Type: orch.EventAgentStarted, Timestamp: clk.Now(), ItemID: it.ID, AgentID: agentID,
		Payload: orch.MustPayload(orch.AgentStartedPayload{Role: orch.RolePlanner, PID: 1}),
	}); err != nil {
		t.Fatalf("seed agent log: %v", err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		writePlan(t, l.PlanPath(it.ID), it)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := w.Watch(ctx, it.ID, orch.RolePlanner, agentID); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	events, err := eventlog.Open(l.ItemEventLogPath(it.ID)).Read()
	if err != nil {
		t.Fatalf("read item log: %v", err)
	}
	var sawPlanCreated bool
	for _, ev := range events {
		if ev.Type == orch.EventPlanCreated {
			sawPlanCreated = true
		}
	}
	if !sawPlanCreated {
		t.Fatal("expected a plan_created event")
	}

	agentEvents, err := agentLog.Read()
	if err != nil {
		t.Fatalf("read agent log: %v", err)
	}
	var sawCompleted bool
	for _, ev := range agentEvents {
		if ev.Type == orch.EventStatusChanged {
			var p orch.StatusChangedPayload
			if err := ev.DecodePayload(&p); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if p.To == orch.AgentCompleted {
				sawCompleted = true
			}
		}
	}
	if !sawCompleted {
		t.Fatal("expected status_changed(*->completed) for the producing agent")
	}
}

func TestWatch_AgentExitWithoutPlanFailsAfterGrace(t *testing.T) {
	pollInterval = 20 * time.Millisecond
	exitGracePeriod = 50 * time.Millisecond
	t.Cleanup(func() {
		pollInterval = 3 * time.Second
		exitGracePeriod = 5 * time.Second
	})

	l, b, items, it := newTestSetup(t)
	clk := &fakeClock{}
	w := New(l, b, nil, items, clk)

	agentID := "planner-1"

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Publish(orch.Event{
			ID: "x1", Type: orch.EventAgentExited, Timestamp: clk.Now(), ItemID: it.ID, AgentID: agentID,
			Payload: orch.MustPayload(orch.AgentExitedPayload{ExitCode: 0}),
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := w.Watch(ctx, it.ID, orch.RolePlanner, agentID)
	if err == nil {
		t.Fatal("expected an error when the producing agent exits without a plan")
	}
}

func TestWatch_DeadlineExceeded(t *testing.T) {
	pollInterval = 10 * time.Millisecond
	watchDeadline = 30 * time.Millisecond
	t.Cleanup(func() {
		pollInterval = 3 * time.Second
		watchDeadline = 30 * time.Minute
	})

	l, b, items, it := newTestSetup(t)
	clk := &fakeClock{}
	w := New(l, b, nil, items, clk)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := w.Watch(ctx, it.ID, orch.RolePlanner, "planner-1")
	if err == nil {
		t.Fatal("expected a deadline-exceeded error")
	}
}

func TestWatch_InvalidPlanFailsImmediately(t *testing.T) {
	pollInterval = 20 * time.Millisecond
	t.Cleanup(func() { pollInterval = 3 * time.Second })

	l, b, items, it := newTestSetup(t)
	clk := &fakeClock{}
	w := New(l, b, nil, items, clk)

	if err := os.WriteFile(l.PlanPath(it.ID), []byte("not: [valid"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := w.Watch(ctx, it.ID, orch.RolePlanner, "planner-1")
	if err == nil {
		t.Fatal("expected an error for an unparsable plan")
	}
}
