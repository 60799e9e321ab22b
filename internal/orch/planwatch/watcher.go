// Package planwatch detects the plan artifact a planner-class agent
// produces, validates it, and signals the producing agent to exit.
package planwatch

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
	"github.com/fleetforge/orchestrator/internal/orch/agentmgr"
	"github.com/fleetforge/orchestrator/internal/orch/audit"
	"github.com/fleetforge/orchestrator/internal/orch/bus"
	"github.com/fleetforge/orchestrator/internal/orch/eventlog"
	"github.com/fleetforge/orchestrator/internal/orch/item"
	"github.com/fleetforge/orchestrator/internal/orch/layout"
)

// These are vars rather than consts so tests can shrink them instead of
// waiting out the real deadlines.
var (
	pollInterval    = 3 * time.Second
	watchDeadline   = 30 * time.Minute
	exitGracePeriod = 5 * time.Second
)

// IDClock supplies event ids and timestamps.
type IDClock interface {
	NewEventID() string
	Now() time.Time
}

// Watcher observes an item's workspace root for the plan artifact a
// running agent is expected to produce.
type Watcher struct {
	layout layout.Layout
	bus    *bus.Bus
	agents *agentmgr.Manager
	items  *item.Manager
	clock  IDClock
	audit  *audit.Recorder
}

// New constructs a Watcher.
func New(l layout.Layout, b *bus.Bus, agents *agentmgr.Manager, items *item.Manager, clock IDClock) *Watcher {
	return &Watcher{layout: l, bus: b, agents: agents, items: items, clock: clock}
}

// SetAuditRecorder attaches an audit trail recorder. Safe to leave
// unset; a Watcher with no recorder narrates nothing.
func (w *Watcher) SetAuditRecorder(r *audit.Recorder) {
	w.audit = r
}

// Watch blocks until the plan artifact appears and validates, the
// producing agent exits without ever producing one, or the 30-minute
// deadline elapses. producingAgentID identifies the agent to signal on
// success; if empty, the most recently started agent of expectedRole is
// used.
func (w *Watcher) Watch(ctx context.Context, itemID, expectedRole, producingAgentID string) error {
	planPath := w.layout.PlanPath(itemID)

	var fsEvents chan fsnotify.Event
	if fsw, err := fsnotify.NewWatcher(); err == nil {
		defer fsw.Close()
		_ = fsw.Add(w.layout.WorkspaceRoot(itemID))
		fsEvents = fsw.Events
	}

	sub, cancel := w.bus.SubscribeItem(itemID)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(watchDeadline)
	defer deadline.Stop()

	var graceTimer *time.Timer
	var graceCh <-chan time.Time

	checkAndFinish := func() (bool, error) {
		done, finishErr := w.checkOnce(ctx, itemID, expectedRole, producingAgentID, planPath)
		return done, finishErr
	}

	if done, err := checkAndFinish(); done {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-deadline.C:
			return w.fail(itemID, producingAgentID, "plan watcher deadline exceeded")

		case <-ticker.C:
			if done, err := checkAndFinish(); done {
				return err
			}

		case ev, ok := <-fsEvents:
			if !ok {
				continue
			}
			if ev.Name == planPath {
				if done, err := checkAndFinish(); done {
					return err
				}
			}

		case ev := <-sub:
			if ev.Type == orch.EventAgentExited && ev.AgentID == producingAgentID && graceCh == nil {
				graceTimer = time.NewTimer(exitGracePeriod)
				graceCh = graceTimer.C
			}

		case <-graceCh:
			if done, err := checkAndFinish(); done {
				return err
			}
			return w.fail(itemID, producingAgentID, fmt.Sprintf("agent %q exited without producing a plan", producingAgentID))
		}
	}
}

// checkOnce looks for the plan artifact; if present and valid, it
// completes the watch successfully. Returns done=true when the watch
// should stop (success or unrecoverable validation failure).
func (w *Watcher) checkOnce(ctx context.Context, itemID, expectedRole, producingAgentID, planPath string) (bool, error) {
	data, err := os.ReadFile(planPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, nil
	}

	var plan orch.Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return true, w.fail(itemID, producingAgentID, fmt.Sprintf("plan.yaml failed to parse: %v", err))
	}

	it, err := w.items.LoadItem(itemID)
	if err != nil {
		return true, w.fail(itemID, producingAgentID, fmt.Sprintf("plan.yaml produced for unknown item: %v", err))
	}
	if err := orch.ValidatePlan(plan, it); err != nil {
		return true, w.fail(itemID, producingAgentID, fmt.Sprintf("plan.yaml failed validation: %v", err))
	}

	agentID := producingAgentID
	if agentID == "" {
		agentID = w.findProducingAgent(itemID, expectedRole)
	}

	if err := w.emit(itemID, orch.EventPlanCreated, orch.PlanCreatedPayload{Path: planPath, TaskCount: len(plan.Tasks)}); err != nil {
		return true, err
	}
	w.audit.Recordf(ctx, itemID, agentID, "plan.created", "plan created with %d tasks", len(plan.Tasks))

	if agentID != "" {
		agentLog := eventlog.Open(w.layout.AgentEventLogPath(itemID, agentID))
		ev := orch.Event{
			ID:        w.clock.NewEventID(),
			Type:      orch.EventStatusChanged,
			Timestamp: w.clock.Now(),
			ItemID:    itemID,
			AgentID:   agentID,
			Payload:   orch.MustPayload(orch.StatusChangedPayload{To: orch.AgentCompleted}),
		}
		_ = agentLog.Append(ev)
		itemLog := eventlog.Open(w.layout.ItemEventLogPath(itemID))
		_ = itemLog.Append(ev)
		w.bus.Publish(ev)

		if w.agents != nil {
			_ = w.agents.SendInput(agentID, []byte("/exit\n"))
		}
	}

	return true, nil
}

// findProducingAgent scans the item log for the most recently started
// agent of expectedRole, used when the caller did not pre-allocate an
// agent id (e.g. the item manager's auto-started planner).
func (w *Watcher) findProducingAgent(itemID, expectedRole string) string {
	itemLog := eventlog.Open(w.layout.ItemEventLogPath(itemID))
	events, err := itemLog.Read()
	if err != nil {
		return ""
	}

	var candidate string
	for _, ev := range events {
		if ev.Type != orch.EventAgentStarted {
			continue
		}
		var p orch.AgentStartedPayload
		if err := ev.DecodePayload(&p); err != nil {
			continue
		}
		if p.Role == expectedRole {
			candidate = ev.AgentID
		}
	}
	return candidate
}

func (w *Watcher) fail(itemID, agentID, message string) error {
	_ = w.emit(itemID, orch.EventError, orch.ErrorPayload{Message: message, Scope: "plan_watch"})
	return fmt.Errorf("planwatch: %s", message)
}

func (w *Watcher) emit(itemID string, kind orch.EventKind, payload any) error {
	ev := orch.Event{
		ID:        w.clock.NewEventID(),
		Type:      kind,
		Timestamp: w.clock.Now(),
		ItemID:    itemID,
	}
	if payload != nil {
		ev.Payload = orch.MustPayload(payload)
	}
	log := eventlog.Open(w.layout.ItemEventLogPath(itemID))
	if err := log.Append(ev); err != nil {
		return err
	}
	w.bus.Publish(ev)
	return nil
}
