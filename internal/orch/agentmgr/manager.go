// Package agentmgr owns the lifecycle of AI-assistant agent processes:
// starting and stopping them, bridging their PTY supervisor signals
// into the event log and event bus, and reconciling orphaned agents
// left "active" in the log by a prior process that crashed or was
// killed.
package agentmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
	"github.com/fleetforge/orchestrator/internal/obs"
	"github.com/fleetforge/orchestrator/internal/orch/bus"
	"github.com/fleetforge/orchestrator/internal/orch/eventlog"
	"github.com/fleetforge/orchestrator/internal/orch/layout"
	"github.com/fleetforge/orchestrator/internal/orch/orcherr"
	"github.com/fleetforge/orchestrator/internal/orch/pty"
)

// IDClock supplies event ids and timestamps; tests substitute a
// deterministic implementation.
type IDClock interface {
	NewEventID() string
	Now() time.Time
}

// Manager supervises every live agent process for the orchestrator
// process's lifetime.
type Manager struct {
	layout  layout.Layout
	bus     *bus.Bus
	spawner *pty.Spawner
	clock   IDClock
	metrics *obs.Metrics

	mu      sync.Mutex
	live    map[string]*pty.Instance // agentID -> live instance
	stopped sync.Map                 // agentID -> struct{}, set by Stop before Kill
}

// SetMetrics attaches an OpenTelemetry metrics recorder. Safe to leave
// unset; a Manager with no recorder reports nothing.
func (m *Manager) SetMetrics(metrics *obs.Metrics) {
	m.metrics = metrics
}

// New constructs a Manager. spawner is the PTY spawner used to launch
// new agent child processes.
func New(l layout.Layout, b *bus.Bus, spawner *pty.Spawner, clock IDClock) *Manager {
	return &Manager{
		layout:  l,
		bus:     b,
		spawner: spawner,
		clock:   clock,
		live:    make(map[string]*pty.Instance),
	}
}

func (m *Manager) itemLog(itemID string) *eventlog.Log {
	return eventlog.Open(m.layout.ItemEventLogPath(itemID))
}

func (m *Manager) agentLog(itemID, agentID string) *eventlog.Log {
	return eventlog.Open(m.layout.AgentEventLogPath(itemID, agentID))
}

func (m *Manager) appendBoth(itemLog, agentLog *eventlog.Log, itemID, agentID string, kind orch.EventKind, payload any) error {
	ev := orch.Event{
		ID:        m.clock.NewEventID(),
		Type:      kind,
		Timestamp: m.clock.Now(),
		ItemID:    itemID,
		AgentID:   agentID,
	}
	if payload != nil {
		ev.Payload = orch.MustPayload(payload)
	}
	if err := agentLog.Append(ev); err != nil {
		return err
	}
	if err := itemLog.Append(ev); err != nil {
		return err
	}
	m.bus.Publish(ev)
	return nil
}

// Start validates the role/repository pairing, generates a fresh
// agent id, spawns a PTY instance, and begins bridging its signals
// into the event log and bus.
func (m *Manager) Start(ctx context.Context, itemID, role string, repoName *string, workdir, prompt string) (orch.Agent, error) {
	return m.StartWithID(ctx, itemID, GenerateAgentID(role, repoName), role, repoName, workdir, prompt)
}

// StartWithID is Start with a caller-chosen agent id, used by callers
// that must pre-allocate the id before the agent exists (e.g. the
// review-receive controller, which emits review_receive_started
// carrying the id before spawning). On success it emits agent_started;
// on failure it emits a scoped error event and returns the error.
func (m *Manager) StartWithID(ctx context.Context, itemID, agentID, role string, repoName *string, workdir, prompt string) (orch.Agent, error) {
	if !orch.IsSystemRole(role) && (repoName == nil || *repoName == "") {
		return orch.Agent{}, orcherr.Wrap(orcherr.KindValidation, "agentmgr.Start", "role %q requires a repository", role)
	}

	itemLog := m.itemLog(itemID)
	agentLog := m.agentLog(itemID, agentID)

	spanCtx, span := obs.StartPTYSpawnSpan(ctx, itemID, agentID, role)
	defer span.End()

	inst, err := m.spawner.Spawn(spanCtx, workdir, prompt)
	if err != nil {
		_ = m.appendBoth(itemLog, agentLog, itemID, agentID, orch.EventError, orch.ErrorPayload{
			Message: err.Error(),
			Scope:   "agent_start",
		})
		return orch.Agent{}, orcherr.New(orcherr.KindTransient, "agentmgr.Start", err)
	}
	m.metrics.AgentStarted(spanCtx, role)

	m.mu.Lock()
	m.live[agentID] = inst
	m.mu.Unlock()

	repo := ""
	if repoName != nil {
		repo = *repoName
	}
	agent := orch.Agent{
		ID:         agentID,
		ItemID:     itemID,
		Role:       role,
		Repository: repo,
		Status:     orch.AgentRunning,
		PID:        inst.Pid(),
		StartedAt:  m.clock.Now(),
	}

	if err := m.appendBoth(itemLog, agentLog, itemID, agentID, orch.EventAgentStarted, orch.AgentStartedPayload{
		Role:       role,
		Repository: repo,
		PID:        inst.Pid(),
	}); err != nil {
		return orch.Agent{}, err
	}

	go m.bridge(itemID, agentID, inst, itemLog, agentLog)

	return agent, nil
}

// bridge runs for the lifetime of one live instance, translating
// every supervisor signal into its persisted event and, on exit,
// deregistering the instance from the live map.
func (m *Manager) bridge(itemID, agentID string, inst *pty.Instance, itemLog, agentLog *eventlog.Log) {
	for sig := range inst.Signals() {
		switch sig.Kind {
		case pty.SignalOutput:
			_ = m.appendBoth(itemLog, agentLog, itemID, agentID, orch.EventStdout, rawChunkPayload{Data: string(sig.Chunk)})

		case pty.SignalExit:
			m.mu.Lock()
			delete(m.live, agentID)
			m.mu.Unlock()

			if _, wasStopped := m.stopped.LoadAndDelete(agentID); wasStopped {
				// Stop() already wrote status_changed(*->stopped); a
				// subsequent exit must not overwrite it.
				continue
			}
			signalStr := ""
			if sig.Signaled {
				signalStr = "killed"
			}
			status := orch.AgentCompleted
			if sig.ExitCode != 0 {
				status = orch.AgentError
			}
			_ = m.appendBoth(itemLog, agentLog, itemID, agentID, orch.EventAgentExited, orch.AgentExitedPayload{
				ExitCode: sig.ExitCode,
				Signal:   signalStr,
			})
			_ = m.appendBoth(itemLog, agentLog, itemID, agentID, orch.EventStatusChanged, orch.StatusChangedPayload{
				To: status,
			})

		case pty.SignalApprovalRequested:
			_ = m.appendBoth(itemLog, agentLog, itemID, agentID, orch.EventApprovalRequested, orch.ApprovalRequestedPayload{
				RequestID: m.clock.NewEventID(),
				Command:   sig.Command,
				UIKind:    string(sig.UIKind),
				Context:   string(sig.Context),
			})
			_ = m.appendBoth(itemLog, agentLog, itemID, agentID, orch.EventStatusChanged, orch.StatusChangedPayload{
				To: orch.AgentWaitingApproval,
			})

		case pty.SignalApprovalAutoDenied:
			reqID := m.clock.NewEventID()
			_ = m.appendBoth(itemLog, agentLog, itemID, agentID, orch.EventApprovalRequested, orch.ApprovalRequestedPayload{
				RequestID: reqID,
				Command:   sig.Command,
				UIKind:    string(sig.UIKind),
				Context:   string(sig.Context),
			})
			_ = m.appendBoth(itemLog, agentLog, itemID, agentID, orch.EventApprovalDecision, orch.ApprovalDecisionPayload{
				RequestID: reqID,
				Approved:  false,
				Auto:      true,
			})
			m.metrics.ApprovalDecided(context.Background(), false, true, 0)

		case pty.SignalApprovalAutoApproved:
			reqID := m.clock.NewEventID()
			_ = m.appendBoth(itemLog, agentLog, itemID, agentID, orch.EventApprovalRequested, orch.ApprovalRequestedPayload{
				RequestID: reqID,
				Command:   sig.Command,
				UIKind:    string(sig.UIKind),
				Context:   string(sig.Context),
			})
			_ = m.appendBoth(itemLog, agentLog, itemID, agentID, orch.EventApprovalDecision, orch.ApprovalDecisionPayload{
				RequestID: reqID,
				Approved:  true,
				Auto:      true,
			})
			m.metrics.ApprovalDecided(context.Background(), true, true, 0)

		case pty.SignalTasksCompleted:
			_ = m.appendBoth(itemLog, agentLog, itemID, agentID, orch.EventStatusChanged, orch.StatusChangedPayload{
				To: orch.AgentWaitingOrchestrator,
			})
			_ = m.appendBoth(itemLog, agentLog, itemID, agentID, orch.EventTasksCompleted, nil)

		case pty.SignalError:
			_ = m.appendBoth(itemLog, agentLog, itemID, agentID, orch.EventError, orch.ErrorPayload{
				Message: sig.Err.Error(),
				Scope:   "pty",
			})
		}
	}
}

type rawChunkPayload struct {
	Data string `json:"data"`
}

// Stop kills the agent's PTY and records a terminal stopped status. A
// SignalExit observed afterward by bridge must not overwrite it; Stop
// marks the agent id in m.stopped before killing it so bridge can
// recognize and skip that trailing exit.
func (m *Manager) Stop(itemID, agentID string) error {
	m.mu.Lock()
	inst, ok := m.live[agentID]
	m.mu.Unlock()
	if !ok {
		return orcherr.Wrap(orcherr.KindValidation, "agentmgr.Stop", "agent %q is not live", agentID)
	}

	m.stopped.Store(agentID, struct{}{})

	itemLog := m.itemLog(itemID)
	agentLog := m.agentLog(itemID, agentID)
	if err := m.appendBoth(itemLog, agentLog, itemID, agentID, orch.EventStatusChanged, orch.StatusChangedPayload{
		To: orch.AgentStopped,
	}); err != nil {
		return err
	}
	return inst.Kill()
}

// SendInput relays raw bytes to a live agent's PTY, e.g. operator
// input from an attached interactive session.
func (m *Manager) SendInput(agentID string, data []byte) error {
	inst, err := m.get(agentID)
	if err != nil {
		return err
	}
	_, err = inst.Write(data)
	return err
}

// Resize changes a live agent's reported terminal dimensions.
func (m *Manager) Resize(agentID string, cols, rows int) error {
	inst, err := m.get(agentID)
	if err != nil {
		return err
	}
	return inst.Resize(cols, rows)
}

// OutputBuffer returns a live agent's current 16 KiB output tail, or
// nil if the agent is not live.
func (m *Manager) OutputBuffer(agentID string) []byte {
	inst, err := m.get(agentID)
	if err != nil {
		return nil
	}
	return inst.OutputBuffer()
}

func (m *Manager) get(agentID string) (*pty.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.live[agentID]
	if !ok {
		return nil, orcherr.Wrap(orcherr.KindValidation, "agentmgr.get", "agent %q is not live", agentID)
	}
	return inst, nil
}

// Decide injects a human approval decision for the command an agent
// is currently waiting on and records approval_decision with Auto
// false. requestID is carried through unchanged so callers can match
// the decision back to the approval_requested it answers. requestID is
// not compared against the instance's pending prompt: the instance
// tracks one pending prompt at a time, ProcessApproval rejects the call
// only when no prompt is pending, and otherwise the decision applies to
// whichever prompt is pending.
func (m *Manager) Decide(itemID, agentID, requestID string, approved bool, reason string) error {
	inst, err := m.get(agentID)
	if err != nil {
		return err
	}
	if err := inst.ProcessApproval(approved, nil); err != nil {
		return orcherr.Wrap(orcherr.KindValidation, "agentmgr.Decide", "agent %q has no pending approval: %v", agentID, err)
	}

	itemLog := m.itemLog(itemID)
	agentLog := m.agentLog(itemID, agentID)
	m.metrics.ApprovalDecided(context.Background(), approved, false, m.approvalLatency(agentLog, requestID))
	return m.appendBoth(itemLog, agentLog, itemID, agentID, orch.EventApprovalDecision, orch.ApprovalDecisionPayload{
		RequestID: requestID,
		Approved:  approved,
		Auto:      false,
		Reason:    reason,
	})
}

// approvalLatency scans agentLog for the approval_requested event
// matching requestID and returns the seconds elapsed since. Returns 0
// (recorded as "no latency") if the request can't be found, which
// happens for decisions replayed from a stale or truncated log.
func (m *Manager) approvalLatency(agentLog *eventlog.Log, requestID string) float64 {
	events, err := agentLog.Read()
	if err != nil {
		return 0
	}
	for _, ev := range events {
		if ev.Type != orch.EventApprovalRequested {
			continue
		}
		var payload orch.ApprovalRequestedPayload
		if err := ev.DecodePayload(&payload); err != nil || payload.RequestID != requestID {
			continue
		}
		return m.clock.Now().Sub(ev.Timestamp).Seconds()
	}
	return 0
}

// ReconcileOrphans replays each item's event log and, for every agent
// whose last known status is active but has no live instance in this
// process, writes status_changed(*->stopped) before touching any
// in-memory state. This ordering is load-bearing: a crash between the
// log write and an in-memory update must never leave the log silent
// about an agent no process is actually supervising.
func (m *Manager) ReconcileOrphans(ctx context.Context, itemIDs []string) error {
	for _, itemID := range itemIDs {
		if err := m.reconcileItem(itemID); err != nil {
			return fmt.Errorf("agentmgr: reconcile item %s: %w", itemID, err)
		}
	}
	return nil
}

func (m *Manager) reconcileItem(itemID string) error {
	itemLog := m.itemLog(itemID)
	events, err := itemLog.Read()
	if err != nil {
		return err
	}

	type agentState struct {
		status orch.AgentStatus
		role   string
	}
	states := make(map[string]*agentState)

	for _, ev := range events {
		if ev.AgentID == "" {
			continue
		}
		st, ok := states[ev.AgentID]
		if !ok {
			st = &agentState{}
			states[ev.AgentID] = st
		}
		switch ev.Type {
		case orch.EventAgentStarted:
			var p orch.AgentStartedPayload
			_ = ev.DecodePayload(&p)
			st.role = p.Role
			st.status = orch.AgentRunning
		case orch.EventStatusChanged:
			var p orch.StatusChangedPayload
			_ = ev.DecodePayload(&p)
			st.status = p.To
		case orch.EventAgentExited:
			var p orch.AgentExitedPayload
			_ = ev.DecodePayload(&p)
			if p.ExitCode == 0 {
				st.status = orch.AgentCompleted
			} else {
				st.status = orch.AgentError
			}
		}
	}

	for agentID, st := range states {
		if !st.status.IsActive() {
			continue
		}
		m.mu.Lock()
		_, live := m.live[agentID]
		m.mu.Unlock()
		if live {
			continue
		}

		if st.role == "" {
			if _, _, ok := ParseAgentID(agentID); !ok {
				continue // cannot determine role: skip entirely, no write
			}
		}

		agentLog := m.agentLog(itemID, agentID)
		if err := m.appendBoth(itemLog, agentLog, itemID, agentID, orch.EventStatusChanged, orch.StatusChangedPayload{
			From: st.status,
			To:   orch.AgentStopped,
		}); err != nil {
			return err
		}
		// In-memory update happens only after the log write above.
		m.mu.Lock()
		delete(m.live, agentID)
		m.mu.Unlock()
	}
	return nil
}
