// Package deriver folds an item's or agent's append-only event log
// into its current status. Every function here is pure: no I/O, no
// clock reads, no locking — the event slice is the entire input.
package deriver

import (
	"github.com/fleetforge/orchestrator/internal/domain/orch"
)

// ItemStatus is the derived, human-facing lifecycle state of an item.
type ItemStatus string

const (
	StatusCreated         ItemStatus = "created"
	StatusCloning         ItemStatus = "cloning"
	StatusWorkspaceSetup  ItemStatus = "workspace_setup"
	StatusError           ItemStatus = "error"
	StatusWaitingApproval ItemStatus = "waiting_approval"
	StatusReviewReceiving ItemStatus = "review_receiving"
	StatusPlanning        ItemStatus = "planning"
	StatusRunning         ItemStatus = "running"
	StatusCompleted       ItemStatus = "completed"
	StatusReady           ItemStatus = "ready"
)

// DeriveItemStatus folds the full item event log into an ItemStatus
// following the eleven numbered, first-match-wins rules: empty log,
// unresolved error, clone/workspace-setup in flight, an agent waiting
// on approval, a review-receive cycle in flight, the planner running,
// any dev/review agent running, all work terminal, a plan existing, or
// the fallback created state.
func DeriveItemStatus(events []orch.Event) ItemStatus {
	if len(events) == 0 {
		return StatusCreated
	}

	agents := foldAgents(events)

	// Rule 2: unresolved error.
	if hasUnresolvedError(events) {
		return StatusError
	}

	// Rule 3: clone in flight or failed.
	if st, ok := cloneStatus(events); ok {
		return st
	}

	// Rule 4: workspace setup in flight or failed.
	if st, ok := workspaceSetupStatus(events); ok {
		return st
	}

	// Rule 5: any agent waiting on approval.
	for _, a := range agents {
		if a.status == orch.AgentWaitingApproval {
			return StatusWaitingApproval
		}
	}

	// Rule 6: review-receive in flight.
	if st, ok := reviewReceiveStatus(events, agents); ok {
		return st
	}

	// Rule 7: planner running.
	for _, a := range agents {
		if a.role == orch.RolePlanner && a.status == orch.AgentRunning {
			return StatusPlanning
		}
	}

	// Rule 8: any non-planner, non-review-receiver agent running.
	for _, a := range agents {
		if a.status != orch.AgentRunning {
			continue
		}
		if a.role == orch.RolePlanner || a.role == orch.RoleReviewReceiver {
			continue
		}
		return StatusRunning
	}

	// Rule 9: every worker agent completed its tasks and every
	// repository reached a terminal PR outcome, with nothing re-opened
	// afterward.
	if allWorkComplete(events, agents) {
		return StatusCompleted
	}

	// Rule 10: a plan exists.
	for _, ev := range events {
		if ev.Type == orch.EventPlanCreated {
			return StatusReady
		}
	}

	return StatusCreated
}

type agentFold struct {
	role   string
	status orch.AgentStatus
}

// foldAgents performs the per-agent status fold (used both standalone
// via DeriveAgentStatus and internally by DeriveItemStatus) across
// every agent referenced in events, keyed by agent id.
func foldAgents(events []orch.Event) map[string]agentFold {
	byAgent := make(map[string][]orch.Event)
	for _, ev := range events {
		if ev.AgentID == "" {
			continue
		}
		byAgent[ev.AgentID] = append(byAgent[ev.AgentID], ev)
	}
	out := make(map[string]agentFold, len(byAgent))
	for id, evs := range byAgent {
		status := DeriveAgentStatus(evs)
		role := ""
		for _, ev := range evs {
			if ev.Type == orch.EventAgentStarted {
				var p orch.AgentStartedPayload
				_ = ev.DecodePayload(&p)
				role = p.Role
				break
			}
		}
		out[id] = agentFold{role: role, status: status}
	}
	return out
}

// DeriveAgentStatus left-folds one agent's events into its current
// AgentStatus: agent_started -> running; agent_exited ->
// completed|error unless already stopped; approval_requested ->
// waiting_approval; approval_decision -> running if previously
// waiting_approval; status_changed -> its carried status, unless the
// agent is already stopped (stopped is sticky).
func DeriveAgentStatus(agentEvents []orch.Event) orch.AgentStatus {
	status := orch.AgentIdle
	for _, ev := range agentEvents {
		switch ev.Type {
		case orch.EventAgentStarted:
			status = orch.AgentRunning
		case orch.EventAgentExited:
			if status == orch.AgentStopped {
				continue
			}
			var p orch.AgentExitedPayload
			_ = ev.DecodePayload(&p)
			if p.ExitCode == 0 {
				status = orch.AgentCompleted
			} else {
				status = orch.AgentError
			}
		case orch.EventApprovalRequested:
			status = orch.AgentWaitingApproval
		case orch.EventApprovalDecision:
			if status == orch.AgentWaitingApproval {
				status = orch.AgentRunning
			}
		case orch.EventStatusChanged:
			if status == orch.AgentStopped {
				continue
			}
			var p orch.StatusChangedPayload
			_ = ev.DecodePayload(&p)
			status = p.To
		}
	}
	return status
}

// PendingApprovals returns every approval_requested event whose
// request id has no matching approval_decision yet. Auto-resolved
// requests (blocklist denies, auto-approves) always carry a synthetic
// decision pair written alongside the request, so they never appear
// here; only genuinely approval_required commands awaiting a human or
// external decision do.
func PendingApprovals(events []orch.Event) []orch.Event {
	decided := make(map[string]bool)
	requests := make(map[string]orch.Event)
	var order []string

	for _, ev := range events {
		switch ev.Type {
		case orch.EventApprovalRequested:
			var p orch.ApprovalRequestedPayload
			_ = ev.DecodePayload(&p)
			requests[p.RequestID] = ev
			order = append(order, p.RequestID)
		case orch.EventApprovalDecision:
			var p orch.ApprovalDecisionPayload
			_ = ev.DecodePayload(&p)
			decided[p.RequestID] = true
		}
	}

	var pending []orch.Event
	for _, id := range order {
		if !decided[id] {
			pending = append(pending, requests[id])
		}
	}
	return pending
}
