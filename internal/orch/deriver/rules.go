package deriver

import "github.com/fleetforge/orchestrator/internal/domain/orch"

// hasUnresolvedError implements rule 2: an error event exists and
// neither pr_created nor repo_no_changes follows it anywhere in the
// log, or the very last event is itself an error.
func hasUnresolvedError(events []orch.Event) bool {
	if events[len(events)-1].Type == orch.EventError {
		return true
	}
	lastErrorIdx := -1
	for i, ev := range events {
		if ev.Type == orch.EventError {
			lastErrorIdx = i
		}
	}
	if lastErrorIdx == -1 {
		return false
	}
	for _, ev := range events[lastErrorIdx+1:] {
		if ev.Type == orch.EventPRCreated || ev.Type == orch.EventRepoNoChanges {
			return false
		}
	}
	return true
}

// cloneStatus implements rule 3: any clone_started without a matching
// successful clone_completed for its repository means the item is
// still cloning; any failed clone_completed means error.
func cloneStatus(events []orch.Event) (ItemStatus, bool) {
	started := make(map[string]bool)
	completed := make(map[string]bool)
	failed := false

	for _, ev := range events {
		switch ev.Type {
		case orch.EventCloneStarted:
			var p orch.CloneStartedPayload
			_ = ev.DecodePayload(&p)
			started[p.Repository] = true
		case orch.EventCloneCompleted:
			var p orch.CloneCompletedPayload
			_ = ev.DecodePayload(&p)
			if p.Success {
				completed[p.Repository] = true
			} else {
				failed = true
			}
		}
	}
	if failed {
		return StatusError, true
	}
	for repo := range started {
		if !completed[repo] {
			return StatusCloning, true
		}
	}
	return "", false
}

// workspaceSetupStatus implements rule 4, the local-repository analog
// of cloneStatus.
func workspaceSetupStatus(events []orch.Event) (ItemStatus, bool) {
	started := make(map[string]bool)
	completed := make(map[string]bool)
	failed := false

	for _, ev := range events {
		switch ev.Type {
		case orch.EventWorkspaceSetupStarted:
			var p orch.WorkspaceSetupStartedPayload
			_ = ev.DecodePayload(&p)
			started[p.Repository] = true
		case orch.EventWorkspaceSetupCompleted:
			var p orch.WorkspaceSetupCompletedPayload
			_ = ev.DecodePayload(&p)
			if p.Success {
				completed[p.Repository] = true
			} else {
				failed = true
			}
		}
	}
	if failed {
		return StatusError, true
	}
	for repo := range started {
		if !completed[repo] {
			return StatusWorkspaceSetup, true
		}
	}
	return "", false
}

// reviewReceiveStatus implements rule 6: a review_receive_started with
// no subsequent plan_created means the cycle is still in flight (if
// the designated review-receiver agent is active or hasn't started
// yet) or failed (if that agent reached a terminal state without ever
// producing a plan).
func reviewReceiveStatus(events []orch.Event, agents map[string]agentFold) (ItemStatus, bool) {
	var lastStart *orch.ReviewReceiveStartedPayload
	var lastStartIdx int
	for i, ev := range events {
		if ev.Type == orch.EventReviewReceiveStarted {
			var p orch.ReviewReceiveStartedPayload
			_ = ev.DecodePayload(&p)
			lastStart = &p
			lastStartIdx = i
		}
	}
	if lastStart == nil {
		return "", false
	}
	for _, ev := range events[lastStartIdx+1:] {
		if ev.Type == orch.EventPlanCreated {
			return "", false // already resolved by a later plan
		}
	}

	agent, known := agents[lastStart.AgentID]
	if !known {
		return StatusReviewReceiving, true // not yet started
	}
	if agent.status.IsTerminal() {
		return StatusError, true
	}
	return StatusReviewReceiving, true
}

// allWorkComplete implements rule 9: every worker agent ever started
// reached tasks_completed, every repository reached a terminal PR
// outcome (pr_created or repo_no_changes), and nothing reopened the
// cycle (a plan_created or review_receive_started) after the last such
// terminal repo event. A plan with zero dev tasks spawns no worker
// agents at all, so the worker-agent check holds vacuously in that
// case rather than blocking completion.
func allWorkComplete(events []orch.Event, agents map[string]agentFold) bool {
	workerAgents := make(map[string]bool)
	tasksCompletedAgents := make(map[string]bool)
	knownRepos := make(map[string]bool)
	repoTerminal := make(map[string]bool)
	lastTerminalRepoEventIdx := -1

	for i, ev := range events {
		switch ev.Type {
		case orch.EventCloneStarted:
			var p orch.CloneStartedPayload
			_ = ev.DecodePayload(&p)
			knownRepos[p.Repository] = true
		case orch.EventWorkspaceSetupStarted:
			var p orch.WorkspaceSetupStartedPayload
			_ = ev.DecodePayload(&p)
			knownRepos[p.Repository] = true
		case orch.EventAgentStarted:
			if ev.AgentID == "" {
				continue
			}
			a := agents[ev.AgentID]
			if !orch.IsSystemRole(a.role) {
				workerAgents[ev.AgentID] = true
			}
		case orch.EventTasksCompleted:
			if ev.AgentID != "" {
				tasksCompletedAgents[ev.AgentID] = true
			}
		case orch.EventPRCreated:
			var p orch.PRCreatedPayload
			_ = ev.DecodePayload(&p)
			repoTerminal[p.Repository] = true
			lastTerminalRepoEventIdx = i
		case orch.EventRepoNoChanges:
			var p orch.RepoNoChangesPayload
			_ = ev.DecodePayload(&p)
			repoTerminal[p.Repository] = true
			lastTerminalRepoEventIdx = i
		}
	}

	if len(knownRepos) == 0 {
		return false
	}
	for id := range workerAgents {
		if !tasksCompletedAgents[id] {
			return false
		}
	}
	for repo := range knownRepos {
		if !repoTerminal[repo] {
			return false
		}
	}
	if lastTerminalRepoEventIdx == -1 {
		return false
	}
	for _, ev := range events[lastTerminalRepoEventIdx+1:] {
		if ev.Type == orch.EventPlanCreated || ev.Type == orch.EventReviewReceiveStarted {
			return false
		}
	}
	return true
}
