package orch

import (
	"encoding/json"
	"time"
)

// EventKind identifies the kind of an orchestration event. The set is
// closed: every kind named in the on-disk event log contract is a
// constant here.
type EventKind string

const (
	// Item lifecycle
	EventItemCreated              EventKind = "item_created"
	EventCloneStarted             EventKind = "clone_started"
	EventCloneCompleted           EventKind = "clone_completed"
	EventWorkspaceSetupStarted    EventKind = "workspace_setup_started"
	EventWorkspaceSetupCompleted  EventKind = "workspace_setup_completed"
	EventPlanCreated              EventKind = "plan_created"

	// Agent lifecycle
	EventAgentStarted   EventKind = "agent_started"
	EventAgentExited    EventKind = "agent_exited"
	EventStatusChanged  EventKind = "status_changed"
	EventTasksCompleted EventKind = "tasks_completed"
	EventStdout         EventKind = "stdout"
	EventStderr         EventKind = "stderr"
	EventError          EventKind = "error"

	// Approval protocol
	EventApprovalRequested EventKind = "approval_requested"
	EventApprovalDecision  EventKind = "approval_decision"

	// Git observation
	EventGitSnapshot      EventKind = "git_snapshot"
	EventGitSnapshotError EventKind = "git_snapshot_error"

	// Pull request
	EventPRCreated     EventKind = "pr_created"
	EventRepoNoChanges EventKind = "repo_no_changes"

	// Review cycle
	EventReviewFindingsExtracted EventKind = "review_findings_extracted"
	EventReviewReceiveStarted   EventKind = "review_receive_started"
)

// Event is one immutable, append-only record in an item's or agent's
// event log. Payload is kind-specific and decoded by callers that know
// the kind they are looking for.
type Event struct {
	ID        string          `json:"id"`
	Type      EventKind       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	ItemID    string          `json:"itemId"`
	AgentID   string          `json:"agentId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	// seq disambiguates equal timestamps by append position; it is set
	// by the reader from file-line order and is never itself persisted.
	seq int
}

// Seq returns the event's position in its log, used to break ties
// between events carrying identical timestamps (spec invariant: equal
// timestamps break by append position).
func (e Event) Seq() int { return e.seq }

// WithSeq returns a copy of e with its append-order sequence set. Only
// the log reader should call this.
func (e Event) WithSeq(n int) Event {
	e.seq = n
	return e
}

// Before reports whether e occurred strictly before other in the
// item's total order (timestamp, then append position).
func (e Event) Before(other Event) bool {
	if e.Timestamp.Equal(other.Timestamp) {
		return e.seq < other.seq
	}
	return e.Timestamp.Before(other.Timestamp)
}

// DecodePayload unmarshals the event payload into v.
func (e Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// MustPayload marshals v into a json.RawMessage, panicking on failure.
// Used only with statically-known payload shapes constructed in this
// codebase, never with external input.
func MustPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic("orch: payload marshal: " + err.Error())
	}
	return b
}

// Payload shapes for the kinds whose fields are referenced by the
// State Deriver and controllers. Kinds not listed here (e.g. stdout)
// carry free-form payloads consumed only by observers.

type CloneStartedPayload struct {
	Repository string `json:"repository"`
	URL        string `json:"url"`
}

type CloneCompletedPayload struct {
	Repository string `json:"repository"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

type WorkspaceSetupStartedPayload struct {
	Repository string   `json:"repository"`
	Path       string   `json:"path"`
	LinkMode   LinkMode `json:"linkMode"`
}

type WorkspaceSetupCompletedPayload struct {
	Repository string `json:"repository"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

type PlanCreatedPayload struct {
	Path    string `json:"path"`
	TaskCount int  `json:"taskCount"`
}

type AgentStartedPayload struct {
	Role       string `json:"role"`
	Repository string `json:"repository,omitempty"`
	PID        int    `json:"pid"`
}

type AgentExitedPayload struct {
	ExitCode int    `json:"exitCode"`
	Signal   string `json:"signal,omitempty"`
}

type StatusChangedPayload struct {
	From AgentStatus `json:"from"`
	To   AgentStatus `json:"to"`
}

type ApprovalRequestedPayload struct {
	RequestID          string `json:"requestId"`
	Command             string `json:"command"`
	UIKind               string `json:"uiKind"`
	Context              string `json:"context,omitempty"` // up to 4KiB
	IsOutsideWorkspace   bool   `json:"isOutsideWorkspace"`
	IsDestructive        bool   `json:"isDestructive"`
	InvolvesSecrets      bool   `json:"involvesSecrets"`
	InvolvesNetwork      bool   `json:"involvesNetwork"`
}

type ApprovalDecisionPayload struct {
	RequestID string `json:"requestId"`
	Approved  bool   `json:"approved"`
	Auto      bool   `json:"auto"`
	Reason    string `json:"reason,omitempty"`
}

type GitSnapshotPayload struct {
	Repository string `json:"repository,omitempty"`
	Branch     string `json:"branch"`
	Ahead      int    `json:"ahead"`
	Dirty      bool   `json:"dirty"`
}

type GitSnapshotErrorPayload struct {
	Repository string `json:"repository,omitempty"`
	Error      string `json:"error"`
}

type PRCreatedPayload struct {
	Repository string `json:"repository"`
	PRURL      string `json:"prUrl"`
	PRNumber   int    `json:"prNumber"`
	Branch     string `json:"branch"`
	CommitHash string `json:"commitHash"`
}

type RepoNoChangesPayload struct {
	Repository string `json:"repository"`
}

type ReviewFindingsExtractedPayload struct {
	Repository        string            `json:"repository"`
	Findings          []ReviewFinding   `json:"findings"`
	CriticalCount     int               `json:"criticalCount"`
	MajorCount        int               `json:"majorCount"`
	MinorCount        int               `json:"minorCount"`
	OverallAssessment OverallAssessment `json:"overallAssessment"`
}

type ReviewReceiveStartedPayload struct {
	AgentID    string `json:"agentId"`
	PRNumber   int    `json:"prNumber"`
	PRURL      string `json:"prUrl"`
	Repository string `json:"repository"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Scope   string `json:"scope,omitempty"` // e.g. "clone", "agent_start", "git_push"
}
