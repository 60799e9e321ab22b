package pty

import "github.com/fleetforge/orchestrator/internal/orch/approval"

// SignalKind identifies the kind of a Signal emitted by a live
// Instance. The Agent Manager (C6) translates each into the
// appropriate persisted event and in-memory status transition.
type SignalKind string

const (
	SignalOutput               SignalKind = "output"
	SignalExit                 SignalKind = "exit"
	SignalApprovalRequested    SignalKind = "approval_requested"
	SignalApprovalAutoApproved SignalKind = "approval_auto_approved"
	SignalApprovalAutoDenied   SignalKind = "approval_auto_denied"
	SignalTasksCompleted       SignalKind = "tasks_completed"
	SignalError                SignalKind = "error"
)

// Signal is one notification raised by a live Instance's read loop.
type Signal struct {
	Kind SignalKind

	// SignalOutput
	Chunk []byte

	// SignalExit
	ExitCode int
	Signaled bool

	// SignalApprovalRequested
	Command string
	UIKind  approval.UIKind
	Context []byte // up to 4 KiB of surrounding terminal context

	// SignalError
	Err error
}
