package pty

import (
	"bytes"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/fleetforge/orchestrator/internal/orch/approval"
)

// approvalState tracks where an Instance sits in the approval
// micro-protocol for the command currently awaiting a decision, if
// any.
type approvalState int

const (
	approvalNone approvalState = iota
	approvalWaiting
	approvalSent
)

// settleFallbackDelay is how long an Instance waits, after sending an
// auto-decided response, before retrying with a blunter fallback
// keystroke if the prompt is still showing.
const settleFallbackDelay = 3 * time.Second

// completionMarker is the exact line an assistant prints to signal it
// has finished its assigned tasks.
const completionMarker = "TASKS_COMPLETED"

// signalBufferSize bounds how many unconsumed signals an Instance may
// queue; once it is full, further signals are dropped (see emitLocked)
// rather than blocking the read loop.
const signalBufferSize = 256

// Instance is one live, PTY-attached child process.
type Instance struct {
	cmd *exec.Cmd
	f   *os.File

	cols, rows int
	workdir    string

	signals chan Signal
	done     chan struct{}

	mu             sync.Mutex
	ring           *ringBuffer
	state          approvalState
	pendingCommand string
	pendingUIKind  approval.UIKind
	lastSendAt     time.Time
	retried        bool
	settleTimer    *time.Timer

	exited bool
}

// Signals returns the channel of notifications raised by this
// instance. The channel is closed once the instance's read loop
// observes the child's exit and has emitted the final SignalExit.
func (i *Instance) Signals() <-chan Signal { return i.signals }

// Pid returns the child process's OS process id.
func (i *Instance) Pid() int {
	if i.cmd.Process == nil {
		return 0
	}
	return i.cmd.Process.Pid
}

// Write sends raw bytes to the child's PTY, e.g. free-form operator
// input relayed from an attached terminal session.
func (i *Instance) Write(p []byte) (int, error) {
	return i.f.Write(p)
}

// Resize changes the PTY's reported terminal dimensions.
func (i *Instance) Resize(cols, rows int) error {
	i.mu.Lock()
	i.cols, i.rows = cols, rows
	i.mu.Unlock()
	return pty.Setsize(i.f, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// OutputBuffer returns a copy of the current 16 KiB output tail.
func (i *Instance) OutputBuffer() []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	tail := i.ring.Tail()
	cp := make([]byte, len(tail))
	copy(cp, tail)
	return cp
}

// Kill terminates the child process.
func (i *Instance) Kill() error {
	if i.cmd.Process == nil {
		return nil
	}
	return i.cmd.Process.Kill()
}

// ProcessApproval injects a human (or externally automated) decision
// for the command currently awaiting one. It is only valid while the
// instance is in the waiting state; uiOverride, when non-nil,
// supersedes the UI kind detected at prompt-extraction time.
func (i *Instance) ProcessApproval(approved bool, uiOverride *approval.UIKind) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != approvalWaiting {
		return errNotWaiting
	}
	uiKind := i.pendingUIKind
	if uiOverride != nil {
		uiKind = *uiOverride
	}

	resp := approveResponse(uiKind)
	if !approved {
		resp = denyResponse(uiKind)
	}
	if _, err := i.f.WriteString(resp); err != nil {
		return err
	}
	i.enterSentLocked()
	return nil
}

func (i *Instance) enterSentLocked() {
	i.state = approvalSent
	i.lastSendAt = time.Now()
	i.retried = false
	if i.settleTimer != nil {
		i.settleTimer.Stop()
	}
	i.settleTimer = time.AfterFunc(settleFallbackDelay, i.onSettleTimeout)
}

func (i *Instance) onSettleTimeout() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != approvalSent || i.retried || i.exited {
		return
	}
	if approval.DetectPrompt(i.ring.Tail(), i.workdir).Detected {
		fallback := "\n"
		if i.pendingUIKind == approval.UIMenu {
			fallback = "1"
		}
		_, _ = i.f.WriteString(fallback)
		i.retried = true
	}
}

// onChunk implements the five per-chunk responsibilities: append to
// the ring, emit output, detect completion, settle a pending send, and
// detect a fresh approval prompt.
func (i *Instance) onChunk(p []byte) {
	i.mu.Lock()
	i.ring.Append(p)
	tail := i.ring.Tail()

	if lineEquals(p, completionMarker) {
		i.emitLocked(Signal{Kind: SignalTasksCompleted})
	}

	switch i.state {
	case approvalSent:
		if !approval.DetectPrompt(tail, i.workdir).Detected {
			i.state = approvalNone
			i.pendingCommand = ""
			if i.settleTimer != nil {
				i.settleTimer.Stop()
			}
		}
	case approvalNone:
		i.detectNewPromptLocked(tail)
	}

	i.emitLocked(Signal{Kind: SignalOutput, Chunk: append([]byte(nil), p...)})
	i.mu.Unlock()
}

func (i *Instance) detectNewPromptLocked(tail []byte) {
	d := approval.DetectPrompt(tail, i.workdir)
	if !d.Detected || d.Command == "" {
		return
	}
	i.pendingCommand = d.Command
	i.pendingUIKind = d.UI

	ctx := tail
	if len(ctx) > 4*1024 {
		ctx = ctx[len(ctx)-4*1024:]
	}

	switch approval.ClassifyCommand(d.Command) {
	case approval.Blocklist:
		_, _ = i.f.WriteString(denyResponse(d.UI))
		i.emitLocked(Signal{Kind: SignalApprovalAutoDenied, Command: d.Command, UIKind: d.UI, Context: append([]byte(nil), ctx...)})
		i.enterSentLocked()
	case approval.ApprovalRequired:
		i.state = approvalWaiting
		i.emitLocked(Signal{Kind: SignalApprovalRequested, Command: d.Command, UIKind: d.UI, Context: append([]byte(nil), ctx...)})
	case approval.AutoApprove:
		_, _ = i.f.WriteString(approveResponse(d.UI))
		i.emitLocked(Signal{Kind: SignalApprovalAutoApproved, Command: d.Command, UIKind: d.UI, Context: append([]byte(nil), ctx...)})
		i.enterSentLocked()
	}
}

// emitLocked must be called with i.mu held; it performs a non-blocking
// best-effort send so a stalled consumer cannot wedge the read loop.
func (i *Instance) emitLocked(s Signal) {
	select {
	case i.signals <- s:
	default:
	}
}

func approveResponse(ui approval.UIKind) string {
	switch ui {
	case approval.UIMenu:
		return "\n"
	case approval.UIYesNo:
		return "y\n"
	default:
		return "\n"
	}
}

func denyResponse(ui approval.UIKind) string {
	switch ui {
	case approval.UIMenu:
		return "3\n"
	case approval.UIYesNo:
		return "n\n"
	default:
		return "\n"
	}
}

func lineEquals(chunk []byte, marker string) bool {
	for _, line := range bytes.Split(chunk, []byte("\n")) {
		if string(bytes.TrimSpace(line)) == marker {
			return true
		}
	}
	return false
}
