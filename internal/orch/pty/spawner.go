// Package pty supervises AI-assistant child processes attached to a
// pseudo-terminal: spawning, output forwarding, resize, and the
// approval micro-protocol (detect a pending prompt, classify the
// command it concerns, and respond automatically or wait for a human).
package pty

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// binaryEnvOverride names the environment variable that, when set,
// takes precedence over the candidate path list and PATH lookup.
const binaryEnvOverride = "FLEETFORGE_ASSISTANT_BIN"

// candidateBinaryPaths are checked, in order, after the environment
// override and before falling back to PATH.
var candidateBinaryPaths = []string{
	"/usr/local/bin/assistant",
	"/opt/assistant/bin/assistant",
	"/usr/bin/assistant",
}

const (
	defaultCols = 120
	defaultRows = 40
)

// Spawner launches AI-assistant binaries inside a pseudo-terminal.
type Spawner struct {
	// BinaryPath, if set, is used verbatim and skips resolution.
	BinaryPath string
	Cols, Rows int
}

// ResolveBinary locates the assistant binary using the environment
// override, then the candidate path list, then PATH.
func ResolveBinary() (string, error) {
	if v := os.Getenv(binaryEnvOverride); v != "" {
		return v, nil
	}
	for _, p := range candidateBinaryPaths {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, nil
		}
	}
	if p, err := exec.LookPath("assistant"); err == nil {
		return p, nil
	}
	return "", ErrBinaryNotFound
}

// Spawn starts a fresh assistant child process, attached to a new PTY,
// running in workdir with the "accept edits" permission flag and
// initialPrompt passed as its trailing command-line argument.
func (s *Spawner) Spawn(ctx context.Context, workdir, initialPrompt string) (*Instance, error) {
	bin := s.BinaryPath
	if bin == "" {
		resolved, err := ResolveBinary()
		if err != nil {
			return nil, err
		}
		bin = resolved
	}

	cols, rows := s.Cols, s.Rows
	if cols == 0 {
		cols = defaultCols
	}
	if rows == 0 {
		rows = defaultRows
	}

	cmd := exec.CommandContext(ctx, bin, "--permission-mode", "acceptEdits", initialPrompt)
	cmd.Dir = workdir
	cmd.Env = os.Environ()

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, fmt.Errorf("pty: spawn: %w", err)
	}

	inst := &Instance{
		cmd:     cmd,
		f:       f,
		cols:    cols,
		rows:    rows,
		workdir: workdir,
		signals: make(chan Signal, signalBufferSize),
		done:    make(chan struct{}),
		ring:    newRingBuffer(),
	}
	go inst.readLoop()
	return inst, nil
}

// readLoop copies the child's PTY output into the instance's chunk
// handler until the PTY closes, then emits a terminal SignalExit and
// closes the signal channel.
func (i *Instance) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := i.f.Read(buf)
		if n > 0 {
			i.onChunk(buf[:n])
		}
		if err != nil {
			break
		}
	}

	_ = i.cmd.Wait()

	i.mu.Lock()
	i.exited = true
	if i.settleTimer != nil {
		i.settleTimer.Stop()
	}
	exitCode := -1
	signaled := false
	if state := i.cmd.ProcessState; state != nil {
		exitCode = state.ExitCode()
		signaled = !state.Success() && exitCode == -1
	}
	i.emitLocked(Signal{Kind: SignalExit, ExitCode: exitCode, Signaled: signaled})
	i.mu.Unlock()

	close(i.done)
	close(i.signals)
}
