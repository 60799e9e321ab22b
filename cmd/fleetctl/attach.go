package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/websocket"
	"golang.org/x/term"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
)

// attachSession pipes a local terminal to one agent's live PTY: stdin
// keystrokes become SendAgentInput calls, SIGWINCH becomes Resize
// calls, and stdout/stderr event chunks from the item's event stream
// are written straight through. There is no dedicated attach RPC; this
// reuses the same input/resize/stream endpoints the web UI's terminal
// view calls.
func attachSession(ctx context.Context, c *apiClient, itemID, agentID string) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("fleetctl: stdin is not a terminal")
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("fleetctl: enter raw mode: %w", err)
	}
	defer term.Restore(fd, oldState) //nolint:errcheck

	if buf, err := c.agentOutputBuffer(ctx, itemID, agentID); err == nil {
		os.Stdout.Write(buf) //nolint:errcheck
	}

	if cols, rows, err := term.GetSize(fd); err == nil {
		_ = c.resizeAgent(ctx, itemID, agentID, cols, rows)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, c.wsURL(itemID), nil)
	if err != nil {
		return fmt.Errorf("fleetctl: dial stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	go relayOutput(ctx, conn, agentID, cancel)
	go relayResize(ctx, c, itemID, agentID, fd)
	relayInput(ctx, c, itemID, agentID, cancel)

	return nil
}

func relayOutput(ctx context.Context, conn *websocket.Conn, agentID string, cancel context.CancelFunc) {
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var ev orch.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if ev.AgentID != agentID {
			continue
		}
		if ev.Type != orch.EventStdout && ev.Type != orch.EventStderr {
			continue
		}
		var chunk struct {
			Data string `json:"data"`
		}
		if err := ev.DecodePayload(&chunk); err != nil {
			continue
		}
		os.Stdout.WriteString(chunk.Data) //nolint:errcheck
	}
}

func relayInput(ctx context.Context, c *apiClient, itemID, agentID string, cancel context.CancelFunc) {
	defer cancel()
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if sendErr := c.sendAgentInput(ctx, itemID, agentID, buf[:n]); sendErr != nil {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				return
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func relayResize(ctx context.Context, c *apiClient, itemID, agentID string, fd int) {
	sigCh := make(chan os.Signal, 1)
	notifyResize(sigCh)
	defer signal.Stop(sigCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			if cols, rows, err := term.GetSize(fd); err == nil {
				_ = c.resizeAgent(ctx, itemID, agentID, cols, rows)
			}
		}
	}
}

func notifyResize(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGWINCH)
}
