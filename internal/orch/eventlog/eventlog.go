// Package eventlog implements the append-only, newline-delimited JSON
// event log that is the single source of truth for item and agent
// history. Append order on disk is the authoritative total order the
// rest of the system relies on (see orch.Event.Before).
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
)

// Log is one append-only event file, safe for concurrent use.
type Log struct {
	path string
	mu   sync.Mutex
}

// Open returns a Log bound to path. The file and its parent directory
// are created lazily on first Append; Open never touches the
// filesystem.
func Open(path string) *Log {
	return &Log{path: path}
}

// Path returns the underlying file path.
func (l *Log) Path() string { return l.path }

// Append writes one event as a single JSON line. If ev.ID or
// ev.Timestamp are zero-valued, callers are expected to have already
// populated them — Append does not stamp events itself so that the
// caller (Agent Manager, Item Manager, ...) controls id generation.
func (l *Log) Append(ev orch.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("eventlog: mkdir: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: open: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventlog: marshal: %w", err)
	}
	line = append(line, '\n')

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("eventlog: write: %w", err)
	}
	return f.Sync()
}

// Read returns every event in the log in file-append order. A final
// line that fails to parse is treated as a torn write from a crash
// mid-append and is silently discarded; a malformed line that is not
// last is a genuine corruption and is returned as an error.
func (l *Log) Read() ([]orch.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("eventlog: open: %w", err)
	}
	defer f.Close()

	var lines [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		cp := make([]byte, len(b))
		copy(cp, b)
		lines = append(lines, cp)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: scan: %w", err)
	}

	events := make([]orch.Event, 0, len(lines))
	for i, line := range lines {
		var ev orch.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			if i == len(lines)-1 {
				// Torn write: a crash mid-append left a partial last
				// line. Discard silently per the crash-safety contract.
				break
			}
			return nil, fmt.Errorf("eventlog: corrupt line %d: %w", i, err)
		}
		events = append(events, ev.WithSeq(i))
	}
	return events, nil
}
