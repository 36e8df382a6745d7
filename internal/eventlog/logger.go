// Package eventlog implements the replay aid from SPEC_FULL.md's supplement
// 4: when LOG_EVENTS is enabled, every upstream and downstream SSE frame for
// a turn is appended as one JSONL record under LOG_DIR, grounded on the
// teacher's habit (cmd/root.go's setupLogging) of treating a log destination
// as a pluggable io.Writer rather than hand-rolling a bespoke format per
// call site.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Logger appends one JSON object per line to a single file shared across
// every in-flight request; writes are serialized behind a mutex since
// concurrent requests may be streaming at once.
type Logger struct {
	mu sync.Mutex
	f  *os.File
}

type record struct {
	Dir   string `json:"dir"`
	Event any    `json:"event"`
}

// Open creates dir if needed and appends to "events.jsonl" within it.
func Open(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	return &Logger{f: f}, nil
}

// Up records one upstream event ("dir":"up").
func (l *Logger) Up(event any) {
	l.write("up", event)
}

// Down records one emitted downstream frame ("dir":"down").
func (l *Logger) Down(eventType string, payload any) {
	l.write("down", map[string]any{"type": eventType, "payload": payload})
}

func (l *Logger) write(dir string, event any) {
	line, err := json.Marshal(record{Dir: dir, Event: event})
	if err != nil {
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.f.Write(line)
}

// Close releases the underlying file handle.
func (l *Logger) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	return l.f.Close()
}
