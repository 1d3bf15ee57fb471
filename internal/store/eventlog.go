package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogEvent is one persisted key event (acceptance, rejection, cleanup
// removal).
type LogEvent struct {
	ID        int                    `json:"id"`
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// EventLog is an append-only JSONL log of key events, persisted across
// restarts. Unlike the event bus, which is in-memory and lossy, entries
// here survive the process.
type EventLog struct {
	mu     sync.Mutex
	path   string
	events []LogEvent
}

// OpenEventLog loads the log at path, creating it if absent. Unparsable
// lines are skipped rather than failing the open.
func OpenEventLog(path string) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}

	el := &EventLog{path: path}

	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("open event log: %w", err)
		}
		if err := os.WriteFile(path, nil, 0644); err != nil {
			return nil, fmt.Errorf("create event log: %w", err)
		}
		return el, nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev LogEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		el.events = append(el.events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}

	return el, nil
}

// Add appends an event to memory and to the file. A file write failure is
// returned but the in-memory entry is kept.
func (el *EventLog) Add(eventType, message string, metadata map[string]interface{}) error {
	el.mu.Lock()
	defer el.mu.Unlock()

	ev := LogEvent{
		ID:        len(el.events) + 1,
		Type:      eventType,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
	el.events = append(el.events, ev)

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(el.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open event log for append: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// All returns a copy of the loaded events.
func (el *EventLog) All() []LogEvent {
	el.mu.Lock()
	defer el.mu.Unlock()
	out := make([]LogEvent, len(el.events))
	copy(out, el.events)
	return out
}

// Clear discards all events and truncates the file.
func (el *EventLog) Clear() error {
	el.mu.Lock()
	defer el.mu.Unlock()

	el.events = nil
	if err := os.WriteFile(el.path, nil, 0644); err != nil {
		return fmt.Errorf("truncate event log: %w", err)
	}
	return nil
}
