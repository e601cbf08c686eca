package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

var buffer = newRing(256)

// Sink archives emitted events outside the process (e.g. Postgres).
type Sink interface {
	Append(ts time.Time, level, event, msg string, fields map[string]interface{}, runID string) error
}

var (
	sinkMu sync.RWMutex
	active *sinkWriter
)

// SetSink attaches the archive sink. Events reach it from a background
// writer, so Emit never waits on the archive. Replacing or detaching (nil)
// the sink first flushes what the previous one still had queued.
func SetSink(s Sink) {
	sinkMu.Lock()
	prev := active
	active = nil
	if s != nil {
		active = startSinkWriter(s, sinkQueueSize)
	}
	sinkMu.Unlock()

	if prev != nil {
		prev.stop()
	}
}

// Event is one telemetry record. Seq increases by one per buffered event and
// lets stream consumers drop duplicates between the backlog and live feed.
type Event struct {
	Seq       uint64                 `json:"seq"`
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	e = buffer.push(e)
	fanout.publish(e)

	sinkMu.RLock()
	if active != nil {
		runID, _ := fields["run_id"].(string)
		active.enqueue(sinkEntry{ts: ts, level: level, name: name, msg: msg, fields: fields, runID: runID})
	}
	sinkMu.RUnlock()

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return b, nil
}

// Snapshot returns every buffered event, oldest first.
func Snapshot() []Event {
	return buffer.last(0)
}

// TotalCount returns the number of events emitted since startup.
func TotalCount() uint64 {
	return buffer.total()
}

// Clear empties the event buffer. Used by tests.
func Clear() {
	buffer.reset()
}
