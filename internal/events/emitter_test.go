package events

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingSink struct {
	mu     sync.Mutex
	names  []string
	runIDs []string
	err    error
	delay  time.Duration
	gate   chan struct{}
}

func (s *recordingSink) Append(_ time.Time, _, event, _ string, _ map[string]interface{}, runID string) error {
	if s.gate != nil {
		<-s.gate
	}
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.names = append(s.names, event)
	s.runIDs = append(s.runIDs, runID)
	return nil
}

func TestEmitForwardsToSink(t *testing.T) {
	s := &recordingSink{}
	SetSink(s)
	defer SetSink(nil)

	_, err := Emit("info", "run.started", "", map[string]interface{}{"run_id": "01ABC"})
	require.NoError(t, err)
	SetSink(nil)

	assert.Equal(t, []string{"run.started"}, s.names)
	assert.Equal(t, []string{"01ABC"}, s.runIDs)
}

func TestEmitSinkErrorReportedOnce(t *testing.T) {
	Clear()
	SetSink(&recordingSink{err: errors.New("connection refused")})
	defer SetSink(nil)

	Emit("info", "run.started", "", nil)
	Emit("info", "run.completed", "", nil)
	SetSink(nil)

	var sysErrors int
	for _, e := range Snapshot() {
		if e.Name == "system.error" {
			sysErrors++
		}
	}
	assert.Equal(t, 1, sysErrors)
}

func TestEmitReturnsJSON(t *testing.T) {
	b, err := Emit("warning", "state.updated", "hp low", map[string]interface{}{"state": "low-hp"})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"event":"state.updated"`)
	assert.Contains(t, string(b), `"seq":`)
}

func TestEmitDoesNotWaitForSlowSink(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := &recordingSink{delay: 50 * time.Millisecond}
	SetSink(s)

	start := time.Now()
	for i := 0; i < 5; i++ {
		Emit("info", "round.completed", "", nil)
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	SetSink(nil)
	assert.Len(t, s.names, 5, "detaching flushes queued events")
}

func TestSinkQueueOverflowDrops(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := &recordingSink{gate: make(chan struct{})}
	SetSink(s)
	before := SinkDroppedCount()

	for i := 0; i < sinkQueueSize+5; i++ {
		Emit("debug", "round.completed", "", nil)
	}
	assert.GreaterOrEqual(t, SinkDroppedCount()-before, uint64(4))

	close(s.gate)
	SetSink(nil)
	assert.Equal(t, uint64(sinkQueueSize+5), uint64(len(s.names))+SinkDroppedCount()-before)
}
