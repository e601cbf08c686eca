package operation

import (
	"time"

	"github.com/AaronLay10/VisorEngine/internal/perception"
)

// RunContext is the execution state of a single run. The engine owns it and
// hands it to each handler; it is never shared between runs.
type RunContext struct {
	runID     string
	startedAt time.Time
	node      string
	retries   map[string]int
	frame     *perception.Frame
	rounds    int
}

func newRunContext(runID string, startedAt time.Time, start string) *RunContext {
	return &RunContext{
		runID:     runID,
		startedAt: startedAt,
		node:      start,
		retries:   make(map[string]int),
	}
}

// RunID identifies the run in logs and telemetry.
func (rc *RunContext) RunID() string { return rc.runID }

// StartedAt is when the run began.
func (rc *RunContext) StartedAt() time.Time { return rc.startedAt }

// Node is the name of the node currently executing.
func (rc *RunContext) Node() string { return rc.node }

// Frame is the most recent captured frame, possibly from an earlier node.
func (rc *RunContext) Frame() *perception.Frame { return rc.frame }

// Retries is the retry counter of the current node.
func (rc *RunContext) Retries() int { return rc.retries[rc.node] }

// Rounds counts handler invocations so far, including the current one.
func (rc *RunContext) Rounds() int { return rc.rounds }

func (rc *RunContext) moveTo(node string) {
	delete(rc.retries, rc.node)
	rc.node = node
	rc.retries[node] = 0
}
