package operation

import (
	"fmt"
	"time"
)

// Outcome is the closed set of round outcomes.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFail
	OutcomeRetry
	OutcomeWait
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFail:
		return "fail"
	case OutcomeRetry:
		return "retry"
	case OutcomeWait:
		return "wait"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Reserved statuses produced by the engine itself.
const (
	StatusPerceptionError = "perception_error"
	StatusRetryExhausted  = "retry_exhausted"
)

// RoundResult is the outcome of one node invocation. An empty Status means
// the node reported no status; only a default edge can route it.
type RoundResult struct {
	Status  string
	Outcome Outcome
	Wait    time.Duration
}

// Success ends the round and routes on status.
func Success(status string) RoundResult {
	return RoundResult{Status: status, Outcome: OutcomeSuccess}
}

// Fail ends the round and routes on status.
func Fail(status string) RoundResult {
	return RoundResult{Status: status, Outcome: OutcomeFail}
}

// Retry asks for the node to run again after wait, consuming retry budget.
func Retry(status string, wait time.Duration) RoundResult {
	return RoundResult{Status: status, Outcome: OutcomeRetry, Wait: clampWait(wait)}
}

// WaitFor re-enters the node after wait without consuming retry budget.
func WaitFor(status string, wait time.Duration) RoundResult {
	return RoundResult{Status: status, Outcome: OutcomeWait, Wait: clampWait(wait)}
}

// Terminal reports whether the outcome ends the round and triggers routing.
func (r RoundResult) Terminal() bool {
	return r.Outcome == OutcomeSuccess || r.Outcome == OutcomeFail
}

func (r RoundResult) String() string {
	if r.Status == "" {
		return r.Outcome.String()
	}
	return r.Outcome.String() + "(" + r.Status + ")"
}

func clampWait(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
