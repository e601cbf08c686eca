package operation

import (
	"errors"
	"fmt"
)

// Build-time errors. All of them are fatal: a graph that fails Freeze never runs.
var (
	ErrDuplicateNode = errors.New("duplicate node")
	ErrDuplicateEdge = errors.New("duplicate edge")
	ErrUnknownNode   = errors.New("unknown node")
	ErrDeadEnd       = errors.New("status has no outgoing edge")
	ErrNoStart       = errors.New("no start node")
	ErrMultipleStart = errors.New("multiple start nodes")
	ErrFrozen        = errors.New("graph already frozen")
	ErrEmptyStatus   = errors.New("edge status must not be empty")
	ErrNoHandler     = errors.New("node has no handler")
)

// Run-time errors.
var (
	ErrNoMatchingEdge = errors.New("no matching edge")
	ErrAlreadyRunning = errors.New("engine already running")
)

// NoMatchingEdgeError aborts a run when a terminal round cannot be routed.
type NoMatchingEdgeError struct {
	Node   string
	Result RoundResult
}

func (e *NoMatchingEdgeError) Error() string {
	return fmt.Sprintf("node %s: no matching edge for %s", e.Node, e.Result)
}

func (e *NoMatchingEdgeError) Unwrap() error { return ErrNoMatchingEdge }
