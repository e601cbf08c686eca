package operation

import (
	"context"

	"github.com/AaronLay10/VisorEngine/internal/perception"
)

// DefaultMaxRetry is the retry budget NewNode assigns.
const DefaultMaxRetry = 3

// Handler runs one round of a node. Returned errors and panics are turned
// into FAIL rounds by the engine.
type Handler func(ctx context.Context, rc *RunContext) (RoundResult, error)

// Node is one named step of a graph.
type Node struct {
	Name     string
	Start    bool
	MaxRetry int
	// Capture requests a fresh frame before every round of this node. Nodes
	// that only reinterpret the previous frame leave it off.
	Capture bool
	Region  perception.Region
	// Statuses is the closed set of statuses the handler may report. Each one
	// must be routable when the graph is frozen.
	Statuses []string
	Handler  Handler
}

// NodeOption customizes a node built with NewNode.
type NodeOption func(*Node)

// NewNode returns a node with the default retry budget that captures a frame
// before every round.
func NewNode(name string, h Handler, opts ...NodeOption) Node {
	n := Node{
		Name:     name,
		MaxRetry: DefaultMaxRetry,
		Capture:  true,
		Handler:  h,
	}
	for _, opt := range opts {
		opt(&n)
	}
	return n
}

// AsStart marks the node as the graph entry.
func AsStart() NodeOption {
	return func(n *Node) { n.Start = true }
}

// WithMaxRetry overrides the retry budget.
func WithMaxRetry(max int) NodeOption {
	return func(n *Node) { n.MaxRetry = max }
}

// WithoutCapture makes the node reuse the cached frame.
func WithoutCapture() NodeOption {
	return func(n *Node) { n.Capture = false }
}

// WithRegion limits capture to r.
func WithRegion(r perception.Region) NodeOption {
	return func(n *Node) { n.Region = r }
}

// WithStatuses declares the statuses the node may emit.
func WithStatuses(statuses ...string) NodeOption {
	return func(n *Node) { n.Statuses = append(n.Statuses, statuses...) }
}
