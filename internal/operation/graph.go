package operation

import (
	"errors"
	"fmt"
	"slices"
)

// Builder assembles a graph: register nodes, then edges, then Freeze. Errors
// are collected and reported together by Freeze.
type Builder struct {
	nodes  map[string]Node
	order  []string
	edges  []Edge
	errs   []error
	frozen bool
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{nodes: make(map[string]Node)}
}

// AddNode registers n.
func (b *Builder) AddNode(n Node) *Builder {
	if b.frozen {
		b.errs = append(b.errs, ErrFrozen)
		return b
	}
	if _, dup := b.nodes[n.Name]; dup {
		b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrDuplicateNode, n.Name))
		return b
	}
	if n.MaxRetry < 0 {
		n.MaxRetry = 0
	}
	n.Statuses = append([]string{}, n.Statuses...)
	b.nodes[n.Name] = n
	b.order = append(b.order, n.Name)
	return b
}

// On routes status from -> to.
func (b *Builder) On(from, status, to string) *Builder {
	if status == "" {
		b.errs = append(b.errs, fmt.Errorf("%w: %s -> %s", ErrEmptyStatus, from, to))
		return b
	}
	s := status
	return b.addEdge(Edge{From: from, Status: &s, To: to})
}

// Default routes every otherwise unmatched status from -> to.
func (b *Builder) Default(from, to string) *Builder {
	return b.addEdge(Edge{From: from, To: to})
}

// End finishes the run when from reports status.
func (b *Builder) End(from, status string) *Builder {
	return b.On(from, status, "")
}

// EndDefault finishes the run on any otherwise unmatched status of from.
func (b *Builder) EndDefault(from string) *Builder {
	return b.Default(from, "")
}

func (b *Builder) addEdge(e Edge) *Builder {
	if b.frozen {
		b.errs = append(b.errs, ErrFrozen)
		return b
	}
	b.edges = append(b.edges, e)
	return b
}

// Freeze validates the graph and returns an immutable Graph.
func (b *Builder) Freeze() (*Graph, error) {
	if b.frozen {
		return nil, ErrFrozen
	}
	errs := append([]error{}, b.errs...)

	var start string
	for _, name := range b.order {
		n := b.nodes[name]
		if n.Handler == nil {
			errs = append(errs, fmt.Errorf("%w: %s", ErrNoHandler, name))
		}
		if !n.Start {
			continue
		}
		if start != "" {
			errs = append(errs, fmt.Errorf("%w: %s and %s", ErrMultipleStart, start, name))
			continue
		}
		start = name
	}

	res := newResolver()
	for _, e := range b.edges {
		if _, ok := b.nodes[e.From]; !ok {
			errs = append(errs, fmt.Errorf("%w: edge %s: source %s", ErrUnknownNode, e, e.From))
			continue
		}
		if e.To != "" {
			if _, ok := b.nodes[e.To]; !ok {
				errs = append(errs, fmt.Errorf("%w: edge %s: target %s", ErrUnknownNode, e, e.To))
				continue
			}
		}
		if err := res.add(e); err != nil {
			errs = append(errs, err)
		}
	}

	for _, name := range b.order {
		if res.Terminal(name) {
			continue
		}
		for _, status := range routableStatuses(b.nodes[name]) {
			if _, ok := res.Resolve(name, status); !ok {
				errs = append(errs, fmt.Errorf("%w: %s[%q]", ErrDeadEnd, name, status))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	b.frozen = true
	return &Graph{
		nodes:    b.nodes,
		order:    append([]string{}, b.order...),
		start:    start,
		resolver: res,
	}, nil
}

// routableStatuses is what Freeze checks for n: the declared statuses plus
// the ones the engine reports on the node's behalf. Nodes that declare
// nothing are left to run-time resolution.
func routableStatuses(n Node) []string {
	if len(n.Statuses) == 0 {
		return nil
	}
	out := append([]string{}, n.Statuses...)
	implied := []string{StatusRetryExhausted}
	if n.Capture {
		implied = append(implied, StatusPerceptionError)
	}
	for _, st := range implied {
		if !slices.Contains(out, st) {
			out = append(out, st)
		}
	}
	return out
}

// Graph is a frozen node graph. It is safe to share between engines.
type Graph struct {
	nodes    map[string]Node
	order    []string
	start    string
	resolver *Resolver
}

// Start returns the name of the start node, or "" when none was marked.
func (g *Graph) Start() string { return g.start }

// Node looks up a node by name.
func (g *Graph) Node(name string) (Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes lists node names in registration order.
func (g *Graph) Nodes() []string {
	return append([]string{}, g.order...)
}

// Resolver exposes the edge table.
func (g *Graph) Resolver() *Resolver { return g.resolver }
