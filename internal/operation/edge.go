package operation

import "fmt"

// Edge is a transition out of From. A nil Status is the default edge of From;
// an empty To ends the run.
type Edge struct {
	From   string
	Status *string
	To     string
}

// Default reports whether the edge is the wildcard edge of its source.
func (e Edge) Default() bool { return e.Status == nil }

func (e Edge) String() string {
	status := "*"
	if e.Status != nil {
		status = fmt.Sprintf("%q", *e.Status)
	}
	to := e.To
	if to == "" {
		to = "<end>"
	}
	return fmt.Sprintf("%s[%s] -> %s", e.From, status, to)
}

type edgeKey struct {
	from   string
	status string
}

// Resolver maps (node, status) to the next node. It is built once by
// Builder.Freeze and never mutated afterwards.
type Resolver struct {
	exact    map[edgeKey]string
	fallback map[string]string
	outgoing map[string]int
}

func newResolver() *Resolver {
	return &Resolver{
		exact:    make(map[edgeKey]string),
		fallback: make(map[string]string),
		outgoing: make(map[string]int),
	}
}

func (r *Resolver) add(e Edge) error {
	if e.Status == nil {
		if _, dup := r.fallback[e.From]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateEdge, e)
		}
		r.fallback[e.From] = e.To
	} else {
		k := edgeKey{from: e.From, status: *e.Status}
		if _, dup := r.exact[k]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateEdge, e)
		}
		r.exact[k] = e.To
	}
	r.outgoing[e.From]++
	return nil
}

// Resolve returns the next node for status leaving from. An empty target with
// ok=true ends the run, either through an explicit end edge or because from
// has no outgoing edges at all. ok=false means nothing matched.
func (r *Resolver) Resolve(from, status string) (to string, ok bool) {
	if r.outgoing[from] == 0 {
		return "", true
	}
	if status != "" {
		if to, ok := r.exact[edgeKey{from: from, status: status}]; ok {
			return to, true
		}
	}
	if to, ok := r.fallback[from]; ok {
		return to, true
	}
	return "", false
}

// Terminal reports whether from has no outgoing edges.
func (r *Resolver) Terminal(from string) bool {
	return r.outgoing[from] == 0
}
