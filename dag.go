package parslet

import (
	"fmt"
	"sort"
	"strings"
)

// DAG is the validated, topologically-ordered graph discovered from a set
// of terminal Futures. Nodes indexes every reached Future by FutureID and
// edges are recorded by ID; argument slots themselves hold the dependency
// *Future pointers. Call cannot build a cycle, since every Future argument
// already exists when its dependent is created, so a cycle can only come
// from edges added directly, which Validate reports.
type DAG struct {
	Nodes map[FutureID]*Future
	// edges[u] lists the dependents of u: an edge u -> v means u must
	// complete before v may start.
	edges map[FutureID][]FutureID

	terminals []*Future
	order     []FutureID
	validated bool
}

// NewDAG builds a DAG. With no arguments it returns an empty DAG (callers
// then use Build); with arguments it is shorthand for
// `NewDAG(); Build(futures)` (SPEC_FULL.md §9 resolves the source's
// inconsistent zero-arg/list-of-futures constructors this way).
func NewDAG(terminals ...*Future) (*DAG, error) {
	d := &DAG{
		Nodes: make(map[FutureID]*Future),
		edges: make(map[FutureID][]FutureID),
	}
	if len(terminals) == 0 {
		return d, nil
	}
	if err := d.Build(terminals); err != nil {
		return nil, err
	}
	return d, nil
}

// Build performs a reverse traversal from terminals over Dependencies,
// registering every reached Future as a node and recording one edge per
// dependency relation. It does not validate (see Validate); callers that
// want build+validate in one step should call Validate after Build.
func (d *DAG) Build(terminals []*Future) error {
	d.terminals = append([]*Future(nil), terminals...)
	stack := append([]*Future(nil), terminals...)
	for len(stack) > 0 {
		n := len(stack) - 1
		f := stack[n]
		stack = stack[:n]
		if _, seen := d.Nodes[f.id]; seen {
			continue
		}
		d.Nodes[f.id] = f
		for _, dep := range f.Dependencies() {
			d.edges[dep.id] = append(d.edges[dep.id], f.id)
			stack = append(stack, dep)
		}
	}
	d.validated = false
	return nil
}

// Validate checks that every edge endpoint is a registered node, that the
// graph is acyclic, and computes a deterministic topological order (ties
// broken by Future creation order) so repeated runs share a scheduling
// prefix.
func (d *DAG) Validate() error {
	for u, targets := range d.edges {
		if _, ok := d.Nodes[u]; !ok {
			return fmt.Errorf("parslet: edge source %d not in graph", u)
		}
		for _, v := range targets {
			if _, ok := d.Nodes[v]; !ok {
				return fmt.Errorf("parslet: edge target %d not in graph", v)
			}
		}
	}

	indeg := make(map[FutureID]int, len(d.Nodes))
	for id := range d.Nodes {
		indeg[id] = 0
	}
	for _, f := range d.Nodes {
		for range f.Dependencies() {
			indeg[f.id]++
		}
	}

	var ready []*Future
	for id, f := range d.Nodes {
		if indeg[id] == 0 {
			ready = append(ready, f)
		}
	}
	sortFuturesBySeq(ready)

	order := make([]FutureID, 0, len(d.Nodes))
	remaining := make(map[FutureID]int, len(indeg))
	for k, v := range indeg {
		remaining[k] = v
	}
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].seq < ready[j].seq })
		f := ready[0]
		ready = ready[1:]
		order = append(order, f.id)
		var newlyReady []*Future
		for _, successorID := range d.edges[f.id] {
			remaining[successorID]--
			if remaining[successorID] == 0 {
				newlyReady = append(newlyReady, d.Nodes[successorID])
			}
		}
		ready = append(ready, newlyReady...)
	}

	if len(order) != len(d.Nodes) {
		path := d.findCycle()
		return &CycleError{Path: path}
	}

	d.order = order
	d.validated = true
	return nil
}

// findCycle locates one concrete cycle via DFS with three-color marking,
// for diagnostics attached to CycleError.
func (d *DAG) findCycle() []FutureID {
	const (
		white = iota
		gray
		black
	)
	color := make(map[FutureID]int, len(d.Nodes))
	var path []FutureID

	var ids []FutureID
	for id := range d.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var visit func(id FutureID) []FutureID
	visit = func(id FutureID) []FutureID {
		color[id] = gray
		path = append(path, id)
		successors := append([]FutureID(nil), d.edges[id]...)
		sort.Slice(successors, func(i, j int) bool { return successors[i] < successors[j] })
		for _, next := range successors {
			switch color[next] {
			case white:
				if cyc := visit(next); cyc != nil {
					return cyc
				}
			case gray:
				cycleStart := -1
				for i, p := range path {
					if p == next {
						cycleStart = i
						break
					}
				}
				cyc := append([]FutureID(nil), path[cycleStart:]...)
				return append(cyc, next)
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	for _, id := range ids {
		if color[id] == white {
			if cyc := visit(id); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// TopoOrder returns the deterministic topological order computed by the
// most recent successful Validate call.
func (d *DAG) TopoOrder() []FutureID {
	return append([]FutureID(nil), d.order...)
}

// Terminals returns the Futures originally passed to Build/NewDAG.
func (d *DAG) Terminals() []*Future {
	return append([]*Future(nil), d.terminals...)
}

// Draw renders an ASCII outline of the DAG in topological order, for
// --simulate-style diagnostics. It is cheap core-adjacent functionality;
// PNG rendering is delegated entirely to an external exporter (out of
// scope, SPEC_FULL.md §4.2).
func (d *DAG) Draw() string {
	order := d.order
	if !d.validated {
		// Best-effort unordered rendering for an unvalidated graph.
		for id := range d.Nodes {
			order = append(order, id)
		}
		sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	}
	var b strings.Builder
	for _, id := range order {
		f := d.Nodes[id]
		deps := f.Dependencies()
		depNames := make([]string, len(deps))
		for i, dep := range deps {
			depNames[i] = fmt.Sprintf("%s#%d", dep.Task().Name, dep.ID())
		}
		fmt.Fprintf(&b, "%s#%d", f.Task().Name, f.ID())
		if len(depNames) > 0 {
			fmt.Fprintf(&b, " <- [%s]", strings.Join(depNames, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
