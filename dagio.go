package parslet

import "encoding/json"

// dagNodeJSON and dagEdgeJSON are the wire shapes for DAG.ExportJSON
// (SPEC_FULL.md §6): each node names its task and its direct dependencies
// by id; each edge is the same information flattened for consumers that
// prefer an edge list (e.g. graph visualization tools).
type dagNodeJSON struct {
	ID       uint64   `json:"id"`
	TaskName string   `json:"task_name"`
	Deps     []uint64 `json:"deps"`
}

type dagEdgeJSON struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

type dagExport struct {
	Nodes []dagNodeJSON `json:"nodes"`
	Edges []dagEdgeJSON `json:"edges"`
}

// ExportJSON serializes the DAG as nodes (id, task name, dependency ids)
// plus a flattened edge list. Internal Future ids are exported verbatim,
// and ImportJSON keys the imported nodes by those same ids; it builds no
// Futures, so a round trip preserves topological structure, not live
// Future identity.
func (d *DAG) ExportJSON() ([]byte, error) {
	export := dagExport{}
	for id, f := range d.Nodes {
		depIDs := make([]uint64, len(f.deps))
		for i, dep := range f.deps {
			depIDs[i] = uint64(dep.id)
		}
		export.Nodes = append(export.Nodes, dagNodeJSON{
			ID:       uint64(id),
			TaskName: f.Task().Name,
			Deps:     depIDs,
		})
		for _, dep := range f.deps {
			export.Edges = append(export.Edges, dagEdgeJSON{From: uint64(dep.id), To: uint64(id)})
		}
	}
	return json.MarshalIndent(export, "", "  ")
}

// ImportedNode is a lightweight, Runner-independent representation of a
// DAG node used by ImportJSON, for callers (tests, diagnostics) that only
// need topological structure back, not live Futures bound to an Engine.
type ImportedNode struct {
	ID       uint64
	TaskName string
	Deps     []uint64
}

// ImportedGraph is the result of ImportJSON: enough structure to recompute
// a topological order and verify it matches the original's edge set,
// without needing a registered Engine.
type ImportedGraph struct {
	Nodes map[uint64]ImportedNode
}

// ImportJSON parses a DAG.ExportJSON payload. It does not reconstruct live
// Futures; it exists for round-trip structural verification and for
// external tools that only need the graph shape.
func ImportJSON(data []byte) (*ImportedGraph, error) {
	var export dagExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, err
	}
	g := &ImportedGraph{Nodes: make(map[uint64]ImportedNode, len(export.Nodes))}
	for _, n := range export.Nodes {
		g.Nodes[n.ID] = ImportedNode{ID: n.ID, TaskName: n.TaskName, Deps: n.Deps}
	}
	return g, nil
}

// TopoOrder computes a deterministic topological order over the imported
// graph using the same tie-break (ascending original id, which preserves
// the exporting DAG's own Future.seq tie-break since ids are assigned in
// creation order) as DAG.Validate.
func (g *ImportedGraph) TopoOrder() ([]uint64, error) {
	indeg := make(map[uint64]int, len(g.Nodes))
	successors := make(map[uint64][]uint64, len(g.Nodes))
	for id := range g.Nodes {
		indeg[id] = 0
	}
	for id, n := range g.Nodes {
		indeg[id] += len(n.Deps)
		for _, dep := range n.Deps {
			successors[dep] = append(successors[dep], id)
		}
	}

	var ready []uint64
	for id, d := range indeg {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sortUint64s(ready)

	var order []uint64
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		var newlyReady []uint64
		for _, succ := range successors[id] {
			indeg[succ]--
			if indeg[succ] == 0 {
				newlyReady = append(newlyReady, succ)
			}
		}
		ready = append(ready, newlyReady...)
		sortUint64s(ready)
	}

	if len(order) != len(g.Nodes) {
		return nil, &CycleError{}
	}
	return order, nil
}

func sortUint64s(xs []uint64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}
