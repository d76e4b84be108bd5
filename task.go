package parslet

// TaskDef is a registered pure function: a name, a stable fingerprint
// derived from that name plus an optional version tag, and the underlying
// callable. Calling TaskDef does not execute fn; it allocates and returns a
// Future.
type TaskDef struct {
	Name        string
	Fingerprint string

	fn     Fn
	engine *Engine
}

// Call allocates a Future for an invocation of t with the given positional
// arguments. Any argument that is itself a *Future becomes a dependency
// edge; all other arguments are captured verbatim.
func (t *TaskDef) Call(args ...any) *Future {
	return t.CallKW(nil, args...)
}

// CallKW is like Call but additionally accepts named arguments. Future-typed
// values anywhere in args or kwargs become dependency edges.
func (t *TaskDef) CallKW(kwargs map[string]any, args ...any) *Future {
	id, seq := t.engine.allocFuture()
	f := &Future{
		id:     id,
		seq:    seq,
		task:   t,
		args:   append([]any(nil), args...),
		kwargs: copyKWArgs(kwargs),
		state:  StatePending,
		done:   make(chan struct{}),
	}
	f.deps = collectDependencies(f.args, f.kwargs)
	return f
}

// Func exposes the original function, for introspection.
func (t *TaskDef) Func() Fn { return t.fn }

func copyKWArgs(kwargs map[string]any) map[string]any {
	if kwargs == nil {
		return nil
	}
	out := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		out[k] = v
	}
	return out
}

// collectDependencies scans args and kwargs for *Future values and returns
// them deduplicated and sorted by creation order (Future.seq), which is
// the tie-break order the scheduler uses for deterministic dispatch.
func collectDependencies(args []any, kwargs map[string]any) []*Future {
	seen := make(map[FutureID]bool)
	var deps []*Future
	add := func(v any) {
		if dep, ok := v.(*Future); ok {
			if !seen[dep.id] {
				seen[dep.id] = true
				deps = append(deps, dep)
			}
		}
	}
	for _, v := range args {
		add(v)
	}
	for _, v := range kwargs {
		add(v)
	}
	sortFuturesBySeq(deps)
	return deps
}
