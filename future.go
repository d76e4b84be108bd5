package parslet

import (
	"context"
	"sort"
	"sync"
)

// FutureID is a monotonically increasing identifier assigned when a task
// wrapper is called. The counter belongs to the Engine that allocates the
// Future, so IDs are unique within one Engine; Futures created through
// different Engines can share an ID.
type FutureID uint64

// TaskState is the lifecycle state of a Future. Once a Future leaves
// StatePending it never returns to it, and once it reaches a terminal state
// (Completed, Failed, Skipped) the state never changes again.
type TaskState string

const (
	StatePending   TaskState = "PENDING"
	StateRunning   TaskState = "RUNNING"
	StateCompleted TaskState = "COMPLETED"
	StateFailed    TaskState = "FAILED"
	StateSkipped   TaskState = "SKIPPED"
)

func (s TaskState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateSkipped:
		return true
	default:
		return false
	}
}

// Future is a placeholder for a task invocation's eventual result and a
// node in the DAG. It is created synchronously by calling a registered
// task, mutated only by a Runner, and observed by callers through Result.
type Future struct {
	id     FutureID
	seq    uint64
	task   *TaskDef
	args   []any
	kwargs map[string]any
	deps   []*Future

	mu     sync.Mutex
	state  TaskState
	result any
	err    error
	done   chan struct{}

	cacheKey string
	cached   bool
}

// ID returns the Future's identifier, unique within its Engine.
func (f *Future) ID() FutureID { return f.id }

// Seq returns the Future's creation order, used as the scheduler's
// deterministic tie-break.
func (f *Future) Seq() uint64 { return f.seq }

// Task returns the registered task this Future was created from.
func (f *Future) Task() *TaskDef { return f.task }

// Dependencies returns the Futures this Future's arguments reference,
// ordered by creation order.
func (f *Future) Dependencies() []*Future { return f.deps }

// State returns the Future's current lifecycle state.
func (f *Future) State() TaskState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Result blocks until the Future reaches a terminal state, then returns its
// value (COMPLETED), or the error recorded with its terminal state: a
// *TaskBodyError wrapping the task's original error (FAILED), an
// *UpstreamFailedError when a dependency failed or was skipped (SKIPPED), or
// a *CancelledError when a fatal condition ended the run first (SKIPPED).
// ctx may be used to abandon the wait without affecting the Future itself.
func (f *Future) Result(ctx context.Context) (any, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case StateCompleted:
		return f.result, nil
	case StateFailed, StateSkipped:
		return nil, f.err
	default:
		return nil, nil
	}
}

// transitionRunning moves a PENDING future to RUNNING. Only the Runner
// calls this.
func (f *Future) transitionRunning() {
	f.mu.Lock()
	f.state = StateRunning
	f.mu.Unlock()
}

// complete terminates the future as COMPLETED with value, or FAILED/SKIPPED
// with err, exactly once.
func (f *Future) complete(state TaskState, value any, err error) {
	f.mu.Lock()
	if f.state.Terminal() {
		f.mu.Unlock()
		return
	}
	f.state = state
	f.result = value
	f.err = err
	f.mu.Unlock()
	close(f.done)
}

func sortFuturesBySeq(fs []*Future) {
	sort.Slice(fs, func(i, j int) bool { return fs[i].seq < fs[j].seq })
}
