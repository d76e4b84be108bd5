package parslet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// RunnerOption configures a Runner at construction time.
type RunnerOption func(*Runner)

// WithPolicy sets the adaptive policy consulted once at the start of Run.
func WithPolicy(p Policy) RunnerOption {
	return func(r *Runner) { r.policy = p }
}

// WithCache attaches a ResultCache. Without one, every task body runs even
// for repeated identical invocations within the same run, and futures
// sharing a cache key are not coalesced by single-flight.
func WithCache(c *ResultCache) RunnerOption {
	return func(r *Runner) { r.cache = c }
}

// WithFileCache additionally persists cache writes to disk. The Runner only
// writes to the file cache; lookups consult the ResultCache alone, so a
// ResultCache miss is not served from disk.
func WithFileCache(fc *FileCache) RunnerOption {
	return func(r *Runner) { r.fileCache = fc }
}

// WithHistory attaches a best-effort archival sink for completed run
// records.
func WithHistory(h *HistoryStore) RunnerOption {
	return func(r *Runner) { r.history = h }
}

// WithWatchedPaths arms the file-change watcher: if any of these paths
// change during the run, cache writes are disabled for its remainder.
func WithWatchedPaths(paths ...string) RunnerOption {
	return func(r *Runner) { r.watchPaths = paths }
}

// WithDeadline bounds the run's wall-clock duration; exceeding it ends the
// run with DeadlineExceededError and marks unfinished futures SKIPPED.
func WithDeadline(d time.Duration) RunnerOption {
	return func(r *Runner) { r.deadline = d }
}

// WithCancelGracePeriod sets how long Run waits for in-flight tasks to drain
// once a run ends. Run still waits for every worker to return before it
// marks the remainder SKIPPED, so the grace period does not shorten the
// wait when in-flight tasks take longer than it.
func WithCancelGracePeriod(d time.Duration) RunnerOption {
	return func(r *Runner) { r.cancelGrace = d }
}

// WithLogger overrides the Runner's logger; default is slog.Default().
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithMeter attaches an OpenTelemetry meter the Runner records task
// duration/completion/failure/parallelism instruments against.
func WithMeter(m metric.Meter) RunnerOption {
	return func(r *Runner) { r.metrics = newRunnerMetrics(m) }
}

// WithTracer overrides the tracer used for per-run and per-task spans;
// default is otel.Tracer("parslet").
func WithTracer(t trace.Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

// WithNetworkGuard attaches the OfflineGuard a run pushes an offline scope
// onto when started with offline=true.
func WithNetworkGuard(g *OfflineGuard) RunnerOption {
	return func(r *Runner) { r.netGuard = g }
}

// Runner executes a validated DAG with a bounded worker pool, propagating
// failures and producing a terminal status per Future (SPEC_FULL.md §4.5).
type Runner struct {
	policy      Policy
	cache       *ResultCache
	fileCache   *FileCache
	history     *HistoryStore
	watchPaths  []string
	deadline    time.Duration
	cancelGrace time.Duration
	logger      *slog.Logger
	metrics     runnerMetrics
	tracer      trace.Tracer
	netGuard    *OfflineGuard

	Offline bool
	NoCache bool

	mu           sync.RWMutex
	taskStatuses map[FutureID]TaskState

	cancelCh chan struct{}
	cancelOnce sync.Once
}

// NewRunner builds a Runner with sane defaults: DefaultPolicy, no cache
// persistence, slog.Default(), and a no-op meter.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		policy:       DefaultPolicy(),
		logger:       slog.Default(),
		tracer:       otel.Tracer("parslet"),
		taskStatuses: make(map[FutureID]TaskState),
		cancelCh:     make(chan struct{}),
	}
	r.metrics = newRunnerMetrics(noopMeter())
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cancel requests the run stop seeding new work. Tasks already handed to
// the workers (including ones queued but not yet started) run to
// completion; once they have returned, every future not yet terminal is
// marked SKIPPED with a cancellation reason. Safe to call multiple times and
// from any goroutine.
func (r *Runner) Cancel() {
	r.cancelOnce.Do(func() { close(r.cancelCh) })
}

// TaskStatuses returns a snapshot of every Future's current state, safe
// for concurrent reading by a monitoring UI while a run is in flight.
func (r *Runner) TaskStatuses() map[FutureID]TaskState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[FutureID]TaskState, len(r.taskStatuses))
	for k, v := range r.taskStatuses {
		out[k] = v
	}
	return out
}

func (r *Runner) setStatus(id FutureID, s TaskState) {
	r.mu.Lock()
	r.taskStatuses[id] = s
	r.mu.Unlock()
}

// TaskBenchmark is one Future's entry in the run record: its terminal
// status plus timing and cache-hit information.
type TaskBenchmark struct {
	FutureID FutureID
	TaskName string
	Status   TaskState
	Start    time.Time
	End      time.Time
	Cached   bool
	Err      error
}

// RunResult is returned by Run: the terminal state of every Future plus
// whether the run as a whole ended in error (a fatal condition distinct
// from individual task failures under Failsafe).
type RunResult struct {
	WorkflowID string
	Started    time.Time
	Finished   time.Time
	Workers    int
	CacheHits  int
	Benchmarks []TaskBenchmark
	Err        error
}

type workItem struct {
	future *Future
}

type workOutcome struct {
	future *Future
}

// Run executes d to completion (or to a fatal condition: battery guard,
// deadline, cycle/validation failure, or cancellation). d must already be
// built; Run calls Validate itself if the DAG has not been validated yet.
func (r *Runner) Run(ctx context.Context, workflowID string, d *DAG) RunResult {
	started := time.Now()
	result := RunResult{WorkflowID: workflowID, Started: started}

	if !d.validated {
		if err := d.Validate(); err != nil {
			result.Err = err
			result.Finished = time.Now()
			return result
		}
	}

	ctx, span := r.tracer.Start(ctx, "run.execute", trace.WithAttributes(attribute.String("workflow.id", workflowID)))
	defer span.End()

	decision := r.policy.Decide()
	if decision.Abort {
		result.Err = decision.Err
		result.Finished = time.Now()
		return result
	}
	workers := decision.Workers
	result.Workers = workers
	batteryModeActive := decision.BatteryModeActive
	allowCacheWrites := !r.NoCache && decision.AllowCacheWrites

	if r.Offline && r.netGuard != nil {
		restore := r.netGuard.Push(true)
		defer restore()
	}

	watcher := newPathWatcher(r.watchPaths)
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if len(r.watchPaths) > 0 {
		go watcher.watch(watchCtx, r.logger)
	}

	var deadlineCh <-chan time.Time
	if r.deadline > 0 {
		timer := time.NewTimer(r.deadline)
		defer timer.Stop()
		deadlineCh = timer.C
	}

	for id := range d.Nodes {
		r.setStatus(id, StatePending)
	}

	indeg := make(map[FutureID]int, len(d.Nodes))
	for _, f := range d.Nodes {
		indeg[f.id] = len(f.Dependencies())
	}

	var readyMu sync.Mutex
	var ready []*Future
	for _, f := range d.Nodes {
		if indeg[f.id] == 0 {
			ready = append(ready, f)
		}
	}
	sortFuturesBySeq(ready)

	work := make(chan workItem, len(d.Nodes))
	outcomes := make(chan workOutcome, len(d.Nodes))

	var inFlight sync.WaitGroup
	var cacheHits int64
	var benchMu sync.Mutex
	var benchmarks []TaskBenchmark

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go r.worker(workerCtx, &wg, work, outcomes, &inFlight, allowCacheWrites, watcher, batteryModeActive, &cacheHits, &benchMu, &benchmarks)
	}

	pushReady := func() {
		readyMu.Lock()
		batch := ready
		ready = nil
		readyMu.Unlock()
		sortFuturesBySeq(batch)
		for _, f := range batch {
			r.setStatus(f.id, StateRunning)
			inFlight.Add(1)
			work <- workItem{future: f}
		}
	}
	pushReady()

	remaining := len(d.Nodes)
	var fatal error

	for remaining > 0 && fatal == nil {
		select {
		case <-r.cancelCh:
			fatal = &CancelledError{}
		case <-deadlineCh:
			fatal = &DeadlineExceededError{}
		case <-ctx.Done():
			fatal = ctx.Err()
		case oc := <-outcomes:
			remaining--
			f := oc.future
			for _, successor := range successorsOf(d, f) {
				indeg[successor.id]--
				if indeg[successor.id] == 0 {
					readyMu.Lock()
					ready = append(ready, successor)
					readyMu.Unlock()
				}
			}
			// Battery guard: re-checked before popping the next batch of
			// ready tasks, not just once at run start. Already-started
			// tasks finish; anything not yet dispatched is marked SKIPPED
			// once the loop exits below.
			if err := r.batteryGuard(); err != nil {
				fatal = err
			} else {
				pushReady()
			}
		}
	}

	close(work)
	if r.cancelGrace > 0 {
		drained := make(chan struct{})
		go func() { inFlight.Wait(); close(drained) }()
		select {
		case <-drained:
		case <-time.After(r.cancelGrace):
		}
	}
	stopWorkers()
	wg.Wait()

	if fatal != nil {
		r.skipRemaining(d, &benchMu, &benchmarks)
	}

	result.CacheHits = int(atomic.LoadInt64(&cacheHits))
	result.Benchmarks = benchmarks
	result.Err = fatal
	result.Finished = time.Now()

	if r.history != nil {
		states := make(map[FutureID]string, len(d.Nodes))
		for id, s := range r.TaskStatuses() {
			states[id] = string(s)
		}
		rec := RunRecord{
			WorkflowID: workflowID,
			StartedAt:  result.Started,
			FinishedAt: result.Finished,
			Workers:    workers,
			TaskStates: states,
			CacheHits:  result.CacheHits,
			Aborted:    fatal != nil,
		}
		if fatal != nil {
			rec.AbortReason = fatal.Error()
		}
		if err := r.history.Put(rec); err != nil {
			r.logger.Warn("run history archive failed", "error", err)
		}
	}

	return result
}

// batteryGuard re-reads the battery probe and aborts with BatteryLowError
// if the reading has fallen below the critical threshold since the policy
// was last consulted. Distinct from Policy.Decide's low-battery check,
// which only runs once at the start of Run to size the worker pool.
func (r *Runner) batteryGuard() error {
	p := r.policy
	if p.BatteryCriticalThreshold <= 0 || p.Battery == nil {
		return nil
	}
	pct, ok := p.Battery()
	if !ok || pct >= p.BatteryCriticalThreshold {
		return nil
	}
	return &BatteryLowError{Reading: pct}
}

func successorsOf(d *DAG, f *Future) []*Future {
	ids := d.edges[f.id]
	out := make([]*Future, 0, len(ids))
	for _, id := range ids {
		out = append(out, d.Nodes[id])
	}
	return out
}

// skipRemaining marks every Future still not in a terminal state SKIPPED,
// used once a fatal condition (cancel, deadline, battery) ends the run.
func (r *Runner) skipRemaining(d *DAG, benchMu *sync.Mutex, benchmarks *[]TaskBenchmark) {
	for id, f := range d.Nodes {
		if !f.State().Terminal() {
			f.complete(StateSkipped, nil, &CancelledError{Reason: "run ended"})
			r.setStatus(id, StateSkipped)
			benchMu.Lock()
			*benchmarks = append(*benchmarks, TaskBenchmark{FutureID: id, TaskName: f.Task().Name, Status: StateSkipped})
			benchMu.Unlock()
		}
	}
}

func (r *Runner) worker(
	ctx context.Context,
	wg *sync.WaitGroup,
	work <-chan workItem,
	outcomes chan<- workOutcome,
	inFlight *sync.WaitGroup,
	allowCacheWrites bool,
	watcher *pathWatcher,
	batteryModeActive bool,
	cacheHits *int64,
	benchMu *sync.Mutex,
	benchmarks *[]TaskBenchmark,
) {
	defer wg.Done()
	for item := range work {
		r.metrics.parallelism.Record(ctx, 1)
		r.executeOne(ctx, item.future, allowCacheWrites && !watcher.Dirty(), batteryModeActive, cacheHits, benchMu, benchmarks)
		r.metrics.parallelism.Record(ctx, -1)
		inFlight.Done()
		select {
		case outcomes <- workOutcome{future: item.future}:
		case <-ctx.Done():
		}
	}
}

// executeOne resolves dependencies, checks the cache, and runs (or skips)
// a single Future (SPEC_FULL.md §4.5 steps 2-5).
func (r *Runner) executeOne(
	ctx context.Context,
	f *Future,
	allowCacheWrites bool,
	batteryModeActive bool,
	cacheHits *int64,
	benchMu *sync.Mutex,
	benchmarks *[]TaskBenchmark,
) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "task.execute", withTraceAttrs(f.Task().Name, f.id))
	defer span.End()

	bench := TaskBenchmark{FutureID: f.id, TaskName: f.Task().Name, Start: start}
	record := func(status TaskState, err error, cached bool) {
		bench.Status, bench.Err, bench.Cached, bench.End = status, err, cached, time.Now()
		benchMu.Lock()
		*benchmarks = append(*benchmarks, bench)
		benchMu.Unlock()
		r.metrics.taskDuration.Record(ctx, durationMillis(start), metric.WithAttributes(attribute.String("task", f.Task().Name)))
	}

	resolvedArgs := make([]any, len(f.args))
	resolvedKwargs := make(map[string]any, len(f.kwargs))
	var upstreamFailure FutureID
	failed := false

	resolve := func(v any) any {
		dep, ok := v.(*Future)
		if !ok {
			return v
		}
		if !failed {
			switch dep.State() {
			case StateFailed, StateSkipped:
				failed = true
				upstreamFailure = dep.id
			}
		}
		val, _ := dep.Result(ctx)
		return val
	}
	for i, v := range f.args {
		resolvedArgs[i] = resolve(v)
	}
	for k, v := range f.kwargs {
		resolvedKwargs[k] = resolve(v)
	}

	if failed {
		f.transitionRunning()
		err := &UpstreamFailedError{Causing: upstreamFailure}
		f.complete(StateSkipped, nil, err)
		r.setStatus(f.id, StateSkipped)
		record(StateSkipped, err, false)
		return
	}

	f.transitionRunning()

	// Cache key is derived from the task's own declared arguments only;
	// the battery hint below is environmental, not part of the call's
	// identity, and must not perturb the cache key.
	key, cacheable := futureCacheKey(f, resolvedArgs, resolvedKwargs)
	resolvedKwargs["battery_mode_active"] = batteryModeActive

	useCache := cacheable && r.cache != nil && !r.NoCache
	if useCache {
		if value, ok := r.cache.Get(key, 0); ok {
			f.complete(StateCompleted, value, nil)
			r.setStatus(f.id, StateCompleted)
			atomic.AddInt64(cacheHits, 1)
			record(StateCompleted, nil, true)
			return
		}
	}

	run := func() (value any, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("task panicked: %v", p)
			}
		}()
		return f.task.fn(resolvedArgs, resolvedKwargs)
	}

	// SingleFlight stores its result in the cache, so it is only used when
	// cache writes are allowed for this run.
	var value any
	var err error
	if useCache && allowCacheWrites {
		value, err = r.cache.SingleFlight(key, 0, run)
	} else {
		value, err = run()
	}

	if err != nil {
		wrapped := &TaskBodyError{Original: err}
		f.complete(StateFailed, nil, wrapped)
		r.setStatus(f.id, StateFailed)
		r.metrics.taskFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("task", f.Task().Name)))
		r.logger.Error("task failed", "task", f.Task().Name, "future", f.id, "error", err)
		record(StateFailed, wrapped, false)
		return
	}

	f.complete(StateCompleted, value, nil)
	r.setStatus(f.id, StateCompleted)
	r.metrics.taskDone.Add(ctx, 1, metric.WithAttributes(attribute.String("task", f.Task().Name)))

	if cacheable && allowCacheWrites {
		if r.cache != nil {
			r.cache.Put(key, value)
		}
		if r.fileCache != nil {
			if err := r.fileCache.Put(key, value); err != nil {
				r.logger.Warn("file cache write failed", "error", err)
			}
		}
	}

	record(StateCompleted, nil, false)
}
