package parslet

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func intArg(args []any, i int) int {
	v, _ := args[i].(int)
	return v
}

func TestRunnerLinearChain(t *testing.T) {
	e := NewEngine()
	a, _ := e.Register("a", func(args []any, kwargs map[string]any) (any, error) { return 1, nil })
	b, _ := e.Register("b", func(args []any, kwargs map[string]any) (any, error) { return intArg(args, 0) + 1, nil })
	c, _ := e.Register("c", func(args []any, kwargs map[string]any) (any, error) { return intArg(args, 0) * 10, nil })

	af := a.Call()
	bf := b.Call(af)
	cf := c.Call(bf)

	d, err := NewDAG(cf)
	if err != nil {
		t.Fatalf("NewDAG: %v", err)
	}
	runner := NewRunner(WithCache(NewResultCache()))
	result := runner.Run(context.Background(), "linear", d)
	if result.Err != nil {
		t.Fatalf("run failed: %v", result.Err)
	}

	value, err := cf.Result(context.Background())
	if err != nil {
		t.Fatalf("c result: %v", err)
	}
	if value != 20 {
		t.Fatalf("expected 20, got %v", value)
	}
	for _, f := range []*Future{af, bf, cf} {
		if f.State() != StateCompleted {
			t.Fatalf("expected future %d COMPLETED, got %s", f.ID(), f.State())
		}
	}

	order := d.TopoOrder()
	want := []FutureID{af.ID(), bf.ID(), cf.ID()}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("expected topo order %v, got %v", want, order)
		}
	}
}

func TestRunnerDiamondSharesUpstreamExecution(t *testing.T) {
	e := NewEngine()
	var rCalls int64
	r, _ := e.Register("r", func(args []any, kwargs map[string]any) (any, error) {
		atomic.AddInt64(&rCalls, 1)
		return 2, nil
	})
	l, _ := e.Register("l", func(args []any, kwargs map[string]any) (any, error) { return intArg(args, 0) + 1, nil })
	m, _ := e.Register("m", func(args []any, kwargs map[string]any) (any, error) { return intArg(args, 0) * 3, nil })
	j, _ := e.Register("j", func(args []any, kwargs map[string]any) (any, error) { return intArg(args, 0) + intArg(args, 1), nil })

	rf := r.Call()
	lf := l.Call(rf)
	mf := m.Call(rf)
	jf := j.Call(lf, mf)

	d, _ := NewDAG(jf)
	runner := NewRunner(WithCache(NewResultCache()))
	result := runner.Run(context.Background(), "diamond", d)
	if result.Err != nil {
		t.Fatalf("run failed: %v", result.Err)
	}

	value, _ := jf.Result(context.Background())
	if value != 9 {
		t.Fatalf("expected 9, got %v", value)
	}
	if got := atomic.LoadInt64(&rCalls); got != 1 {
		t.Fatalf("expected r to execute exactly once, got %d", got)
	}
}

func TestRunnerFailurePropagation(t *testing.T) {
	e := NewEngine()
	a, _ := e.Register("a", func(args []any, kwargs map[string]any) (any, error) { return nil, errors.New("boom") })
	b, _ := e.Register("b", func(args []any, kwargs map[string]any) (any, error) { return intArg(args, 0) + 1, nil })
	c, _ := e.Register("c", func(args []any, kwargs map[string]any) (any, error) { return 7, nil })

	af := a.Call()
	bf := b.Call(af)
	cf := c.Call()

	d, _ := NewDAG(bf, cf)
	runner := NewRunner(WithCache(NewResultCache()))
	runner.Run(context.Background(), "failure", d)

	if bf.State() != StateSkipped {
		t.Fatalf("expected b SKIPPED, got %s", bf.State())
	}
	_, err := bf.Result(context.Background())
	upErr, ok := err.(*UpstreamFailedError)
	if !ok {
		t.Fatalf("expected *UpstreamFailedError, got %v", err)
	}
	if upErr.Causing != af.ID() {
		t.Fatalf("expected upstream failure naming a, got %d", upErr.Causing)
	}

	if cf.State() != StateCompleted {
		t.Fatalf("expected independent branch c to complete, got %s", cf.State())
	}
	value, _ := cf.Result(context.Background())
	if value != 7 {
		t.Fatalf("expected c=7, got %v", value)
	}
	if af.State() != StateFailed {
		t.Fatalf("expected a FAILED, got %s", af.State())
	}
}

func TestRunnerBatteryAdaptiveBehavior(t *testing.T) {
	e := NewEngine()
	task, _ := e.Register("lightweight_branch", func(args []any, kwargs map[string]any) (any, error) {
		if active, _ := kwargs["battery_mode_active"].(bool); active {
			return "lightweight", nil
		}
		return "full", nil
	})
	f := task.Call()
	d, _ := NewDAG(f)

	policy := DefaultPolicy()
	policy.MaxWorkers = 2
	policy.BatteryLowThreshold = 40
	policy.Battery = func() (int, bool) { return 20, true }

	runner := NewRunner(WithPolicy(policy), WithCache(NewResultCache()))
	result := runner.Run(context.Background(), "battery", d)
	if result.Err != nil {
		t.Fatalf("run failed: %v", result.Err)
	}
	if result.Workers != 1 {
		t.Fatalf("expected 1 worker under low battery, got %d", result.Workers)
	}
	value, _ := f.Result(context.Background())
	if value != "lightweight" {
		t.Fatalf("expected lightweight result, got %v", value)
	}
}

func TestRunnerBatteryCriticalGuardAbortsMidRun(t *testing.T) {
	e := NewEngine()
	a, _ := e.Register("a", func(args []any, kwargs map[string]any) (any, error) { return 1, nil })
	b, _ := e.Register("b", func(args []any, kwargs map[string]any) (any, error) { return intArg(args, 0) + 1, nil })

	af := a.Call()
	bf := b.Call(af)
	d, _ := NewDAG(bf)

	var calls int64
	policy := DefaultPolicy()
	policy.MaxWorkers = 1
	policy.BatteryLowThreshold = 0
	policy.BatteryCriticalThreshold = 20
	policy.Battery = func() (int, bool) {
		if atomic.AddInt64(&calls, 1) == 1 {
			return 50, true
		}
		return 10, true
	}

	runner := NewRunner(WithPolicy(policy), WithCache(NewResultCache()))
	result := runner.Run(context.Background(), "battery-critical", d)

	if result.Err == nil {
		t.Fatalf("expected the run to abort once the battery drops below the critical threshold")
	}
	if _, ok := result.Err.(*BatteryLowError); !ok {
		t.Fatalf("expected *BatteryLowError, got %v", result.Err)
	}
	if af.State() != StateCompleted {
		t.Fatalf("expected the already-started task a to finish, got %s", af.State())
	}
	if bf.State() != StateSkipped {
		t.Fatalf("expected b to be skipped once the battery guard fires, got %s", bf.State())
	}
}

func TestRunnerSingleFlightAcrossTenFutures(t *testing.T) {
	e := NewEngine()
	var heavyCalls int64
	heavy, _ := e.Register("heavy", func(args []any, kwargs map[string]any) (any, error) {
		atomic.AddInt64(&heavyCalls, 1)
		return intArg(args, 0) * 2, nil
	})

	wrapper, _ := e.Register("wrap", func(args []any, kwargs map[string]any) (any, error) {
		return args[0], nil
	})

	terminals := make([]*Future, 10)
	for i := 0; i < 10; i++ {
		hf := heavy.Call(5)
		terminals[i] = wrapper.Call(hf)
	}

	d, err := NewDAG(terminals...)
	if err != nil {
		t.Fatalf("NewDAG: %v", err)
	}
	runner := NewRunner(WithCache(NewResultCache()))
	result := runner.Run(context.Background(), "singleflight", d)
	if result.Err != nil {
		t.Fatalf("run failed: %v", result.Err)
	}

	if got := atomic.LoadInt64(&heavyCalls); got != 1 {
		t.Fatalf("expected heavy invoked exactly once, got %d", got)
	}
	for i, f := range terminals {
		if f.State() != StateCompleted {
			t.Fatalf("terminal %d not COMPLETED: %s", i, f.State())
		}
		value, _ := f.Result(context.Background())
		if value != 10 {
			t.Fatalf("terminal %d = %v, want 10", i, value)
		}
	}
}

func TestRunnerCacheIdempotenceAcrossRuns(t *testing.T) {
	e := NewEngine()
	var calls int64
	task, _ := e.Register("pure", func(args []any, kwargs map[string]any) (any, error) {
		atomic.AddInt64(&calls, 1)
		return intArg(args, 0) + 1, nil
	})

	cache := NewResultCache()

	f1 := task.Call(41)
	d1, _ := NewDAG(f1)
	runner1 := NewRunner(WithCache(cache))
	if res := runner1.Run(context.Background(), "run1", d1); res.Err != nil {
		t.Fatalf("run1 failed: %v", res.Err)
	}

	e2 := NewEngine(WithAllowRedefine())
	task2, _ := e2.RegisterVersioned("pure", "", func(args []any, kwargs map[string]any) (any, error) {
		atomic.AddInt64(&calls, 1)
		return intArg(args, 0) + 1, nil
	})
	f2 := task2.Call(41)
	d2, _ := NewDAG(f2)
	runner2 := NewRunner(WithCache(cache))
	res2 := runner2.Run(context.Background(), "run2", d2)
	if res2.Err != nil {
		t.Fatalf("run2 failed: %v", res2.Err)
	}
	if res2.CacheHits != 1 {
		t.Fatalf("expected warm-cache run to register a cache hit, got %d", res2.CacheHits)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("expected task body invoked exactly once across both runs, got %d", got)
	}
	v1, _ := f1.Result(context.Background())
	v2, _ := f2.Result(context.Background())
	if v1 != v2 {
		t.Fatalf("expected identical results across runs, got %v and %v", v1, v2)
	}
}
