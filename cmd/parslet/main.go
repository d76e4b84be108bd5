// Command parslet is a thin front-end over the parslet engine: it loads a
// hard-coded demo workflow, wires runner options from flags, and prints a
// summary of the run. It is deliberately not part of the core (SPEC_FULL.md
// §6): a real deployment would load workflows dynamically, but Go has no
// stable equivalent of the source's "import a module by path" loader, so
// this binary exists mainly to exercise the library end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kanegraffiti/Parslet"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "run":
		os.Exit(runCmd(os.Args[2:]))
	case "diagnose":
		os.Exit(diagnoseCmd(os.Args[2:]))
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: parslet <run|diagnose> [flags]")
}

func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	monitor := fs.Bool("monitor", false, "print live task statuses while the run is in flight")
	batteryMode := fs.Bool("battery-mode", false, "force battery_mode_active=true regardless of probe reading")
	failsafeMode := fs.Bool("failsafe-mode", false, "degrade to one worker and continue past task failures")
	offline := fs.Bool("offline", false, "disable network access for the duration of the run")
	simulate := fs.Bool("simulate", false, "print the DAG outline and exit without executing")
	noCache := fs.Bool("no-cache", false, "disable result cache reads and writes")
	jsonLogs := fs.Bool("json-logs", false, "emit structured logs as JSON")
	historyPath := fs.String("history", "", "path to a BoltDB file archiving this run's record")
	fs.Parse(args)

	if *jsonLogs {
		os.Setenv("PARSLET_JSON_LOG", "1")
	}
	logger := parslet.InitLogging("cmd")

	engine := parslet.NewEngine()
	terminals := buildBatteryAwareDemo(engine)

	dag, err := parslet.NewDAG(terminals...)
	if err != nil {
		logger.Error("failed to build dag", "error", err)
		return 1
	}
	if err := dag.Validate(); err != nil {
		logger.Error("dag validation failed", "error", err)
		return 1
	}

	if *simulate {
		fmt.Print(dag.Draw())
		return 0
	}

	opts := []parslet.RunnerOption{
		parslet.WithCache(parslet.NewResultCache()),
		parslet.WithLogger(logger),
	}
	policy := parslet.DefaultPolicy()
	policy.Failsafe = *failsafeMode
	if *batteryMode {
		policy.Battery = func() (int, bool) { return policy.BatteryLowThreshold - 1, true }
	}
	opts = append(opts, parslet.WithPolicy(policy))

	if *historyPath != "" {
		hs, err := parslet.OpenHistoryStore(*historyPath)
		if err != nil {
			logger.Warn("history store unavailable, run will not be archived", "error", err)
		} else {
			defer hs.Close()
			opts = append(opts, parslet.WithHistory(hs))
		}
	}

	runner := parslet.NewRunner(opts...)
	runner.Offline = *offline
	runner.NoCache = *noCache

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		runner.Cancel()
	}()

	if *monitor {
		go monitorLoop(runner)
	}

	result := runner.Run(ctx, "cli-demo-run", dag)

	exit := 0
	if result.Err != nil {
		logger.Error("run ended fatally", "error", result.Err)
		exit = 1
	}
	for _, b := range result.Benchmarks {
		logger.Info("task finished", "task", b.TaskName, "future", b.FutureID, "status", b.Status, "cached", b.Cached)
		if b.Status == parslet.StateFailed {
			exit = 1
		}
	}
	fmt.Printf("workers=%d cache_hits=%d duration=%s\n", result.Workers, result.CacheHits, result.Finished.Sub(result.Started))
	return exit
}

func monitorLoop(r *parslet.Runner) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		for id, state := range r.TaskStatuses() {
			fmt.Printf("future#%d -> %s\n", id, state)
		}
	}
}

func diagnoseCmd(args []string) int {
	fs := flag.NewFlagSet("diagnose", flag.ExitOnError)
	historyPath := fs.String("history", "", "path to a BoltDB file to read recent run records from")
	fs.Parse(args)

	probe := parslet.DefaultPolicy()
	battLevel, battOK := probe.Battery()
	ramMB, ramOK := probe.RAM()
	fmt.Printf("battery: %d%% (available=%v)\n", battLevel, battOK)
	fmt.Printf("ram headroom: %d MB (available=%v)\n", ramMB, ramOK)

	if *historyPath != "" {
		hs, err := parslet.OpenHistoryStore(*historyPath)
		if err != nil {
			slog.Error("failed to open history store", "error", err)
			return 1
		}
		defer hs.Close()
		recent, err := hs.Recent(10)
		if err != nil {
			slog.Error("failed to read history", "error", err)
			return 1
		}
		for _, rec := range recent {
			fmt.Printf("run %s: workers=%d cache_hits=%d aborted=%v\n", rec.WorkflowID, rec.Workers, rec.CacheHits, rec.Aborted)
		}
	}
	return 0
}

// buildBatteryAwareDemo ports the battery-aware demo workflow: check the
// battery level, branch between a quick and a full computation, then
// persist the result. Mirrors original_source/Hackathon/battery_aware_demo.py.
func buildBatteryAwareDemo(engine *parslet.Engine) []*parslet.Future {
	checkBattery := engine.MustRegister("check_battery", func(args []any, kwargs map[string]any) (any, error) {
		policy := parslet.DefaultPolicy()
		level, ok := policy.Battery()
		if !ok {
			slog.Info("battery level not available, assuming 100%")
			return 100, nil
		}
		slog.Info("battery reading", "percent", level)
		return level, nil
	})

	compute := engine.MustRegister("compute", func(args []any, kwargs map[string]any) (any, error) {
		batt, _ := args[0].(int)
		if batt < 50 {
			slog.Info("low battery, running quick analysis only")
			return "quick-result", nil
		}
		slog.Info("sufficient battery, performing full analysis")
		return "full-result", nil
	})

	save := engine.MustRegister("save", func(args []any, kwargs map[string]any) (any, error) {
		result, _ := args[0].(string)
		dir := "Hackathon/Results"
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		path := dir + "/result.txt"
		if err := os.WriteFile(path, []byte(result), 0o644); err != nil {
			return nil, err
		}
		slog.Info("saved result", "path", path)
		return path, nil
	})

	battF := checkBattery.Call()
	compF := compute.Call(battF)
	saveF := save.Call(compF)
	return []*parslet.Future{saveF}
}
