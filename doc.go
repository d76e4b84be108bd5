// Package parslet is a task-graph execution engine for resource-constrained
// edge environments. Tasks are registered pure functions; calling a
// registered task does not execute it but returns a Future placeholder.
// Futures passed as arguments to other tasks record dependency edges. A DAG
// collects terminal futures, discovers and validates the graph, and hands it
// to a Runner that schedules execution across a worker pool honoring
// battery/RAM-aware policy and a content-addressed result cache.
package parslet
