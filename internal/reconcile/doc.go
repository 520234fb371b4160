// Package reconcile compares what is running against what should be
// running and closes the gap.
//
// Each Reconcile call scans the process table, classifies every engine
// process, computes a fresh plan and executes it action by action. Plans
// are never cached. A launch is only considered successful once an owned
// engine process is observed after the settle delay.
package reconcile
