// Package inventory enumerates engine processes on the host and terminates
// them.
//
// A Scanner lists every process whose executable name equals the engine's
// name, or whose command line mentions it. The second rule deliberately
// catches wrappers (sudo, shells, tray helpers) so conflict resolution can
// tell a bare engine instance from foreign tooling that launched one.
//
// Results are snapshots: a ManagedProcess is rebuilt on every scan and is
// never persisted.
package inventory
