// Package diagnostics turns engine exits and log output into actionable,
// user-readable diagnoses.
//
// The taxonomy is a fixed table keyed on exit code and output signatures.
// Each Diagnostic names its auto-fix, if any, so the supervisor can apply it
// on request. Diagnostics are kept in a capped in-memory Log and optionally
// persisted to the diagnostics table for history.
package diagnostics
