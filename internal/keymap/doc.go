// Package keymap owns the engine's configuration file.
//
// A save goes through a fixed pipeline:
//
//	generate → validate → (repair → re-validate) → commit
//	                                     └── still invalid → archive + safe default
//
// Generation is deterministic: the same mapping set always produces the same
// text, and Parse recovers the mapping set from it. Validation runs the
// engine in check mode against a throwaway copy, after a cheap local syntax
// check. Repair prefers the assist service and falls back to local rules.
//
// The live file only ever receives text that validated, or the hardcoded
// safe default. Rejected text is archived to the backups directory together
// with the mappings the user asked for, so nothing they entered is lost.
package keymap
