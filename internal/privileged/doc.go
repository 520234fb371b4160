// Package privileged runs shell commands with elevated rights.
//
// Three modes are supported: "direct" runs the command as the current user
// (for setups where keymapd already has the rights it needs), "sudo" uses
// non-interactive sudo, and "osascript" shows the macOS administrator
// prompt. A user dismissing the prompt is ErrUserCancelled, distinct from a
// command that ran and failed.
package privileged
