// Package supervisor is the lifecycle controller for the remapping engine.
//
// It exposes four states to callers:
//
//	starting ──► running ──► needsHelp
//	    ▲           │            │
//	    └───────────┴────────────┘      stopped ◄── explicit Stop
//
// Every command and every background event is handled by one goroutine
// (Run), so a status update and a start or stop request never interleave.
// Health ticks, the needsHelp poll, engine exits, log-watch triggers and
// recovery completions reach the loop as events; callers read a published
// Status snapshot without touching the loop.
//
// Automatic starts are bounded by two retry budgets: one for consecutive
// failed launches and one for retries after an external fix was detected.
// An exhausted budget is a permanent escalation to needsHelp until a user
// command resets it.
package supervisor
