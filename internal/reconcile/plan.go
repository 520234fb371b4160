package reconcile

import (
	"fmt"

	"github.com/nerrad567/keymap-core/internal/inventory"
)

// IntentKind is the supervisor's desire for the engine.
type IntentKind string

const (
	IntentShouldRun  IntentKind = "shouldRun"
	IntentShouldStop IntentKind = "shouldStop"
	IntentDontCare   IntentKind = "dontCare"
)

// Intent is what should be true about the engine. Source records who asked
// for it (boot, user, retry, recovery...).
type Intent struct {
	Kind   IntentKind `json:"kind"`
	Source string     `json:"source,omitempty"`
}

// ShouldRun returns a run intent.
func ShouldRun(source string) Intent { return Intent{Kind: IntentShouldRun, Source: source} }

// ShouldStop returns a stop intent.
func ShouldStop() Intent { return Intent{Kind: IntentShouldStop} }

// DontCare returns an intent that leaves everything as it is.
func DontCare() Intent { return Intent{Kind: IntentDontCare} }

// ActionKind enumerates plan steps.
type ActionKind string

const (
	ActionNone            ActionKind = "none"
	ActionStartNew        ActionKind = "startNew"
	ActionAdoptExisting   ActionKind = "adoptExisting"
	ActionResolveConflict ActionKind = "resolveConflict"
	ActionStop            ActionKind = "stop"
)

// Action is one plan step. Processes holds the target of adopt and stop
// (one element) or every process of a conflict.
type Action struct {
	Kind      ActionKind                 `json:"kind"`
	Processes []inventory.ManagedProcess `json:"processes,omitempty"`
}

func (a Action) String() string {
	if len(a.Processes) == 0 {
		return string(a.Kind)
	}
	pids := make([]int, len(a.Processes))
	for i, p := range a.Processes {
		pids[i] = p.PID
	}
	return fmt.Sprintf("%s%v", a.Kind, pids)
}

// Plan maps an intent and a classified inventory to an ordered list of
// actions. It is a pure function.
//
// External processes are never stopped by a stop intent; only a run intent
// with no owned process touches them, and then through ResolveConflict.
func Plan(intent Intent, owned, external []inventory.ManagedProcess) []Action {
	switch intent.Kind {
	case IntentShouldRun:
		switch {
		case len(owned) > 0:
			return []Action{{Kind: ActionAdoptExisting, Processes: owned[:1]}}
		case len(external) > 0:
			return []Action{{Kind: ActionResolveConflict, Processes: external}}
		default:
			return []Action{{Kind: ActionStartNew}}
		}

	case IntentShouldStop:
		if len(owned) == 0 {
			return []Action{{Kind: ActionNone}}
		}
		actions := make([]Action, 0, len(owned))
		for _, p := range owned {
			actions = append(actions, Action{Kind: ActionStop, Processes: []inventory.ManagedProcess{p}})
		}
		return actions

	default:
		return []Action{{Kind: ActionNone}}
	}
}
