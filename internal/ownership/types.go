package ownership

import (
	"fmt"
	"time"

	"github.com/nerrad567/keymap-core/internal/inventory"
)

// Kind is the ownership class of a process.
type Kind string

const (
	KindUnknown  Kind = "unknown"
	KindOwned    Kind = "owned"
	KindExternal Kind = "external"
)

// Reasons recorded with owned processes.
const (
	ReasonLaunched     = "launched"
	ReasonPatternMatch = "pattern_match"
	ReasonGracePeriod  = "grace_period"
	ReasonAdopted      = "adopted"
)

// Ownership is the classification of one process. Reason is only set for
// owned processes.
type Ownership struct {
	Kind   Kind   `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

// Owned returns an owned classification with the given reason.
func Owned(reason string) Ownership { return Ownership{Kind: KindOwned, Reason: reason} }

// External and Unknown are the two non-owned classifications.
var (
	External = Ownership{Kind: KindExternal}
	Unknown  = Ownership{Kind: KindUnknown}
)

// IsOwned reports whether keymapd is responsible for the process.
func (o Ownership) IsOwned() bool { return o.Kind == KindOwned }

func (o Ownership) String() string {
	if o.Reason != "" {
		return fmt.Sprintf("%s(%s)", o.Kind, o.Reason)
	}
	return string(o.Kind)
}

// Entry is a registry row.
type Entry struct {
	PID          int
	Ownership    Ownership
	RegisteredAt time.Time
}

// Action is the recommended way to deal with external processes.
type Action string

const (
	ActionStartNew          Action = "startNew"
	ActionAdoptExternal     Action = "adoptExternal"
	ActionTerminateExternal Action = "terminateExternal"
	ActionUserDecision      Action = "userDecision"
)

// ConflictResolution describes the external engine processes found in one
// scan and what should happen to them.
type ConflictResolution struct {
	ExternalProcesses []inventory.ManagedProcess `json:"external_processes"`
	RecommendedAction Action                     `json:"recommended_action"`
	CanAutoResolve    bool                       `json:"can_auto_resolve"`
	Summary           string                     `json:"summary"`
}
