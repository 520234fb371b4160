package diagnostics

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Severity grades a diagnostic.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Category groups diagnostics by the kind of remedy they need.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryPermissions   Category = "permissions"
	CategoryProcess       Category = "process"
	CategorySystem        Category = "system"
	CategoryConflict      Category = "conflict"
)

// Fix names the automatic remedy for a diagnostic.
type Fix string

const (
	FixNone Fix = ""
	// FixRelaunch starts the engine again.
	FixRelaunch Fix = "relaunch"
	// FixResetConfiguration commits the safe default configuration.
	FixResetConfiguration Fix = "reset_configuration"
	// FixDriverRecovery runs the driver recovery procedure.
	FixDriverRecovery Fix = "driver_recovery"
)

// Diagnostic is one classified failure.
type Diagnostic struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	Severity         Severity  `json:"severity"`
	Category         Category  `json:"category"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	TechnicalDetails string    `json:"technical_details,omitempty"`
	SuggestedAction  string    `json:"suggested_action,omitempty"`
	CanAutoFix       bool      `json:"can_auto_fix"`
	Fix              Fix       `json:"fix,omitempty"`
}

// New creates a diagnostic stamped with a fresh ID and the current time.
func New(sev Severity, cat Category, title, description string) Diagnostic {
	return Diagnostic{
		ID:          ulid.Make().String(),
		Timestamp:   time.Now().UTC(),
		Severity:    sev,
		Category:    cat,
		Title:       title,
		Description: description,
	}
}

// WithDetails sets the technical details.
func (d Diagnostic) WithDetails(details string) Diagnostic {
	d.TechnicalDetails = details
	return d
}

// WithAction sets the suggested action.
func (d Diagnostic) WithAction(action string) Diagnostic {
	d.SuggestedAction = action
	return d
}

// WithFix marks the diagnostic as auto-fixable with fix.
func (d Diagnostic) WithFix(fix Fix) Diagnostic {
	d.Fix = fix
	d.CanAutoFix = fix != FixNone
	return d
}
