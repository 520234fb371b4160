package keymap

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidMapping is returned when a mapping fails field validation.
	ErrInvalidMapping = errors.New("invalid key mapping")

	// ErrInvalidDocument is returned when a mapping document fails schema validation.
	ErrInvalidDocument = errors.New("invalid mapping document")

	// ErrRepairFailed matches every *RepairFailedError.
	ErrRepairFailed = errors.New("configuration repair failed")

	// ErrParse is returned when configuration text cannot be parsed.
	ErrParse = errors.New("cannot parse configuration")

	// ErrCheckUnavailable is returned when the engine's check mode cannot run.
	ErrCheckUnavailable = errors.New("engine check mode unavailable")
)

// RepairFailedError carries everything needed to show the user what went
// wrong: the generated text, the repair attempt and both error lists. The
// safe default has already been committed when this error is returned.
type RepairFailedError struct {
	OriginalText   string   `json:"original_text"`
	RepairedText   string   `json:"repaired_text"`
	OriginalErrors []string `json:"original_errors"`
	RepairErrors   []string `json:"repair_errors"`
	BackupPath     string   `json:"backup_path,omitempty"`
}

func (e *RepairFailedError) Error() string {
	msg := "configuration rejected and automatic repair failed"
	if len(e.RepairErrors) > 0 {
		msg += ": " + strings.Join(e.RepairErrors, "; ")
	} else if len(e.OriginalErrors) > 0 {
		msg += ": " + strings.Join(e.OriginalErrors, "; ")
	}
	if e.BackupPath != "" {
		msg += fmt.Sprintf(" (saved to %s)", e.BackupPath)
	}
	return msg
}

// Is makes errors.Is(err, ErrRepairFailed) true.
func (e *RepairFailedError) Is(target error) bool {
	return target == ErrRepairFailed
}
