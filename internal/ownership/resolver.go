package ownership

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nerrad567/keymap-core/internal/inventory"
)

// Resolver inspects the process table for engine instances keymapd does
// not own and recommends how to proceed.
type Resolver struct {
	lister     inventory.Lister
	classifier *Classifier
	engineName string
}

// NewResolver creates a Resolver. engineName is the bare executable name of
// the engine; external processes with any other executable name are treated
// as foreign tooling.
func NewResolver(lister inventory.Lister, classifier *Classifier, engineName string) *Resolver {
	return &Resolver{lister: lister, classifier: classifier, engineName: engineName}
}

// DetectConflicts scans, classifies and returns a resolution. The only
// error is a failed scan.
func (r *Resolver) DetectConflicts(ctx context.Context) (ConflictResolution, error) {
	procs, err := r.lister.List(ctx)
	if err != nil {
		return ConflictResolution{}, fmt.Errorf("scanning for conflicts: %w", err)
	}
	_, external := r.classifier.Partition(ctx, procs)
	return Resolve(external, r.classifier.Signatures(), r.engineName), nil
}

// Resolve is the pure decision behind DetectConflicts. Identical inputs in
// any order give identical results.
func Resolve(external []inventory.ManagedProcess, signatures *SignatureSet, engineName string) ConflictResolution {
	ext := make([]inventory.ManagedProcess, len(external))
	copy(ext, external)
	sort.Slice(ext, func(i, j int) bool { return ext[i].PID < ext[j].PID })

	res := ConflictResolution{ExternalProcesses: ext}

	switch {
	case len(ext) == 0:
		res.RecommendedAction = ActionStartNew
		res.CanAutoResolve = true
		res.Summary = "No conflicting engine processes."

	case len(ext) == 1 && matchesSignature(signatures, ext[0]):
		res.RecommendedAction = ActionAdoptExternal
		res.CanAutoResolve = true
		res.Summary = fmt.Sprintf("Engine process %d was started by keymapd earlier and will be adopted.", ext[0].PID)

	case allEngine(ext, engineName):
		res.RecommendedAction = ActionTerminateExternal
		res.CanAutoResolve = true
		res.Summary = fmt.Sprintf("Stray engine instances will be stopped: %s.", describe(ext))

	default:
		res.RecommendedAction = ActionUserDecision
		res.CanAutoResolve = false
		res.Summary = fmt.Sprintf("Engine processes started by other software are running: %s. Quit that software or allow keymapd to stop them.", describe(ext))
	}
	return res
}

func matchesSignature(signatures *SignatureSet, p inventory.ManagedProcess) bool {
	_, ok := signatures.Match(p.CommandLine)
	return ok
}

func allEngine(procs []inventory.ManagedProcess, engineName string) bool {
	for _, p := range procs {
		if p.ExecutableName != engineName {
			return false
		}
	}
	return true
}

func describe(procs []inventory.ManagedProcess) string {
	parts := make([]string, 0, len(procs))
	for _, p := range procs {
		parts = append(parts, fmt.Sprintf("%s (pid %d)", p.ExecutableName, p.PID))
	}
	return strings.Join(parts, ", ")
}
