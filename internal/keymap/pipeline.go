package keymap

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// Fingerprint returns the hex BLAKE3 digest of configuration text.
func Fingerprint(text string) string {
	sum := blake3.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// PipelineConfig holds the Pipeline's collaborators.
type PipelineConfig struct {
	// Path is the live configuration file.
	Path string
	// BackupDir receives archived configurations that failed repair.
	BackupDir string
	// Checker validates text before it is committed. Nil means SyntaxChecker.
	Checker Checker
	// Repairer is consulted when generated text is invalid. Nil disables repair.
	Repairer Repairer
}

// SaveResult describes a successful Save.
type SaveResult struct {
	Fingerprint string       `json:"fingerprint"`
	Mappings    []KeyMapping `json:"mappings"`
	Repaired    bool         `json:"repaired"`
	// Changed is false when the text matched what was already on disk.
	Changed bool `json:"changed"`
}

// Pipeline turns mapping sets into validated configuration on disk. The
// live file only ever receives text that passed validation, or the safe
// default.
type Pipeline struct {
	path      string
	backupDir string
	checker   Checker
	repairer  Repairer
	logger    Logger
	now       func() time.Time

	mu          sync.Mutex
	mappings    []KeyMapping
	fingerprint string
	lastUpdate  time.Time
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	checker := cfg.Checker
	if checker == nil {
		checker = SyntaxChecker{}
	}
	return &Pipeline{
		path:      cfg.Path,
		backupDir: cfg.BackupDir,
		checker:   checker,
		repairer:  cfg.Repairer,
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger for the pipeline.
func (p *Pipeline) SetLogger(l Logger) {
	if l != nil {
		p.logger = l
	}
}

// Path returns the live configuration path.
func (p *Pipeline) Path() string { return p.path }

// Load reads the live configuration and recovers its mapping set. A missing
// file is not an error. Text that cannot be parsed leaves the mapping set
// empty but still records the fingerprint.
func (p *Pipeline) Load(_ context.Context) error {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}

	text := string(data)
	mappings, perr := Parse(text)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.fingerprint = Fingerprint(text)
	if perr != nil {
		p.logger.Warn("live configuration not generated by keymapd, mapping set unknown",
			"path", p.path, "error", perr)
		p.mappings = nil
		return nil
	}
	p.mappings = mappings
	return nil
}

// EnsureConfig commits the safe default when no configuration exists.
func (p *Pipeline) EnsureConfig(ctx context.Context) error {
	if _, err := os.Stat(p.path); err == nil {
		return p.Load(ctx)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking configuration: %w", err)
	}
	p.logger.Info("no configuration found, writing safe default", "path", p.path)
	return p.Reset(ctx)
}

// Save normalises, generates, validates and commits mappings. When the
// generated text is invalid a repair is attempted; when that also fails
// the text is archived, the safe default is committed and a
// *RepairFailedError is returned.
//
// Parameters:
//   - ctx: Context for validation and repair
//   - mappings: The requested mapping set; duplicates resolve last-write-wins
//
// Returns:
//   - SaveResult: Fingerprint and committed mappings, with Repaired and Changed flags
//   - error: ErrInvalidMapping for bad input, *RepairFailedError when the
//     safe default was committed instead
func (p *Pipeline) Save(ctx context.Context, mappings []KeyMapping) (SaveResult, error) {
	norm, err := Normalize(mappings)
	if err != nil {
		return SaveResult{}, err
	}
	text := render(norm)

	res, err := p.checker.Check(ctx, text)
	if err != nil {
		return SaveResult{}, fmt.Errorf("validating configuration: %w", err)
	}
	if res.Valid {
		changed, err := p.commit(text, norm)
		if err != nil {
			return SaveResult{}, err
		}
		return SaveResult{Fingerprint: Fingerprint(text), Mappings: norm, Changed: changed}, nil
	}

	p.logger.Warn("generated configuration rejected, attempting repair", "errors", res.Errors)

	failure := &RepairFailedError{OriginalText: text, OriginalErrors: res.Errors}
	if p.repairer != nil {
		repaired, rerr := p.repairer.Repair(ctx, RepairRequest{Text: text, Errors: res.Errors, Mappings: norm})
		if rerr != nil {
			failure.RepairErrors = []string{rerr.Error()}
		} else {
			failure.RepairedText = repaired
			rres, cerr := p.checker.Check(ctx, repaired)
			switch {
			case cerr != nil:
				failure.RepairErrors = []string{cerr.Error()}
			case rres.Valid:
				committed := norm
				if parsed, perr := Parse(repaired); perr == nil {
					committed = parsed
				}
				changed, err := p.commit(repaired, committed)
				if err != nil {
					return SaveResult{}, err
				}
				p.logger.Info("repaired configuration committed", "fingerprint", Fingerprint(repaired))
				return SaveResult{Fingerprint: Fingerprint(repaired), Mappings: committed, Repaired: true, Changed: changed}, nil
			default:
				failure.RepairErrors = rres.Errors
			}
		}
	} else {
		failure.RepairErrors = []string{"no repairer configured"}
	}

	backup, err := Archive(p.backupDir, text, BackupRecord{
		CreatedAt:      p.now(),
		Mappings:       norm,
		OriginalErrors: failure.OriginalErrors,
		RepairErrors:   failure.RepairErrors,
		RepairedText:   failure.RepairedText,
	})
	if err != nil {
		p.logger.Error("archiving rejected configuration failed", "error", err)
	} else {
		failure.BackupPath = backup
	}

	if err := p.Reset(ctx); err != nil {
		return SaveResult{}, fmt.Errorf("committing safe default after failed repair: %w", err)
	}
	p.logger.Warn("repair failed, safe default committed", "backup", failure.BackupPath)
	return SaveResult{}, failure
}

// Reset commits the safe default. It is written without validation.
func (p *Pipeline) Reset(_ context.Context) error {
	_, err := p.commit(SafeDefaultText(), append([]KeyMapping(nil), SafeDefault...))
	return err
}

// Mappings returns a copy of the committed mapping set.
func (p *Pipeline) Mappings() []KeyMapping {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]KeyMapping(nil), p.mappings...)
}

// LastUpdate returns the time of the last write to the live file. Each
// write yields a strictly later value than the one before it.
func (p *Pipeline) LastUpdate() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUpdate
}

// Fingerprint returns the fingerprint of the committed text.
func (p *Pipeline) Fingerprint() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fingerprint
}

// commit writes text unless it matches the committed fingerprint and the
// file is still present. It reports whether the file changed.
func (p *Pipeline) commit(text string, mappings []KeyMapping) (bool, error) {
	fp := Fingerprint(text)

	p.mu.Lock()
	defer p.mu.Unlock()

	if fp == p.fingerprint {
		if _, err := os.Stat(p.path); err == nil {
			p.mappings = mappings
			return false, nil
		}
	}

	if err := writeAtomic(p.path, []byte(text)); err != nil {
		return false, err
	}

	t := p.now()
	if !t.After(p.lastUpdate) {
		t = p.lastUpdate.Add(time.Nanosecond)
	}
	p.lastUpdate = t
	p.fingerprint = fp
	p.mappings = mappings
	return true, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating configuration directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) } //nolint:errcheck // best-effort cleanup

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec // error path
		cleanup()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck,gosec // error path
		cleanup()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil { //nolint:gosec // engine config is world-readable
		cleanup()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replacing configuration: %w", err)
	}
	return nil
}
