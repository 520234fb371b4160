package keymap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BackupRecord is the JSON sidecar written next to an archived configuration.
type BackupRecord struct {
	CreatedAt      time.Time    `json:"created_at"`
	Fingerprint    string       `json:"fingerprint"`
	Mappings       []KeyMapping `json:"mappings"`
	OriginalErrors []string     `json:"original_errors"`
	RepairErrors   []string     `json:"repair_errors,omitempty"`
	RepairedText   string       `json:"repaired_text,omitempty"`
}

const backupTimeLayout = "20060102T150405.000000000Z"

// Archive writes text and its sidecar into dir and returns the path of the
// archived configuration.
func Archive(dir, text string, rec BackupRecord) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Fingerprint == "" {
		rec.Fingerprint = Fingerprint(text)
	}

	base := fmt.Sprintf("keymap-%s-%s", rec.CreatedAt.UTC().Format(backupTimeLayout), shortFingerprint(rec.Fingerprint))
	path := filepath.Join(dir, base+".kbd")

	if err := os.WriteFile(path, []byte(text), 0o644); err != nil { //nolint:gosec // config text, not secret
		return "", fmt.Errorf("writing backup: %w", err)
	}

	sidecar, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding backup record: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, base+".json"), sidecar, 0o644); err != nil { //nolint:gosec // config text, not secret
		return "", fmt.Errorf("writing backup record: %w", err)
	}
	return path, nil
}

// Backups lists archived configurations in dir, newest first.
func Backups(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "keymap-") || filepath.Ext(name) != ".kbd" {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// ReadBackupRecord loads the sidecar for an archived configuration path.
func ReadBackupRecord(kbdPath string) (*BackupRecord, error) {
	data, err := os.ReadFile(strings.TrimSuffix(kbdPath, ".kbd") + ".json")
	if err != nil {
		return nil, fmt.Errorf("reading backup record: %w", err)
	}
	var rec BackupRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding backup record: %w", err)
	}
	return &rec, nil
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
