package recovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig configures a LogWatcher.
type WatchConfig struct {
	Path           string
	FailurePattern string
	SuccessPattern string
	// Threshold is the number of consecutive failure lines that fire a
	// trigger. Values below 1 mean 1.
	Threshold int
	// PollInterval re-reads the file for filesystems that drop events.
	PollInterval time.Duration
}

// LogWatcher counts consecutive driver failure lines in the engine log.
type LogWatcher struct {
	cfg       WatchConfig
	onTrigger func(line string)
	logger    Logger

	mu      sync.Mutex
	count   int
	offset  int64
	partial []byte
}

// NewLogWatcher creates a LogWatcher. onTrigger is called from the
// watcher's goroutine and must not block.
func NewLogWatcher(cfg WatchConfig, onTrigger func(line string)) *LogWatcher {
	if cfg.Threshold < 1 {
		cfg.Threshold = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &LogWatcher{cfg: cfg, onTrigger: onTrigger, logger: noopLogger{}}
}

// SetLogger sets the logger for the watcher.
func (w *LogWatcher) SetLogger(l Logger) {
	if l != nil {
		w.logger = l
	}
}

// Count returns the current run of consecutive failure lines.
func (w *LogWatcher) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// ProcessLine feeds one log line through the counter and reports whether it
// fired the trigger. A success line resets the count; other lines leave it
// alone.
func (w *LogWatcher) ProcessLine(line string) bool {
	w.mu.Lock()
	switch {
	case w.cfg.SuccessPattern != "" && strings.Contains(line, w.cfg.SuccessPattern):
		w.count = 0
		w.mu.Unlock()
		return false
	case w.cfg.FailurePattern == "" || !strings.Contains(line, w.cfg.FailurePattern):
		w.mu.Unlock()
		return false
	}

	w.count++
	fired := w.count >= w.cfg.Threshold
	if fired {
		w.count = 0
	}
	w.mu.Unlock()

	if fired {
		w.logger.Warn("driver failure threshold reached", "threshold", w.cfg.Threshold)
		if w.onTrigger != nil {
			w.onTrigger(line)
		}
	}
	return fired
}

// Reset clears the counter, for example after the engine is relaunched.
func (w *LogWatcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.count = 0
}

// Run tails the log until ctx is cancelled. Existing content is skipped;
// truncation and recreation restart reading from the beginning.
func (w *LogWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating log watcher: %w", err)
	}
	defer watcher.Close() //nolint:errcheck // shutdown path

	dir := filepath.Dir(w.cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	// The directory is watched so recreation of the file is seen.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	w.mu.Lock()
	if fi, err := os.Stat(w.cfg.Path); err == nil {
		w.offset = fi.Size()
	}
	w.mu.Unlock()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	name := filepath.Clean(w.cfg.Path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				w.rewind()
			}
			w.poll()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("log watcher error", "error", err)
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *LogWatcher) rewind() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.offset = 0
	w.partial = nil
}

// poll reads whatever was appended since the last read.
func (w *LogWatcher) poll() {
	lines, err := w.readNew()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Debug("reading engine log failed", "error", err)
	}
	for _, l := range lines {
		w.ProcessLine(l)
	}
}

func (w *LogWatcher) readNew() ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Open(w.cfg.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // read-only

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() < w.offset {
		w.offset = 0
		w.partial = nil
	}
	if fi.Size() == w.offset {
		return nil, nil
	}
	if _, err := f.Seek(w.offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	w.offset += int64(len(data))

	data = append(w.partial, data...)
	var lines []string
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimRight(string(data[:i]), "\r"))
		data = data[i+1:]
	}
	w.partial = append([]byte(nil), data...)
	return lines, nil
}
