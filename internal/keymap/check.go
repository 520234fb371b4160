package keymap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ValidationResult is the outcome of checking configuration text.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

func valid() ValidationResult { return ValidationResult{Valid: true} }

func invalid(errs ...string) ValidationResult {
	return ValidationResult{Valid: false, Errors: errs}
}

// Checker validates configuration text.
type Checker interface {
	Check(ctx context.Context, text string) (ValidationResult, error)
}

// SyntaxChecker is a local well-formedness check: balanced parentheses,
// the required blocks, no empty groups and matching key counts.
type SyntaxChecker struct{}

// Check implements Checker. It never returns an error.
func (SyntaxChecker) Check(_ context.Context, text string) (ValidationResult, error) {
	forms, err := parseForms(text)
	if err != nil {
		return invalid(strings.TrimPrefix(err.Error(), ErrParse.Error()+": ")), nil
	}

	var (
		errs     []string
		srcCount = -1
		layers   []node
		haveCfg  bool
	)
	for _, f := range forms {
		if !f.isList {
			errs = append(errs, fmt.Sprintf("line %d: unexpected bare token %q at top level", f.line, f.atom))
			continue
		}
		if len(f.list) == 0 {
			errs = append(errs, fmt.Sprintf("line %d: empty group ()", f.line))
			continue
		}
		switch f.head() {
		case "defcfg":
			haveCfg = true
		case "defsrc":
			srcCount = len(f.list) - 1
		case "deflayer":
			layers = append(layers, f)
		case "defalias", "defvar", "defoverrides":
			if len(f.list) == 1 {
				errs = append(errs, fmt.Sprintf("line %d: empty group (%s)", f.line, f.head()))
			}
		}
		errs = append(errs, emptyNested(f)...)
	}

	if !haveCfg {
		errs = append(errs, "defcfg is missing: the configuration preamble is required")
	}
	if srcCount < 0 {
		errs = append(errs, "defsrc is missing")
	}
	if len(layers) == 0 {
		errs = append(errs, "deflayer is missing: at least one layer is required")
	}
	for _, l := range layers {
		if len(l.list) < 2 {
			errs = append(errs, fmt.Sprintf("line %d: deflayer has no name", l.line))
			continue
		}
		if srcCount >= 0 && len(l.list)-2 != srcCount {
			errs = append(errs, fmt.Sprintf("Layer %s has %d item(s), but requires %d to match defsrc",
				l.list[1].text(), len(l.list)-2, srcCount))
		}
	}

	if len(errs) > 0 {
		return invalid(errs...), nil
	}
	return valid(), nil
}

func emptyNested(n node) []string {
	var errs []string
	for _, c := range n.list {
		if c.isList && len(c.list) == 0 {
			errs = append(errs, fmt.Sprintf("line %d: empty group () inside %s", c.line, n.head()))
		}
		errs = append(errs, emptyNested(c)...)
	}
	return errs
}

// EngineChecker runs the engine binary in check mode against a throwaway
// copy of the text.
type EngineChecker struct {
	// Binary is the engine executable.
	Binary string
	// Dir is where the throwaway copy is written, normally the directory of
	// the live configuration so relative includes resolve.
	Dir string
	// Timeout bounds one check run. Zero means 10s.
	Timeout time.Duration
}

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// Check implements Checker. A missing binary is ErrCheckUnavailable.
func (c EngineChecker) Check(ctx context.Context, text string) (ValidationResult, error) {
	if _, err := os.Stat(c.Binary); err != nil {
		return ValidationResult{}, fmt.Errorf("%w: %v", ErrCheckUnavailable, err)
	}

	dir := c.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ValidationResult{}, fmt.Errorf("creating check directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".keymap-check-*.kbd")
	if err != nil {
		return ValidationResult{}, fmt.Errorf("creating check copy: %w", err)
	}
	defer os.Remove(f.Name()) //nolint:errcheck // best-effort cleanup
	if _, err := f.WriteString(text); err != nil {
		f.Close() //nolint:errcheck // error path
		return ValidationResult{}, fmt.Errorf("writing check copy: %w", err)
	}
	if err := f.Close(); err != nil {
		return ValidationResult{}, fmt.Errorf("writing check copy: %w", err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Binary, "--check", "--cfg", f.Name()) //nolint:gosec // binary from config
	cmd.Dir = filepath.Dir(f.Name())
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err = cmd.Run()
	if err == nil {
		return valid(), nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return ValidationResult{}, fmt.Errorf("%w: %v", ErrCheckUnavailable, err)
	}
	if ctx.Err() != nil {
		return ValidationResult{}, fmt.Errorf("%w: check timed out after %s", ErrCheckUnavailable, timeout)
	}

	errs := ParseCheckOutput(out.String(), f.Name())
	if len(errs) == 0 {
		errs = []string{fmt.Sprintf("engine rejected the configuration (exit %d)", exitErr.ExitCode())}
	}
	return invalid(errs...), nil
}

var logPrefixRe = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}(\.\d+)?\s+\[(INFO|DEBUG|TRACE)\]`)

// ParseCheckOutput extracts error lines from check-mode output. Colour
// codes, informational log lines and box-drawing decorations are dropped;
// the throwaway file name is replaced with a neutral placeholder.
func ParseCheckOutput(output, tmpName string) []string {
	var errs []string
	for _, line := range strings.Split(ansiRe.ReplaceAllString(output, ""), "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "×│╭╰─┬┴·├ ")
		line = strings.TrimSpace(line)
		if line == "" || logPrefixRe.MatchString(line) {
			continue
		}
		if tmpName != "" {
			line = strings.ReplaceAll(line, tmpName, "<config>")
		}
		errs = append(errs, line)
	}
	return errs
}

// Logger defines the logging interface for this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// LayeredChecker runs the syntax check first and only consults the engine
// when the text is well formed. When the engine's check mode is unavailable
// the syntax result stands.
type LayeredChecker struct {
	Engine Checker
	Logger Logger
}

// Check implements Checker.
func (c LayeredChecker) Check(ctx context.Context, text string) (ValidationResult, error) {
	res, _ := SyntaxChecker{}.Check(ctx, text) //nolint:errcheck // never fails
	if !res.Valid || c.Engine == nil {
		return res, nil
	}

	engineRes, err := c.Engine.Check(ctx, text)
	if errors.Is(err, ErrCheckUnavailable) {
		if c.Logger != nil {
			c.Logger.Warn("engine check mode unavailable, using syntax check only", "error", err)
		}
		return res, nil
	}
	if err != nil {
		return ValidationResult{}, err
	}
	return engineRes, nil
}
