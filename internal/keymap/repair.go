package keymap

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RepairRequest is the input to a repair attempt.
type RepairRequest struct {
	Text     string
	Errors   []string
	Mappings []KeyMapping
}

// Repairer proposes corrected configuration text. The result is
// re-validated by the caller; a Repairer never writes to disk.
type Repairer interface {
	Repair(ctx context.Context, req RepairRequest) (string, error)
}

// errNoRule is returned when no rule applies to the reported errors.
var errNoRule = errors.New("no repair rule matches the reported errors")

// RuleRepairer fixes the handful of failures the generator can produce or a
// hand edit commonly introduces.
type RuleRepairer struct{}

// Repair implements Repairer. Rules are tried in order and the first one
// that changes the text wins.
func (RuleRepairer) Repair(_ context.Context, req RepairRequest) (string, error) {
	joined := strings.ToLower(strings.Join(req.Errors, "\n"))

	if countMismatch(joined) {
		text, err := Generate(req.Mappings)
		if err != nil {
			return "", fmt.Errorf("regenerating from mappings: %w", err)
		}
		return text, nil
	}

	if strings.Contains(joined, "defcfg") {
		if out := insertPreamble(req.Text); out != req.Text {
			return out, nil
		}
	}

	if strings.Contains(joined, "empty") || strings.Contains(joined, "placeholder") {
		if out := stripEmptyGroups(req.Text); out != req.Text {
			return out, nil
		}
	}

	return "", errNoRule
}

func countMismatch(errs string) bool {
	return strings.Contains(errs, "to match defsrc") ||
		strings.Contains(errs, "mismatch") ||
		(strings.Contains(errs, "deflayer") && strings.Contains(errs, "defsrc") && strings.Contains(errs, "item"))
}

// insertPreamble puts the defcfg block after any leading comments, or
// prepends it when the text has none.
func insertPreamble(text string) string {
	if forms, err := parseForms(text); err == nil {
		for _, f := range forms {
			if f.head() == "defcfg" {
				return text
			}
		}
	}

	lines := strings.SplitAfter(text, "\n")
	i := 0
	for i < len(lines) {
		t := strings.TrimSpace(lines[i])
		if t != "" && !strings.HasPrefix(t, ";;") {
			break
		}
		i++
	}
	head := strings.Join(lines[:i], "")
	if head != "" && !strings.HasSuffix(head, "\n") {
		head += "\n"
	}
	return head + Preamble + "\n\n" + strings.Join(lines[i:], "")
}

var placeholderGroups = []string{"()", "( )", "(defalias)", "(defvar)", "(defoverrides)"}

// stripEmptyGroups removes empty groups and empty definition blocks.
func stripEmptyGroups(text string) string {
	out := text
	for {
		prev := out
		for _, g := range placeholderGroups {
			out = strings.ReplaceAll(out, g, "")
		}
		if out == prev {
			break
		}
	}
	return out
}

// ChainRepairer tries each repairer in turn until one returns text. With a
// Checker set, a candidate that fails validation also moves on to the next
// repairer; when no candidate validates, the last one is returned so the
// caller can report its errors.
type ChainRepairer struct {
	Repairers []Repairer
	Checker   Checker
	Logger    Logger
}

// Repair implements Repairer. The last error is returned when every
// repairer fails.
func (c ChainRepairer) Repair(ctx context.Context, req RepairRequest) (string, error) {
	var lastErr error = errNoRule
	var candidate string
	for _, r := range c.Repairers {
		if r == nil {
			continue
		}
		text, err := r.Repair(ctx, req)
		if err == nil && strings.TrimSpace(text) == "" {
			err = errors.New("repairer returned empty text")
		}
		if err == nil {
			if c.Checker == nil {
				return text, nil
			}
			res, cerr := c.Checker.Check(ctx, text)
			switch {
			case cerr != nil:
				err = fmt.Errorf("validating repair: %w", cerr)
			case res.Valid:
				return text, nil
			default:
				candidate = text
				err = fmt.Errorf("repaired text still invalid: %s", strings.Join(res.Errors, "; "))
			}
		}
		if c.Logger != nil {
			c.Logger.Warn("repair attempt failed", "repairer", fmt.Sprintf("%T", r), "error", err)
		}
		lastErr = err
	}
	if candidate != "" {
		return candidate, nil
	}
	return "", lastErr
}
