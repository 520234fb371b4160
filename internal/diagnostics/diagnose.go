package diagnostics

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	exitTerminated = 143 // 128 + SIGTERM
	exitKilled     = 137 // 128 + SIGKILL
	sigTerm        = 15
	sigKill        = 9
	maxDetails     = 2000
)

// signature is one row of the output classification table.
type signature struct {
	needles []string
	build   func(details string) Diagnostic
}

var (
	driverNeedles     = []string{"connect_failed asio.system", "virtualhiddevice: connect failed", "failed to connect to virtual hid"}
	permissionNeedles = []string{"not permitted", "iohiddeviceopen", "permission denied", "accessibility permission", "input monitoring"}
	configNeedles     = []string{"error in configuration", "failed to parse", "parse error", "unknown key", "must match defsrc", "to match defsrc"}
	deviceNeedles     = []string{"exclusive access", "already open", "kioreturnexclusiveaccess", "device busy"}

	permissionWords = []string{"permission", "denied", "privilege", "authoriz", "not allowed", "tcc"}
)

var signatures = []signature{
	{driverNeedles, DriverConnectionFailed},
	{permissionNeedles, func(details string) Diagnostic {
		return New(SeverityError, CategoryPermissions, "Permission denied",
			"The engine was not allowed to open the keyboard.").
			WithDetails(details).
			WithAction("Grant input monitoring and accessibility access to the engine, then retry.")
	}},
	{configNeedles, func(details string) Diagnostic {
		return New(SeverityError, CategoryConfiguration, "Configuration error",
			"The engine rejected its configuration file.").
			WithDetails(details).
			WithAction("Reset the configuration to the safe default, then re-enter your mappings.").
			WithFix(FixResetConfiguration)
	}},
	{deviceNeedles, func(details string) Diagnostic {
		return New(SeverityError, CategoryConflict, "Keyboard already in use",
			"Another program has exclusive access to the keyboard.").
			WithDetails(details).
			WithAction("Quit other keyboard remapping tools, then retry.")
	}},
}

// Diagnose classifies an engine exit. A zero exit code yields nothing.
// Signal exits are reported either as 128+signal or as the bare signal
// number.
func Diagnose(exitCode int, output string) []Diagnostic {
	details := trimDetails(output)

	switch exitCode {
	case 0:
		return nil
	case exitTerminated, sigTerm:
		return []Diagnostic{New(SeverityInfo, CategoryProcess, "Engine stopped",
			"The engine was asked to stop and exited normally.").
			WithDetails(fmt.Sprintf("exit code %d", exitCode))}
	case exitKilled, sigKill:
		return []Diagnostic{New(SeverityWarning, CategoryProcess, "Engine was killed",
			"The engine was terminated forcibly. It is safe to start it again.").
			WithDetails(withCode(exitCode, details)).
			WithAction("Relaunch the engine.").
			WithFix(FixRelaunch)}
	}

	if diags := DiagnoseOutput(output); len(diags) > 0 {
		for i := range diags {
			diags[i].TechnicalDetails = withCode(exitCode, diags[i].TechnicalDetails)
		}
		return diags
	}

	lower := strings.ToLower(output)
	if containsAny(lower, permissionWords) {
		return []Diagnostic{New(SeverityError, CategoryPermissions, "Engine failed: possible permission problem",
			"The engine exited with an error that mentions permissions.").
			WithDetails(withCode(exitCode, details)).
			WithAction("Check that the engine has input monitoring and accessibility access.")}
	}
	return []Diagnostic{New(SeverityError, CategoryProcess, "Engine exited unexpectedly",
		fmt.Sprintf("The engine exited with code %d.", exitCode)).
		WithDetails(withCode(exitCode, details)).
		WithAction("Check the engine log for details, then retry.")}
}

// DiagnoseOutput classifies output text against the signature table only.
// Each matching signature contributes one diagnostic.
func DiagnoseOutput(output string) []Diagnostic {
	lower := strings.ToLower(output)
	details := trimDetails(output)
	var out []Diagnostic
	for _, s := range signatures {
		if containsAny(lower, s.needles) {
			out = append(out, s.build(details))
		}
	}
	return out
}

// DriverConnectionFailed is the diagnosis for a lost virtual HID driver
// connection. It is the only diagnosis that triggers recovery.
func DriverConnectionFailed(details string) Diagnostic {
	return New(SeverityError, CategoryConflict, "Keyboard driver connection failed",
		"The engine could not connect to the virtual keyboard driver.").
		WithDetails(details).
		WithAction("keymapd will restart the driver daemon and relaunch the engine.").
		WithFix(FixDriverRecovery)
}

// RequiresRecovery reports whether any diagnostic calls for the driver
// recovery procedure.
func RequiresRecovery(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Fix == FixDriverRecovery {
			return true
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func withCode(code int, details string) string {
	if details == "" {
		return fmt.Sprintf("exit code %d", code)
	}
	return fmt.Sprintf("exit code %d\n%s", code, details)
}

// trimDetails keeps the tail of long output, where the cause usually is.
// The cut never splits a UTF-8 sequence.
func trimDetails(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxDetails {
		return s
	}
	cut := len(s) - maxDetails
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "…" + s[cut:]
}
