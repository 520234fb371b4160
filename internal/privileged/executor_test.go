package privileged

import (
	"context"
	"errors"
	"testing"
)

func TestNew_UnknownMode(t *testing.T) {
	if _, err := New("pkexec"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("New() error = %v, want ErrUnknownMode", err)
	}
}

func TestExecutor_Direct(t *testing.T) {
	e, err := New(ModeDirect)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	out, err := e.Run(context.Background(), "echo hello")
	if err != nil || out != "hello" {
		t.Errorf("Run() = %q, %v; want hello", out, err)
	}

	out, err = e.Run(context.Background(), "echo broken >&2; exit 3")
	if !errors.Is(err, ErrCommandFailed) {
		t.Errorf("Run() error = %v, want ErrCommandFailed", err)
	}
	if out != "broken" {
		t.Errorf("Run() output = %q, want broken", out)
	}
}

func TestExecutor_Argv(t *testing.T) {
	tests := []struct {
		mode     Mode
		wantName string
		wantLast string
	}{
		{ModeDirect, "/bin/sh", "kill -15 42"},
		{ModeSudo, "sudo", "kill -15 42"},
		{ModeOSAScript, "osascript", `do shell script "kill -15 42" with administrator privileges`},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			e, err := New(tt.mode)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			name, args := e.argv("kill -15 42")
			if name != tt.wantName || args[len(args)-1] != tt.wantLast {
				t.Errorf("argv() = %s %q, want %s ... %q", name, args, tt.wantName, tt.wantLast)
			}
		})
	}
}

func TestAppleScriptString(t *testing.T) {
	got := appleScriptString(`echo "a\b"`)
	want := `"echo \"a\\b\""`
	if got != want {
		t.Errorf("appleScriptString() = %s, want %s", got, want)
	}
}

func TestIsCancelled(t *testing.T) {
	tests := []struct {
		mode   Mode
		output string
		want   bool
	}{
		{ModeOSAScript, "execution error: User canceled. (-128)", true},
		{ModeOSAScript, "execution error: (-128)", true},
		{ModeOSAScript, "execution error: not found (1)", false},
		{ModeSudo, "User canceled", false},
	}
	for _, tt := range tests {
		if got := isCancelled(tt.mode, tt.output); got != tt.want {
			t.Errorf("isCancelled(%s, %q) = %v, want %v", tt.mode, tt.output, got, tt.want)
		}
	}
}
