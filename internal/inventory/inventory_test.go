package inventory

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		pname   string
		cmdline string
		want    bool
	}{
		{"exact name", "kanata", "kanata", "/usr/local/bin/kanata --cfg /tmp/a.kbd", true},
		{"sudo wrapper", "kanata", "sudo", "sudo /usr/local/bin/kanata --cfg x.kbd", true},
		{"config file named after engine", "kanata", "vim", "vim /home/u/kanata.kbd", false},
		{"unrelated", "kanata", "bash", "bash -l", false},
		{"empty target", "", "kanata", "kanata", false},
		{"prefix is not a match", "kanata", "kanata-tray", "kanata-tray", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.target, tt.pname, tt.cmdline); got != tt.want {
				t.Errorf("Matches(%q, %q, %q) = %v, want %v", tt.target, tt.pname, tt.cmdline, got, tt.want)
			}
		})
	}
}

func startSleeper(t *testing.T) *exec.Cmd {
	t.Helper()
	path, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep binary not available")
	}
	cmd := exec.Command(path, "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting sleep: %v", err)
	}
	// Reap the child so it does not linger as a zombie.
	go cmd.Wait() //nolint:errcheck // exit status irrelevant
	t.Cleanup(func() { _ = cmd.Process.Kill() })
	return cmd
}

func TestScanner_FindsProcess(t *testing.T) {
	cmd := startSleeper(t)
	pid := cmd.Process.Pid

	procs, err := NewScanner("sleep").List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	var found bool
	for i, p := range procs {
		if i > 0 && procs[i-1].PID >= p.PID {
			t.Errorf("List() not sorted by pid: %d before %d", procs[i-1].PID, p.PID)
		}
		if p.PID == pid {
			found = true
			if p.ExecutableName != "sleep" {
				t.Errorf("ExecutableName = %q, want sleep", p.ExecutableName)
			}
		}
	}
	if !found {
		t.Errorf("List() did not report sleep pid %d", pid)
	}
}

func TestTerminator_Terminate(t *testing.T) {
	cmd := startSleeper(t)
	pid := cmd.Process.Pid

	term := NewTerminator(2*time.Second, nil)
	if err := term.Terminate(context.Background(), pid); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if Alive(context.Background(), pid) {
		t.Errorf("pid %d still alive after Terminate()", pid)
	}
}

func TestTerminator_GoneIsNotError(t *testing.T) {
	cmd := startSleeper(t)
	pid := cmd.Process.Pid
	_ = cmd.Process.Kill()

	deadline := time.Now().Add(2 * time.Second)
	for Alive(context.Background(), pid) && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	if err := NewTerminator(time.Second, nil).Terminate(context.Background(), pid); err != nil {
		t.Errorf("Terminate() on exited pid error = %v, want nil", err)
	}
}

func TestTerminator_InvalidPID(t *testing.T) {
	err := NewTerminator(time.Second, nil).Terminate(context.Background(), 1)
	if !errors.Is(err, ErrInvalidPID) {
		t.Errorf("Terminate(1) error = %v, want ErrInvalidPID", err)
	}
}
