package inventory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ManagedProcess is one engine process observed in the process table.
type ManagedProcess struct {
	PID            int       `json:"pid"`
	CommandLine    string    `json:"command_line"`
	ExecutableName string    `json:"executable_name"`
	DiscoveredAt   time.Time `json:"discovered_at"`
}

// Lister enumerates engine processes.
type Lister interface {
	List(ctx context.Context) ([]ManagedProcess, error)
}

// Scanner reads the OS process table through gopsutil.
type Scanner struct {
	name    string
	selfPID int
	now     func() time.Time
}

// NewScanner returns a Scanner matching the engine executable name.
// The calling process is never reported.
func NewScanner(executableName string) *Scanner {
	return &Scanner{
		name:    executableName,
		selfPID: os.Getpid(),
		now:     time.Now,
	}
}

// List returns matching processes sorted by pid. Processes that vanish
// while being inspected are skipped.
func (s *Scanner) List(ctx context.Context) ([]ManagedProcess, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	now := s.now()
	var found []ManagedProcess
	for _, p := range procs {
		if int(p.Pid) == s.selfPID {
			continue
		}

		name, _ := p.NameWithContext(ctx)       //nolint:errcheck // vanished processes have no name
		cmdline, _ := p.CmdlineWithContext(ctx) //nolint:errcheck // kernel threads have no cmdline
		if !Matches(s.name, name, cmdline) {
			continue
		}

		found = append(found, ManagedProcess{
			PID:            int(p.Pid),
			CommandLine:    cmdline,
			ExecutableName: executableName(ctx, p, name, cmdline),
			DiscoveredAt:   now,
		})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].PID < found[j].PID })
	return found, nil
}

// Running reports whether any process with exactly this executable name
// exists. Used for daemons other than the engine.
func Running(ctx context.Context, name string) (bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("listing processes: %w", err)
	}
	for _, p := range procs {
		n, err := p.NameWithContext(ctx)
		if err == nil && n == name {
			return true, nil
		}
	}
	return false, nil
}

// Matches reports whether a process with the given name and command line
// belongs to the engine called target.
func Matches(target, name, cmdline string) bool {
	if target == "" {
		return false
	}
	if name == target {
		return true
	}
	for _, field := range strings.Fields(cmdline) {
		if filepath.Base(field) == target {
			return true
		}
	}
	return false
}

// executableName prefers the resolved executable path, then the kernel
// name, then argv[0].
func executableName(ctx context.Context, p *process.Process, name, cmdline string) string {
	if exe, err := p.ExeWithContext(ctx); err == nil && exe != "" {
		return filepath.Base(exe)
	}
	if name != "" {
		return name
	}
	if fields := strings.Fields(cmdline); len(fields) > 0 {
		return filepath.Base(fields[0])
	}
	return ""
}
