// Package process spawns a long-running child and reports how it ended.
//
// Restart policy lives with the caller: a Spawner starts one child at a
// time, captures its output, and on exit delivers an ExitStatus carrying
// the exit code, the last lines of output and how long it ran. Signal
// deaths are reported as 128+signal, the shell convention, so callers can
// classify them from the code alone.
//
// The child runs in its own process group. Stop signals the whole group
// with SIGTERM, waits GracefulTimeout, then sends SIGKILL.
//
//	sp := process.NewSpawner(process.Config{
//	    Name:   "engine",
//	    Binary: "/usr/local/bin/kanata",
//	    Args:   []string{"--cfg", cfgPath},
//	    Output: logFile,
//	    OnExit: func(st process.ExitStatus) { events <- st },
//	})
//	pid, err := sp.Start()
package process
