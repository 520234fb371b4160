// Package engine knows how to launch, probe and read the remapping engine.
//
// The supervisor decides when the engine should run; this package only
// carries the mechanics:
//
//   - Settings turns the engine section of config.yaml into a command line
//   - DirectLauncher spawns the engine as a child with output appended to
//     the engine log
//   - CommandLauncher hands the launch to a start command (launchctl,
//     systemctl) through the privileged channel
//   - HealthCheck probes a running pid in layers: process state first,
//     then the engine's TCP port when one is configured
//
// Example configuration (in config.yaml):
//
//	engine:
//	  binary: "/usr/local/bin/kanata"
//	  config_path: "~/.config/keymapd/keymap.kbd"
//	  log_path: "~/.config/keymapd/logs/engine.log"
//	  port: 10000
//	  launch_mode: "direct"
package engine
