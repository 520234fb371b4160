// Package config handles loading and validating keymapd configuration.
//
// This package manages:
//   - Loading configuration from a YAML file
//   - Overriding with KEYMAPD_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Secrets (assist API key, MQTT password, JWT secret) should be set via
//     environment variables rather than written to the file
//   - engine.start_command and recovery.daemon.restart_command run with
//     elevated privileges; the config file should be owned by the user and
//     have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Engine.ConfigPath)
package config
