package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
engine:
  binary: "/opt/kanata/bin/kanata"
  config_path: "/tmp/keymap.kbd"
  log_path: "/tmp/engine.log"
  port: 37001
supervisor:
  health_check_interval: 10s
  max_auto_start_attempts: 4
ownership:
  signatures:
    - name: bundle
      kind: glob
      pattern: "**/KeyMap.app/**"
database:
  path: "/tmp/test.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.Binary != "/opt/kanata/bin/kanata" {
		t.Errorf("Engine.Binary = %q, want %q", cfg.Engine.Binary, "/opt/kanata/bin/kanata")
	}
	if cfg.Engine.ExecutableName != "kanata" {
		t.Errorf("Engine.ExecutableName = %q, want %q", cfg.Engine.ExecutableName, "kanata")
	}
	if cfg.Supervisor.HealthCheckInterval != 10*time.Second {
		t.Errorf("Supervisor.HealthCheckInterval = %v, want 10s", cfg.Supervisor.HealthCheckInterval)
	}
	if cfg.Supervisor.MaxAutoStartAttempts != 4 {
		t.Errorf("Supervisor.MaxAutoStartAttempts = %d, want 4", cfg.Supervisor.MaxAutoStartAttempts)
	}
	// Untouched sections keep their defaults.
	if cfg.Supervisor.MaxExternalFixAttempts != 3 {
		t.Errorf("Supervisor.MaxExternalFixAttempts = %d, want 3", cfg.Supervisor.MaxExternalFixAttempts)
	}
	if len(cfg.Ownership.Signatures) != 1 || cfg.Ownership.Signatures[0].Kind != "glob" {
		t.Errorf("Ownership.Signatures = %+v, want one glob signature", cfg.Ownership.Signatures)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
engine:
  launch_mode: "command"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error for command mode without start_command, got nil")
	}
	if !strings.Contains(err.Error(), "engine.start_command") {
		t.Errorf("Load() error = %v, want mention of engine.start_command", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing binary",
			mutate:  func(c *Config) { c.Engine.Binary = "" },
			wantErr: "engine.binary",
		},
		{
			name:    "unknown launch mode",
			mutate:  func(c *Config) { c.Engine.LaunchMode = "systemd" },
			wantErr: "engine.launch_mode",
		},
		{
			name:    "engine port out of range",
			mutate:  func(c *Config) { c.Engine.Port = 70000 },
			wantErr: "engine.port",
		},
		{
			name: "bad signature kind",
			mutate: func(c *Config) {
				c.Ownership.Signatures = []SignatureConfig{{Name: "x", Kind: "fuzzy", Pattern: "kanata"}}
			},
			wantErr: "ownership.signatures[0].kind",
		},
		{
			name:    "zero settle delay",
			mutate:  func(c *Config) { c.Supervisor.LaunchSettleDelay = 0 },
			wantErr: "supervisor.launch_settle_delay",
		},
		{
			name:    "zero launch interval",
			mutate:  func(c *Config) { c.Supervisor.MinLaunchInterval = 0 },
			wantErr: "supervisor.min_launch_interval",
		},
		{
			name:    "negative grace window",
			mutate:  func(c *Config) { c.Ownership.GraceWindow = -time.Second },
			wantErr: "ownership.grace_window",
		},
		{
			name:    "assist without key",
			mutate:  func(c *Config) { c.Configuration.Assist.Enabled = true },
			wantErr: "configuration.assist.api_key",
		},
		{
			name:    "zero log watch threshold",
			mutate:  func(c *Config) { c.Recovery.LogWatch.Threshold = 0 },
			wantErr: "recovery.log_watch.threshold",
		},
		{
			name:    "unknown privileged mode",
			mutate:  func(c *Config) { c.Privileged.Mode = "pkexec" },
			wantErr: "privileged.mode",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "API port ignored when disabled",
			mutate:  func(c *Config) { c.API.Enabled = false; c.API.Port = 0 },
			wantErr: "",
		},
		{
			name:    "JWT secret too short",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: "security.jwt.secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()

	t.Setenv("KEYMAPD_ENGINE_BINARY", "/custom/kanata")
	t.Setenv("KEYMAPD_DATABASE_PATH", "/custom/path.db")
	t.Setenv("KEYMAPD_MQTT_HOST", "mqtt.example.com")
	t.Setenv("KEYMAPD_API_PORT", "9000")
	t.Setenv("KEYMAPD_PRIVILEGED_MODE", "osascript")
	t.Setenv("KEYMAPD_ASSIST_API_KEY", "sk-test")
	t.Setenv("KEYMAPD_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	if cfg.Engine.Binary != "/custom/kanata" {
		t.Errorf("Engine.Binary = %q, want %q", cfg.Engine.Binary, "/custom/kanata")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
	if cfg.Privileged.Mode != "osascript" {
		t.Errorf("Privileged.Mode = %q, want %q", cfg.Privileged.Mode, "osascript")
	}
	if cfg.Configuration.Assist.APIKey != "sk-test" {
		t.Errorf("Configuration.Assist.APIKey = %q, want %q", cfg.Configuration.Assist.APIKey, "sk-test")
	}
	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Supervisor.MaxAutoStartAttempts != 2 {
		t.Errorf("MaxAutoStartAttempts = %d, want 2", cfg.Supervisor.MaxAutoStartAttempts)
	}
	if cfg.Supervisor.HealthCheckInterval != 30*time.Second {
		t.Errorf("HealthCheckInterval = %v, want 30s", cfg.Supervisor.HealthCheckInterval)
	}
	if cfg.Ownership.GraceWindow != 5*time.Second {
		t.Errorf("GraceWindow = %v, want 5s", cfg.Ownership.GraceWindow)
	}
	if cfg.Diagnostics.MaxEntries != 50 {
		t.Errorf("Diagnostics.MaxEntries = %d, want 50", cfg.Diagnostics.MaxEntries)
	}
	if cfg.Engine.ExecutableName != "kanata" {
		t.Errorf("Engine.ExecutableName = %q, want %q", cfg.Engine.ExecutableName, "kanata")
	}
}
