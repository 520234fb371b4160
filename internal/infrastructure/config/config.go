package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for keymapd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Engine        EngineConfig        `yaml:"engine"`
	Supervisor    SupervisorConfig    `yaml:"supervisor"`
	Ownership     OwnershipConfig     `yaml:"ownership"`
	Configuration ConfigurationConfig `yaml:"configuration"`
	Diagnostics   DiagnosticsConfig   `yaml:"diagnostics"`
	Recovery      RecoveryConfig      `yaml:"recovery"`
	Permissions   PermissionsConfig   `yaml:"permissions"`
	Privileged    PrivilegedConfig    `yaml:"privileged"`
	Database      DatabaseConfig      `yaml:"database"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	API           APIConfig           `yaml:"api"`
	WebSocket     WebSocketConfig     `yaml:"websocket"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	Logging       LoggingConfig       `yaml:"logging"`
	Security      SecurityConfig      `yaml:"security"`
}

// EngineConfig describes the supervised remapping engine.
type EngineConfig struct {
	// Binary is the path to the engine executable.
	// Default: "/usr/local/bin/kanata"
	Binary string `yaml:"binary"`

	// ExecutableName is the process name used to find engine instances in
	// the process table. Default: base name of Binary.
	ExecutableName string `yaml:"executable_name"`

	// ConfigPath is the single live configuration file the engine reads.
	ConfigPath string `yaml:"config_path"`

	// LogPath receives the engine's stdout/stderr and is tailed for
	// driver failures.
	LogPath string `yaml:"log_path"`

	// Port enables the engine's TCP server when non-zero. It doubles as a
	// readiness and health probe.
	Port int `yaml:"port"`

	// ExtraArgs are appended verbatim to the engine command line.
	ExtraArgs []string `yaml:"extra_args,omitempty"`

	// LaunchMode is "direct" (spawn as a child) or "command" (run
	// StartCommand through the privileged channel, e.g. launchctl).
	LaunchMode string `yaml:"launch_mode"`

	// StartCommand is run when LaunchMode is "command".
	StartCommand string `yaml:"start_command,omitempty"`

	// ServiceLabel identifies the engine's service definition. Processes
	// whose command line carries it are attributed to keymapd.
	ServiceLabel string `yaml:"service_label,omitempty"`

	// BundlePattern is a glob matching executables shipped inside the
	// application bundle.
	BundlePattern string `yaml:"bundle_pattern,omitempty"`

	// GracefulTimeout is how long a terminated engine gets before SIGKILL.
	// Default: 3s
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`

	// CheckTimeout bounds a single check-mode validation run.
	// Default: 10s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// SupervisorConfig contains lifecycle and retry settings.
type SupervisorConfig struct {
	HealthCheckInterval    time.Duration `yaml:"health_check_interval"`
	NeedsHelpPollInterval  time.Duration `yaml:"needs_help_poll_interval"`
	MaxAutoStartAttempts   int           `yaml:"max_auto_start_attempts"`
	MaxExternalFixAttempts int           `yaml:"max_external_fix_attempts"`
	MinLaunchInterval      time.Duration `yaml:"min_launch_interval"`
	LaunchSettleDelay      time.Duration `yaml:"launch_settle_delay"`
	RetryBackoff           time.Duration `yaml:"retry_backoff"`
	RetryMaxBackoff        time.Duration `yaml:"retry_max_backoff"`
	LockFile               string        `yaml:"lock_file"`
	StartOnBoot            bool          `yaml:"start_on_boot"`
}

// OwnershipConfig controls how engine processes are attributed.
type OwnershipConfig struct {
	GraceWindow time.Duration     `yaml:"grace_window"`
	Persist     bool              `yaml:"persist"`
	Signatures  []SignatureConfig `yaml:"signatures,omitempty"`
}

// SignatureConfig is one command-line pattern that marks a process as ours.
type SignatureConfig struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"` // substring, glob or regex
	Pattern string `yaml:"pattern"`
}

// ConfigurationConfig contains settings for the configuration pipeline.
type ConfigurationConfig struct {
	BackupDir string       `yaml:"backup_dir"`
	Assist    AssistConfig `yaml:"assist"`
}

// AssistConfig configures the optional assistive repair service.
type AssistConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url,omitempty"`
	APIKey  string        `yaml:"api_key,omitempty"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// DiagnosticsConfig contains diagnostics retention settings.
type DiagnosticsConfig struct {
	MaxEntries int  `yaml:"max_entries"`
	Persist    bool `yaml:"persist"`
}

// RecoveryConfig contains driver recovery settings.
type RecoveryConfig struct {
	StepDelay time.Duration  `yaml:"step_delay"`
	Daemon    DaemonConfig   `yaml:"daemon"`
	LogWatch  LogWatchConfig `yaml:"log_watch"`
}

// DaemonConfig describes the virtual-HID daemon the engine depends on.
type DaemonConfig struct {
	ProcessName     string        `yaml:"process_name"`
	RestartCommand  string        `yaml:"restart_command"`
	ConfirmAttempts int           `yaml:"confirm_attempts"`
	ConfirmInterval time.Duration `yaml:"confirm_interval"`
}

// LogWatchConfig configures the engine log tail.
type LogWatchConfig struct {
	Enabled        bool          `yaml:"enabled"`
	FailurePattern string        `yaml:"failure_pattern"`
	SuccessPattern string        `yaml:"success_pattern"`
	Threshold      int           `yaml:"threshold"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// PermissionsConfig contains the permission probes.
type PermissionsConfig struct {
	CacheTTL            time.Duration `yaml:"cache_ttl"`
	InputCaptureCommand []string      `yaml:"input_capture_command,omitempty"`
	AutomationCommand   []string      `yaml:"automation_command,omitempty"`
}

// PrivilegedConfig selects how privileged commands are executed.
type PrivilegedConfig struct {
	// Mode is "direct", "sudo" or "osascript".
	Mode string `yaml:"mode"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// Panel serves the status dashboard at /ui/.
	Panel bool `yaml:"panel"`
	// PanelDir serves the dashboard from disk instead of the binary.
	PanelDir string `yaml:"panel_dir,omitempty"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings. An empty secret disables API
// authentication, which is only sensible when the API listens on loopback.
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	TokenTTL int    `yaml:"token_ttl"` // minutes
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern KEYMAPD_SECTION_KEY, for example
// KEYMAPD_ENGINE_BINARY or KEYMAPD_API_PORT.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults and derived values filled in.
func Default() *Config {
	cfg := defaultConfig()
	cfg.applyDerived()
	return cfg
}

// defaultConfig returns the hardcoded defaults without derived values, so a
// file that changes engine.binary also changes the derived executable name.
func defaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	base := filepath.Join(home, ".config", "keymapd")

	cfg := &Config{
		Engine: EngineConfig{
			Binary:          "/usr/local/bin/kanata",
			ConfigPath:      filepath.Join(base, "keymap.kbd"),
			LogPath:         filepath.Join(base, "logs", "engine.log"),
			LaunchMode:      "direct",
			ServiceLabel:    "com.keymapd.engine",
			BundlePattern:   "**/KeyMap.app/Contents/**",
			GracefulTimeout: 3 * time.Second,
			CheckTimeout:    10 * time.Second,
		},
		Supervisor: SupervisorConfig{
			HealthCheckInterval:    30 * time.Second,
			NeedsHelpPollInterval:  5 * time.Second,
			MaxAutoStartAttempts:   2,
			MaxExternalFixAttempts: 3,
			MinLaunchInterval:      3 * time.Second,
			LaunchSettleDelay:      2 * time.Second,
			RetryBackoff:           time.Second,
			RetryMaxBackoff:        30 * time.Second,
			LockFile:               filepath.Join(base, "keymapd.lock"),
			StartOnBoot:            true,
		},
		Ownership: OwnershipConfig{
			GraceWindow: 5 * time.Second,
			Persist:     true,
		},
		Configuration: ConfigurationConfig{
			BackupDir: filepath.Join(base, "backups"),
			Assist: AssistConfig{
				Model:   "gpt-4o-mini",
				Timeout: 20 * time.Second,
			},
		},
		Diagnostics: DiagnosticsConfig{
			MaxEntries: 50,
			Persist:    true,
		},
		Recovery: RecoveryConfig{
			StepDelay: 2 * time.Second,
			Daemon: DaemonConfig{
				ProcessName:     "Karabiner-VirtualHIDDevice-Daemon",
				RestartCommand:  "launchctl kickstart -k system/org.pqrs.Karabiner-VirtualHIDDevice-Daemon",
				ConfirmAttempts: 5,
				ConfirmInterval: time.Second,
			},
			LogWatch: LogWatchConfig{
				Enabled:        true,
				FailurePattern: "connect_failed asio.system",
				SuccessPattern: "driver_connected 1",
				Threshold:      3,
				PollInterval:   2 * time.Second,
			},
		},
		Permissions: PermissionsConfig{
			CacheTTL: 3 * time.Second,
		},
		Privileged: PrivilegedConfig{
			Mode: "sudo",
		},
		Database: DatabaseConfig{
			Path:        filepath.Join(base, "keymapd.db"),
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "keymapd",
			},
			QoS:         1,
			TopicPrefix: "keymapd",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Panel:   true,
			Host:    "127.0.0.1",
			Port:    7331,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				TokenTTL: 60,
			},
		},
	}
	return cfg
}

// applyDerived fills values that default from other fields.
func (c *Config) applyDerived() {
	if c.Engine.ExecutableName == "" && c.Engine.Binary != "" {
		c.Engine.ExecutableName = filepath.Base(c.Engine.Binary)
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: KEYMAPD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Engine
	if v := os.Getenv("KEYMAPD_ENGINE_BINARY"); v != "" {
		cfg.Engine.Binary = v
	}
	if v := os.Getenv("KEYMAPD_ENGINE_CONFIG_PATH"); v != "" {
		cfg.Engine.ConfigPath = v
	}
	if v := os.Getenv("KEYMAPD_ENGINE_LOG_PATH"); v != "" {
		cfg.Engine.LogPath = v
	}

	// Privileged channel
	if v := os.Getenv("KEYMAPD_PRIVILEGED_MODE"); v != "" {
		cfg.Privileged.Mode = v
	}

	// Database
	if v := os.Getenv("KEYMAPD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("KEYMAPD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("KEYMAPD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("KEYMAPD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("KEYMAPD_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("KEYMAPD_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("KEYMAPD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Assist service
	if v := os.Getenv("KEYMAPD_ASSIST_API_KEY"); v != "" {
		cfg.Configuration.Assist.APIKey = v
	}

	// Security
	if v := os.Getenv("KEYMAPD_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors. All problems are reported
// at once.
func (c *Config) Validate() error {
	var errs []string

	// Engine
	if c.Engine.Binary == "" {
		errs = append(errs, "engine.binary is required")
	}
	if c.Engine.ConfigPath == "" {
		errs = append(errs, "engine.config_path is required")
	}
	if c.Engine.LogPath == "" {
		errs = append(errs, "engine.log_path is required")
	}
	if c.Engine.Port < 0 || c.Engine.Port > 65535 {
		errs = append(errs, "engine.port must be between 0 and 65535")
	}
	switch c.Engine.LaunchMode {
	case "direct":
	case "command":
		if c.Engine.StartCommand == "" {
			errs = append(errs, "engine.start_command is required when launch_mode is command")
		}
	default:
		errs = append(errs, "engine.launch_mode must be direct or command")
	}

	// Supervisor
	if c.Supervisor.HealthCheckInterval <= 0 {
		errs = append(errs, "supervisor.health_check_interval must be positive")
	}
	if c.Supervisor.NeedsHelpPollInterval <= 0 {
		errs = append(errs, "supervisor.needs_help_poll_interval must be positive")
	}
	if c.Supervisor.MaxAutoStartAttempts < 0 {
		errs = append(errs, "supervisor.max_auto_start_attempts must not be negative")
	}
	if c.Supervisor.MaxExternalFixAttempts < 0 {
		errs = append(errs, "supervisor.max_external_fix_attempts must not be negative")
	}
	if c.Supervisor.MinLaunchInterval <= 0 {
		errs = append(errs, "supervisor.min_launch_interval must be positive")
	}
	if c.Supervisor.LaunchSettleDelay <= 0 {
		errs = append(errs, "supervisor.launch_settle_delay must be positive")
	}
	if c.Supervisor.LockFile == "" {
		errs = append(errs, "supervisor.lock_file is required")
	}

	// Ownership
	if c.Ownership.GraceWindow <= 0 {
		errs = append(errs, "ownership.grace_window must be positive")
	}
	for i, sig := range c.Ownership.Signatures {
		switch sig.Kind {
		case "substring", "glob", "regex":
		default:
			errs = append(errs, fmt.Sprintf("ownership.signatures[%d].kind must be substring, glob or regex", i))
		}
		if sig.Pattern == "" {
			errs = append(errs, fmt.Sprintf("ownership.signatures[%d].pattern is required", i))
		}
	}

	// Configuration pipeline
	if c.Configuration.BackupDir == "" {
		errs = append(errs, "configuration.backup_dir is required")
	}
	if c.Configuration.Assist.Enabled && c.Configuration.Assist.APIKey == "" {
		errs = append(errs, "configuration.assist.api_key is required when assist is enabled (set KEYMAPD_ASSIST_API_KEY)")
	}

	// Diagnostics
	if c.Diagnostics.MaxEntries < 1 {
		errs = append(errs, "diagnostics.max_entries must be at least 1")
	}

	// Recovery
	if c.Recovery.LogWatch.Enabled && c.Recovery.LogWatch.Threshold < 1 {
		errs = append(errs, "recovery.log_watch.threshold must be at least 1")
	}

	// Privileged
	switch c.Privileged.Mode {
	case "direct", "sudo", "osascript":
	default:
		errs = append(errs, "privileged.mode must be direct, sudo or osascript")
	}

	// Database
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
