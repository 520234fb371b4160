package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/keymap-core/internal/infrastructure/config"
)

// Launch modes.
const (
	ModeDirect  = "direct"
	ModeCommand = "command"
)

const defaultGracefulTimeout = 3 * time.Second

// Settings describes how the engine is launched.
type Settings struct {
	Binary          string
	ExecutableName  string
	ConfigPath      string
	LogPath         string
	Port            int
	ExtraArgs       []string
	LaunchMode      string
	StartCommand    string
	ServiceLabel    string
	GracefulTimeout time.Duration
}

// FromConfig builds Settings from the engine section of the configuration.
func FromConfig(c config.EngineConfig) Settings {
	s := Settings{
		Binary:          c.Binary,
		ExecutableName:  c.ExecutableName,
		ConfigPath:      c.ConfigPath,
		LogPath:         c.LogPath,
		Port:            c.Port,
		ExtraArgs:       append([]string(nil), c.ExtraArgs...),
		LaunchMode:      c.LaunchMode,
		StartCommand:    c.StartCommand,
		ServiceLabel:    c.ServiceLabel,
		GracefulTimeout: c.GracefulTimeout,
	}
	if s.ExecutableName == "" && s.Binary != "" {
		s.ExecutableName = filepath.Base(s.Binary)
	}
	if s.LaunchMode == "" {
		s.LaunchMode = ModeDirect
	}
	if s.GracefulTimeout <= 0 {
		s.GracefulTimeout = defaultGracefulTimeout
	}
	return s
}

// Validate checks settings that end up on a command line.
func (s Settings) Validate() error {
	if s.Binary == "" {
		return fmt.Errorf("%w: binary is required", ErrInvalidSettings)
	}
	if err := validateSafePath(s.Binary, "binary"); err != nil {
		return err
	}
	if s.ConfigPath == "" {
		return fmt.Errorf("%w: config_path is required", ErrInvalidSettings)
	}
	if err := validateSafePath(s.ConfigPath, "config_path"); err != nil {
		return err
	}
	if s.ServiceLabel != "" {
		if err := validateSafePath(s.ServiceLabel, "service_label"); err != nil {
			return err
		}
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidSettings, s.Port)
	}

	switch s.LaunchMode {
	case ModeDirect:
	case ModeCommand:
		if strings.TrimSpace(s.StartCommand) == "" {
			return fmt.Errorf("%w: start_command is required for launch_mode %q", ErrInvalidSettings, ModeCommand)
		}
	default:
		return fmt.Errorf("%w: unknown launch_mode %q (use: direct, command)", ErrInvalidSettings, s.LaunchMode)
	}
	return nil
}

// BuildArgs constructs the engine command line, excluding the binary.
func (s Settings) BuildArgs() []string {
	args := []string{"--cfg", s.ConfigPath}
	if s.Port > 0 {
		args = append(args, "--port", strconv.Itoa(s.Port))
	}
	return append(args, s.ExtraArgs...)
}

// BinaryPresent reports whether the engine binary exists and is executable.
func (s Settings) BinaryPresent() error {
	info, err := os.Stat(s.Binary)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrBinaryMissing, s.Binary)
		}
		return fmt.Errorf("checking engine binary: %w", err)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%w: %s", ErrNotExecutable, s.Binary)
	}
	return nil
}

// safePathPattern allows path characters only. Spaces and dots are common in
// user home directories; shell metacharacters are rejected below.
var safePathPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-/:. ~]+$`)

func validateSafePath(value, field string) error {
	if !safePathPattern.MatchString(value) {
		return fmt.Errorf("%w: %s contains invalid characters", ErrInvalidSettings, field)
	}
	for _, c := range []string{";", "|", "&", "$", "`", "(", ")", "{", "}", "<", ">", "!", "\\", "'", "\""} {
		if strings.Contains(value, c) {
			return fmt.Errorf("%w: %s contains forbidden character %q", ErrInvalidSettings, field, c)
		}
	}
	return nil
}
