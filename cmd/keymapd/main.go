// keymapd supervises a keyboard remapping engine.
//
// It keeps exactly one engine process running when asked to, owns the
// engine's configuration file, classifies failures into diagnostics and
// runs the driver recovery procedure when the virtual HID connection drops.
// Control is exposed over HTTP/WebSocket and, optionally, MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/keymap-core/internal/infrastructure/config"
	"github.com/nerrad567/keymap-core/internal/infrastructure/database"
	"github.com/nerrad567/keymap-core/internal/infrastructure/logging"
	"github.com/nerrad567/keymap-core/migrations"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const configEnv = "KEYMAPD_CONFIG"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application, separated from main for testability. It returns
// nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting keymapd", "version", version, "commit", commit, "build_date", date)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	// One supervisor per user: two would fight over the engine.
	lock, err := acquireLock(cfg.Supervisor.LockFile)
	if err != nil {
		return err
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			log.Error("releasing lock failed", "error", unlockErr)
		}
	}()

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	a, err := build(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range a.tasks {
		g.Go(func() error { return task(gctx) })
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	err = g.Wait()
	log.Info("keymapd stopped")
	return err
}

// loadConfig reads the file named by KEYMAPD_CONFIG, or the default path.
// A missing default file means built-in defaults; a missing explicit file
// is an error.
func loadConfig() (*config.Config, string, error) {
	path, explicit := os.LookupEnv(configEnv)
	if !explicit || path == "" {
		path = defaultConfigPath()
		explicit = false
	}

	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		if verr := cfg.Validate(); verr != nil {
			return nil, "", fmt.Errorf("default configuration: %w", verr)
		}
		return cfg, "(defaults)", nil
	}
	return nil, "", fmt.Errorf("loading config: %w", err)
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "keymapd.yaml"
	}
	return filepath.Join(home, ".config", "keymapd", "keymapd.yaml")
}

func acquireLock(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", errAlreadyRunning, path)
	}
	return lock, nil
}

var errAlreadyRunning = errors.New("another keymapd instance holds the lock")
