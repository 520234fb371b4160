package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/nerrad567/keymap-core/internal/api"
	"github.com/nerrad567/keymap-core/internal/assist"
	"github.com/nerrad567/keymap-core/internal/audit"
	"github.com/nerrad567/keymap-core/internal/diagnostics"
	"github.com/nerrad567/keymap-core/internal/engine"
	"github.com/nerrad567/keymap-core/internal/infrastructure/config"
	"github.com/nerrad567/keymap-core/internal/infrastructure/database"
	"github.com/nerrad567/keymap-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/keymap-core/internal/infrastructure/logging"
	"github.com/nerrad567/keymap-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/keymap-core/internal/inventory"
	"github.com/nerrad567/keymap-core/internal/keymap"
	"github.com/nerrad567/keymap-core/internal/metrics"
	"github.com/nerrad567/keymap-core/internal/ownership"
	"github.com/nerrad567/keymap-core/internal/panel"
	"github.com/nerrad567/keymap-core/internal/permissions"
	"github.com/nerrad567/keymap-core/internal/privileged"
	"github.com/nerrad567/keymap-core/internal/process"
	"github.com/nerrad567/keymap-core/internal/reconcile"
	"github.com/nerrad567/keymap-core/internal/recovery"
	"github.com/nerrad567/keymap-core/internal/supervisor"
)

// app is the wired daemon. tasks run under one errgroup; closers run in
// reverse order on shutdown.
type app struct {
	sup     *supervisor.Supervisor
	api     *api.Server
	tasks   []func(ctx context.Context) error
	closers []func()
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build wires every component. On error, anything already started is
// closed before returning.
func build(ctx context.Context, cfg *config.Config, db *database.DB, log *logging.Logger) (*app, error) {
	a := &app{}
	if err := a.wire(ctx, cfg, db, log); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, cfg *config.Config, db *database.DB, log *logging.Logger) error {
	settings := engine.FromConfig(cfg.Engine)
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("engine settings: %w", err)
	}

	exec, err := privileged.New(privileged.Mode(cfg.Privileged.Mode))
	if err != nil {
		return fmt.Errorf("privileged executor: %w", err)
	}
	exec.SetLogger(log.With("component", "privileged"))

	// Ownership
	classifier, err := buildClassifier(cfg, db, log)
	if err != nil {
		return err
	}
	scanner := inventory.NewScanner(settings.ExecutableName)
	terminator := inventory.NewTerminator(settings.GracefulTimeout, exec)
	terminator.SetLogger(log.With("component", "terminator"))
	resolver := ownership.NewResolver(scanner, classifier, settings.ExecutableName)

	// The supervisor is created last but referenced by callbacks wired
	// before it exists. None of them fire before Run.
	var sup *supervisor.Supervisor

	var launcher reconcile.Launcher
	switch settings.LaunchMode {
	case engine.ModeCommand:
		l := engine.NewCommandLauncher(settings.StartCommand, exec)
		l.SetLogger(log.With("component", "launcher"))
		launcher = l
	default:
		l := engine.NewDirectLauncher(settings, func(st process.ExitStatus) { sup.NotifyExit(st) })
		l.SetLogger(log.With("component", "launcher"))
		launcher = l
		a.onClose(func() {
			log.Info("stopping engine child")
			if stopErr := l.Stop(); stopErr != nil {
				log.Error("error stopping engine", "error", stopErr)
			}
		})
	}

	rec := reconcile.New(reconcile.Config{
		Lister:      scanner,
		Classifier:  classifier,
		Launcher:    launcher,
		Terminator:  terminator,
		SettleDelay: cfg.Supervisor.LaunchSettleDelay,
	})
	rec.SetLogger(log.With("component", "reconcile"))

	health := engine.NewHealthChecker(settings)
	health.SetLogger(log.With("component", "health"))

	pipeline, err := buildPipeline(ctx, cfg, settings, log)
	if err != nil {
		return err
	}

	var diagRepo diagnostics.Repository
	if cfg.Diagnostics.Persist {
		diagRepo = diagnostics.NewSQLiteRepository(db.DB)
	}
	diagLog := diagnostics.NewLog(cfg.Diagnostics.MaxEntries, diagRepo)
	diagLog.SetLogger(log.With("component", "diagnostics"))

	perms := permissions.NewCachedChecker(permissions.CommandChecker{
		Probes: map[permissions.Kind][]string{
			permissions.InputCapture: cfg.Permissions.InputCaptureCommand,
			permissions.Automation:   cfg.Permissions.AutomationCommand,
		},
	}, cfg.Permissions.CacheTTL)

	daemonName := cfg.Recovery.Daemon.ProcessName
	recoverer := recovery.NewController(recovery.Config{
		Lister:         scanner,
		Terminator:     terminator,
		Runner:         exec,
		RestartCommand: cfg.Recovery.Daemon.RestartCommand,
		DaemonRunning: func(ctx context.Context) (bool, error) {
			return inventory.Running(ctx, daemonName)
		},
		Relaunch:        func(ctx context.Context) error { return sup.Relaunch(ctx) },
		StepDelay:       cfg.Recovery.StepDelay,
		ConfirmAttempts: cfg.Recovery.Daemon.ConfirmAttempts,
		ConfirmInterval: cfg.Recovery.Daemon.ConfirmInterval,
	})
	recoverer.SetLogger(log.With("component", "recovery"))

	sup = supervisor.New(supervisor.Config{
		Reconciler:             rec,
		Conflicts:              resolver,
		Adopter:                classifier,
		Permissions:            perms,
		BinaryPresent:          settings.BinaryPresent,
		Health:                 health,
		Keymap:                 pipeline,
		Diagnostics:            diagLog,
		Recovery:               recoverer,
		EngineLog:              settings,
		HealthCheckInterval:    cfg.Supervisor.HealthCheckInterval,
		NeedsHelpPollInterval:  cfg.Supervisor.NeedsHelpPollInterval,
		MaxAutoStartAttempts:   cfg.Supervisor.MaxAutoStartAttempts,
		MaxExternalFixAttempts: cfg.Supervisor.MaxExternalFixAttempts,
		MinLaunchInterval:      cfg.Supervisor.MinLaunchInterval,
		RetryBackoff:           cfg.Supervisor.RetryBackoff,
		RetryMaxBackoff:        cfg.Supervisor.RetryMaxBackoff,
		StartOnBoot:            cfg.Supervisor.StartOnBoot,
	})
	sup.SetLogger(log.With("component", "supervisor"))
	a.sup = sup
	a.tasks = append(a.tasks, sup.Run)

	if cfg.Recovery.LogWatch.Enabled {
		watcher := recovery.NewLogWatcher(recovery.WatchConfig{
			Path:           settings.LogPath,
			FailurePattern: cfg.Recovery.LogWatch.FailurePattern,
			SuccessPattern: cfg.Recovery.LogWatch.SuccessPattern,
			Threshold:      cfg.Recovery.LogWatch.Threshold,
			PollInterval:   cfg.Recovery.LogWatch.PollInterval,
		}, func(line string) { sup.NotifyDriverFailure(line) })
		watcher.SetLogger(log.With("component", "logwatch"))
		a.tasks = append(a.tasks, watcher.Run)
	}

	// Observers
	collector := metrics.New()
	sup.AddObserver(collector)

	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo)
	recorder.SetLogger(log.With("component", "audit"))
	sup.AddObserver(recorder)

	if err := a.startAPI(ctx, cfg, log, diagLog, auditRepo, collector); err != nil {
		return err
	}
	if err := a.startMQTT(cfg, log); err != nil {
		return err
	}
	if err := a.startInflux(cfg, log); err != nil {
		return err
	}
	return nil
}

func buildClassifier(cfg *config.Config, db *database.DB, log *logging.Logger) (*ownership.Classifier, error) {
	var store ownership.Store = ownership.NewMemoryStore()
	if cfg.Ownership.Persist {
		store = ownership.NewSQLiteStore(db.DB)
	}

	sigs := ownership.DefaultSignatures(cfg.Engine.ConfigPath, cfg.Engine.ServiceLabel, cfg.Engine.BundlePattern)
	for _, s := range cfg.Ownership.Signatures {
		sigs = append(sigs, ownership.Signature{Name: s.Name, Kind: ownership.SignatureKind(s.Kind), Pattern: s.Pattern})
	}
	set, err := ownership.NewSignatureSet(sigs...)
	if err != nil {
		return nil, fmt.Errorf("ownership signatures: %w", err)
	}

	c := ownership.NewClassifier(ownership.NewRegistry(store), set, cfg.Ownership.GraceWindow)
	c.SetLogger(log.With("component", "ownership"))
	return c, nil
}

func buildPipeline(ctx context.Context, cfg *config.Config, settings engine.Settings, log *logging.Logger) (*keymap.Pipeline, error) {
	plog := log.With("component", "keymap")

	var repairers []keymap.Repairer
	if cfg.Configuration.Assist.Enabled {
		r, err := assist.New(assist.Config{
			BaseURL: cfg.Configuration.Assist.BaseURL,
			APIKey:  cfg.Configuration.Assist.APIKey,
			Model:   cfg.Configuration.Assist.Model,
			Timeout: cfg.Configuration.Assist.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("assist repairer: %w", err)
		}
		r.SetLogger(log.With("component", "assist"))
		repairers = append(repairers, r)
	}
	repairers = append(repairers, keymap.RuleRepairer{})

	checker := keymap.LayeredChecker{
		Engine: keymap.EngineChecker{
			Binary:  settings.Binary,
			Dir:     filepath.Dir(settings.ConfigPath),
			Timeout: cfg.Engine.CheckTimeout,
		},
		Logger: plog,
	}
	p := keymap.NewPipeline(keymap.PipelineConfig{
		Path:      settings.ConfigPath,
		BackupDir: cfg.Configuration.BackupDir,
		Checker:   checker,
		Repairer:  keymap.ChainRepairer{Repairers: repairers, Checker: checker, Logger: plog},
	})
	p.SetLogger(plog)
	if err := p.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading engine configuration: %w", err)
	}
	return p, nil
}

func (a *app) startAPI(ctx context.Context, cfg *config.Config, log *logging.Logger,
	diagLog *diagnostics.Log, auditRepo audit.Repository, collector *metrics.Collector) error {
	if !cfg.API.Enabled {
		log.Info("API disabled")
		return nil
	}
	if cfg.Security.JWT.Secret == "" {
		log.Warn("API authentication disabled: security.jwt.secret is empty")
	}

	var dashboard http.Handler
	if cfg.API.Panel {
		dashboard = panel.Handler(cfg.API.PanelDir)
	}

	srv, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log.With("component", "api"),
		Controller:  a.sup,
		Diagnostics: diagLog,
		Audit:       auditRepo,
		Metrics:     collector.Handler(),
		Panel:       dashboard,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	a.sup.AddObserver(srv)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	a.api = srv
	a.onClose(func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	})
	return nil
}

func (a *app) startMQTT(cfg *config.Config, log *logging.Logger) error {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil
	}

	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.With("component", "mqtt"))
	a.onClose(func() {
		log.Info("disconnecting from MQTT")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"prefix", client.Topics().Prefix(),
	)

	bridge := mqtt.NewBridge(client, a.sup)
	bridge.SetLogger(log.With("component", "mqtt_bridge"))
	if err := bridge.Subscribe(); err != nil {
		return fmt.Errorf("subscribing to MQTT commands: %w", err)
	}
	a.sup.AddObserver(bridge)
	a.tasks = append(a.tasks, bridge.Run)
	return nil
}

func (a *app) startInflux(cfg *config.Config, log *logging.Logger) error {
	client, err := influxdb.Connect(cfg.InfluxDB)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	a.onClose(func() {
		log.Info("closing InfluxDB connection")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing InfluxDB", "error", closeErr)
		}
	})
	log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "org", cfg.InfluxDB.Org, "bucket", cfg.InfluxDB.Bucket)

	a.sup.AddObserver(influxdb.NewRecorder(client))
	return nil
}
