package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/keymap-core/internal/audit"
	"github.com/nerrad567/keymap-core/internal/diagnostics"
	"github.com/nerrad567/keymap-core/internal/infrastructure/config"
	"github.com/nerrad567/keymap-core/internal/infrastructure/logging"
	"github.com/nerrad567/keymap-core/internal/keymap"
	"github.com/nerrad567/keymap-core/internal/ownership"
	"github.com/nerrad567/keymap-core/internal/supervisor"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// Controller is the supervisor surface the API drives.
type Controller interface {
	Status() supervisor.Status
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	RetryAfterFix(ctx context.Context) error
	SaveMappings(ctx context.Context, mappings []keymap.KeyMapping) (keymap.SaveResult, error)
	ResetConfig(ctx context.Context) error
	AutoFix(ctx context.Context, id string) error
	Conflicts(ctx context.Context) (ownership.ConflictResolution, error)
}

// DiagnosticsSource lists current diagnostics.
type DiagnosticsSource interface {
	List() []diagnostics.Diagnostic
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Security    config.SecurityConfig
	Logger      *logging.Logger
	Controller  Controller
	Diagnostics DiagnosticsSource
	Audit       audit.Repository // optional
	Metrics     http.Handler     // optional
	Panel       http.Handler     // optional, mounted at /ui/
	Version     string
}

// Server is the HTTP API server.
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	ctrl        Controller
	diagnostics DiagnosticsSource
	audit       audit.Repository
	metrics     http.Handler
	panel       http.Handler
	version     string
	hub         *Hub

	mu     sync.Mutex
	server *http.Server
	addr   string
	cancel context.CancelFunc
}

// New creates an API server. It is not listening until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if deps.Diagnostics == nil {
		return nil, fmt.Errorf("diagnostics source is required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		ctrl:        deps.Controller,
		diagnostics: deps.Diagnostics,
		audit:       deps.Audit,
		metrics:     deps.Metrics,
		panel:       deps.Panel,
		version:     deps.Version,
	}
	s.hub = NewHub(deps.WS, deps.Logger)
	s.hub.SetSnapshot(s.snapshot)
	return s, nil
}

// Start binds the listener and serves in the background. Binding errors
// are returned directly.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.addr = ln.Addr().String()
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	go func() {
		s.logger.Info("API server listening", "address", s.addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close shuts the server down, waiting for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()
	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// OnStatus implements supervisor.StatusObserver by pushing the snapshot to
// WebSocket subscribers.
func (s *Server) OnStatus(st supervisor.Status) {
	s.hub.Broadcast(ChannelStatus, st)
}

// OnDiagnostic implements supervisor.DiagnosticObserver.
func (s *Server) OnDiagnostic(d diagnostics.Diagnostic) {
	s.hub.Broadcast(ChannelDiagnostic, d)
}

// snapshot returns the initial payload for a fresh subscription.
func (s *Server) snapshot(channel string) (any, bool) {
	if channel == ChannelStatus {
		return s.ctrl.Status(), true
	}
	return nil, false
}
