// ABOUTME: Console server that wires sessions, pipelines and the web UI onto one HTTP listener
// ABOUTME: Listens on TCP or on a tailnet via tsnet and shuts everything down in order

package server

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/agent-console/internal/auth"
	"github.com/2389/agent-console/internal/bundle"
	"github.com/2389/agent-console/internal/config"
	"github.com/2389/agent-console/internal/gcpauth"
	"github.com/2389/agent-console/internal/lifecycle"
	"github.com/2389/agent-console/internal/metrics"
	"github.com/2389/agent-console/internal/progress"
	"github.com/2389/agent-console/internal/runtime"
	"github.com/2389/agent-console/internal/session"
	"github.com/2389/agent-console/internal/store"
	"github.com/2389/agent-console/internal/webadmin"
)

// Deps are the remote clients the pipelines use. They are built by the
// caller so credentials and endpoints stay outside the server.
type Deps struct {
	Runtime   runtime.Client
	Registrar lifecycle.Registrar
	Tokens    gcpauth.Provider
	Projects  lifecycle.ProjectNumbers
	Bundles   lifecycle.BundleBuilder
	Catalog   *bundle.Catalog // nil uses the built-in gallery
}

// Server is the agent console process.
type Server struct {
	config       *config.Config
	store        store.ActivityStore
	sessions     *session.Store
	progress     *progress.Broadcaster
	metrics      *metrics.Metrics
	orchestrator *lifecycle.Orchestrator
	webAdmin     *webadmin.Admin
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger

	// baseURL is where operators reach the console
	baseURL string
}

// determineBaseURL resolves the console base URL from config or environment.
func determineBaseURL(cfg *config.Config) string {
	if cfg.WebAdmin.BaseURL != "" {
		return cfg.WebAdmin.BaseURL
	}
	if envURL := os.Getenv("AGENT_CONSOLE_URL"); envURL != "" {
		return envURL
	}
	if !cfg.Tailscale.Enabled {
		return "http://" + cfg.Server.HTTPAddr
	}
	if cfg.Tailscale.HTTPS {
		return "https://" + cfg.Tailscale.Hostname
	}
	return "http://" + cfg.Tailscale.Hostname
}

// initStore creates the activity store, honoring AGENT_CONSOLE_DB_PATH.
func initStore(cfg *config.Config) (store.ActivityStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("AGENT_CONSOLE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// sessionSecret returns the configured secret or a random one. A random
// secret invalidates every browser session on restart.
func sessionSecret(cfg *config.Config, logger *slog.Logger) ([]byte, error) {
	if cfg.WebAdmin.SessionSecret != "" {
		return []byte(cfg.WebAdmin.SessionSecret), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating session secret: %w", err)
	}
	logger.Warn("webadmin.session_secret not set - sessions will not survive a restart")
	return secret, nil
}

// sessionDefaults seeds every new session from the cloud settings.
func sessionDefaults(cloud config.CloudConfig) func() session.Data {
	return func() session.Data {
		return session.Data{
			Target: runtime.Target{
				Project:       cloud.Project,
				Location:      cloud.Location,
				StagingBucket: cloud.StagingBucket,
			},
			AgentspaceProject:   cloud.AgentspaceProject,
			AgentspaceLocations: append([]string(nil), cloud.AgentspaceLocations...),
		}
	}
}

// New creates a new Server instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	activity, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	secret, err := sessionSecret(cfg, logger)
	if err != nil {
		_ = activity.Close()
		return nil, err
	}

	sessions := session.NewStore(cfg.WebAdmin.MaxSessions, cfg.WebAdmin.SessionIdle, sessionDefaults(cfg.Cloud))
	broadcaster := progress.New(logger)
	m := metrics.New(func() float64 { return float64(sessions.Len()) })

	catalog := deps.Catalog
	if catalog == nil {
		catalog = bundle.Gallery()
	}
	for _, p := range catalog.Problems() {
		logger.Warn("skipping catalogue entry", "key", p.Key, "error", p.Err)
	}

	orchestrator := lifecycle.New(lifecycle.Deps{
		Runtime:          deps.Runtime,
		Registrar:        deps.Registrar,
		Tokens:           deps.Tokens,
		Projects:         deps.Projects,
		Catalog:          catalog,
		Bundles:          deps.Bundles,
		BaseRequirements: cfg.Agents.BaseRequirements,
		Recorder:         activity,
		Observer:         m,
		TickInterval:     cfg.Agents.TickInterval,
	})

	s := &Server{
		config:       cfg,
		store:        activity,
		sessions:     sessions,
		progress:     broadcaster,
		metrics:      m,
		orchestrator: orchestrator,
		logger:       logger,
		baseURL:      determineBaseURL(cfg),
	}

	cookieTTL := cfg.WebAdmin.SessionIdle
	if cookieTTL <= 0 {
		cookieTTL = session.DefaultIdleTimeout
	}
	s.webAdmin = webadmin.New(webadmin.Deps{
		Pipelines: orchestrator,
		Sessions:  sessions,
		Cookies:   auth.NewSessionCookie(auth.NewJWTSigner(secret), sessions, cookieTTL, cfg.WebAdmin.SecureCookie || cfg.Tailscale.HTTPS),
		Progress:  broadcaster,
		Activity:  activity,
		Config: webadmin.Config{
			BaseURL: s.baseURL,
			Regions: runtime.SupportedRegions,
		},
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, m.Handler())
	}
	s.webAdmin.RegisterRoutes(mux)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("console initialized",
		"base_url", s.baseURL,
		"catalogue", catalog.Source(),
		"agents", catalog.Len(),
		"metrics", cfg.Metrics.Enabled,
	)
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Info("tailscale enabled, ignoring server.http_addr", "http_addr", s.config.Server.HTTPAddr)
		}
		return s.setupTailscaleListener(ctx)
	}
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", s.config.Server.HTTPAddr, err)
	}
	return ln, nil
}

func (s *Server) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "url", s.baseURL)
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		return err
	}
}

// Run serves until ctx is canceled or the listener fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		_ = s.Shutdown(context.Background())
		return err
	}

	errCh := s.startServer(ln)
	serverErr := s.waitForShutdownSignal(ctx, errCh)

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (s *Server) gracefulShutdown() error {
	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "agent-console", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and listens on :80, or :443 with
// the tailnet certificate.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	if tsCfg.HTTPS {
		return s.createTailscaleTLSListener()
	}
	ln, err := s.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (s *Server) createTailscaleTLSListener() (net.Listener, error) {
	s.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := s.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := s.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, lets running pipelines record their
// outcome, then releases the store and the tailnet node.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down console")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	done := make(chan struct{})
	go func() {
		s.webAdmin.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for pipelines: %w", ctx.Err()))
	}
	s.progress.Close()

	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", s.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the catalogue has at least one deployable agent.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	n := s.orchestrator.Catalog().Len()
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents in catalogue"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents, %d sessions)", n, s.sessions.Len())
}
