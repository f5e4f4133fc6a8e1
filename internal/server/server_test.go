// ABOUTME: Tests for the console server lifecycle and its plain HTTP endpoints
// ABOUTME: Runs on a real loopback listener with an in-memory activity store

package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/2389/agent-console/internal/bundle"
	"github.com/2389/agent-console/internal/config"
)

// testConfig creates a minimal config for testing with an available port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available HTTP port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := config.Default()
	cfg.Server.HTTPAddr = addr
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Database.Path = ":memory:"
	cfg.WebAdmin.SessionSecret = "0123456789abcdef0123456789abcdef"
	cfg.Cloud.Project = "my-project"
	cfg.Cloud.Location = "us-central1"
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg *config.Config, deps Deps) *Server {
	t.Helper()
	s, err := New(cfg, testLogger(), deps)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return s
}

func TestServerNew(t *testing.T) {
	cfg := testConfig(t)
	s := newTestServer(t, cfg, Deps{})
	defer s.Shutdown(context.Background())

	if s.config != cfg {
		t.Error("server config mismatch")
	}
	if s.store == nil || s.sessions == nil || s.orchestrator == nil || s.webAdmin == nil {
		t.Error("components should not be nil")
	}
	if s.orchestrator.Catalog().Source() != "gallery" {
		t.Errorf("catalogue = %q, want built-in gallery", s.orchestrator.Catalog().Source())
	}
}

func TestServerRunAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	s := newTestServer(t, cfg, Deps{})

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("server did not shutdown in time")
	}
}

func TestRun_ListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Server.HTTPAddr = ln.Addr().String()
	s := newTestServer(t, cfg, Deps{})

	if err := s.Run(t.Context()); err == nil {
		t.Error("Run() should fail when the address is taken")
	}
}

func TestHealthEndpoint(t *testing.T) {
	cfg := testConfig(t)
	s := newTestServer(t, cfg, Deps{})

	go func() {
		_ = s.Run(t.Context())
	}()
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestReadyEndpoint(t *testing.T) {
	cfg := testConfig(t)
	s := newTestServer(t, cfg, Deps{})
	defer s.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ready status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.HasPrefix(rec.Body.String(), "ready (") {
		t.Errorf("ready body = %q", rec.Body.String())
	}
}

func TestReadyEndpoint_EmptyCatalogue(t *testing.T) {
	empty, err := bundle.ParseYAML("empty.yaml", []byte("{}"))
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(t)
	s := newTestServer(t, cfg, Deps{Catalog: empty})
	defer s.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready status = %d, want %d (empty catalogue)", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := testConfig(t)
	s := newTestServer(t, cfg, Deps{})
	defer s.Shutdown(context.Background())

	// a console visit creates a session
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/console/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("console status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "agent_console_sessions 1") {
		t.Errorf("metrics missing session gauge:\n%s", rec.Body.String())
	}
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false
	s := newTestServer(t, cfg, Deps{})
	defer s.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("metrics status = %d, want 404", rec.Code)
	}
}

func TestSessionDefaultsFromCloudConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cloud.AgentspaceLocations = []string{"global", "us"}

	d := sessionDefaults(cfg.Cloud)()
	if d.Target.Project != "my-project" || d.Target.Location != "us-central1" {
		t.Errorf("target = %+v", d.Target)
	}

	d.AgentspaceLocations[0] = "changed"
	if cfg.Cloud.AgentspaceLocations[0] != "global" {
		t.Error("session defaults must not alias the config")
	}
}

func TestDetermineBaseURL(t *testing.T) {
	t.Setenv("AGENT_CONSOLE_URL", "")

	cfg := testConfig(t)
	cfg.Server.HTTPAddr = "127.0.0.1:8501"
	if got := determineBaseURL(cfg); got != "http://127.0.0.1:8501" {
		t.Errorf("tcp base url = %q", got)
	}

	cfg.Tailscale.Enabled = true
	cfg.Tailscale.Hostname = "console"
	if got := determineBaseURL(cfg); got != "http://console" {
		t.Errorf("tailscale base url = %q", got)
	}

	cfg.Tailscale.HTTPS = true
	if got := determineBaseURL(cfg); got != "https://console" {
		t.Errorf("tailscale https base url = %q", got)
	}

	t.Setenv("AGENT_CONSOLE_URL", "https://console.tailnet.ts.net")
	if got := determineBaseURL(cfg); got != "https://console.tailnet.ts.net" {
		t.Errorf("env base url = %q", got)
	}

	cfg.WebAdmin.BaseURL = "https://explicit"
	if got := determineBaseURL(cfg); got != "https://explicit" {
		t.Errorf("configured base url = %q", got)
	}
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	if _, err := resolveTailscaleAuthKey(""); err == nil {
		t.Error("expected error without auth key")
	}

	t.Setenv("TS_AUTHKEY", "tskey-env")
	if key, _ := resolveTailscaleAuthKey(""); key != "tskey-env" {
		t.Errorf("key = %q, want env value", key)
	}
	if key, _ := resolveTailscaleAuthKey("tskey-cfg"); key != "tskey-cfg" {
		t.Errorf("key = %q, want configured value", key)
	}
}

func TestResolveTailscaleStateDir(t *testing.T) {
	if dir, _ := resolveTailscaleStateDir("/tmp/ts"); dir != "/tmp/ts" {
		t.Errorf("dir = %q", dir)
	}
	dir, err := resolveTailscaleStateDir("")
	if err != nil {
		t.Skip("no home directory")
	}
	if !strings.HasSuffix(dir, "/.local/share/agent-console/tailscale") {
		t.Errorf("default dir = %q", dir)
	}
}
