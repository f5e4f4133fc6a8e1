// ABOUTME: Configuration loading and parsing for agent-console
// ABOUTME: YAML with ${VAR} expansion, duration parsing and cloud defaults from the environment

package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultAgentspaceLocations are searched for apps when nothing else is set.
var DefaultAgentspaceLocations = []string{"global", "us"}

const minSessionSecretLen = 32

// Config represents the complete agent-console configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	WebAdmin  WebAdminConfig  `yaml:"webadmin"`
	Cloud     CloudConfig     `yaml:"cloud"`
	Agents    AgentsConfig    `yaml:"agents"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"` // serve with the tailnet certificate on :443
}

// ServerConfig holds the listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	ShutdownTimeout    time.Duration `yaml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the activity database location
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"` // also log to this file, rotated daily
	Keep   int    `yaml:"keep"` // rotated files to keep
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// WebAdminConfig holds console UI configuration
type WebAdminConfig struct {
	BaseURL       string `yaml:"base_url"`
	SessionSecret string `yaml:"session_secret"`
	MaxSessions   int    `yaml:"max_sessions"`
	SecureCookie  bool   `yaml:"secure_cookie"`

	SessionIdle    time.Duration `yaml:"-"`
	SessionIdleRaw string        `yaml:"session_idle"`
}

// CloudConfig seeds the target fields of every new console session.
type CloudConfig struct {
	Project             string   `yaml:"project" env:"GOOGLE_CLOUD_PROJECT"`
	Location            string   `yaml:"location" env:"GOOGLE_CLOUD_LOCATION"`
	StagingBucket       string   `yaml:"staging_bucket" env:"AGENT_ENGINE_STAGING_BUCKET"`
	AgentspaceProject   string   `yaml:"agentspace_project" env:"AGENTSPACE_PROJECT"`
	AgentspaceLocations []string `yaml:"agentspace_locations" env:"AGENTSPACE_LOCATIONS" envSeparator:","`
}

// AgentsConfig locates the agent bundle catalogue and its sources
type AgentsConfig struct {
	Catalog          string   `yaml:"catalog"` // .yaml or .toml; empty uses the built-in gallery
	Root             string   `yaml:"root"`    // directory agent module paths resolve against
	BaseRequirements []string `yaml:"base_requirements"`

	TickInterval    time.Duration `yaml:"-"`
	TickIntervalRaw string        `yaml:"tick_interval"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:           "127.0.0.1:8501",
			ShutdownTimeoutRaw: "30s",
		},
		Tailscale: TailscaleConfig{Hostname: "agent-console"},
		Database:  DatabaseConfig{Path: "./data/agent-console.db"},
		Logging:   LoggingConfig{Level: "info", Format: "text", Keep: 7},
		Metrics:   MetricsConfig{Enabled: true, Path: "/metrics"},
		WebAdmin: WebAdminConfig{
			MaxSessions:    1000,
			SessionIdleRaw: "2h",
		},
		Agents: AgentsConfig{
			Root:            ".",
			TickIntervalRaw: "1s",
		},
	}
}

// Load reads the configuration file at path over Default(). An empty path
// uses the defaults alone. Environment variables in the format ${VAR_NAME}
// are expanded, then cloud settings present in the process environment
// override the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		expandedData := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnv overlays the cloud variables that are set and non-empty.
func applyEnv(cfg *Config) error {
	var fromEnv CloudConfig
	if err := env.Parse(&fromEnv); err != nil {
		return err
	}

	override := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	override(&cfg.Cloud.Project, fromEnv.Project)
	override(&cfg.Cloud.Location, fromEnv.Location)
	override(&cfg.Cloud.StagingBucket, fromEnv.StagingBucket)
	override(&cfg.Cloud.AgentspaceProject, fromEnv.AgentspaceProject)

	if locs := cleanList(fromEnv.AgentspaceLocations); len(locs) > 0 {
		cfg.Cloud.AgentspaceLocations = locs
	}
	cfg.Cloud.AgentspaceLocations = cleanList(cfg.Cloud.AgentspaceLocations)
	if len(cfg.Cloud.AgentspaceLocations) == 0 {
		cfg.Cloud.AgentspaceLocations = slices.Clone(DefaultAgentspaceLocations)
	}
	return nil
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	if c.Logging.Keep < 0 {
		return fmt.Errorf("logging.keep must not be negative")
	}

	if s := c.WebAdmin.SessionSecret; s != "" && len(s) < minSessionSecretLen {
		return fmt.Errorf("webadmin.session_secret must be at least %d bytes", minSessionSecretLen)
	}
	if c.WebAdmin.MaxSessions <= 0 {
		return fmt.Errorf("webadmin.max_sessions must be positive")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
	}

	if ext := strings.ToLower(c.Agents.Catalog); ext != "" &&
		!strings.HasSuffix(ext, ".yaml") && !strings.HasSuffix(ext, ".yml") && !strings.HasSuffix(ext, ".toml") {
		return fmt.Errorf("agents.catalog %q must be a .yaml, .yml or .toml file", c.Agents.Catalog)
	}

	return nil
}

// parseDurations converts the raw strings into their typed fields
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"webadmin.session_idle", cfg.WebAdmin.SessionIdleRaw, &cfg.WebAdmin.SessionIdle},
		{"agents.tick_interval", cfg.Agents.TickIntervalRaw, &cfg.Agents.TickInterval},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
