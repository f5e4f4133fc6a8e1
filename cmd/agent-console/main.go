// ABOUTME: Entry point for agent-console, the admin console for hosted LLM agents
// ABOUTME: Subcommands serve the web console, write a config file and inspect credentials

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

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2/google"

	"github.com/2389/agent-console/internal/bundle"
	"github.com/2389/agent-console/internal/config"
	"github.com/2389/agent-console/internal/discovery"
	"github.com/2389/agent-console/internal/gcpauth"
	"github.com/2389/agent-console/internal/runtime"
	"github.com/2389/agent-console/internal/server"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                         _                                  _
  __ _  __ _  ___ _ __ | |_       ___ ___  _ __  ___  ___ | | ___
 / _' |/ _' |/ _ \ '_ \| __|____ / __/ _ \| '_ \/ __|/ _ \| |/ _ \
| (_| | (_| |  __/ | | | ||_____| (_| (_) | | | \__ \ (_) | |  __/
 \__,_|\__, |\___|_| |_|\__|     \___\___/|_| |_|___/\___/|_|\___|
       |___/
`

// getConfigPath returns the path to the console config file, or "" when
// none exists and the defaults apply.
// Priority: AGENT_CONSOLE_CONFIG env var > XDG_CONFIG_HOME/agent-console/console.yaml > ~/.config/agent-console/console.yaml
func getConfigPath() string {
	if envPath := os.Getenv("AGENT_CONSOLE_CONFIG"); envPath != "" {
		return envPath
	}
	path := defaultConfigPath()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return ""
	}
	return path
}

func defaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "console.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "agent-console", "console.yaml")
}

// getDataPath returns the path to the console data directory.
// Priority: XDG_DATA_HOME/agent-console > ~/.local/share/agent-console
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "agent-console")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: agent-console <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve      Start the web console")
		fmt.Println("  init       Create a new config file interactively")
		fmt.Println("  adc        Show the Application Default Credentials in use")
		fmt.Println("  agents     List the agent catalogue and any invalid entries")
		fmt.Println("  health     Check a running console")
		fmt.Println("  version    Print the version")
		os.Exit(1)
	}

	// a local .env fills in cloud settings; real environment wins
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: reading .env: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "adc":
		err = runADC(ctx)
	case "agents":
		err = runAgents()
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closeLog, err := setupLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer closeLog()

	catalog, err := bundle.LoadCatalog(cfg.Agents.Catalog)
	if err != nil {
		return fmt.Errorf("loading agent catalogue: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	if configPath == "" {
		fmt.Println("Config:    (defaults)")
	} else {
		fmt.Printf("Config:    %s\n", configPath)
	}
	green.Print("    ▶ ")
	fmt.Printf("Catalogue: %s (%d agents)\n", catalog.Source(), catalog.Len())
	if n := len(catalog.Problems()); n > 0 {
		yellow.Printf("               %d invalid entries, run 'agent-console agents'\n", n)
	}
	green.Print("    ▶ ")
	fmt.Printf("Project:   %s\n", orUnset(cfg.Cloud.Project))

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.HTTPS {
			yellow.Print(" [https]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	fmt.Println()

	logger.Info("starting agent-console",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"project", cfg.Cloud.Project,
		"location", cfg.Cloud.Location,
	)

	tokens := gcpauth.NewADC(google.FindDefaultCredentials)
	srv, err := server.New(cfg, logger, server.Deps{
		Runtime:   runtime.NewVertex(tokens, runtime.Options{}),
		Registrar: discovery.New(discovery.Options{}),
		Tokens:    tokens,
		Projects:  gcpauth.NewProjectResolver(tokens, ""),
		Bundles:   bundle.NewRegistry(bundle.SourceFactory(cfg.Agents.Root)),
		Catalog:   catalog,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
