// ABOUTME: Auxiliary subcommands: credential inspection, catalogue listing,
// ABOUTME: health probes against a running console and interactive config setup

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/oauth2/google"
	"gopkg.in/yaml.v3"

	"github.com/2389/agent-console/internal/bundle"
	"github.com/2389/agent-console/internal/config"
	"github.com/2389/agent-console/internal/gcpauth"
)

func runADC(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tokens := gcpauth.NewADC(google.FindDefaultCredentials)
	tok, err := tokens.Token(ctx)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("▶ ")
	fmt.Printf("Principal:     %s\n", tok.Identity.Principal())
	green.Print("▶ ")
	fmt.Printf("Credential:    %s\n", tok.Identity.Type)
	green.Print("▶ ")
	fmt.Printf("ADC project:   %s\n", orUnset(tok.Identity.ProjectID))
	if tok.Identity.QuotaProject != "" {
		green.Print("▶ ")
		fmt.Printf("Quota project: %s\n", tok.Identity.QuotaProject)
	}
	green.Print("▶ ")
	fmt.Printf("Token expires: %s\n", tok.Expiry.Format("15:04:05 MST"))

	if cfg.Cloud.Project != "" {
		number, ok := gcpauth.NewProjectResolver(tokens, "").ProjectNumber(ctx, cfg.Cloud.Project)
		green.Print("▶ ")
		if ok {
			fmt.Printf("Project:       %s (%s)\n", cfg.Cloud.Project, number)
		} else {
			fmt.Printf("Project:       %s ", cfg.Cloud.Project)
			color.Yellow("(number not resolvable)")
		}
	}
	return nil
}

func runAgents() error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	catalog, err := bundle.LoadCatalog(cfg.Agents.Catalog)
	if err != nil {
		return fmt.Errorf("loading agent catalogue: %w", err)
	}
	return printCatalog(os.Stdout, catalog)
}

func printCatalog(w io.Writer, catalog *bundle.Catalog) error {
	fmt.Fprintf(w, "Catalogue: %s\n\n", catalog.Source())
	for _, e := range catalog.Entries() {
		name := e.DisplayName
		if name == "" {
			name = e.Key
		}
		fmt.Fprintf(w, "  %-24s %s\n", e.Key, name)
		if e.Description != "" {
			fmt.Fprintf(w, "  %-24s %s\n", "", e.Description)
		}
	}
	if problems := catalog.Problems(); len(problems) > 0 {
		fmt.Fprintf(w, "\n%d invalid entries:\n", len(problems))
		for _, p := range problems {
			fmt.Fprintf(w, "  %s\n", p.Error())
		}
	}
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	for _, path := range []string{"/health", "/health/ready"} {
		body, err := probe(ctx, fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path))
		if err != nil {
			return err
		}
		fmt.Printf("%-14s %s\n", path, strings.TrimSpace(body))
	}
	return nil
}

func probe(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

// initAnswers is what runInit collects before rendering the file.
type initAnswers struct {
	HTTPAddr            string
	DBPath              string
	Project             string
	Location            string
	StagingBucket       string
	AgentspaceProject   string
	AgentspaceLocations []string
	Catalog             string
	TailscaleEnabled    bool
	TailscaleHostname   string
	TailscaleHTTPS      bool
	LogLevel            string
	LogFormat           string
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("agent-console configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	defaultDbPath := filepath.Join(getDataPath(), "agent-console.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Println("\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, "HTTP address", "127.0.0.1:8501")
	a.DBPath = prompt(reader, "SQLite activity database path", defaultDbPath)

	fmt.Println("\n--- Google Cloud ---")
	a.Project = prompt(reader, "Project ID", os.Getenv("GOOGLE_CLOUD_PROJECT"))
	a.Location = prompt(reader, "Agent Engine region", firstNonEmpty(os.Getenv("GOOGLE_CLOUD_LOCATION"), "us-central1"))
	a.StagingBucket = prompt(reader, "Staging bucket (gs://...)", os.Getenv("AGENT_ENGINE_STAGING_BUCKET"))
	a.AgentspaceProject = prompt(reader, "Agentspace project (empty for same project)", os.Getenv("AGENTSPACE_PROJECT"))
	if locs := prompt(reader, "Agentspace locations (comma separated)", strings.Join(config.DefaultAgentspaceLocations, ",")); locs != "" {
		for _, l := range strings.Split(locs, ",") {
			if l = strings.TrimSpace(l); l != "" {
				a.AgentspaceLocations = append(a.AgentspaceLocations, l)
			}
		}
	}
	a.Catalog = prompt(reader, "Agent catalogue file (empty for the built-in gallery)", "")

	fmt.Println("\n--- Tailscale Configuration ---")
	a.TailscaleEnabled = yes(prompt(reader, "Enable Tailscale?", "no"))
	if a.TailscaleEnabled {
		a.TailscaleHostname = prompt(reader, "Tailscale hostname", "agent-console")
		a.TailscaleHTTPS = yes(prompt(reader, "Serve HTTPS with the tailnet certificate?", "yes"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	data, err := renderInitConfig(a)
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(a.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the console:")
	fmt.Printf("  agent-console serve\n")

	return nil
}

// renderInitConfig writes the answers in the shape config.Load reads.
func renderInitConfig(a initAnswers) ([]byte, error) {
	type section = map[string]any

	cloud := section{"project": a.Project, "location": a.Location}
	if a.StagingBucket != "" {
		cloud["staging_bucket"] = a.StagingBucket
	}
	if a.AgentspaceProject != "" {
		cloud["agentspace_project"] = a.AgentspaceProject
	}
	if len(a.AgentspaceLocations) > 0 {
		cloud["agentspace_locations"] = a.AgentspaceLocations
	}

	tailscale := section{"enabled": a.TailscaleEnabled}
	if a.TailscaleEnabled {
		tailscale["hostname"] = a.TailscaleHostname
		tailscale["https"] = a.TailscaleHTTPS
	}

	doc := section{
		"server":    section{"http_addr": a.HTTPAddr},
		"database":  section{"path": a.DBPath},
		"cloud":     cloud,
		"tailscale": tailscale,
		"logging":   section{"level": a.LogLevel, "format": a.LogFormat},
		"metrics":   section{"enabled": true, "path": "/metrics"},
	}
	if a.Catalog != "" {
		doc["agents"] = section{"catalog": a.Catalog}
	}

	body, err := yaml.Marshal(doc)
	if err != nil {
		return nil, err
	}
	header := "# agent-console configuration\n# Generated by agent-console init\n\n"
	return append([]byte(header), body...), nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
