// ABOUTME: Catalogue entry describing one deployable agent bundle.
// ABOUTME: Includes validation, display defaults and requirement merging.

package bundle

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"unicode"
)

// DefaultIconURI is used when an entry does not name an icon.
const DefaultIconURI = "https://fonts.gstatic.com/s/i/short-term/release/googlesymbols/smart_toy/default/24px.svg"

// ErrInvalidEntry is wrapped by every entry validation failure.
var ErrInvalidEntry = errors.New("invalid bundle entry")

var (
	keyPattern        = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	modulePathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
	identPattern      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Entry is a single bundle definition from the catalogue.
type Entry struct {
	Key string `yaml:"-" toml:"-"`

	ModulePath    string   `yaml:"module_path" toml:"module_path"`
	RootVariable  string   `yaml:"root_variable" toml:"root_variable"`
	Requirements  []string `yaml:"requirements" toml:"requirements"`
	ExtraPackages []string `yaml:"extra_packages" toml:"extra_packages"`
	LocalEnvFile  string   `yaml:"local_env_file" toml:"local_env_file"`

	// Runtime (agent engine) presentation.
	DisplayName    string `yaml:"ae_display_name" toml:"ae_display_name"`
	ServiceAccount string `yaml:"ae_service_acct" toml:"ae_service_acct"`
	Description    string `yaml:"description" toml:"description"`

	// Registration (Agentspace) presentation.
	RegistrationName string `yaml:"as_display_name" toml:"as_display_name"`
	ToolDescription  string `yaml:"as_tool_description" toml:"as_tool_description"`
	IconURI          string `yaml:"as_uri" toml:"as_uri"`
}

// Validate checks the fields a deploy needs before any remote call.
func (e Entry) Validate() error {
	if !keyPattern.MatchString(e.Key) {
		return fmt.Errorf("%w: key %q must be letters, digits, '_' or '-'", ErrInvalidEntry, e.Key)
	}
	if !modulePathPattern.MatchString(e.ModulePath) {
		return fmt.Errorf("%w: %s: module_path %q is not a dotted module name", ErrInvalidEntry, e.Key, e.ModulePath)
	}
	if !identPattern.MatchString(e.RootVariable) {
		return fmt.Errorf("%w: %s: root_variable %q is not an identifier", ErrInvalidEntry, e.Key, e.RootVariable)
	}
	for _, req := range e.Requirements {
		if strings.TrimSpace(req) == "" {
			return fmt.Errorf("%w: %s: empty requirement", ErrInvalidEntry, e.Key)
		}
	}
	for _, pkg := range e.ExtraPackages {
		if err := checkRelative(pkg); err != nil {
			return fmt.Errorf("%w: %s: extra package %q: %v", ErrInvalidEntry, e.Key, pkg, err)
		}
	}
	if e.LocalEnvFile != "" {
		if err := checkRelative(e.LocalEnvFile); err != nil {
			return fmt.Errorf("%w: %s: local_env_file %q: %v", ErrInvalidEntry, e.Key, e.LocalEnvFile, err)
		}
	}
	return nil
}

func checkRelative(p string) error {
	if strings.TrimSpace(p) == "" {
		return errors.New("empty path")
	}
	if filepath.IsAbs(p) {
		return errors.New("must be relative to the agents root")
	}
	clean := filepath.ToSlash(filepath.Clean(p))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return errors.New("escapes the agents root")
	}
	return nil
}

// EngineDisplayName is the runtime display name, derived from the key when unset.
func (e Entry) EngineDisplayName() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	return titleWords(strings.ReplaceAll(e.Key, "_", " ")) + " Agent"
}

// EngineDescription is the runtime description, derived from the key when unset.
func (e Entry) EngineDescription() string {
	if e.Description != "" {
		return e.Description
	}
	return "Agent: " + e.Key
}

// AgentspaceName is the display name used when registering the bundle.
func (e Entry) AgentspaceName() string {
	if e.RegistrationName != "" {
		return e.RegistrationName
	}
	return e.EngineDisplayName()
}

// AgentspaceToolDescription falls back to the description.
func (e Entry) AgentspaceToolDescription() string {
	if e.ToolDescription != "" {
		return e.ToolDescription
	}
	return e.EngineDescription()
}

// Icon returns the icon URI, treating "" and "n/a" as unset.
func (e Entry) Icon() string {
	return IconOrDefault(e.IconURI)
}

// IconOrDefault returns uri unless it is empty or "n/a".
func IconOrDefault(uri string) string {
	uri = strings.TrimSpace(uri)
	if uri == "" || strings.EqualFold(uri, "n/a") {
		return DefaultIconURI
	}
	return uri
}

// MergeRequirements returns the sorted, de-duplicated union of both lists.
func MergeRequirements(base, extra []string) []string {
	merged := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, req := range list {
			req = strings.TrimSpace(req)
			if req != "" {
				merged = append(merged, req)
			}
		}
	}
	slices.Sort(merged)
	return slices.Compact(merged)
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
