// ABOUTME: Tests for bundle entry validation, display defaults and requirement merging.

package bundle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEntry() Entry {
	return Entry{
		Key:           "tools_agent",
		ModulePath:    "agents_gallery.tools_agent.agent",
		RootVariable:  "root_agent",
		Requirements:  []string{"google-adk"},
		ExtraPackages: []string{"./agents_gallery/tools_agent"},
	}
}

func TestEntry_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Entry)
	}{
		{"bad key", func(e *Entry) { e.Key = "has space" }},
		{"empty module", func(e *Entry) { e.ModulePath = "" }},
		{"module with slash", func(e *Entry) { e.ModulePath = "agents/tools" }},
		{"bad root variable", func(e *Entry) { e.RootVariable = "1agent" }},
		{"blank requirement", func(e *Entry) { e.Requirements = []string{" "} }},
		{"absolute package", func(e *Entry) { e.ExtraPackages = []string{"/etc"} }},
		{"escaping package", func(e *Entry) { e.ExtraPackages = []string{"../../secret"} }},
		{"escaping env file", func(e *Entry) { e.LocalEnvFile = "../.env" }},
	}

	require.NoError(t, validEntry().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEntry()
			tt.mutate(&e)
			assert.ErrorIs(t, e.Validate(), ErrInvalidEntry)
		})
	}
}

func TestEntry_Defaults(t *testing.T) {
	e := Entry{Key: "recipe_finder"}
	assert.Equal(t, "Recipe Finder Agent", e.EngineDisplayName())
	assert.Equal(t, "Agent: recipe_finder", e.EngineDescription())
	assert.Equal(t, "Recipe Finder Agent", e.AgentspaceName())
	assert.Equal(t, "Agent: recipe_finder", e.AgentspaceToolDescription())
	assert.Equal(t, DefaultIconURI, e.Icon())

	e.DisplayName = "Chef"
	e.RegistrationName = "Chef in AS"
	e.Description = "Finds recipes"
	e.IconURI = "https://example.com/icon.svg"
	assert.Equal(t, "Chef", e.EngineDisplayName())
	assert.Equal(t, "Chef in AS", e.AgentspaceName())
	assert.Equal(t, "Finds recipes", e.AgentspaceToolDescription())
	assert.Equal(t, "https://example.com/icon.svg", e.Icon())
}

func TestIconOrDefault(t *testing.T) {
	assert.Equal(t, DefaultIconURI, IconOrDefault(""))
	assert.Equal(t, DefaultIconURI, IconOrDefault("N/A"))
	assert.Equal(t, "x", IconOrDefault(" x "))
}

func TestMergeRequirements(t *testing.T) {
	base := []string{"requests", "python-dotenv", "google-cloud-resource-manager"}
	extra := []string{"python-dotenv", "google-adk==1.4.2", ""}

	got := MergeRequirements(base, extra)
	assert.Equal(t, []string{
		"google-adk==1.4.2",
		"google-cloud-resource-manager",
		"python-dotenv",
		"requests",
	}, got)
}
