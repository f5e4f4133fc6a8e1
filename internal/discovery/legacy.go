// ABOUTME: Legacy registration via the assistant's agentConfigs list.
// ABOUTME: Every change reads the list, edits it locally and PATCHes it back whole.

package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrAssistantNotFound is returned when reading configs of a missing assistant.
var ErrAssistantNotFound = errors.New("assistant not found")

const legacyIDMaxLen = 50

var nonWordRun = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// LegacyAgentID derives the config id from a display name: lower-cased,
// runs of non-word characters replaced by "_", at most 50 characters.
func LegacyAgentID(displayName string) string {
	id := []rune(nonWordRun.ReplaceAllString(strings.ToLower(displayName), "_"))
	if len(id) > legacyIDMaxLen {
		id = id[:legacyIDMaxLen]
	}
	return string(id)
}

// LegacyConfig is one entry of an assistant's agentConfigs. Entries read
// from the API are written back unchanged.
type LegacyConfig struct {
	ID              string
	DisplayName     string
	ReasoningEngine string
	ToolDescription string
	IconURI         string

	raw json.RawMessage
}

type legacyConfigJSON struct {
	ID                             string `json:"id"`
	DisplayName                    string `json:"displayName"`
	VertexAiSdkAgentConnectionInfo struct {
		ReasoningEngine string `json:"reasoningEngine"`
	} `json:"vertexAiSdkAgentConnectionInfo"`
	ToolDescription string    `json:"toolDescription"`
	Icon            *iconJSON `json:"icon,omitempty"`
}

// MarshalJSON preserves configs as they were received.
func (c LegacyConfig) MarshalJSON() ([]byte, error) {
	if len(c.raw) > 0 {
		return c.raw, nil
	}
	out := legacyConfigJSON{
		ID:              c.ID,
		DisplayName:     c.DisplayName,
		ToolDescription: c.ToolDescription,
	}
	out.VertexAiSdkAgentConnectionInfo.ReasoningEngine = c.ReasoningEngine
	if c.IconURI != "" {
		out.Icon = &iconJSON{URI: c.IconURI}
	}
	return json.Marshal(out)
}

func parseLegacyConfig(r gjson.Result) LegacyConfig {
	return LegacyConfig{
		ID:              r.Get("id").String(),
		DisplayName:     r.Get("displayName").String(),
		ReasoningEngine: r.Get("vertexAiSdkAgentConnectionInfo.reasoningEngine").String(),
		ToolDescription: r.Get("toolDescription").String(),
		IconURI:         r.Get("icon.uri").String(),
		raw:             json.RawMessage(r.Raw),
	}
}

// LegacyConfigs reads the assistant's agent configs.
func (c *Client) LegacyConfigs(ctx context.Context, token, projectID, projectNumber string, app App, assistant string) ([]LegacyConfig, error) {
	body, err := c.call(ctx, "legacy_configs", token, projectID, http.MethodGet,
		c.assistantURL(projectNumber, app, assistant), nil, nil)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrAssistantNotFound, assistantOrDefault(assistant))
		}
		return nil, err
	}

	var configs []LegacyConfig
	gjson.GetBytes(body, "agentConfigs").ForEach(func(_, v gjson.Result) bool {
		configs = append(configs, parseLegacyConfig(v))
		return true
	})
	return configs, nil
}

// LegacyRegister adds or replaces the config derived from req.DisplayName.
// A missing assistant is treated as having no configs.
func (c *Client) LegacyRegister(ctx context.Context, token string, req RegisterRequest) (string, error) {
	current, err := c.LegacyConfigs(ctx, token, req.ProjectID, req.ProjectNumber, req.App, req.Assistant)
	if err != nil && !errors.Is(err, ErrAssistantNotFound) {
		return "", err
	}

	id := LegacyAgentID(req.DisplayName)
	updated := slices.DeleteFunc(current, func(cfg LegacyConfig) bool { return cfg.ID == id })

	// legacy configs carry the agent description as their tool description
	updated = append(updated, LegacyConfig{
		ID:              id,
		DisplayName:     req.DisplayName,
		ReasoningEngine: req.ReasoningEngine,
		ToolDescription: req.Description,
		IconURI:         req.IconURI,
	})

	if err := c.patchConfigs(ctx, "legacy_register", token, req.ProjectID, req.ProjectNumber, req.App, req.Assistant, updated); err != nil {
		return "", err
	}
	c.logger.Info("legacy agent registered", "id", id, "app", req.App.Key())
	return id, nil
}

// LegacyDeregister removes ids from current and writes the remainder back.
func (c *Client) LegacyDeregister(ctx context.Context, token, projectID, projectNumber string, app App, assistant string, ids []string, current []LegacyConfig) error {
	remaining := slices.DeleteFunc(slices.Clone(current), func(cfg LegacyConfig) bool {
		return slices.Contains(ids, cfg.ID)
	})
	if err := c.patchConfigs(ctx, "legacy_deregister", token, projectID, projectNumber, app, assistant, remaining); err != nil {
		return err
	}
	c.logger.Info("legacy agents deregistered", "count", len(current)-len(remaining), "app", app.Key())
	return nil
}

func (c *Client) patchConfigs(ctx context.Context, op, token, projectID, projectNumber string, app App, assistant string, configs []LegacyConfig) error {
	if configs == nil {
		configs = []LegacyConfig{}
	}
	payload := map[string]any{"agentConfigs": configs}
	query := map[string]string{"updateMask": "agent_configs"}
	_, err := c.call(ctx, op, token, projectID, http.MethodPatch, c.assistantURL(projectNumber, app, assistant), query, payload)
	return err
}

func assistantOrDefault(a string) string {
	if a == "" {
		return DefaultAssistant
	}
	return a
}
