// ABOUTME: V2 agent registration: create, list and delete agent resources under an assistant.
// ABOUTME: Registration is not idempotent; each call creates a new agent resource.

package discovery

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Agent is an agent resource registered under an assistant.
type Agent struct {
	Name            string
	DisplayName     string
	Description     string
	ReasoningEngine string
	Authorizations  []string
	ADK             bool
}

// ID is the last segment of the agent name.
func (a Agent) ID() string { return lastSegment(a.Name) }

// RegisterRequest carries everything needed to register a deployed agent.
type RegisterRequest struct {
	ProjectID       string
	ProjectNumber   string
	App             App
	Assistant       string
	ReasoningEngine string
	DisplayName     string
	Description     string
	ToolDescription string
	IconURI         string
	Authorizations  []string
}

type iconJSON struct {
	URI string `json:"uri"`
}

type adkDefinitionJSON struct {
	ToolSettings struct {
		ToolDescription string `json:"tool_description"`
	} `json:"tool_settings"`
	ProvisionedReasoningEngine struct {
		ReasoningEngine string `json:"reasoning_engine"`
	} `json:"provisioned_reasoning_engine"`
	Authorizations []string `json:"authorizations,omitempty"`
}

type agentPayload struct {
	DisplayName        string            `json:"displayName"`
	Description        string            `json:"description"`
	Icon               *iconJSON         `json:"icon,omitempty"`
	AdkAgentDefinition adkDefinitionJSON `json:"adk_agent_definition"`
}

// Register creates a new agent resource and returns it.
func (c *Client) Register(ctx context.Context, token string, req RegisterRequest) (*Agent, error) {
	payload := agentPayload{
		DisplayName: req.DisplayName,
		Description: req.Description,
	}
	if req.IconURI != "" {
		payload.Icon = &iconJSON{URI: req.IconURI}
	}
	payload.AdkAgentDefinition.ToolSettings.ToolDescription = req.ToolDescription
	payload.AdkAgentDefinition.ProvisionedReasoningEngine.ReasoningEngine = req.ReasoningEngine
	if len(req.Authorizations) > 0 {
		payload.AdkAgentDefinition.Authorizations = req.Authorizations
	}

	url := c.assistantURL(req.ProjectNumber, req.App, req.Assistant) + "/agents"
	body, err := c.call(ctx, "register_agent", token, req.ProjectID, http.MethodPost, url, nil, payload)
	if err != nil {
		return nil, err
	}

	agent := parseAgent(gjson.ParseBytes(body))
	c.logger.Info("agent registered", "agent", agent.Name, "reasoning_engine", req.ReasoningEngine)
	return &agent, nil
}

// ListAgents returns every agent under the assistant, ADK or not.
func (c *Client) ListAgents(ctx context.Context, token, projectID, projectNumber string, app App, assistant string) ([]Agent, error) {
	url := c.assistantURL(projectNumber, app, assistant) + "/agents"

	var agents []Agent
	pageToken := ""
	for {
		query := map[string]string{}
		if pageToken != "" {
			query["pageToken"] = pageToken
		}
		body, err := c.call(ctx, "list_agents", token, projectID, http.MethodGet, url, query, nil)
		if err != nil {
			return nil, err
		}
		doc := gjson.ParseBytes(body)
		doc.Get("agents").ForEach(func(_, a gjson.Result) bool {
			agents = append(agents, parseAgent(a))
			return true
		})
		pageToken = doc.Get("nextPageToken").String()
		if pageToken == "" {
			break
		}
	}
	return agents, nil
}

// ADKAgents keeps only agents backed by an ADK definition.
func ADKAgents(agents []Agent) []Agent {
	var out []Agent
	for _, a := range agents {
		if a.ADK {
			out = append(out, a)
		}
	}
	return out
}

// Deregister deletes the agent with the given full resource name. The host
// is chosen from the name's location; an unparsable name fails before any
// request is made.
func (c *Client) Deregister(ctx context.Context, token, projectID, agentName string) error {
	location, err := ParseLocation(agentName)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/v1alpha/%s", c.origin(location), agentName)
	if _, err := c.call(ctx, "deregister_agent", token, projectID, http.MethodDelete, url, nil, nil); err != nil {
		return err
	}
	c.logger.Info("agent deregistered", "agent", agentName)
	return nil
}

func parseAgent(a gjson.Result) Agent {
	def := a.Get("adkAgentDefinition")
	if !def.Exists() {
		def = a.Get("adk_agent_definition")
	}

	agent := Agent{
		Name:        a.Get("name").String(),
		DisplayName: a.Get("displayName").String(),
		Description: a.Get("description").String(),
		ADK:         def.Exists(),
	}
	if def.Exists() {
		agent.ReasoningEngine = firstString(def,
			"provisionedReasoningEngine.reasoningEngine",
			"provisioned_reasoning_engine.reasoning_engine")
		def.Get("authorizations").ForEach(func(_, v gjson.Result) bool {
			agent.Authorizations = append(agent.Authorizations, v.String())
			return true
		})
	}
	return agent
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() {
			return v.String()
		}
	}
	return ""
}
