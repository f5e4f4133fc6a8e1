// ABOUTME: Resolves a project id to its numeric project number via Cloud Resource Manager.
// ABOUTME: Failures are logged and reported as "not resolved", never as errors.

package gcpauth

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// ResourceManagerURL is the production Cloud Resource Manager endpoint.
const ResourceManagerURL = "https://cloudresourcemanager.googleapis.com"

// ProjectResolver looks up project numbers.
type ProjectResolver struct {
	tokens Provider
	http   *resty.Client
	logger *slog.Logger
}

// NewProjectResolver creates a resolver. An empty baseURL selects the
// production endpoint.
func NewProjectResolver(tokens Provider, baseURL string) *ProjectResolver {
	if baseURL == "" {
		baseURL = ResourceManagerURL
	}
	return &ProjectResolver{
		tokens: tokens,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second).
			SetHeader("Accept", "application/json"),
		logger: slog.Default().With("component", "gcpauth"),
	}
}

// ProjectNumber returns the numeric id for projectID, or false when it
// cannot be resolved for any reason.
func (r *ProjectResolver) ProjectNumber(ctx context.Context, projectID string) (string, bool) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return "", false
	}

	tok, err := r.tokens.Token(ctx)
	if err != nil {
		r.logger.Error("project number lookup: no credentials", "project", projectID, "error", err)
		return "", false
	}

	resp, err := r.http.R().
		SetContext(ctx).
		SetAuthToken(tok.AccessToken).
		SetPathParam("project", projectID).
		Get("/v3/projects/{project}")
	if err != nil {
		r.logger.Error("project number lookup failed", "project", projectID, "error", err)
		return "", false
	}
	if resp.IsError() {
		r.logger.Error("project number lookup failed",
			"project", projectID,
			"status", resp.StatusCode(),
			"message", gjson.GetBytes(resp.Body(), "error.message").String(),
		)
		return "", false
	}

	number := strings.TrimPrefix(gjson.GetBytes(resp.Body(), "name").String(), "projects/")
	if number == "" {
		r.logger.Error("project number lookup: no name in response", "project", projectID)
		return "", false
	}
	return number, true
}
