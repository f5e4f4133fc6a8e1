// ABOUTME: OAuth authorization resources at the global Discovery Engine location.
// ABOUTME: Create does not upsert; an existing id is reported by the API as a conflict.

package discovery

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// AuthorizationLocation is the only location authorizations live in.
const AuthorizationLocation = GlobalLocation

// Authorization is a server-side OAuth client configuration.
type Authorization struct {
	Name             string
	ClientID         string
	AuthorizationURI string
	TokenURI         string
}

// ID is the last segment of the authorization name.
func (a Authorization) ID() string { return lastSegment(a.Name) }

// AuthorizationRequest describes a new authorization. ClientSecret is sent
// to the API and never logged.
type AuthorizationRequest struct {
	ProjectID        string
	ProjectNumber    string
	ID               string
	ClientID         string
	ClientSecret     string
	AuthorizationURI string
	TokenURI         string
}

// AuthorizationName builds the full resource name for an authorization id.
func AuthorizationName(projectNumber, id string) string {
	return fmt.Sprintf("projects/%s/locations/%s/authorizations/%s", projectNumber, AuthorizationLocation, id)
}

func (c *Client) authorizationsURL(projectNumber string) string {
	return fmt.Sprintf("%s/v1alpha/projects/%s/locations/%s/authorizations",
		c.origin(AuthorizationLocation), projectNumber, AuthorizationLocation)
}

type serverSideOAuth2JSON struct {
	ClientID         string `json:"clientId"`
	ClientSecret     string `json:"clientSecret"`
	AuthorizationURI string `json:"authorizationUri"`
	TokenURI         string `json:"tokenUri"`
}

type authorizationPayload struct {
	Name             string               `json:"name"`
	ServerSideOAuth2 serverSideOAuth2JSON `json:"serverSideOauth2"`
}

// CreateAuthorization creates a new authorization resource.
func (c *Client) CreateAuthorization(ctx context.Context, token string, req AuthorizationRequest) (*Authorization, error) {
	payload := authorizationPayload{
		Name: AuthorizationName(req.ProjectNumber, req.ID),
		ServerSideOAuth2: serverSideOAuth2JSON{
			ClientID:         req.ClientID,
			ClientSecret:     req.ClientSecret,
			AuthorizationURI: req.AuthorizationURI,
			TokenURI:         req.TokenURI,
		},
	}
	query := map[string]string{"authorizationId": req.ID}

	body, err := c.call(ctx, "create_authorization", token, req.ProjectID, http.MethodPost,
		c.authorizationsURL(req.ProjectNumber), query, payload)
	if err != nil {
		return nil, err
	}
	auth := parseAuthorization(gjson.ParseBytes(body))
	if auth.Name == "" {
		auth.Name = payload.Name
	}
	c.logger.Info("authorization created", "authorization", auth.Name)
	return &auth, nil
}

// ListAuthorizations returns all authorizations in the project.
func (c *Client) ListAuthorizations(ctx context.Context, token, projectID, projectNumber string) ([]Authorization, error) {
	var out []Authorization
	pageToken := ""
	for {
		query := map[string]string{}
		if pageToken != "" {
			query["pageToken"] = pageToken
		}
		body, err := c.call(ctx, "list_authorizations", token, projectID, http.MethodGet,
			c.authorizationsURL(projectNumber), query, nil)
		if err != nil {
			return nil, err
		}
		doc := gjson.ParseBytes(body)
		doc.Get("authorizations").ForEach(func(_, v gjson.Result) bool {
			out = append(out, parseAuthorization(v))
			return true
		})
		pageToken = doc.Get("nextPageToken").String()
		if pageToken == "" {
			break
		}
	}
	return out, nil
}

// DeleteAuthorization removes the authorization with the given id.
func (c *Client) DeleteAuthorization(ctx context.Context, token, projectID, projectNumber, id string) error {
	url := c.authorizationsURL(projectNumber) + "/" + id
	if _, err := c.call(ctx, "delete_authorization", token, projectID, http.MethodDelete, url, nil, nil); err != nil {
		return err
	}
	c.logger.Info("authorization deleted", "authorization", id)
	return nil
}

func parseAuthorization(v gjson.Result) Authorization {
	return Authorization{
		Name:             v.Get("name").String(),
		ClientID:         v.Get("serverSideOauth2.clientId").String(),
		AuthorizationURI: v.Get("serverSideOauth2.authorizationUri").String(),
		TokenURI:         v.Get("serverSideOauth2.tokenUri").String(),
	}
}
