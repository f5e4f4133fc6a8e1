// ABOUTME: Finds Agentspace apps (engines on the search-and-assistant tier) across locations.
// ABOUTME: Locations are scanned concurrently; a failing location is logged and skipped.

package discovery

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// AssistantTier is the subscription tier that identifies an Agentspace app.
const AssistantTier = "subscription_tier_search_and_assistant"

// App is an Agentspace app (a Discovery Engine engine).
type App struct {
	EngineID    string
	Location    string
	Tier        string
	DisplayName string
}

// Key uniquely identifies the app within a project.
func (a App) Key() string { return a.Location + "/" + a.EngineID }

// ParseAppKey is the inverse of App.Key.
func ParseAppKey(key string) (App, error) {
	loc, id, ok := strings.Cut(key, "/")
	if !ok || loc == "" || id == "" {
		return App{}, fmt.Errorf("%w: app key %q", ErrBadResourceName, key)
	}
	return App{Location: loc, EngineID: id}, nil
}

func (c *Client) assistantURL(projectNumber string, app App, assistant string) string {
	if assistant == "" {
		assistant = DefaultAssistant
	}
	return fmt.Sprintf("%s/v1alpha/projects/%s/locations/%s/collections/default_collection/engines/%s/assistants/%s",
		c.origin(app.Location), projectNumber, app.Location, app.EngineID, assistant)
}

// FindApps lists assistant-tier engines in each location. The result keeps
// the order of locations.
func (c *Client) FindApps(ctx context.Context, token, projectNumber string, locations []string) ([]App, error) {
	if token == "" {
		return nil, fmt.Errorf("find apps: %w", ErrNoToken)
	}

	results := make([][]App, len(locations))
	var g errgroup.Group
	g.SetLimit(4)
	for i, loc := range locations {
		loc = strings.TrimSpace(loc)
		if loc == "" {
			continue
		}
		g.Go(func() error {
			apps, err := c.appsIn(ctx, token, projectNumber, loc)
			if err != nil {
				c.logger.Warn("skipping location", "location", loc, "error", err)
				return nil
			}
			results[i] = apps
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var apps []App
	for _, r := range results {
		apps = append(apps, r...)
	}
	return apps, nil
}

func (c *Client) appsIn(ctx context.Context, token, projectNumber, location string) ([]App, error) {
	url := fmt.Sprintf("%s/v1beta/projects/%s/locations/%s/collections/default_collection/engines",
		c.origin(location), projectNumber, location)

	var apps []App
	pageToken := ""
	for {
		query := map[string]string{}
		if pageToken != "" {
			query["pageToken"] = pageToken
		}
		body, err := c.call(ctx, "list_engines", token, projectNumber, http.MethodGet, url, query, nil)
		if err != nil {
			return nil, err
		}

		doc := gjson.ParseBytes(body)
		doc.Get("engines").ForEach(func(_, engine gjson.Result) bool {
			tier := engine.Get("searchEngineConfig.requiredSubscriptionTier").String()
			if strings.EqualFold(tier, AssistantTier) {
				apps = append(apps, App{
					EngineID:    lastSegment(engine.Get("name").String()),
					Location:    location,
					Tier:        tier,
					DisplayName: engine.Get("displayName").String(),
				})
			}
			return true
		})

		pageToken = doc.Get("nextPageToken").String()
		if pageToken == "" {
			break
		}
	}
	c.logger.Debug("engines scanned", "location", location, "matched", len(apps))
	return apps, nil
}
