// ABOUTME: Types and interfaces for the agent runtime: targets, resources and requests.
// ABOUTME: Client binds a target; Engines performs operations against it.

package runtime

import (
	"context"
	"strings"
	"time"
)

// Target identifies where agent resources live.
type Target struct {
	Project       string
	Location      string
	StagingBucket string
}

// Bucket returns the staging bucket name without any gs:// prefix.
func (t Target) Bucket() string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(t.StagingBucket), "gs://"), "/")
}

// Resource is a deployed agent.
type Resource struct {
	Name           string
	DisplayName    string
	Description    string
	ServiceAccount string
	CreateTime     time.Time
	UpdateTime     time.Time
}

// ID returns the last path segment of the resource name.
func (r Resource) ID() string {
	if i := strings.LastIndex(r.Name, "/"); i >= 0 {
		return r.Name[i+1:]
	}
	return r.Name
}

// Location returns the location segment of the resource name, if any.
func (r Resource) Location() string {
	parts := strings.Split(r.Name, "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "locations" {
			return parts[i+1]
		}
	}
	return ""
}

// Source is the packaged agent code for a create or update.
type Source struct {
	EntrypointModule string
	EntrypointObject string
	RequirementsFile string
	Archive          []byte
	EnvVars          map[string]string
}

// CreateRequest describes a new resource.
type CreateRequest struct {
	DisplayName    string
	Description    string
	ServiceAccount string
	Source         Source
}

// UpdateRequest replaces the given fields of an existing resource.
// ServiceAccount is only changed when non-empty.
type UpdateRequest struct {
	DisplayName    string
	Description    string
	ServiceAccount string
	Source         Source
}

// Client initializes access to a target.
type Client interface {
	Init(ctx context.Context, target Target) (Engines, error)
}

// Engines operates on the resources of one initialized target.
type Engines interface {
	List(ctx context.Context) ([]Resource, error)
	Get(ctx context.Context, name string) (*Resource, error)
	Create(ctx context.Context, req CreateRequest) (*Resource, error)
	Update(ctx context.Context, name string, req UpdateRequest) (*Resource, error)
	Delete(ctx context.Context, name string, force bool) error

	CreateSession(ctx context.Context, name, userID string) (string, error)
	StreamQuery(ctx context.Context, name, userID, sessionID, message string) (string, error)
}

// SupportedRegions lists the locations offered by the console's location picker.
var SupportedRegions = []string{
	"us-central1",
	"us-west1",
	"europe-west1",
	"europe-southwest1",
	"asia-east1",
	"asia-northeast1",
}
