// ABOUTME: Application Default Credentials adapter returning a freshly refreshed token per call.
// ABOUTME: Also describes the credential principal for the console header and adc command.

package gcpauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2/google"
)

// CloudPlatformScope is requested for every token.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

var (
	// ErrNoCredentials means no Application Default Credentials were found.
	ErrNoCredentials = errors.New("application default credentials not found")

	// ErrRefresh means credentials exist but a token could not be minted.
	ErrRefresh = errors.New("credential refresh failed")
)

// Credential types reported in Identity.Type.
const (
	TypeServiceAccount  = "service_account"
	TypeUser            = "authorized_user"
	TypeExternalAccount = "external_account"
	TypeImpersonated    = "impersonated_service_account"
	TypeComputeMetadata = "compute_metadata"
	TypeUnknown         = "unknown"
)

// Identity describes the principal behind the credentials.
type Identity struct {
	ProjectID    string
	Type         string
	Email        string
	QuotaProject string
}

// Principal is a short human-readable description of the identity.
func (i Identity) Principal() string {
	switch {
	case i.Email != "":
		return i.Email
	case i.Type == TypeUser:
		return "user credentials (gcloud auth application-default login)"
	case i.Type == TypeComputeMetadata:
		return "attached service account (metadata server)"
	default:
		return i.Type
	}
}

// Token is a bearer token plus the identity it was minted for.
type Token struct {
	AccessToken string
	Expiry      time.Time
	Identity    Identity
}

// Provider mints fresh bearer tokens.
type Provider interface {
	Token(ctx context.Context) (*Token, error)
}

// FindFunc locates credentials; google.FindDefaultCredentials in production.
type FindFunc func(ctx context.Context, scopes ...string) (*google.Credentials, error)

// ADC is a Provider backed by Application Default Credentials.
type ADC struct {
	find   FindFunc
	scopes []string
	logger *slog.Logger
}

// NewADC creates a provider. find may be nil to use the real lookup.
func NewADC(find FindFunc) *ADC {
	if find == nil {
		find = google.FindDefaultCredentials
	}
	return &ADC{
		find:   find,
		scopes: []string{CloudPlatformScope},
		logger: slog.Default().With("component", "gcpauth"),
	}
}

// Token looks up credentials and refreshes them. Each call starts from a
// new credential lookup so the returned token is never a cached one.
func (a *ADC) Token(ctx context.Context) (*Token, error) {
	creds, err := a.find(ctx, a.scopes...)
	if err != nil {
		a.logger.Warn("no application default credentials", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrNoCredentials, err)
	}

	tok, err := creds.TokenSource.Token()
	if err != nil {
		a.logger.Warn("credential refresh failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrRefresh, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrRefresh)
	}

	id := ParseIdentity(creds.JSON)
	if id.ProjectID == "" {
		id.ProjectID = creds.ProjectID
	}

	a.logger.Debug("credentials refreshed", "principal", id.Principal(), "expiry", tok.Expiry)
	return &Token{AccessToken: tok.AccessToken, Expiry: tok.Expiry, Identity: id}, nil
}

// ParseIdentity reads the principal out of a credentials JSON document. An
// empty document means the credentials came from the metadata server.
func ParseIdentity(credsJSON []byte) Identity {
	if len(credsJSON) == 0 {
		return Identity{Type: TypeComputeMetadata}
	}

	doc := gjson.ParseBytes(credsJSON)
	id := Identity{
		Type:         doc.Get("type").String(),
		ProjectID:    doc.Get("project_id").String(),
		QuotaProject: doc.Get("quota_project_id").String(),
	}
	if id.Type == "" {
		id.Type = TypeUnknown
	}

	switch id.Type {
	case TypeServiceAccount:
		id.Email = doc.Get("client_email").String()
	case TypeImpersonated, TypeExternalAccount:
		id.Email = emailFromImpersonationURL(doc.Get("service_account_impersonation_url").String())
	}
	return id
}

// emailFromImpersonationURL extracts the account from
// ".../serviceAccounts/<email>:generateAccessToken".
func emailFromImpersonationURL(u string) string {
	_, after, ok := strings.Cut(u, "/serviceAccounts/")
	if !ok {
		return ""
	}
	email, _, _ := strings.Cut(after, ":")
	return email
}
