// ABOUTME: Pipelines managing OAuth authorization resources at the global location.
// ABOUTME: Creation never overwrites; an existing id is reported as a failure.

package lifecycle

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/2389/agent-console/internal/discovery"
	"github.com/2389/agent-console/internal/session"
)

// AuthorizationInput is the operator's authorization form.
type AuthorizationInput struct {
	ID               string
	ClientID         string
	ClientSecret     string
	AuthorizationURI string
	TokenURI         string
}

func (in AuthorizationInput) validate() *ValidationError {
	switch {
	case strings.TrimSpace(in.ID) == "":
		return invalid("id", "Enter an authorization ID.")
	case strings.TrimSpace(in.ClientID) == "":
		return invalid("client_id", "Enter the OAuth client ID.")
	case in.ClientSecret == "":
		return invalid("client_secret", "Enter the OAuth client secret.")
	case strings.TrimSpace(in.AuthorizationURI) == "":
		return invalid("authorization_uri", "Enter the authorization URI.")
	case strings.TrimSpace(in.TokenURI) == "":
		return invalid("token_uri", "Enter the token URI.")
	}
	return nil
}

// CreateAuthorization stores a new OAuth client credential set.
func (o *Orchestrator) CreateAuthorization(ctx context.Context, st *session.State, sink Sink, in AuthorizationInput) *Outcome {
	return o.execute(ctx, st, sink, ActionCreateAuthorization, func(ctx context.Context, r *run) *Outcome {
		view := st.View()
		if verr := validateProject(view.AgentspaceProject); verr != nil {
			return r.invalid(verr)
		}
		if verr := in.validate(); verr != nil {
			return r.invalid(verr)
		}

		as, fail := r.connect(ctx, view.AgentspaceProject)
		if fail != nil {
			return fail
		}
		id := strings.TrimSpace(in.ID)
		r.emit(PhaseInFlight, "Creating authorization...")
		auth, err := o.deps.Registrar.CreateAuthorization(ctx, as.token.AccessToken, discovery.AuthorizationRequest{
			ProjectID:        as.project,
			ProjectNumber:    as.number,
			ID:               id,
			ClientID:         strings.TrimSpace(in.ClientID),
			ClientSecret:     in.ClientSecret,
			AuthorizationURI: strings.TrimSpace(in.AuthorizationURI),
			TokenURI:         strings.TrimSpace(in.TokenURI),
		})
		if err != nil {
			out := r.fail(fmt.Sprintf("Failed to create authorization '%s': %s", id, summary(err)), err)
			out.Resource = id
			return out
		}

		st.Update(func(d *session.Data) {
			d.Authorizations = append(d.Authorizations, *auth)
		})
		out := r.succeed(fmt.Sprintf("Successfully created authorization '%s'.", id))
		out.Resource = auth.Name
		return out
	})
}

// ListAuthorizations fetches the project's authorizations.
func (o *Orchestrator) ListAuthorizations(ctx context.Context, st *session.State, sink Sink) *Outcome {
	return o.execute(ctx, st, sink, ActionListAuthorizations, func(ctx context.Context, r *run) *Outcome {
		view := st.View()
		if verr := validateProject(view.AgentspaceProject); verr != nil {
			return r.invalid(verr)
		}

		as, fail := r.connect(ctx, view.AgentspaceProject)
		if fail != nil {
			return fail
		}
		r.emit(PhaseInFlight, "Fetching authorizations...")
		auths, err := o.deps.Registrar.ListAuthorizations(ctx, as.token.AccessToken, as.project, as.number)
		if err != nil {
			return r.fail("Failed to list authorizations: "+summary(err), err)
		}
		st.Update(func(d *session.Data) { d.Authorizations = auths })
		return r.succeed(fmt.Sprintf("Found %d authorizations.", len(auths)))
	})
}

// DeleteAuthorization removes the authorization with id.
func (o *Orchestrator) DeleteAuthorization(ctx context.Context, st *session.State, sink Sink, id string) *Outcome {
	return o.execute(ctx, st, sink, ActionDeleteAuthorization, func(ctx context.Context, r *run) *Outcome {
		view := st.View()
		if verr := validateProject(view.AgentspaceProject); verr != nil {
			return r.invalid(verr)
		}
		id = lastSegment(strings.TrimSpace(id))
		if id == "" {
			return r.invalid(invalid("id", "Select an authorization to delete."))
		}

		as, fail := r.connect(ctx, view.AgentspaceProject)
		if fail != nil {
			return fail
		}
		r.emit(PhaseInFlight, "Deleting authorization...")
		if err := o.deps.Registrar.DeleteAuthorization(ctx, as.token.AccessToken, as.project, as.number, id); err != nil {
			out := r.fail(fmt.Sprintf("Failed to delete authorization '%s': %s", id, summary(err)), err)
			out.Resource = id
			return out
		}

		st.Update(func(d *session.Data) {
			d.Authorizations = slices.DeleteFunc(d.Authorizations, func(a discovery.Authorization) bool { return a.ID() == id })
		})
		out := r.succeed(fmt.Sprintf("Successfully deleted authorization '%s'.", id))
		out.Resource = id
		return out
	})
}
