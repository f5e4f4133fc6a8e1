// ABOUTME: Agentspace pipelines: app discovery, V2 and legacy registration and deregistration.
// ABOUTME: Each call resolves the project number first; an empty project never reaches the network.

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/2389/agent-console/internal/bundle"
	"github.com/2389/agent-console/internal/discovery"
	"github.com/2389/agent-console/internal/gcpauth"
	"github.com/2389/agent-console/internal/session"
)

// RegisterInput is the operator's registration form.
type RegisterInput struct {
	Resource        string
	AppKey          string
	Assistant       string
	DisplayName     string
	Description     string
	ToolDescription string
	IconURI         string

	// Authorizations are ids or full resource names. Legacy registration
	// does not support them.
	Authorizations []string
}

// agentspace holds what every registration call needs.
type agentspace struct {
	project string
	number  string
	token   *gcpauth.Token
}

func validateProject(project string) *ValidationError {
	if strings.TrimSpace(project) == "" {
		return invalid("agentspace_project", "Set the Agentspace project ID first.")
	}
	return nil
}

// connect refreshes credentials and resolves the project number.
func (r *run) connect(ctx context.Context, project string) (*agentspace, *Outcome) {
	tok, fail := r.credentials(ctx)
	if fail != nil {
		return nil, fail
	}
	r.emit(PhaseInitializing, "Resolving project number...")
	number, fail := r.projectNumber(ctx, project)
	if fail != nil {
		return nil, fail
	}
	return &agentspace{project: strings.TrimSpace(project), number: number, token: tok}, nil
}

// resolveApp finds appKey among the discovered apps, falling back to
// parsing the key.
func resolveApp(view session.Data, appKey string) (discovery.App, *ValidationError) {
	appKey = strings.TrimSpace(firstNonEmpty(appKey, view.SelectedApp))
	if appKey == "" {
		return discovery.App{}, invalid("app", "Select an Agentspace app.")
	}
	if app, ok := view.App(appKey); ok {
		return app, nil
	}
	app, err := discovery.ParseAppKey(appKey)
	if err != nil {
		return discovery.App{}, invalid("app", fmt.Sprintf("Unknown Agentspace app '%s'.", appKey))
	}
	return app, nil
}

// FindApps lists the assistant-tier apps in the session's Agentspace
// locations.
func (o *Orchestrator) FindApps(ctx context.Context, st *session.State, sink Sink) *Outcome {
	return o.execute(ctx, st, sink, ActionFindApps, func(ctx context.Context, r *run) *Outcome {
		view := st.View()
		if verr := validateProject(view.AgentspaceProject); verr != nil {
			return r.invalid(verr)
		}
		if len(view.AgentspaceLocations) == 0 {
			return r.invalid(invalid("agentspace_locations", "Select at least one Agentspace location."))
		}

		as, fail := r.connect(ctx, view.AgentspaceProject)
		if fail != nil {
			return fail
		}
		r.emit(PhaseInFlight, "Searching for Agentspace apps...")
		apps, err := o.deps.Registrar.FindApps(ctx, as.token.AccessToken, as.number, view.AgentspaceLocations)
		if err != nil {
			return r.fail("Failed to list Agentspace apps: "+summary(err), err)
		}

		st.Update(func(d *session.Data) {
			d.Apps = apps
			if _, ok := d.App(d.SelectedApp); !ok {
				d.SelectedApp = ""
			}
			if d.SelectedApp == "" && len(apps) == 1 {
				d.SelectedApp = apps[0].Key()
			}
		})
		return r.succeed(fmt.Sprintf("Found %d Agentspace apps.", len(apps)))
	})
}

// registration validates in and fills its defaults from the session.
func (o *Orchestrator) registration(view session.Data, in RegisterInput) (discovery.RegisterRequest, *ValidationError) {
	if verr := validateProject(view.AgentspaceProject); verr != nil {
		return discovery.RegisterRequest{}, verr
	}
	resource := strings.TrimSpace(firstNonEmpty(in.Resource, view.RegisterResource))
	if resource == "" {
		return discovery.RegisterRequest{}, invalid("resource", "Select an agent engine to register.")
	}
	app, verr := resolveApp(view, in.AppKey)
	if verr != nil {
		return discovery.RegisterRequest{}, verr
	}

	res, _ := view.Resource(resource)
	entry, hasEntry := o.entryFor(res.DisplayName)
	req := discovery.RegisterRequest{
		ProjectID:       strings.TrimSpace(view.AgentspaceProject),
		App:             app,
		Assistant:       strings.TrimSpace(in.Assistant),
		ReasoningEngine: resource,
		DisplayName:     firstNonEmpty(in.DisplayName, res.DisplayName),
		Description:     firstNonEmpty(in.Description, res.Description),
		ToolDescription: in.ToolDescription,
		IconURI:         in.IconURI,
	}
	if hasEntry {
		req.DisplayName = firstNonEmpty(in.DisplayName, entry.AgentspaceName(), res.DisplayName)
		req.ToolDescription = firstNonEmpty(in.ToolDescription, entry.AgentspaceToolDescription())
		req.IconURI = firstNonEmpty(in.IconURI, entry.Icon())
	}
	if req.DisplayName == "" {
		return discovery.RegisterRequest{}, invalid("display_name", "Enter a display name for the registration.")
	}
	req.ToolDescription = firstNonEmpty(req.ToolDescription, req.Description)
	req.IconURI = bundle.IconOrDefault(req.IconURI)
	return req, nil
}

// entryFor finds the catalogue entry whose runtime display name matches.
func (o *Orchestrator) entryFor(displayName string) (bundle.Entry, bool) {
	if displayName == "" {
		return bundle.Entry{}, false
	}
	for _, e := range o.deps.Catalog.Entries() {
		if e.EngineDisplayName() == displayName {
			return e, true
		}
	}
	return bundle.Entry{}, false
}

// Register creates a V2 agent registration. Calling it twice creates two
// registrations.
func (o *Orchestrator) Register(ctx context.Context, st *session.State, sink Sink, in RegisterInput) *Outcome {
	return o.execute(ctx, st, sink, ActionRegister, func(ctx context.Context, r *run) *Outcome {
		req, verr := o.registration(st.View(), in)
		if verr != nil {
			return r.invalid(verr)
		}
		st.Update(func(d *session.Data) {
			d.RegisterResource = req.ReasoningEngine
			d.SelectedApp = req.App.Key()
		})

		as, fail := r.connect(ctx, req.ProjectID)
		if fail != nil {
			return fail
		}
		req.ProjectNumber = as.number
		for _, a := range compactNames(in.Authorizations) {
			if !strings.Contains(a, "/") {
				a = discovery.AuthorizationName(as.number, a)
			}
			req.Authorizations = append(req.Authorizations, a)
		}

		r.emit(PhaseInFlight, "Registering agent with Agentspace...")
		agent, err := o.deps.Registrar.Register(ctx, as.token.AccessToken, req)
		if err != nil {
			out := r.fail("Registration failed: "+summary(err), err)
			out.Resource = req.ReasoningEngine
			return out
		}

		out := r.succeed("Successfully created agent resource. Name: " + agent.Name)
		out.Resource = agent.Name
		return out
	})
}

// LegacyRegister upserts the agent into the assistant's agent config list.
func (o *Orchestrator) LegacyRegister(ctx context.Context, st *session.State, sink Sink, in RegisterInput) *Outcome {
	return o.execute(ctx, st, sink, ActionLegacyRegister, func(ctx context.Context, r *run) *Outcome {
		if len(compactNames(in.Authorizations)) > 0 {
			return r.invalid(invalid("authorizations", "Legacy registration does not support authorizations."))
		}
		req, verr := o.registration(st.View(), in)
		if verr != nil {
			return r.invalid(verr)
		}

		as, fail := r.connect(ctx, req.ProjectID)
		if fail != nil {
			return fail
		}
		req.ProjectNumber = as.number

		r.emit(PhaseInFlight, "Updating the assistant's agent configs...")
		id, err := o.deps.Registrar.LegacyRegister(ctx, as.token.AccessToken, req)
		if err != nil {
			out := r.fail("Legacy registration failed: "+summary(err), err)
			out.Resource = req.ReasoningEngine
			return out
		}
		out := r.succeed(fmt.Sprintf("Successfully registered agent '%s' with Agentspace (legacy).", id))
		out.Resource = id
		return out
	})
}

// ListRegistrations fetches the ADK agents registered under the app.
func (o *Orchestrator) ListRegistrations(ctx context.Context, st *session.State, sink Sink, appKey string) *Outcome {
	return o.execute(ctx, st, sink, ActionListRegistrations, func(ctx context.Context, r *run) *Outcome {
		view := st.View()
		if verr := validateProject(view.AgentspaceProject); verr != nil {
			return r.invalid(verr)
		}
		app, verr := resolveApp(view, appKey)
		if verr != nil {
			return r.invalid(verr)
		}

		as, fail := r.connect(ctx, view.AgentspaceProject)
		if fail != nil {
			return fail
		}
		r.emit(PhaseInFlight, "Fetching registered agents...")
		all, err := o.deps.Registrar.ListAgents(ctx, as.token.AccessToken, as.project, as.number, app, "")
		if err != nil {
			return r.fail("Failed to list registered agents: "+summary(err), err)
		}
		agents := discovery.ADKAgents(all)

		st.Update(func(d *session.Data) {
			d.SelectedApp = app.Key()
			d.Registrations = agents
			d.DeregisterSelection = slices.DeleteFunc(d.DeregisterSelection, func(n string) bool {
				return !slices.ContainsFunc(agents, func(a discovery.Agent) bool { return a.Name == n })
			})
		})
		return r.succeed(fmt.Sprintf("Found %d registered ADK agents.", len(agents)))
	})
}

// Deregister deletes V2 registrations one at a time. An empty names uses
// the session's deregister selection.
func (o *Orchestrator) Deregister(ctx context.Context, st *session.State, sink Sink, names []string) *Outcome {
	return o.execute(ctx, st, sink, ActionDeregister, func(ctx context.Context, r *run) *Outcome {
		view := st.View()
		if verr := validateProject(view.AgentspaceProject); verr != nil {
			return r.invalid(verr)
		}
		if len(names) == 0 {
			names = view.DeregisterSelection
		}
		names = compactNames(names)
		if len(names) == 0 {
			return r.invalid(invalid("selection", "Select at least one registered agent to deregister."))
		}

		as, fail := r.connect(ctx, view.AgentspaceProject)
		if fail != nil {
			return fail
		}

		items := make([]ItemResult, 0, len(names))
		for i, name := range names {
			r.emit(PhaseInFlight, fmt.Sprintf("Deregistering %s (%d of %d)...", lastSegment(name), i+1, len(names)))
			// the first delete uses the token connect just minted
			if i > 0 {
				tok, fail := r.credentials(ctx)
				if fail != nil {
					res := ItemResult{Name: name, Message: fail.Message}
					r.logger.Error("deregister skipped", "agent", name, "error", fail.Detail)
					items = append(items, res)
					r.item(res)
					continue
				}
				as.token = tok
			}
			res := ItemResult{Name: name, OK: true, Message: fmt.Sprintf("Successfully deregistered agent '%s'.", lastSegment(name))}
			if err := o.deps.Registrar.Deregister(ctx, as.token.AccessToken, as.project, name); err != nil {
				res = ItemResult{Name: name, Message: fmt.Sprintf("Failed to deregister %s: %s", lastSegment(name), summary(err))}
				r.logger.Error("deregister failed", "agent", name, "error", err)
			}
			items = append(items, res)
			r.item(res)
		}

		st.Update(func(d *session.Data) {
			d.Registrations = slices.DeleteFunc(d.Registrations, func(a discovery.Agent) bool {
				return succeededItem(items, a.Name)
			})
			d.DeregisterSelection = slices.DeleteFunc(d.DeregisterSelection, func(n string) bool {
				return succeededItem(items, n)
			})
		})

		out := &Outcome{Items: items}
		out.OK = out.Failed() == 0
		out.Message = fmt.Sprintf("Successfully deregistered: %d. Failed: %d.", out.Succeeded(), out.Failed())
		if !out.OK {
			out.Detail = batchDetail(items)
		}
		return out
	})
}

// ListLegacy reads the assistant's legacy agent configs. A missing
// assistant lists as empty.
func (o *Orchestrator) ListLegacy(ctx context.Context, st *session.State, sink Sink, appKey string) *Outcome {
	return o.execute(ctx, st, sink, ActionListLegacy, func(ctx context.Context, r *run) *Outcome {
		view := st.View()
		if verr := validateProject(view.AgentspaceProject); verr != nil {
			return r.invalid(verr)
		}
		app, verr := resolveApp(view, appKey)
		if verr != nil {
			return r.invalid(verr)
		}

		as, fail := r.connect(ctx, view.AgentspaceProject)
		if fail != nil {
			return fail
		}
		r.emit(PhaseInFlight, "Fetching legacy agent configs...")
		configs, err := o.deps.Registrar.LegacyConfigs(ctx, as.token.AccessToken, as.project, as.number, app, "")
		if err != nil && !errors.Is(err, discovery.ErrAssistantNotFound) {
			return r.fail("Failed to read the assistant: "+summary(err), err)
		}

		st.Update(func(d *session.Data) {
			d.SelectedApp = app.Key()
			d.LegacyConfigs = configs
			d.LegacySelection = slices.DeleteFunc(d.LegacySelection, func(id string) bool {
				return !slices.ContainsFunc(configs, func(c discovery.LegacyConfig) bool { return c.ID == id })
			})
		})
		if len(configs) == 0 {
			return r.succeed("No legacy agent configs found.")
		}
		return r.succeed(fmt.Sprintf("Found %d legacy agent configs.", len(configs)))
	})
}

// LegacyDeregister removes ids from the assistant's config list in a single
// write. The list is re-read first so concurrent edits are not lost.
func (o *Orchestrator) LegacyDeregister(ctx context.Context, st *session.State, sink Sink, appKey string, ids []string) *Outcome {
	return o.execute(ctx, st, sink, ActionLegacyDeregister, func(ctx context.Context, r *run) *Outcome {
		view := st.View()
		if verr := validateProject(view.AgentspaceProject); verr != nil {
			return r.invalid(verr)
		}
		app, verr := resolveApp(view, appKey)
		if verr != nil {
			return r.invalid(verr)
		}
		if len(ids) == 0 {
			ids = view.LegacySelection
		}
		ids = compactNames(ids)
		if len(ids) == 0 {
			return r.invalid(invalid("selection", "Select at least one legacy agent to deregister."))
		}

		as, fail := r.connect(ctx, view.AgentspaceProject)
		if fail != nil {
			return fail
		}
		r.emit(PhaseInFlight, "Reading the assistant's agent configs...")
		current, err := o.deps.Registrar.LegacyConfigs(ctx, as.token.AccessToken, as.project, as.number, app, "")
		if err != nil {
			return r.fail("Failed to read the assistant: "+summary(err), err)
		}

		present := slices.DeleteFunc(slices.Clone(ids), func(id string) bool {
			return !slices.ContainsFunc(current, func(c discovery.LegacyConfig) bool { return c.ID == id })
		})
		if len(present) == 0 {
			return r.succeed("None of the selected agents are registered any more.")
		}

		r.emit(PhaseInFlight, "Writing the assistant's agent configs...")
		if err := o.deps.Registrar.LegacyDeregister(ctx, as.token.AccessToken, as.project, as.number, app, "", present, current); err != nil {
			return r.fail("Legacy deregistration failed: "+summary(err), err)
		}

		st.Update(func(d *session.Data) {
			d.LegacyConfigs = slices.DeleteFunc(slices.Clone(current), func(c discovery.LegacyConfig) bool {
				return slices.Contains(present, c.ID)
			})
			d.LegacySelection = nil
		})
		out := r.succeed(fmt.Sprintf("Successfully deregistered %d agent(s).", len(present)))
		for _, id := range present {
			out.Items = append(out.Items, ItemResult{Name: id, OK: true})
		}
		return out
	})
}

func succeededItem(items []ItemResult, name string) bool {
	return slices.ContainsFunc(items, func(it ItemResult) bool { return it.OK && it.Name == name })
}
