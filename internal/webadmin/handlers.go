// ABOUTME: HTTP handlers for the console tabs and their form posts
// ABOUTME: Form values become pipeline inputs; selections live in the session

package webadmin

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/2389/agent-console/internal/lifecycle"
	"github.com/2389/agent-console/internal/session"
)

// handleConsole renders the full console page
func (a *Admin) handleConsole(w http.ResponseWriter, r *http.Request, st *session.State) {
	slug := r.URL.Query().Get("tab")
	if !validTab(slug) {
		slug = tabs[0].Slug
	}
	a.renderConsole(w, a.consoleData(r, st, slug))
}

// handleTab renders one tab (HTMX)
func (a *Admin) handleTab(w http.ResponseWriter, r *http.Request, st *session.State) {
	slug := r.PathValue("tab")
	if !validTab(slug) {
		http.NotFound(w, r)
		return
	}
	a.renderTab(w, a.consoleData(r, st, slug))
}

// handleSettings stores the runtime target and Agentspace settings
func (a *Admin) handleSettings(w http.ResponseWriter, r *http.Request, st *session.State) {
	st.Update(func(d *session.Data) {
		d.Target.Project = strings.TrimSpace(r.FormValue("project"))
		d.Target.Location = strings.TrimSpace(r.FormValue("location"))
		d.Target.StagingBucket = strings.TrimSpace(r.FormValue("staging_bucket"))
		d.AgentspaceProject = strings.TrimSpace(r.FormValue("agentspace_project"))
		if locs := splitList(r.FormValue("agentspace_locations")); len(locs) > 0 {
			d.AgentspaceLocations = locs
		}
	})
	a.logger.Debug("settings updated", "session", st.ID())
	a.done(w, r, r.FormValue("tab"), "")
}

func (a *Admin) handleRefreshResources(w http.ResponseWriter, r *http.Request, st *session.State) {
	a.launch(w, r, st, "resources", lifecycle.ActionListResources,
		func(ctx context.Context, st *session.State, sink lifecycle.Sink) *lifecycle.Outcome {
			return a.pipelines.ListResources(ctx, st, sink)
		})
}

func (a *Admin) handleDeploy(w http.ResponseWriter, r *http.Request, st *session.State) {
	in := lifecycle.DeployInput{
		BundleKey:      r.FormValue("bundle"),
		DisplayName:    r.FormValue("display_name"),
		Description:    r.FormValue("description"),
		ServiceAccount: r.FormValue("service_account"),
	}
	st.Update(func(d *session.Data) { d.DeployBundle = in.BundleKey })

	a.launch(w, r, st, "deploy", lifecycle.ActionDeploy,
		func(ctx context.Context, st *session.State, sink lifecycle.Sink) *lifecycle.Outcome {
			return a.pipelines.Deploy(ctx, st, sink, in)
		})
}

// handleUpdateSelect picks the resource the update form edits
func (a *Admin) handleUpdateSelect(w http.ResponseWriter, r *http.Request, st *session.State) {
	resource := r.FormValue("resource")
	st.Update(func(d *session.Data) { d.UpdateResource = resource })
	a.done(w, r, "update", "")
}

func (a *Admin) handleUpdate(w http.ResponseWriter, r *http.Request, st *session.State) {
	in := lifecycle.UpdateInput{
		Resource:       r.FormValue("resource"),
		BundleKey:      r.FormValue("bundle"),
		DisplayName:    r.FormValue("display_name"),
		Description:    r.FormValue("description"),
		ServiceAccount: r.FormValue("service_account"),
	}
	a.launch(w, r, st, "update", lifecycle.ActionUpdate,
		func(ctx context.Context, st *session.State, sink lifecycle.Sink) *lifecycle.Outcome {
			return a.pipelines.Update(ctx, st, sink, in)
		})
}

// handleDestroyConfirm stores the selection and asks for confirmation
func (a *Admin) handleDestroyConfirm(w http.ResponseWriter, r *http.Request, st *session.State) {
	names := formList(r, "name")
	st.Update(func(d *session.Data) { d.DestroySelection = names })
	confirm := ""
	if len(names) > 0 {
		confirm = "destroy"
	}
	a.done(w, r, "destroy", confirm)
}

// handleDestroy deletes the confirmed selection
func (a *Admin) handleDestroy(w http.ResponseWriter, r *http.Request, st *session.State) {
	names := st.View().DestroySelection
	a.launch(w, r, st, "destroy", lifecycle.ActionDestroy,
		func(ctx context.Context, st *session.State, sink lifecycle.Sink) *lifecycle.Outcome {
			return a.pipelines.Destroy(ctx, st, sink, names)
		})
}

func (a *Admin) handleChat(w http.ResponseWriter, r *http.Request, st *session.State) {
	in := lifecycle.ChatInput{
		Resource: r.FormValue("resource"),
		UserID:   r.FormValue("user_id"),
		Message:  r.FormValue("message"),
	}
	a.launch(w, r, st, "chat", lifecycle.ActionChat,
		func(ctx context.Context, st *session.State, sink lifecycle.Sink) *lifecycle.Outcome {
			return a.pipelines.Chat(ctx, st, sink, in)
		})
}

func (a *Admin) handleChatSelect(w http.ResponseWriter, r *http.Request, st *session.State) {
	a.pipelines.SelectChatResource(st, r.FormValue("resource"))
	a.done(w, r, "chat", "")
}

func (a *Admin) handleChatReset(w http.ResponseWriter, r *http.Request, st *session.State) {
	a.pipelines.ResetChat(st)
	a.done(w, r, "chat", "")
}

func (a *Admin) handleFindApps(w http.ResponseWriter, r *http.Request, st *session.State) {
	if project := strings.TrimSpace(r.FormValue("agentspace_project")); project != "" {
		st.Update(func(d *session.Data) { d.AgentspaceProject = project })
	}
	a.launch(w, r, st, "register", lifecycle.ActionFindApps,
		func(ctx context.Context, st *session.State, sink lifecycle.Sink) *lifecycle.Outcome {
			return a.pipelines.FindApps(ctx, st, sink)
		})
}

// handleRegister registers a deployed agent with an Agentspace app. mode=legacy
// uses the assistant's agent configs instead of the agents API.
func (a *Admin) handleRegister(w http.ResponseWriter, r *http.Request, st *session.State) {
	in := lifecycle.RegisterInput{
		Resource:        r.FormValue("resource"),
		AppKey:          r.FormValue("app"),
		Assistant:       r.FormValue("assistant"),
		DisplayName:     r.FormValue("display_name"),
		Description:     r.FormValue("description"),
		ToolDescription: r.FormValue("tool_description"),
		IconURI:         r.FormValue("icon_uri"),
		Authorizations:  formList(r, "authorization"),
	}
	st.Update(func(d *session.Data) {
		if in.AppKey != "" {
			d.SelectedApp = in.AppKey
		}
		if in.Resource != "" {
			d.RegisterResource = in.Resource
		}
	})

	if r.FormValue("mode") == "legacy" {
		a.launch(w, r, st, "register", lifecycle.ActionLegacyRegister,
			func(ctx context.Context, st *session.State, sink lifecycle.Sink) *lifecycle.Outcome {
				return a.pipelines.LegacyRegister(ctx, st, sink, in)
			})
		return
	}
	a.launch(w, r, st, "register", lifecycle.ActionRegister,
		func(ctx context.Context, st *session.State, sink lifecycle.Sink) *lifecycle.Outcome {
			return a.pipelines.Register(ctx, st, sink, in)
		})
}

func (a *Admin) handleListRegistrations(w http.ResponseWriter, r *http.Request, st *session.State) {
	app := r.FormValue("app")
	if r.FormValue("mode") == "legacy" {
		a.launch(w, r, st, "deregister", lifecycle.ActionListLegacy,
			func(ctx context.Context, st *session.State, sink lifecycle.Sink) *lifecycle.Outcome {
				return a.pipelines.ListLegacy(ctx, st, sink, app)
			})
		return
	}
	a.launch(w, r, st, "deregister", lifecycle.ActionListRegistrations,
		func(ctx context.Context, st *session.State, sink lifecycle.Sink) *lifecycle.Outcome {
			return a.pipelines.ListRegistrations(ctx, st, sink, app)
		})
}

// handleDeregisterConfirm stores the selection and asks for confirmation
func (a *Admin) handleDeregisterConfirm(w http.ResponseWriter, r *http.Request, st *session.State) {
	names := formList(r, "name")
	legacy := r.FormValue("mode") == "legacy"
	st.Update(func(d *session.Data) {
		if legacy {
			d.LegacySelection = names
		} else {
			d.DeregisterSelection = names
		}
	})

	confirm := ""
	switch {
	case len(names) == 0:
	case legacy:
		confirm = "legacy"
	default:
		confirm = "deregister"
	}
	a.done(w, r, "deregister", confirm)
}

// handleDeregister removes the confirmed selection
func (a *Admin) handleDeregister(w http.ResponseWriter, r *http.Request, st *session.State) {
	view := st.View()
	if r.FormValue("mode") == "legacy" {
		app, ids := firstNonEmpty(r.FormValue("app"), view.SelectedApp), view.LegacySelection
		a.launch(w, r, st, "deregister", lifecycle.ActionLegacyDeregister,
			func(ctx context.Context, st *session.State, sink lifecycle.Sink) *lifecycle.Outcome {
				return a.pipelines.LegacyDeregister(ctx, st, sink, app, ids)
			})
		return
	}
	names := view.DeregisterSelection
	a.launch(w, r, st, "deregister", lifecycle.ActionDeregister,
		func(ctx context.Context, st *session.State, sink lifecycle.Sink) *lifecycle.Outcome {
			return a.pipelines.Deregister(ctx, st, sink, names)
		})
}

func (a *Admin) handleListAuthorizations(w http.ResponseWriter, r *http.Request, st *session.State) {
	a.launch(w, r, st, "authorizations", lifecycle.ActionListAuthorizations,
		func(ctx context.Context, st *session.State, sink lifecycle.Sink) *lifecycle.Outcome {
			return a.pipelines.ListAuthorizations(ctx, st, sink)
		})
}

func (a *Admin) handleCreateAuthorization(w http.ResponseWriter, r *http.Request, st *session.State) {
	in := lifecycle.AuthorizationInput{
		ID:               r.FormValue("id"),
		ClientID:         r.FormValue("client_id"),
		ClientSecret:     r.FormValue("client_secret"),
		AuthorizationURI: r.FormValue("authorization_uri"),
		TokenURI:         r.FormValue("token_uri"),
	}
	a.launch(w, r, st, "authorizations", lifecycle.ActionCreateAuthorization,
		func(ctx context.Context, st *session.State, sink lifecycle.Sink) *lifecycle.Outcome {
			return a.pipelines.CreateAuthorization(ctx, st, sink, in)
		})
}

// handleDeleteAuthorizationConfirm remembers the authorization to delete and
// asks for confirmation
func (a *Admin) handleDeleteAuthorizationConfirm(w http.ResponseWriter, r *http.Request, st *session.State) {
	id := strings.TrimSpace(r.FormValue("id"))
	st.Update(func(d *session.Data) { d.AuthorizationDelete = id })
	confirm := ""
	if id != "" {
		confirm = "authorization"
	}
	a.done(w, r, "authorizations", confirm)
}

// handleDeleteAuthorization deletes the confirmed authorization. Without a
// confirmed one it returns to the tab.
func (a *Admin) handleDeleteAuthorization(w http.ResponseWriter, r *http.Request, st *session.State) {
	var id string
	st.Update(func(d *session.Data) {
		id = d.AuthorizationDelete
		d.AuthorizationDelete = ""
	})
	if id == "" {
		a.done(w, r, "authorizations", "")
		return
	}
	a.launch(w, r, st, "authorizations", lifecycle.ActionDeleteAuthorization,
		func(ctx context.Context, st *session.State, sink lifecycle.Sink) *lifecycle.Outcome {
			return a.pipelines.DeleteAuthorization(ctx, st, sink, id)
		})
}

// done finishes a request that only changed session state. htmx gets a
// redirect header; plain posts a 303.
func (a *Admin) done(w http.ResponseWriter, r *http.Request, slug, confirm string) {
	if !validTab(slug) {
		slug = tabs[0].Slug
	}
	q := url.Values{"tab": {slug}}
	if confirm != "" {
		q.Set("confirm", confirm)
	}
	target := "/console/?" + q.Encode()

	if isHTMX(r) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// formList collects repeated and comma separated values of key.
func formList(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.Form[key] {
		out = append(out, splitList(v)...)
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
