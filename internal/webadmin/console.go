// ABOUTME: Console web UI wiring: routes, session binding, CSRF and background pipeline runs
// ABOUTME: Every route is scoped to the caller's browser session; nothing is shared between sessions

package webadmin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/2389/agent-console/internal/auth"
	"github.com/2389/agent-console/internal/bundle"
	"github.com/2389/agent-console/internal/lifecycle"
	"github.com/2389/agent-console/internal/progress"
	"github.com/2389/agent-console/internal/session"
	"github.com/2389/agent-console/internal/store"
)

// CSRFCookieName is the name of the CSRF token cookie
const CSRFCookieName = "console_csrf"

type contextKey string

const csrfContextKey contextKey = "csrf_token"

// Pipelines is the lifecycle surface the console drives.
type Pipelines interface {
	Catalog() *bundle.Catalog

	ListResources(ctx context.Context, st *session.State, sink lifecycle.Sink) *lifecycle.Outcome
	Deploy(ctx context.Context, st *session.State, sink lifecycle.Sink, in lifecycle.DeployInput) *lifecycle.Outcome
	Update(ctx context.Context, st *session.State, sink lifecycle.Sink, in lifecycle.UpdateInput) *lifecycle.Outcome
	Destroy(ctx context.Context, st *session.State, sink lifecycle.Sink, names []string) *lifecycle.Outcome

	Chat(ctx context.Context, st *session.State, sink lifecycle.Sink, in lifecycle.ChatInput) *lifecycle.Outcome
	ResetChat(st *session.State)
	SelectChatResource(st *session.State, resource string)

	FindApps(ctx context.Context, st *session.State, sink lifecycle.Sink) *lifecycle.Outcome
	Register(ctx context.Context, st *session.State, sink lifecycle.Sink, in lifecycle.RegisterInput) *lifecycle.Outcome
	LegacyRegister(ctx context.Context, st *session.State, sink lifecycle.Sink, in lifecycle.RegisterInput) *lifecycle.Outcome
	ListRegistrations(ctx context.Context, st *session.State, sink lifecycle.Sink, appKey string) *lifecycle.Outcome
	Deregister(ctx context.Context, st *session.State, sink lifecycle.Sink, names []string) *lifecycle.Outcome
	ListLegacy(ctx context.Context, st *session.State, sink lifecycle.Sink, appKey string) *lifecycle.Outcome
	LegacyDeregister(ctx context.Context, st *session.State, sink lifecycle.Sink, appKey string, ids []string) *lifecycle.Outcome

	ListAuthorizations(ctx context.Context, st *session.State, sink lifecycle.Sink) *lifecycle.Outcome
	CreateAuthorization(ctx context.Context, st *session.State, sink lifecycle.Sink, in lifecycle.AuthorizationInput) *lifecycle.Outcome
	DeleteAuthorization(ctx context.Context, st *session.State, sink lifecycle.Sink, id string) *lifecycle.Outcome
}

// ActivityLister reads the activity trail.
type ActivityLister interface {
	ListActivity(ctx context.Context, f store.ActivityFilter) ([]store.Activity, error)
}

// Config holds console UI configuration
type Config struct {
	// BaseURL is the externally visible URL, shown in the header.
	BaseURL string

	// Regions populate the location picker.
	Regions []string

	// Principal is shown until a pipeline reports the acting identity.
	Principal string
}

// Deps are the collaborators of the console.
type Deps struct {
	Pipelines Pipelines
	Sessions  *session.Store
	Cookies   *auth.SessionCookie
	Progress  *progress.Broadcaster
	Activity  ActivityLister // may be nil
	Config    Config
}

// Admin serves the console UI.
type Admin struct {
	pipelines Pipelines
	sessions  *session.Store
	cookies   *auth.SessionCookie
	progress  *progress.Broadcaster
	activity  ActivityLister
	config    Config
	pages     map[string]*template.Template
	principal atomic.Value // string
	logger    *slog.Logger

	// runs are pipelines started from htmx requests
	ctx    context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup
}

// New creates the console. It panics if the embedded templates are broken.
func New(deps Deps) *Admin {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Admin{
		pipelines: deps.Pipelines,
		sessions:  deps.Sessions,
		cookies:   deps.Cookies,
		progress:  deps.Progress,
		activity:  deps.Activity,
		config:    deps.Config,
		pages:     parsePages(),
		logger:    slog.Default().With("component", "webadmin"),
		ctx:       ctx,
		cancel:    cancel,
	}
	a.principal.Store(deps.Config.Principal)
	return a
}

// Close cancels running pipelines and waits for them to finish recording.
func (a *Admin) Close() {
	a.cancel()
	a.runs.Wait()
}

// RegisterRoutes adds the console routes to mux
func (a *Admin) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /{$}", http.RedirectHandler("/console/", http.StatusSeeOther))
	mux.Handle("GET /console", http.RedirectHandler("/console/", http.StatusSeeOther))

	mux.Handle("GET /console/{$}", a.page(a.handleConsole))
	mux.Handle("GET /console/tab/{tab}", a.page(a.handleTab))
	mux.Handle("GET /console/events", a.page(a.handleEvents))
	mux.Handle("GET /console/activity", a.page(a.handleActivity))
	mux.Handle("GET /console/help", a.page(a.handleHelp))

	mux.Handle("POST /console/settings", a.form(a.handleSettings))

	mux.Handle("POST /console/resources/refresh", a.form(a.handleRefreshResources))
	mux.Handle("POST /console/deploy", a.form(a.handleDeploy))
	mux.Handle("POST /console/update/select", a.form(a.handleUpdateSelect))
	mux.Handle("POST /console/update", a.form(a.handleUpdate))
	mux.Handle("POST /console/destroy/confirm", a.form(a.handleDestroyConfirm))
	mux.Handle("POST /console/destroy", a.form(a.handleDestroy))

	mux.Handle("POST /console/chat", a.form(a.handleChat))
	mux.Handle("POST /console/chat/select", a.form(a.handleChatSelect))
	mux.Handle("POST /console/chat/reset", a.form(a.handleChatReset))

	mux.Handle("POST /console/apps/find", a.form(a.handleFindApps))
	mux.Handle("POST /console/register", a.form(a.handleRegister))
	mux.Handle("POST /console/registrations/list", a.form(a.handleListRegistrations))
	mux.Handle("POST /console/deregister/confirm", a.form(a.handleDeregisterConfirm))
	mux.Handle("POST /console/deregister", a.form(a.handleDeregister))

	mux.Handle("POST /console/authorizations/list", a.form(a.handleListAuthorizations))
	mux.Handle("POST /console/authorizations/create", a.form(a.handleCreateAuthorization))
	mux.Handle("POST /console/authorizations/delete/confirm", a.form(a.handleDeleteAuthorizationConfirm))
	mux.Handle("POST /console/authorizations/delete", a.form(a.handleDeleteAuthorization))

	a.logger.Info("console routes registered")
}

// sessionHandler receives the caller's live session.
type sessionHandler func(w http.ResponseWriter, r *http.Request, st *session.State)

// page binds the session cookie and a CSRF token for GET routes.
func (a *Admin) page(next sessionHandler) http.Handler {
	return a.cookies.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, ok := a.state(w, r)
		if !ok {
			return
		}
		r, _ = a.ensureCSRFToken(w, r)
		next(w, r, st)
	}))
}

// form is page plus CSRF validation for state-changing routes.
func (a *Admin) form(next sessionHandler) http.Handler {
	return a.page(func(w http.ResponseWriter, r *http.Request, st *session.State) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}
		if !a.validateCSRF(r) {
			a.logger.Warn("rejected request with bad CSRF token", "path", r.URL.Path, "session", st.ID())
			http.Error(w, "Invalid request, please reload the page", http.StatusForbidden)
			return
		}
		next(w, r, st)
	})
}

func (a *Admin) state(w http.ResponseWriter, r *http.Request) (*session.State, bool) {
	st, ok := a.sessions.Get(auth.SessionIDFromContext(r.Context()))
	if !ok {
		// expired between the middleware and here; a reload issues a new one
		http.Error(w, "Session expired, please reload the page", http.StatusConflict)
		return nil, false
	}
	return st, true
}

// getCSRFToken retrieves the CSRF token from the request context
func getCSRFToken(r *http.Request) string {
	token, _ := r.Context().Value(csrfContextKey).(string)
	return token
}

// ensureCSRFToken generates a CSRF token if not present and adds it to context
func (a *Admin) ensureCSRFToken(w http.ResponseWriter, r *http.Request) (*http.Request, string) {
	cookie, err := r.Cookie(CSRFCookieName)
	if err == nil && cookie.Value != "" {
		ctx := context.WithValue(r.Context(), csrfContextKey, cookie.Value)
		return r.WithContext(ctx), cookie.Value
	}

	token, err := generateSecureToken(32)
	if err != nil {
		a.logger.Error("failed to generate CSRF token", "error", err)
		token = "" // fails validation
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/console",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})

	ctx := context.WithValue(r.Context(), csrfContextKey, token)
	return r.WithContext(ctx), token
}

// validateCSRF checks the CSRF token from form against cookie
func (a *Admin) validateCSRF(r *http.Request) bool {
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}

	formToken := r.FormValue("csrf_token")
	if formToken == "" {
		// htmx sends it as a header
		formToken = r.Header.Get("X-CSRF-Token")
	}

	return formToken != "" && formToken == cookie.Value
}

// generateSecureToken generates a cryptographically secure random token
func generateSecureToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// pipeline is one lifecycle call bound to its form input.
type pipeline func(ctx context.Context, st *session.State, sink lifecycle.Sink) *lifecycle.Outcome

// launch runs p for st. htmx requests get 202 and follow progress over the
// event stream; plain form posts wait for the outcome and are redirected
// back to tab.
func (a *Admin) launch(w http.ResponseWriter, r *http.Request, st *session.State, tab string, action lifecycle.Action, p pipeline) {
	sink := a.sink(st)

	if !isHTMX(r) {
		p(context.WithoutCancel(r.Context()), st, sink)
		http.Redirect(w, r, "/console/?tab="+tab, http.StatusSeeOther)
		return
	}

	ctx := auth.WithSessionID(a.ctx, st.ID())
	a.runs.Add(1)
	go func() {
		defer a.runs.Done()
		p(ctx, st, sink)
	}()

	a.renderStatus(w, http.StatusAccepted, statusData{
		Action:  string(action),
		Running: true,
		Message: "Started.",
	})
}

// sink publishes to the session's subscribers and remembers the acting
// principal for the header.
func (a *Admin) sink(st *session.State) lifecycle.Sink {
	publish := a.progress.Sink(st.ID())
	return lifecycle.SinkFunc(func(ev lifecycle.Event) {
		if ev.Outcome != nil && ev.Outcome.Principal != "" {
			a.principal.Store(ev.Outcome.Principal)
		}
		publish.Publish(ev)
	})
}

func (a *Admin) currentPrincipal() string {
	p, _ := a.principal.Load().(string)
	return p
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
