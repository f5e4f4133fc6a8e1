// ABOUTME: Template parsing and rendering for the console pages and partials
// ABOUTME: Pages share base.html; tab partials are served alone to htmx requests

package webadmin

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/2389/agent-console/internal/bundle"
	"github.com/2389/agent-console/internal/lifecycle"
	"github.com/2389/agent-console/internal/runtime"
	"github.com/2389/agent-console/internal/session"
	"github.com/2389/agent-console/internal/store"
)

// tab is one section of the console page.
type tab struct {
	Slug  string
	Title string
}

var tabs = []tab{
	{"resources", "Agent Engines"},
	{"deploy", "Deploy"},
	{"update", "Update"},
	{"destroy", "Destroy"},
	{"chat", "Test Chat"},
	{"register", "Register"},
	{"deregister", "Deregister"},
	{"authorizations", "Authorizations"},
}

// tabActions maps tabs to the pipelines whose latest outcome they show.
var tabActions = map[string][]lifecycle.Action{
	"resources":      {lifecycle.ActionListResources},
	"deploy":         {lifecycle.ActionDeploy},
	"update":         {lifecycle.ActionUpdate},
	"destroy":        {lifecycle.ActionDestroy},
	"chat":           {lifecycle.ActionChat},
	"register":       {lifecycle.ActionFindApps, lifecycle.ActionRegister, lifecycle.ActionLegacyRegister},
	"deregister":     {lifecycle.ActionListRegistrations, lifecycle.ActionDeregister, lifecycle.ActionListLegacy, lifecycle.ActionLegacyDeregister},
	"authorizations": {lifecycle.ActionListAuthorizations, lifecycle.ActionCreateAuthorization, lifecycle.ActionDeleteAuthorization},
}

func validTab(slug string) bool {
	_, ok := tabActions[slug]
	return ok
}

// consoleData is rendered by the console page and every tab partial.
type consoleData struct {
	Title     string
	Tab       string
	Tabs      []tab
	Confirm   string
	CSRFToken string
	BaseURL   string
	Principal string
	Regions   []string

	View     session.Data
	Entries  []bundle.Entry
	Problems []bundle.Problem

	// Latest holds the most recent event per action, keyed by action name.
	Latest map[string]*lifecycle.Event
	Busy   map[string]bool

	// UpdateTarget is the fetched resource the update form edits.
	UpdateTarget *runtime.Resource
	ChatUser     string
}

type activityData struct {
	Title     string
	Tabs      []tab
	CSRFToken string
	BaseURL   string
	Principal string
	Action    string
	Actions   []string
	Activity  []store.Activity
	Error     string
}

type helpData struct {
	Title     string
	Tabs      []tab
	CSRFToken string
	BaseURL   string
	Principal string
	Topics    []helpTopic
	Content   template.HTML
}

// statusData is the htmx reply to a started pipeline.
type statusData struct {
	Action  string
	Running bool
	Message string
}

var templateFuncs = template.FuncMap{
	"markdown": renderMarkdown,
	"since":    since,
	"elapsed":  elapsed,
	"join":     strings.Join,
	"contains": func(list []string, s string) bool { return slices.Contains(list, s) },
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Local().Format("2006-01-02 15:04:05")
	},
}

// parsePages parses every page once.
func parsePages() map[string]*template.Template {
	parse := func(files ...string) *template.Template {
		return template.Must(template.New("").Funcs(templateFuncs).ParseFS(templateFS, files...))
	}
	return map[string]*template.Template{
		"console":  parse("templates/base.html", "templates/console.html", "templates/partials/tabs.html", "templates/partials/event.html"),
		"activity": parse("templates/base.html", "templates/activity.html"),
		"help":     parse("templates/base.html", "templates/help.html"),
		"status":   parse("templates/partials/status.html"),
	}
}

// consoleData snapshots st for rendering.
func (a *Admin) consoleData(r *http.Request, st *session.State, slug string) consoleData {
	catalog := a.pipelines.Catalog()

	data := consoleData{
		Title:     "Agent Console",
		Tab:       slug,
		Tabs:      tabs,
		Confirm:   r.URL.Query().Get("confirm"),
		CSRFToken: getCSRFToken(r),
		BaseURL:   a.config.BaseURL,
		Principal: a.currentPrincipal(),
		Regions:   a.config.Regions,
		View:      st.View(),
		Latest:    make(map[string]*lifecycle.Event),
		Busy:      make(map[string]bool),
	}
	if res, ok := data.View.Resource(data.View.UpdateResource); ok {
		data.UpdateTarget = &res
	}
	data.ChatUser = firstNonEmpty(data.View.Chat.UserID, session.DefaultChatUser)
	if catalog != nil {
		data.Entries = catalog.Entries()
		data.Problems = catalog.Problems()
	}

	for _, ev := range a.progress.Latest(st.ID()) {
		data.Latest[string(ev.Action)] = &ev
	}
	for _, actions := range tabActions {
		for _, action := range actions {
			data.Busy[string(action)] = st.Busy(string(action))
		}
	}
	return data
}

// renderConsole renders the full console page
func (a *Admin) renderConsole(w http.ResponseWriter, data consoleData) {
	a.render(w, http.StatusOK, "console", "base", data)
}

// renderTab renders one tab partial (htmx response)
func (a *Admin) renderTab(w http.ResponseWriter, data consoleData) {
	a.render(w, http.StatusOK, "console", "tab-"+data.Tab, data)
}

// renderStatus renders the status partial (htmx response)
func (a *Admin) renderStatus(w http.ResponseWriter, code int, data statusData) {
	a.render(w, code, "status", "status", data)
}

func (a *Admin) render(w http.ResponseWriter, code int, page, name string, data any) {
	var buf bytes.Buffer
	if err := a.pages[page].ExecuteTemplate(&buf, name, data); err != nil {
		a.logger.Error("failed to render template", "page", page, "template", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

// renderMarkdown converts agent replies and help text. Raw HTML in the
// source is not passed through.
func renderMarkdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(buf.String())
}

func since(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return elapsed(time.Since(t).Truncate(time.Second)) + " ago"
}

func elapsed(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Truncate(time.Second).String()
	}
}
