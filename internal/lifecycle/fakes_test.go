// ABOUTME: Test doubles for the orchestrator's collaborators
// ABOUTME: Each fake counts calls so tests can assert zero network traffic

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/2389/agent-console/internal/bundle"
	"github.com/2389/agent-console/internal/discovery"
	"github.com/2389/agent-console/internal/gcpauth"
	"github.com/2389/agent-console/internal/runtime"
	"github.com/2389/agent-console/internal/session"
	"github.com/2389/agent-console/internal/store"
)

type fakeTokens struct {
	mu    sync.Mutex
	calls int
	err   error
	// failCall fails only that call number when non-zero
	failCall int
}

func (f *fakeTokens) Token(ctx context.Context) (*gcpauth.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.failCall != 0 && f.calls == f.failCall {
		return nil, errors.New("refresh failed")
	}
	return &gcpauth.Token{
		AccessToken: fmt.Sprintf("tok-%d", f.calls),
		Expiry:      time.Now().Add(time.Hour),
		Identity:    gcpauth.Identity{Type: gcpauth.TypeServiceAccount, Email: "deployer@p.iam.gserviceaccount.com"},
	}, nil
}

type fakeProjects struct {
	mu     sync.Mutex
	calls  int
	number string
}

func (f *fakeProjects) ProjectNumber(ctx context.Context, projectID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.number, f.number != ""
}

// fakeRuntime is both the Client and the Engines it returns.
type fakeRuntime struct {
	mu sync.Mutex

	initErr   error
	inits     int
	resources map[string]*runtime.Resource
	created   []runtime.CreateRequest
	updated   []runtime.UpdateRequest
	deleted   []string
	deleteErr map[string]error
	createErr error
	delay     time.Duration

	sessions   int
	sessionErr error
	queries    []string
	reply      string
	queryErr   error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{resources: map[string]*runtime.Resource{}, deleteErr: map[string]error{}}
}

func (f *fakeRuntime) add(names ...string) {
	for _, n := range names {
		f.resources[n] = &runtime.Resource{Name: n, DisplayName: "Agent " + lastSegment(n)}
	}
}

func (f *fakeRuntime) Init(ctx context.Context, target runtime.Target) (runtime.Engines, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	if f.initErr != nil {
		return nil, f.initErr
	}
	return f, nil
}

func (f *fakeRuntime) List(ctx context.Context) ([]runtime.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []runtime.Resource
	for _, r := range f.resources {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeRuntime) Get(ctx context.Context, name string) (*runtime.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.resources[name]
	if !ok {
		return nil, &runtime.Error{Kind: runtime.KindNotFound, Op: "get", Status: 404, Message: "not found"}
	}
	c := *r
	return &c, nil
}

func (f *fakeRuntime) Create(ctx context.Context, req runtime.CreateRequest) (*runtime.Resource, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	name := fmt.Sprintf("projects/p/locations/us-central1/reasoningEngines/%d", 100+len(f.created))
	r := &runtime.Resource{Name: name, DisplayName: req.DisplayName, Description: req.Description}
	f.resources[name] = r
	c := *r
	return &c, nil
}

func (f *fakeRuntime) Update(ctx context.Context, name string, req runtime.UpdateRequest) (*runtime.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, req)
	r, ok := f.resources[name]
	if !ok {
		return nil, &runtime.Error{Kind: runtime.KindNotFound, Op: "update", Message: "not found"}
	}
	r.DisplayName, r.Description = req.DisplayName, req.Description
	if req.ServiceAccount != "" {
		r.ServiceAccount = req.ServiceAccount
	}
	c := *r
	return &c, nil
}

func (f *fakeRuntime) Delete(ctx context.Context, name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	if err := f.deleteErr[name]; err != nil {
		return err
	}
	delete(f.resources, name)
	return nil
}

func (f *fakeRuntime) CreateSession(ctx context.Context, name, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionErr != nil {
		return "", f.sessionErr
	}
	f.sessions++
	return fmt.Sprintf("remote-%d", f.sessions), nil
}

func (f *fakeRuntime) StreamQuery(ctx context.Context, name, userID, sessionID, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, sessionID+":"+message)
	if f.queryErr != nil {
		return "", f.queryErr
	}
	return f.reply, nil
}

// fakeRegistrar keeps agents, legacy configs and authorizations in memory.
type fakeRegistrar struct {
	mu sync.Mutex

	calls         int
	apps          []discovery.App
	agents        []discovery.Agent
	registered    []discovery.RegisterRequest
	deregErr      map[string]error
	deregTokens   []string
	legacy        []discovery.LegacyConfig
	legacyMissing bool
	legacyWrites  [][]string
	auths         []discovery.Authorization
	authSecrets   []string
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{deregErr: map[string]error{}}
}

func (f *fakeRegistrar) FindApps(ctx context.Context, token, projectNumber string, locations []string) ([]discovery.App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.apps, nil
}

func (f *fakeRegistrar) Register(ctx context.Context, token string, req discovery.RegisterRequest) (*discovery.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.registered = append(f.registered, req)
	a := discovery.Agent{
		Name:            fmt.Sprintf("projects/%s/locations/%s/collections/default_collection/engines/%s/assistants/default_assistant/agents/%d", req.ProjectNumber, req.App.Location, req.App.EngineID, len(f.registered)),
		DisplayName:     req.DisplayName,
		ReasoningEngine: req.ReasoningEngine,
		Authorizations:  req.Authorizations,
		ADK:             true,
	}
	f.agents = append(f.agents, a)
	return &a, nil
}

func (f *fakeRegistrar) ListAgents(ctx context.Context, token, projectID, projectNumber string, app discovery.App, assistant string) ([]discovery.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]discovery.Agent(nil), f.agents...), nil
}

func (f *fakeRegistrar) Deregister(ctx context.Context, token, projectID, agentName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.deregTokens = append(f.deregTokens, token)
	if err := f.deregErr[agentName]; err != nil {
		return err
	}
	for i, a := range f.agents {
		if a.Name == agentName {
			f.agents = append(f.agents[:i], f.agents[i+1:]...)
			return nil
		}
	}
	return &discovery.APIError{Op: "deregister_agent", Status: 404, Message: "agent not found"}
}

func (f *fakeRegistrar) LegacyConfigs(ctx context.Context, token, projectID, projectNumber string, app discovery.App, assistant string) ([]discovery.LegacyConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.legacyMissing {
		return nil, discovery.ErrAssistantNotFound
	}
	return append([]discovery.LegacyConfig(nil), f.legacy...), nil
}

func (f *fakeRegistrar) LegacyRegister(ctx context.Context, token string, req discovery.RegisterRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	id := discovery.LegacyAgentID(req.DisplayName)
	f.legacy = append(f.legacy, discovery.LegacyConfig{ID: id, DisplayName: req.DisplayName, ReasoningEngine: req.ReasoningEngine})
	return id, nil
}

func (f *fakeRegistrar) LegacyDeregister(ctx context.Context, token, projectID, projectNumber string, app discovery.App, assistant string, ids []string, current []discovery.LegacyConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.legacyWrites = append(f.legacyWrites, append([]string(nil), ids...))
	var keep []discovery.LegacyConfig
	for _, c := range current {
		drop := false
		for _, id := range ids {
			if c.ID == id {
				drop = true
			}
		}
		if !drop {
			keep = append(keep, c)
		}
	}
	f.legacy = keep
	return nil
}

func (f *fakeRegistrar) CreateAuthorization(ctx context.Context, token string, req discovery.AuthorizationRequest) (*discovery.Authorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	name := discovery.AuthorizationName(req.ProjectNumber, req.ID)
	for _, a := range f.auths {
		if a.Name == name {
			return nil, &discovery.APIError{Op: "create_authorization", Status: 409, Message: "already exists"}
		}
	}
	a := discovery.Authorization{Name: name, ClientID: req.ClientID}
	f.auths = append(f.auths, a)
	f.authSecrets = append(f.authSecrets, req.ClientSecret)
	return &a, nil
}

func (f *fakeRegistrar) ListAuthorizations(ctx context.Context, token, projectID, projectNumber string) ([]discovery.Authorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]discovery.Authorization(nil), f.auths...), nil
}

func (f *fakeRegistrar) DeleteAuthorization(ctx context.Context, token, projectID, projectNumber, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for i, a := range f.auths {
		if a.ID() == id {
			f.auths = append(f.auths[:i], f.auths[i+1:]...)
			return nil
		}
	}
	return &discovery.APIError{Op: "delete_authorization", Status: 404, Message: "not found"}
}

// fakeBundles returns a fixed bundle for any entry.
type fakeBundles struct {
	opts  bundle.BuildOptions
	env   map[string]string
	err   error
	calls int
}

func (f *fakeBundles) Build(ctx context.Context, entry bundle.Entry, opts bundle.BuildOptions) (*bundle.Bundle, error) {
	f.calls++
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &bundle.Bundle{
		Key:              entry.Key,
		EntrypointModule: entry.ModulePath,
		EntrypointObject: entry.RootVariable,
		Requirements:     bundle.MergeRequirements(opts.BaseRequirements, entry.Requirements),
		EnvVars:          f.env,
		Archive:          []byte("archive"),
	}, nil
}

// eventLog is a Sink collecting events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Publish(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) phases() []Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Phase
	for _, ev := range l.events {
		if len(out) == 0 || out[len(out)-1] != ev.Phase {
			out = append(out, ev.Phase)
		}
	}
	return out
}

func (l *eventLog) items() []ItemResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ItemResult
	for _, ev := range l.events {
		if ev.Item != nil {
			out = append(out, *ev.Item)
		}
	}
	return out
}

type harness struct {
	o        *Orchestrator
	st       *session.State
	tokens   *fakeTokens
	projects *fakeProjects
	rt       *fakeRuntime
	reg      *fakeRegistrar
	bundles  *fakeBundles
	activity *store.MockStore
	events   *eventLog
}

const testCatalog = `
foo:
  module_path: agents.foo
  root_variable: root_agent
  requirements: [a, b]
  extra_packages: [./agents/foo]
  ae_display_name: Foo Agent
  as_display_name: Foo For Everyone
  description: Finds foo.
  as_tool_description: Use to find foo.
`

func newHarness(t *testing.T) *harness {
	t.Helper()
	catalog, err := bundle.ParseYAML("test", []byte(testCatalog))
	if err != nil {
		t.Fatalf("ParseYAML() error = %v", err)
	}
	h := &harness{
		tokens:   &fakeTokens{},
		projects: &fakeProjects{number: "123456"},
		rt:       newFakeRuntime(),
		reg:      newFakeRegistrar(),
		bundles:  &fakeBundles{},
		activity: store.NewMockStore(),
		events:   &eventLog{},
	}
	h.o = New(Deps{
		Runtime:          h.rt,
		Registrar:        h.reg,
		Tokens:           h.tokens,
		Projects:         h.projects,
		Catalog:          catalog,
		Bundles:          h.bundles,
		BaseRequirements: []string{"x", "y"},
		Recorder:         h.activity,
		TickInterval:     time.Millisecond,
	})
	h.st = session.NewState("sess-1", session.Data{
		Target:              runtime.Target{Project: "p", Location: "us-central1", StagingBucket: "gs://bucket"},
		AgentspaceProject:   "as-project",
		AgentspaceLocations: []string{"global", "us"},
	})
	return h
}

func (h *harness) networkCalls() int {
	return h.tokens.calls + h.projects.calls + h.rt.inits + h.reg.calls
}

var errBoom = errors.New("boom")
