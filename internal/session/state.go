// ABOUTME: Typed per-session console state guarded by a mutex.
// ABOUTME: Includes per-action in-flight guards and the project number memo.

package session

import (
	"slices"
	"sync"
	"time"

	"github.com/2389/agent-console/internal/discovery"
	"github.com/2389/agent-console/internal/runtime"
)

// DefaultChatUser is the user id sent with test-chat messages.
const DefaultChatUser = "test-user"

// ChatTurn is one message in the test-chat transcript.
type ChatTurn struct {
	FromAgent bool
	Text      string
	Failed    bool
	At        time.Time
}

// Chat is the test-chat session bound to one deployed resource.
type Chat struct {
	Resource  string
	SessionID string
	UserID    string
	Turns     []ChatTurn
}

// Data is the operator-visible state of one session.
type Data struct {
	// Runtime target as edited in the console.
	Target runtime.Target

	// Agentspace project and the locations searched for apps.
	AgentspaceProject   string
	AgentspaceLocations []string

	DeployBundle string

	Resources        []runtime.Resource
	ResourcesFetched time.Time
	UpdateResource   string
	DestroySelection []string

	Apps             []discovery.App
	SelectedApp      string
	RegisterResource string

	Registrations       []discovery.Agent
	DeregisterSelection []string
	LegacyConfigs       []discovery.LegacyConfig
	LegacySelection     []string

	Authorizations      []discovery.Authorization
	AuthorizationDelete string

	Chat Chat
}

func (d Data) clone() Data {
	out := d
	out.AgentspaceLocations = slices.Clone(d.AgentspaceLocations)
	out.Resources = slices.Clone(d.Resources)
	out.DestroySelection = slices.Clone(d.DestroySelection)
	out.Apps = slices.Clone(d.Apps)
	out.Registrations = slices.Clone(d.Registrations)
	out.DeregisterSelection = slices.Clone(d.DeregisterSelection)
	out.LegacyConfigs = slices.Clone(d.LegacyConfigs)
	out.LegacySelection = slices.Clone(d.LegacySelection)
	out.Authorizations = slices.Clone(d.Authorizations)
	out.Chat.Turns = slices.Clone(d.Chat.Turns)
	return out
}

// Resource finds a fetched resource by name.
func (d Data) Resource(name string) (runtime.Resource, bool) {
	for _, r := range d.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return runtime.Resource{}, false
}

// App finds a discovered app by key.
func (d Data) App(key string) (discovery.App, bool) {
	for _, a := range d.Apps {
		if a.Key() == key {
			return a, true
		}
	}
	return discovery.App{}, false
}

// State is one session's state. All access goes through its methods.
type State struct {
	id      string
	created time.Time

	mu       sync.Mutex
	data     Data
	inFlight map[string]time.Time

	memoProject string
	memoNumber  string
}

// NewState creates state for id starting from defaults.
func NewState(id string, defaults Data) *State {
	return &State{
		id:       id,
		created:  time.Now(),
		data:     defaults.clone(),
		inFlight: make(map[string]time.Time),
	}
}

// ID returns the session id.
func (s *State) ID() string { return s.id }

// Created returns when the session started.
func (s *State) Created() time.Time { return s.created }

// View returns a copy of the current data.
func (s *State) View() Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.clone()
}

// Update mutates the data under the lock. fn must not call back into s.
func (s *State) Update(fn func(d *Data)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.data)
}

// Begin marks action as running. It returns false if it already is.
func (s *State) Begin(action string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[action]; busy {
		return false
	}
	s.inFlight[action] = time.Now()
	return true
}

// End clears the running mark for action.
func (s *State) End(action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, action)
}

// Busy reports whether action is running.
func (s *State) Busy(action string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inFlight[action]
	return busy
}

// ProjectNumber returns the memoized number for projectID. Only the most
// recently resolved project is remembered.
func (s *State) ProjectNumber(projectID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if projectID != "" && projectID == s.memoProject {
		return s.memoNumber, true
	}
	return "", false
}

// RememberProjectNumber replaces the memo.
func (s *State) RememberProjectNumber(projectID, number string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memoProject, s.memoNumber = projectID, number
}
