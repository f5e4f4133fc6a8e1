// ABOUTME: Phases, actions, progress events and the Outcome every pipeline returns.
// ABOUTME: Sinks receive events; ValidationError marks failures found before any network call.

package lifecycle

import (
	"fmt"
	"time"

	"github.com/2389/agent-console/internal/store"
)

// Phase is a pipeline's position in its state machine.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseValidating   Phase = "validating"
	PhaseInitializing Phase = "initializing-remote"
	PhaseImporting    Phase = "importing-code"
	PhaseInFlight     Phase = "in-flight"
	PhaseSucceeded    Phase = "succeeded"
	PhaseFailed       Phase = "failed"
)

// Terminal reports whether p ends a pipeline.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// Action names a pipeline. It doubles as the session guard key.
type Action string

const (
	ActionListResources       Action = "list-resources"
	ActionDeploy              Action = "deploy"
	ActionUpdate              Action = "update"
	ActionDestroy             Action = "destroy"
	ActionChat                Action = "chat"
	ActionFindApps            Action = "find-apps"
	ActionRegister            Action = "register"
	ActionLegacyRegister      Action = "legacy-register"
	ActionListRegistrations   Action = "list-registrations"
	ActionDeregister          Action = "deregister"
	ActionListLegacy          Action = "list-legacy"
	ActionLegacyDeregister    Action = "legacy-deregister"
	ActionListAuthorizations  Action = "list-authorizations"
	ActionCreateAuthorization Action = "create-authorization"
	ActionDeleteAuthorization Action = "delete-authorization"
)

// Mutating reports whether the action changes remote state.
func (a Action) Mutating() bool {
	switch a {
	case ActionDeploy, ActionUpdate, ActionDestroy,
		ActionRegister, ActionLegacyRegister, ActionDeregister, ActionLegacyDeregister,
		ActionCreateAuthorization, ActionDeleteAuthorization:
		return true
	}
	return false
}

// ItemResult is the outcome for one item of a batch.
type ItemResult struct {
	Name    string
	OK      bool
	Message string
}

// EnvPreview is an environment variable loaded for a deploy, with its value
// shortened for display.
type EnvPreview struct {
	Key   string
	Value string
}

// Outcome is the definite result of a pipeline run.
type Outcome struct {
	Action Action
	OK     bool

	// Invalid is set when the run stopped before any network call.
	Invalid bool

	// Message is shown to the operator. Detail goes to the log only.
	Message string
	Detail  string

	Resource  string
	Items     []ItemResult
	Env       []EnvPreview
	Reply     string
	Principal string

	Started time.Time
	Elapsed time.Duration
}

// Succeeded counts successful items.
func (o *Outcome) Succeeded() int {
	n := 0
	for _, it := range o.Items {
		if it.OK {
			n++
		}
	}
	return n
}

// Failed counts failed items.
func (o *Outcome) Failed() int {
	return len(o.Items) - o.Succeeded()
}

func (o *Outcome) activityItems() []store.ActivityItem {
	if len(o.Items) == 0 {
		return nil
	}
	out := make([]store.ActivityItem, len(o.Items))
	for i, it := range o.Items {
		out[i] = store.ActivityItem{Name: it.Name, OK: it.OK, Message: it.Message}
	}
	return out
}

// Event is one progress update.
type Event struct {
	Action  Action
	Phase   Phase
	Message string
	Elapsed time.Duration
	Item    *ItemResult
	Outcome *Outcome
	At      time.Time
}

// Sink receives progress events. Publish must not block for long.
type Sink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

// Publish calls f.
func (f SinkFunc) Publish(ev Event) { f(ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// ValidationError is a problem with operator input found before any
// remote call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
