// ABOUTME: Orchestrator wiring and the shared pipeline runner.
// ABOUTME: Handles guards, panics, credentials, remote init, progress ticks and the final record.

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/2389/agent-console/internal/bundle"
	"github.com/2389/agent-console/internal/discovery"
	"github.com/2389/agent-console/internal/gcpauth"
	"github.com/2389/agent-console/internal/metrics"
	"github.com/2389/agent-console/internal/runtime"
	"github.com/2389/agent-console/internal/session"
	"github.com/2389/agent-console/internal/store"
)

// DefaultTickInterval is the cadence of elapsed-time events during long calls.
const DefaultTickInterval = time.Second

// BaseRequirements are installed with every deployed bundle.
var BaseRequirements = []string{
	"google-cloud-resource-manager",
	"python-dotenv",
	"requests",
}

// Registrar is the registration API surface the pipelines use.
type Registrar interface {
	FindApps(ctx context.Context, token, projectNumber string, locations []string) ([]discovery.App, error)

	Register(ctx context.Context, token string, req discovery.RegisterRequest) (*discovery.Agent, error)
	ListAgents(ctx context.Context, token, projectID, projectNumber string, app discovery.App, assistant string) ([]discovery.Agent, error)
	Deregister(ctx context.Context, token, projectID, agentName string) error

	LegacyConfigs(ctx context.Context, token, projectID, projectNumber string, app discovery.App, assistant string) ([]discovery.LegacyConfig, error)
	LegacyRegister(ctx context.Context, token string, req discovery.RegisterRequest) (string, error)
	LegacyDeregister(ctx context.Context, token, projectID, projectNumber string, app discovery.App, assistant string, ids []string, current []discovery.LegacyConfig) error

	CreateAuthorization(ctx context.Context, token string, req discovery.AuthorizationRequest) (*discovery.Authorization, error)
	ListAuthorizations(ctx context.Context, token, projectID, projectNumber string) ([]discovery.Authorization, error)
	DeleteAuthorization(ctx context.Context, token, projectID, projectNumber, id string) error
}

// ProjectNumbers resolves project ids to project numbers.
type ProjectNumbers interface {
	ProjectNumber(ctx context.Context, projectID string) (string, bool)
}

// BundleBuilder produces deployable bundles from catalogue entries.
type BundleBuilder interface {
	Build(ctx context.Context, entry bundle.Entry, opts bundle.BuildOptions) (*bundle.Bundle, error)
}

// Recorder keeps the activity trail.
type Recorder interface {
	AppendActivity(ctx context.Context, a *store.Activity) error
}

// Observer receives pipeline metrics.
type Observer interface {
	Started(action string)
	ObservePipeline(action, result string, d time.Duration)
}

// Deps are the collaborators of an Orchestrator. Recorder and Observer may
// be nil.
type Deps struct {
	Runtime   runtime.Client
	Registrar Registrar
	Tokens    gcpauth.Provider
	Projects  ProjectNumbers
	Catalog   *bundle.Catalog
	Bundles   BundleBuilder

	BaseRequirements []string
	Recorder         Recorder
	Observer         Observer
	TickInterval     time.Duration
}

// Orchestrator runs pipelines.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger
}

// New creates an orchestrator.
func New(deps Deps) *Orchestrator {
	if deps.BaseRequirements == nil {
		deps.BaseRequirements = BaseRequirements
	}
	if deps.TickInterval <= 0 {
		deps.TickInterval = DefaultTickInterval
	}
	if deps.Catalog == nil {
		deps.Catalog = bundle.Gallery()
	}
	if deps.Observer == nil {
		deps.Observer = (*metrics.Metrics)(nil)
	}
	return &Orchestrator{
		deps:   deps,
		logger: slog.Default().With("component", "lifecycle"),
	}
}

// Catalog returns the bundle catalogue the orchestrator deploys from.
func (o *Orchestrator) Catalog() *bundle.Catalog {
	return o.deps.Catalog
}

// run is the context of one pipeline execution.
type run struct {
	o         *Orchestrator
	action    Action
	st        *session.State
	sink      Sink
	started   time.Time
	principal string
	logger    *slog.Logger
}

func (r *run) emit(phase Phase, msg string) {
	r.sink.Publish(Event{
		Action:  r.action,
		Phase:   phase,
		Message: msg,
		Elapsed: time.Since(r.started),
		At:      time.Now(),
	})
}

func (r *run) item(res ItemResult) {
	r.sink.Publish(Event{
		Action:  r.action,
		Phase:   PhaseInFlight,
		Message: res.Message,
		Elapsed: time.Since(r.started),
		Item:    &res,
		At:      time.Now(),
	})
}

func (r *run) invalid(err *ValidationError) *Outcome {
	return &Outcome{Invalid: true, Message: err.Message, Detail: err.Error()}
}

func (r *run) fail(msg string, err error) *Outcome {
	out := &Outcome{Message: msg}
	if err != nil {
		out.Detail = err.Error()
	}
	return out
}

func (r *run) succeed(msg string) *Outcome {
	return &Outcome{OK: true, Message: msg}
}

// execute runs body under the session's guard for action and always
// returns a finished Outcome.
func (o *Orchestrator) execute(ctx context.Context, st *session.State, sink Sink, action Action, body func(ctx context.Context, r *run) *Outcome) (out *Outcome) {
	if sink == nil {
		sink = Discard
	}
	r := &run{
		o:       o,
		action:  action,
		st:      st,
		sink:    sink,
		started: time.Now(),
		logger:  o.logger.With("action", string(action), "session", st.ID()),
	}

	if !st.Begin(string(action)) {
		out = &Outcome{
			Action:  action,
			Invalid: true,
			Message: fmt.Sprintf("A %s is already in progress.", action),
			Started: r.started,
		}
		sink.Publish(Event{Action: action, Phase: PhaseFailed, Message: out.Message, Outcome: out, At: time.Now()})
		return out
	}
	defer st.End(string(action))
	o.deps.Observer.Started(string(action))

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("pipeline panicked", "panic", rec, "stack", string(debug.Stack()))
			out = r.fail(fmt.Sprintf("Internal error during %s.", action), fmt.Errorf("panic: %v", rec))
		}
		o.finish(ctx, r, out)
	}()

	r.emit(PhaseValidating, "Validating input...")
	out = body(ctx, r)
	if out == nil {
		out = r.fail(fmt.Sprintf("Internal error during %s.", action), errors.New("pipeline returned no outcome"))
	}
	return out
}

func (o *Orchestrator) finish(ctx context.Context, r *run, out *Outcome) {
	out.Action = r.action
	out.Started = r.started
	out.Elapsed = time.Since(r.started)
	if out.Principal == "" {
		out.Principal = r.principal
	}

	phase, result := PhaseSucceeded, metrics.ResultOK
	switch {
	case out.Invalid:
		phase, result = PhaseFailed, metrics.ResultInvalid
		r.logger.Debug("pipeline rejected input", "message", out.Message)
	case !out.OK:
		phase, result = PhaseFailed, metrics.ResultFailed
		r.logger.Error("pipeline failed",
			"message", out.Message,
			"detail", out.Detail,
			"resource", out.Resource,
			"elapsed", out.Elapsed)
	default:
		r.logger.Info("pipeline succeeded",
			"message", out.Message,
			"resource", out.Resource,
			"items", len(out.Items),
			"elapsed", out.Elapsed)
	}

	r.sink.Publish(Event{
		Action:  r.action,
		Phase:   phase,
		Message: out.Message,
		Elapsed: out.Elapsed,
		Outcome: out,
		At:      time.Now(),
	})
	o.deps.Observer.ObservePipeline(string(r.action), result, out.Elapsed)

	if o.deps.Recorder == nil || out.Invalid || !r.action.Mutating() {
		return
	}
	err := o.deps.Recorder.AppendActivity(context.WithoutCancel(ctx), &store.Activity{
		SessionID: r.st.ID(),
		Principal: out.Principal,
		Action:    string(r.action),
		OK:        out.OK,
		Message:   out.Message,
		Resource:  out.Resource,
		Items:     out.activityItems(),
		StartedAt: out.Started,
		Duration:  out.Elapsed,
	})
	if err != nil {
		r.logger.Warn("failed to record activity", "error", err)
	}
}

// credentials mints a fresh token. Every remote step is preceded by one.
func (r *run) credentials(ctx context.Context) (*gcpauth.Token, *Outcome) {
	tok, err := r.o.deps.Tokens.Token(ctx)
	if err != nil {
		return nil, r.fail(
			"Credential error: "+summary(err)+". Run 'gcloud auth application-default login' or set GOOGLE_APPLICATION_CREDENTIALS.",
			err)
	}
	r.principal = tok.Identity.Principal()
	return tok, nil
}

// initRemote binds the runtime to target.
func (r *run) initRemote(ctx context.Context, target runtime.Target, subject string) (runtime.Engines, *Outcome) {
	r.emit(PhaseInitializing, "Initializing Vertex AI...")
	eng, err := r.o.deps.Runtime.Init(ctx, target)
	if err != nil {
		return nil, r.fail(initMessage(target, subject, err), err)
	}
	r.emit(PhaseInitializing, "Vertex AI initialized.")
	return eng, nil
}

// ticker publishes elapsed-time events until the returned stop is called.
func (r *run) ticker(ctx context.Context, msg string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(r.o.deps.TickInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				r.emit(PhaseInFlight, msg)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// projectNumber resolves projectID, consulting the session memo first.
func (r *run) projectNumber(ctx context.Context, projectID string) (string, *Outcome) {
	if n, ok := r.st.ProjectNumber(projectID); ok {
		return n, nil
	}
	n, ok := r.o.deps.Projects.ProjectNumber(ctx, projectID)
	if !ok {
		return "", r.fail(
			fmt.Sprintf("Could not resolve the project number for '%s'. Check the project id and your Resource Manager permissions.", projectID),
			errors.New("project number lookup failed"))
	}
	r.st.RememberProjectNumber(projectID, n)
	return n, nil
}

func initMessage(t runtime.Target, subject string, err error) string {
	switch runtime.KindOf(err) {
	case runtime.KindNotFound:
		msg := fmt.Sprintf("Error: Project '%s' or Location '%s' not found, or Vertex AI API not enabled", t.Project, t.Location)
		if b := t.Bucket(); b != "" {
			msg += fmt.Sprintf(", or Bucket 'gs://%s' invalid/inaccessible", b)
		}
		return msg + "."
	case runtime.KindPermissionDenied:
		return permissionMessage(subject, t.Project)
	default:
		return "Error initializing Vertex AI: " + summary(err)
	}
}

func permissionMessage(subject, project string) string {
	return fmt.Sprintf("Permission denied for %s. Ensure 'Vertex AI User' role or necessary permissions in '%s'.", subject, project)
}

// remoteMessage words a failed runtime call.
func remoteMessage(prefix, subject, project string, err error) string {
	if runtime.IsPermissionDenied(err) {
		return permissionMessage(subject, project)
	}
	return prefix + summary(err)
}

// summary is the operator-facing part of err.
func summary(err error) string {
	var re *runtime.Error
	if errors.As(err, &re) && re.Message != "" {
		return re.Message
	}
	var ae *discovery.APIError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return err.Error()
}
