// ABOUTME: REST client for Vertex AI reasoning engines built on resty.
// ABOUTME: Handles init probing, CRUD, long-running operation polling and test-chat queries.

package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"

	"github.com/2389/agent-console/internal/gcpauth"
)

// Defaults for Options.
const (
	DefaultPythonVersion = "3.12"
	DefaultPollInterval  = 5 * time.Second
	DefaultTimeout       = 5 * time.Minute
	StorageURL           = "https://storage.googleapis.com"
)

var errPending = errors.New("operation still running")

// DefaultEndpoint returns the regional Vertex AI endpoint.
func DefaultEndpoint(location string) string {
	return "https://" + location + "-aiplatform.googleapis.com"
}

// Options tunes a Vertex client. Zero values select the defaults.
type Options struct {
	Endpoint      func(location string) string
	StorageURL    string
	PollInterval  time.Duration
	PythonVersion string
	Timeout       time.Duration
}

// Vertex is a Client for Vertex AI Agent Engine.
type Vertex struct {
	tokens gcpauth.Provider
	opts   Options
	http   *resty.Client
	logger *slog.Logger
}

var _ Client = (*Vertex)(nil)

// NewVertex creates a client that authenticates with tokens.
func NewVertex(tokens gcpauth.Provider, opts Options) *Vertex {
	if opts.Endpoint == nil {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.StorageURL == "" {
		opts.StorageURL = StorageURL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PythonVersion == "" {
		opts.PythonVersion = DefaultPythonVersion
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	return &Vertex{
		tokens: tokens,
		opts:   opts,
		http: resty.New().
			SetTimeout(opts.Timeout).
			SetHeader("Accept", "application/json").
			SetHeader("Content-Type", "application/json"),
		logger: slog.Default().With("component", "runtime"),
	}
}

// Init binds target after checking credentials, the location and, when
// set, the staging bucket.
func (v *Vertex) Init(ctx context.Context, target Target) (Engines, error) {
	target.Project = strings.TrimSpace(target.Project)
	target.Location = strings.TrimSpace(target.Location)
	if target.Project == "" || target.Location == "" {
		return nil, &Error{Kind: KindGeneric, Op: "init", Message: "project and location are required"}
	}

	e := &engines{v: v, target: target, base: strings.TrimSuffix(v.opts.Endpoint(target.Location), "/")}

	if _, err := e.call(ctx, "init", http.MethodGet, e.collectionURL(), map[string]string{"pageSize": "1"}, nil); err != nil {
		return nil, err
	}
	if bucket := target.Bucket(); bucket != "" {
		url := strings.TrimSuffix(v.opts.StorageURL, "/") + "/storage/v1/b/" + bucket
		if _, err := e.call(ctx, "init.bucket", http.MethodGet, url, nil, nil); err != nil {
			return nil, err
		}
	}

	v.logger.Info("runtime initialized", "project", target.Project, "location", target.Location, "bucket", target.Bucket())
	return e, nil
}

type engines struct {
	v      *Vertex
	target Target
	base   string
}

func (e *engines) collectionURL() string {
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/reasoningEngines", e.base, e.target.Project, e.target.Location)
}

func (e *engines) resourceURL(name string) string {
	return e.base + "/v1/" + strings.TrimPrefix(name, "/")
}

// request prepares an authenticated request. Each request refreshes the token.
func (e *engines) request(ctx context.Context, op string) (*resty.Request, *slog.Logger, error) {
	tok, err := e.v.tokens.Token(ctx)
	if err != nil {
		return nil, nil, &Error{Kind: KindGeneric, Op: op, Message: "credential refresh failed", Err: err}
	}
	reqID := uuid.NewString()
	req := e.v.http.R().
		SetContext(ctx).
		SetAuthToken(tok.AccessToken).
		SetHeader("X-Goog-User-Project", e.target.Project).
		SetHeader("X-Request-Id", reqID)
	return req, e.v.logger.With("request_id", reqID, "op", op), nil
}

func (e *engines) call(ctx context.Context, op, method, url string, query map[string]string, body any) ([]byte, error) {
	req, logger, err := e.request(ctx, op)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}

	start := time.Now()
	resp, err := req.Execute(method, url)
	if err != nil {
		logger.Error("runtime request failed", "method", method, "url", url, "error", err)
		return nil, &Error{Kind: KindGeneric, Op: op, Err: err}
	}
	logger.Debug("runtime request",
		"method", method,
		"url", url,
		"status", resp.StatusCode(),
		"duration", time.Since(start),
	)
	if resp.IsError() {
		rerr := httpError(op, resp.StatusCode(), resp.Body())
		logger.Warn("runtime request rejected", "status", rerr.Status, "kind", rerr.Kind.String(), "message", rerr.Message)
		return nil, rerr
	}
	return resp.Body(), nil
}

// List returns every resource in the target, following pagination.
func (e *engines) List(ctx context.Context) ([]Resource, error) {
	var out []Resource
	pageToken := ""
	for {
		query := map[string]string{}
		if pageToken != "" {
			query["pageToken"] = pageToken
		}
		body, err := e.call(ctx, "list", http.MethodGet, e.collectionURL(), query, nil)
		if err != nil {
			return nil, err
		}

		var page struct {
			ReasoningEngines []resourceJSON `json:"reasoningEngines"`
			NextPageToken    string         `json:"nextPageToken"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, &Error{Kind: KindGeneric, Op: "list", Message: "decoding response", Err: err}
		}
		for _, r := range page.ReasoningEngines {
			out = append(out, r.resource())
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreateTime.After(out[j].CreateTime) })
	return out, nil
}

// Get fetches one resource.
func (e *engines) Get(ctx context.Context, name string) (*Resource, error) {
	body, err := e.call(ctx, "get", http.MethodGet, e.resourceURL(name), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeResource("get", body)
}

// Create deploys a new resource and waits for it to be ready.
func (e *engines) Create(ctx context.Context, req CreateRequest) (*Resource, error) {
	payload := resourcePayload{
		DisplayName: req.DisplayName,
		Description: req.Description,
		Spec:        e.spec(req.ServiceAccount, req.Source),
	}
	body, err := e.call(ctx, "create", http.MethodPost, e.collectionURL(), nil, payload)
	if err != nil {
		return nil, err
	}
	return e.finish(ctx, "create", body, "")
}

// Update replaces code, display name, description and env of name.
func (e *engines) Update(ctx context.Context, name string, req UpdateRequest) (*Resource, error) {
	mask := []string{"displayName", "description", "spec.sourceCodeSpec", "spec.deploymentSpec"}
	if sa := strings.TrimSpace(req.ServiceAccount); sa != "" {
		mask = append(mask, "spec.serviceAccount")
		req.ServiceAccount = sa
	}
	payload := resourcePayload{
		DisplayName: req.DisplayName,
		Description: req.Description,
		Spec:        e.spec(req.ServiceAccount, req.Source),
	}
	query := map[string]string{"updateMask": strings.Join(mask, ",")}
	body, err := e.call(ctx, "update", http.MethodPatch, e.resourceURL(name), query, payload)
	if err != nil {
		return nil, err
	}
	return e.finish(ctx, "update", body, name)
}

// Delete removes name. force also deletes child sessions.
func (e *engines) Delete(ctx context.Context, name string, force bool) error {
	query := map[string]string{}
	if force {
		query["force"] = "true"
	}
	body, err := e.call(ctx, "delete", http.MethodDelete, e.resourceURL(name), query, nil)
	if err != nil {
		return err
	}
	_, err = e.wait(ctx, "delete", body)
	return err
}

// finish waits for an operation and returns the resource it produced,
// falling back to a Get when the operation carries no response body.
func (e *engines) finish(ctx context.Context, op string, opBody []byte, name string) (*Resource, error) {
	result, err := e.wait(ctx, op, opBody)
	if err != nil {
		return nil, err
	}
	if result.Get("name").Exists() {
		return decodeResource(op, []byte(result.Raw))
	}
	if name == "" {
		name = resourceNameFromOperation(gjson.GetBytes(opBody, "name").String())
	}
	return e.Get(ctx, name)
}

// wait polls an operation until done and returns its response.
func (e *engines) wait(ctx context.Context, op string, opBody []byte) (gjson.Result, error) {
	current := gjson.ParseBytes(opBody)
	opName := current.Get("name").String()
	started := time.Now()

	err := retry.Do(ctx, retry.NewConstant(e.v.opts.PollInterval), func(ctx context.Context) error {
		if current.Get("done").Bool() {
			return nil
		}
		body, err := e.call(ctx, op+".poll", http.MethodGet, e.resourceURL(opName), nil, nil)
		if err != nil {
			return err
		}
		current = gjson.ParseBytes(body)
		if current.Get("done").Bool() {
			return nil
		}
		return retry.RetryableError(errPending)
	})
	if err != nil {
		var rerr *Error
		if errors.As(err, &rerr) {
			return gjson.Result{}, rerr
		}
		return gjson.Result{}, &Error{Kind: KindGeneric, Op: op, Message: "waiting for operation " + opName, Err: err}
	}

	e.v.logger.Info("operation finished", "op", op, "operation", opName, "duration", time.Since(started))
	if opErr := current.Get("error"); opErr.Exists() {
		return gjson.Result{}, operationError(op, opErr)
	}
	return current.Get("response"), nil
}

// resourceNameFromOperation trims ".../operations/<id>" from an operation name.
func resourceNameFromOperation(opName string) string {
	if i := strings.Index(opName, "/operations/"); i >= 0 {
		return opName[:i]
	}
	return opName
}

// CreateSession opens a chat session on name and returns its id.
func (e *engines) CreateSession(ctx context.Context, name, userID string) (string, error) {
	payload := map[string]any{
		"classMethod": "create_session",
		"input":       map[string]any{"user_id": userID},
	}
	body, err := e.call(ctx, "create_session", http.MethodPost, e.resourceURL(name)+":query", nil, payload)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(body, "output.id").String()
	if id == "" {
		return "", &Error{Kind: KindGeneric, Op: "create_session", Message: "response did not include a session id"}
	}
	return id, nil
}

// StreamQuery sends message and returns the concatenated model text.
func (e *engines) StreamQuery(ctx context.Context, name, userID, sessionID, message string) (string, error) {
	req, logger, err := e.request(ctx, "stream_query")
	if err != nil {
		return "", err
	}
	payload := map[string]any{
		"classMethod": "stream_query",
		"input": map[string]any{
			"user_id":    userID,
			"session_id": sessionID,
			"message":    message,
		},
	}

	resp, err := req.SetBody(payload).SetDoNotParseResponse(true).Post(e.resourceURL(name) + ":streamQuery")
	if err != nil {
		logger.Error("stream query failed", "error", err)
		return "", &Error{Kind: KindGeneric, Op: "stream_query", Err: err}
	}
	raw := resp.RawBody()
	defer raw.Close()

	if resp.StatusCode() >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(raw, 1<<20))
		rerr := httpError("stream_query", resp.StatusCode(), body)
		logger.Warn("stream query rejected", "status", rerr.Status, "message", rerr.Message)
		return "", rerr
	}

	text, events, err := CollectModelText(raw)
	if err != nil {
		return "", &Error{Kind: KindGeneric, Op: "stream_query", Message: "reading event stream", Err: err}
	}
	logger.Debug("stream query complete", "events", events, "chars", len(text))
	return text, nil
}

type resourceJSON struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	Description string    `json:"description"`
	CreateTime  time.Time `json:"createTime"`
	UpdateTime  time.Time `json:"updateTime"`
	Spec        struct {
		ServiceAccount string `json:"serviceAccount"`
	} `json:"spec"`
}

func (r resourceJSON) resource() Resource {
	return Resource{
		Name:           r.Name,
		DisplayName:    r.DisplayName,
		Description:    r.Description,
		ServiceAccount: r.Spec.ServiceAccount,
		CreateTime:     r.CreateTime,
		UpdateTime:     r.UpdateTime,
	}
}

func decodeResource(op string, body []byte) (*Resource, error) {
	var r resourceJSON
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, &Error{Kind: KindGeneric, Op: op, Message: "decoding resource", Err: err}
	}
	res := r.resource()
	return &res, nil
}

type resourcePayload struct {
	DisplayName string   `json:"displayName"`
	Description string   `json:"description"`
	Spec        specJSON `json:"spec"`
}

type specJSON struct {
	AgentFramework string              `json:"agentFramework,omitempty"`
	ServiceAccount string              `json:"serviceAccount,omitempty"`
	SourceCodeSpec sourceCodeSpecJSON  `json:"sourceCodeSpec"`
	DeploymentSpec *deploymentSpecJSON `json:"deploymentSpec,omitempty"`
}

type sourceCodeSpecJSON struct {
	InlineSource struct {
		SourceArchive []byte `json:"sourceArchive"`
	} `json:"inlineSource"`
	PythonSpec pythonSpecJSON `json:"pythonSpec"`
}

type pythonSpecJSON struct {
	Version          string `json:"version"`
	EntrypointModule string `json:"entrypointModule"`
	EntrypointObject string `json:"entrypointObject"`
	RequirementsFile string `json:"requirementsFile,omitempty"`
}

type deploymentSpecJSON struct {
	Env []envVarJSON `json:"env"`
}

type envVarJSON struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (e *engines) spec(serviceAccount string, src Source) specJSON {
	s := specJSON{
		AgentFramework: "google-adk",
		ServiceAccount: serviceAccount,
	}
	s.SourceCodeSpec.InlineSource.SourceArchive = src.Archive
	s.SourceCodeSpec.PythonSpec = pythonSpecJSON{
		Version:          e.v.opts.PythonVersion,
		EntrypointModule: src.EntrypointModule,
		EntrypointObject: src.EntrypointObject,
		RequirementsFile: src.RequirementsFile,
	}

	if len(src.EnvVars) > 0 {
		keys := make([]string, 0, len(src.EnvVars))
		for k := range src.EnvVars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		env := make([]envVarJSON, 0, len(keys))
		for _, k := range keys {
			env = append(env, envVarJSON{Name: k, Value: src.EnvVars[k]})
		}
		s.DeploymentSpec = &deploymentSpecJSON{Env: env}
	}
	return s
}
