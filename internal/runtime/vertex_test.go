// ABOUTME: Tests for the Vertex reasoning engine client against an httptest fake.
// ABOUTME: Covers init probing, error kinds, pagination, operations and chat queries.

package runtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agent-console/internal/gcpauth"
)

const collectionPath = "/v1/projects/proj/locations/us-central1/reasoningEngines"

type fakeTokens struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeTokens) Token(ctx context.Context) (*gcpauth.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &gcpauth.Token{AccessToken: "tok"}, nil
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func newTestVertex(t *testing.T, handler http.HandlerFunc) (*Vertex, *fakeTokens) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tokens := &fakeTokens{}
	v := NewVertex(tokens, Options{
		Endpoint:     func(string) string { return srv.URL },
		StorageURL:   srv.URL,
		PollInterval: time.Millisecond,
	})
	return v, tokens
}

func initTarget() Target {
	return Target{Project: "proj", Location: "us-central1"}
}

func TestInit(t *testing.T) {
	t.Run("success probes the collection", func(t *testing.T) {
		var probed bool
		v, _ := newTestVertex(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			assert.Equal(t, "proj", r.Header.Get("X-Goog-User-Project"))
			if r.URL.Path == collectionPath {
				probed = true
				assert.Equal(t, "1", r.URL.Query().Get("pageSize"))
			}
			writeJSON(w, http.StatusOK, `{}`)
		})
		_, err := v.Init(context.Background(), initTarget())
		require.NoError(t, err)
		assert.True(t, probed)
	})

	t.Run("missing project", func(t *testing.T) {
		v, tokens := newTestVertex(t, func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("no request expected")
		})
		_, err := v.Init(context.Background(), Target{Location: "us-central1"})
		require.Error(t, err)
		assert.Equal(t, 0, tokens.calls)
	})

	t.Run("not found", func(t *testing.T) {
		v, _ := newTestVertex(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, `{"error":{"code":404,"message":"Project not found","status":"NOT_FOUND"}}`)
		})
		_, err := v.Init(context.Background(), initTarget())
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
		assert.Contains(t, err.Error(), "Project not found")
	})

	t.Run("api disabled reported as permission denied", func(t *testing.T) {
		v, _ := newTestVertex(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusForbidden, `{"error":{"code":403,"message":"denied","status":"PERMISSION_DENIED"}}`)
		})
		_, err := v.Init(context.Background(), initTarget())
		assert.True(t, IsPermissionDenied(err))
	})

	t.Run("bad bucket", func(t *testing.T) {
		v, _ := newTestVertex(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/storage/v1/b/my-bucket" {
				writeJSON(w, http.StatusNotFound, `{"error":{"code":404,"message":"bucket missing"}}`)
				return
			}
			writeJSON(w, http.StatusOK, `{}`)
		})
		target := initTarget()
		target.StagingBucket = "gs://my-bucket"
		_, err := v.Init(context.Background(), target)
		assert.True(t, IsNotFound(err))
	})

	t.Run("credential failure", func(t *testing.T) {
		v, tokens := newTestVertex(t, func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("no request expected")
		})
		tokens.err = gcpauth.ErrNoCredentials
		_, err := v.Init(context.Background(), initTarget())
		assert.ErrorIs(t, err, gcpauth.ErrNoCredentials)
	})
}

func TestList_Paginates(t *testing.T) {
	v, _ := newTestVertex(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("pageToken") {
		case "":
			writeJSON(w, http.StatusOK, `{
				"reasoningEngines":[{"name":"projects/proj/locations/us-central1/reasoningEngines/1","displayName":"One","createTime":"2024-01-01T00:00:00Z"}],
				"nextPageToken":"next"}`)
		case "next":
			writeJSON(w, http.StatusOK, `{
				"reasoningEngines":[{"name":"projects/proj/locations/us-central1/reasoningEngines/2","displayName":"Two","createTime":"2024-02-01T00:00:00Z","spec":{"serviceAccount":"sa@x"}}]}`)
		}
	})

	engines, err := v.Init(context.Background(), initTarget())
	require.NoError(t, err)

	list, err := engines.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	// Newest first.
	assert.Equal(t, "Two", list[0].DisplayName)
	assert.Equal(t, "sa@x", list[0].ServiceAccount)
	assert.Equal(t, "2", list[0].ID())
	assert.Equal(t, "us-central1", list[0].Location())
}

func TestCreate_PollsOperation(t *testing.T) {
	var (
		mu      sync.Mutex
		polls   int
		payload map[string]any
	)
	v, _ := newTestVertex(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodPost && r.URL.Path == collectionPath:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			writeJSON(w, http.StatusOK, `{"name":"projects/proj/locations/us-central1/reasoningEngines/9/operations/op1","done":false}`)
		case strings.HasSuffix(r.URL.Path, "/operations/op1"):
			polls++
			if polls < 3 {
				writeJSON(w, http.StatusOK, `{"name":"projects/proj/locations/us-central1/reasoningEngines/9/operations/op1"}`)
				return
			}
			writeJSON(w, http.StatusOK, `{"done":true,"response":{"name":"projects/proj/locations/us-central1/reasoningEngines/9","displayName":"Chef"}}`)
		default:
			writeJSON(w, http.StatusOK, `{}`)
		}
	})

	engines, err := v.Init(context.Background(), initTarget())
	require.NoError(t, err)

	res, err := engines.Create(context.Background(), CreateRequest{
		DisplayName:    "Chef",
		Description:    "cooks",
		ServiceAccount: "sa@proj.iam.gserviceaccount.com",
		Source: Source{
			EntrypointModule: "agents.chef.agent",
			EntrypointObject: "root_agent",
			RequirementsFile: "requirements.txt",
			Archive:          []byte("tarball"),
			EnvVars:          map[string]string{"B": "2", "A": "1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Chef", res.DisplayName)
	assert.Equal(t, "9", res.ID())
	assert.Equal(t, 3, polls)

	spec := payload["spec"].(map[string]any)
	assert.Equal(t, "sa@proj.iam.gserviceaccount.com", spec["serviceAccount"])
	source := spec["sourceCodeSpec"].(map[string]any)
	archive := source["inlineSource"].(map[string]any)["sourceArchive"].(string)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("tarball")), archive)
	python := source["pythonSpec"].(map[string]any)
	assert.Equal(t, "agents.chef.agent", python["entrypointModule"])
	assert.Equal(t, DefaultPythonVersion, python["version"])
	env := spec["deploymentSpec"].(map[string]any)["env"].([]any)
	require.Len(t, env, 2)
	assert.Equal(t, "A", env[0].(map[string]any)["name"])
}

func TestCreate_OperationError(t *testing.T) {
	v, _ := newTestVertex(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writeJSON(w, http.StatusOK, `{"name":"op","done":true,"error":{"code":7,"message":"caller lacks permission"}}`)
			return
		}
		writeJSON(w, http.StatusOK, `{}`)
	})
	engines, err := v.Init(context.Background(), initTarget())
	require.NoError(t, err)

	_, err = engines.Create(context.Background(), CreateRequest{DisplayName: "x"})
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))
	assert.Contains(t, err.Error(), "caller lacks permission")
}

func TestCreate_CancelStopsPolling(t *testing.T) {
	v, _ := newTestVertex(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"name":"projects/p/operations/forever"}`)
	})
	engines, err := v.Init(context.Background(), initTarget())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = engines.Create(ctx, CreateRequest{DisplayName: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "deadline"))
}

func TestUpdate_FieldMask(t *testing.T) {
	var masks []string
	v, _ := newTestVertex(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			masks = append(masks, r.URL.Query().Get("updateMask"))
			writeJSON(w, http.StatusOK, `{"name":"op","done":true,"response":{"name":"projects/proj/locations/us-central1/reasoningEngines/5"}}`)
			return
		}
		writeJSON(w, http.StatusOK, `{}`)
	})
	engines, err := v.Init(context.Background(), initTarget())
	require.NoError(t, err)

	name := "projects/proj/locations/us-central1/reasoningEngines/5"
	_, err = engines.Update(context.Background(), name, UpdateRequest{DisplayName: "a", ServiceAccount: "  "})
	require.NoError(t, err)
	_, err = engines.Update(context.Background(), name, UpdateRequest{DisplayName: "a", ServiceAccount: "sa@x"})
	require.NoError(t, err)

	require.Len(t, masks, 2)
	assert.NotContains(t, masks[0], "spec.serviceAccount")
	assert.Contains(t, masks[1], "spec.serviceAccount")
	assert.Contains(t, masks[1], "displayName")
}

func TestUpdate_FallsBackToGet(t *testing.T) {
	name := "projects/proj/locations/us-central1/reasoningEngines/5"
	v, _ := newTestVertex(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPatch:
			writeJSON(w, http.StatusOK, `{"name":"`+name+`/operations/o","done":true}`)
		case r.URL.Path == "/v1/"+name:
			writeJSON(w, http.StatusOK, `{"name":"`+name+`","displayName":"Fetched"}`)
		default:
			writeJSON(w, http.StatusOK, `{}`)
		}
	})
	engines, err := v.Init(context.Background(), initTarget())
	require.NoError(t, err)

	res, err := engines.Update(context.Background(), name, UpdateRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Fetched", res.DisplayName)
}

func TestDelete(t *testing.T) {
	name := "projects/proj/locations/us-central1/reasoningEngines/5"
	var force string
	v, _ := newTestVertex(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/"+name:
			force = r.URL.Query().Get("force")
			writeJSON(w, http.StatusOK, `{"name":"op","done":true}`)
		case r.Method == http.MethodDelete:
			writeJSON(w, http.StatusNotFound, `{"error":{"code":404,"message":"gone","status":"NOT_FOUND"}}`)
		default:
			writeJSON(w, http.StatusOK, `{}`)
		}
	})
	engines, err := v.Init(context.Background(), initTarget())
	require.NoError(t, err)

	require.NoError(t, engines.Delete(context.Background(), name, true))
	assert.Equal(t, "true", force)

	err = engines.Delete(context.Background(), name+"0", true)
	assert.True(t, IsNotFound(err))
}

func TestChat(t *testing.T) {
	name := "projects/proj/locations/us-central1/reasoningEngines/5"
	v, tokens := newTestVertex(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/" + name + ":query":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "create_session", body["classMethod"])
			writeJSON(w, http.StatusOK, `{"output":{"id":"sess-1","user_id":"test-user"}}`)
		case "/v1/" + name + ":streamQuery":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			input := body["input"].(map[string]any)
			assert.Equal(t, "sess-1", input["session_id"])
			assert.Equal(t, "hello", input["message"])
			_, _ = io.WriteString(w, `{"content":{"role":"model","parts":[{"text":"Hi "}]}}`+"\n")
			_, _ = io.WriteString(w, `{"content":{"role":"user","parts":[{"text":"ignored"}]}}`+"\n")
			_, _ = io.WriteString(w, `{"content":{"role":"model","parts":[{"function_call":{}},{"text":"there"}]}}`+"\n")
		default:
			writeJSON(w, http.StatusOK, `{}`)
		}
	})

	engines, err := v.Init(context.Background(), initTarget())
	require.NoError(t, err)

	id, err := engines.CreateSession(context.Background(), name, "test-user")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", id)

	before := tokens.calls
	reply, err := engines.StreamQuery(context.Background(), name, "test-user", id, "hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply)
	assert.Equal(t, before+1, tokens.calls)
}

func TestStreamQuery_Error(t *testing.T) {
	v, _ := newTestVertex(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ":streamQuery") {
			writeJSON(w, http.StatusForbidden, `{"error":{"message":"no access","status":"PERMISSION_DENIED"}}`)
			return
		}
		writeJSON(w, http.StatusOK, `{}`)
	})
	engines, err := v.Init(context.Background(), initTarget())
	require.NoError(t, err)

	_, err = engines.StreamQuery(context.Background(), "projects/p/locations/l/reasoningEngines/1", "u", "s", "m")
	assert.True(t, IsPermissionDenied(err))
}
