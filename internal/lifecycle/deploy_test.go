// ABOUTME: Tests for the deploy, update and destroy pipelines
// ABOUTME: Uses in-memory fakes for the runtime, credentials and bundle builder

package lifecycle

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agent-console/internal/bundle"
	"github.com/2389/agent-console/internal/runtime"
	"github.com/2389/agent-console/internal/session"
	"github.com/2389/agent-console/internal/store"
)

func TestDeploy_Success(t *testing.T) {
	h := newHarness(t)
	h.rt.delay = 20 * time.Millisecond

	out := h.o.Deploy(context.Background(), h.st, h.events, DeployInput{BundleKey: "foo"})

	require.True(t, out.OK, out.Message)
	assert.Equal(t, ActionDeploy, out.Action)
	assert.True(t, strings.HasPrefix(out.Message, "Successfully created remote agent: projects/p/"))
	assert.NotEmpty(t, out.Resource)
	assert.Equal(t, "deployer@p.iam.gserviceaccount.com", out.Principal)

	require.Len(t, h.rt.created, 1)
	req := h.rt.created[0]
	assert.Equal(t, "Foo Agent", req.DisplayName)
	assert.Equal(t, "Finds foo.", req.Description)
	assert.Equal(t, bundle.RequirementsFile, req.Source.RequirementsFile)
	assert.Equal(t, "agents.foo", req.Source.EntrypointModule)
	assert.Equal(t, []string{"x", "y"}, h.bundles.opts.BaseRequirements)

	phases := h.events.phases()
	require.GreaterOrEqual(t, len(phases), 4)
	assert.Equal(t, []Phase{PhaseValidating, PhaseInitializing, PhaseImporting}, phases[:3])
	assert.Contains(t, phases, PhaseInFlight)
	assert.Equal(t, PhaseSucceeded, phases[len(phases)-1])

	_, ok := h.st.View().Resource(out.Resource)
	assert.True(t, ok)
	assert.Equal(t, "foo", h.st.View().DeployBundle)

	recorded, err := h.activity.ListActivity(context.Background(), store.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, "deploy", recorded[0].Action)
	assert.True(t, recorded[0].OK)
	assert.Equal(t, "sess-1", recorded[0].SessionID)
	assert.Equal(t, out.Resource, recorded[0].Resource)
}

func TestDeploy_TickerStopsWithCall(t *testing.T) {
	h := newHarness(t)
	h.rt.delay = 10 * time.Millisecond

	h.o.Deploy(context.Background(), h.st, h.events, DeployInput{BundleKey: "foo"})

	h.events.mu.Lock()
	n := len(h.events.events)
	h.events.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	assert.Equal(t, n, len(h.events.events))
	assert.True(t, h.events.events[n-1].Phase.Terminal())
}

func TestDeploy_RequirementsAreSortedUnion(t *testing.T) {
	root := t.TempDir()
	pkg := filepath.Join(root, "agents", "foo")
	require.NoError(t, os.MkdirAll(pkg, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(pkg, "__init__.py"), []byte("root_agent = Agent()\n"), 0644))

	h := newHarness(t)
	h.o.deps.Bundles = bundle.NewRegistry(bundle.SourceFactory(root))

	out := h.o.Deploy(context.Background(), h.st, h.events, DeployInput{BundleKey: "foo"})
	require.True(t, out.OK, out.Message)

	require.Len(t, h.rt.created, 1)
	assert.Equal(t, "a\nb\nx\ny\n", archiveMember(t, h.rt.created[0].Source.Archive, bundle.RequirementsFile))
}

func archiveMember(t *testing.T, archive []byte, name string) string {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			t.Fatalf("member %s not in archive", name)
		}
		require.NoError(t, err)
		if hdr.Name == name {
			data, err := io.ReadAll(tr)
			require.NoError(t, err)
			return string(data)
		}
	}
}

func TestDeploy_EnvPreviewIsTruncated(t *testing.T) {
	h := newHarness(t)
	h.bundles.env = map[string]string{
		"SHORT": "v",
		"LONG":  strings.Repeat("k", 40),
	}

	out := h.o.Deploy(context.Background(), h.st, h.events, DeployInput{BundleKey: "foo"})
	require.True(t, out.OK, out.Message)

	require.Len(t, out.Env, 2)
	assert.Equal(t, EnvPreview{Key: "LONG", Value: strings.Repeat("k", 30) + "..."}, out.Env[0])
	assert.Equal(t, EnvPreview{Key: "SHORT", Value: "v"}, out.Env[1])
	assert.Len(t, h.rt.created[0].Source.EnvVars["LONG"], 40)
}

func TestDeploy_ValidationMakesNoCalls(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *session.Data)
		input  DeployInput
		want   string
	}{
		{
			name:   "empty project",
			mutate: func(d *session.Data) { d.Target.Project = " " },
			input:  DeployInput{BundleKey: "foo"},
			want:   "project",
		},
		{
			name:   "empty location",
			mutate: func(d *session.Data) { d.Target.Location = "" },
			input:  DeployInput{BundleKey: "foo"},
			want:   "location",
		},
		{
			name:   "missing bucket",
			mutate: func(d *session.Data) { d.Target.StagingBucket = "gs://" },
			input:  DeployInput{BundleKey: "foo"},
			want:   "bucket",
		},
		{
			name:   "no bundle",
			mutate: func(d *session.Data) {},
			input:  DeployInput{},
			want:   "agent configuration",
		},
		{
			name:   "unknown bundle",
			mutate: func(d *session.Data) {},
			input:  DeployInput{BundleKey: "nope"},
			want:   "Unknown agent configuration 'nope'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.st.Update(tt.mutate)

			out := h.o.Deploy(context.Background(), h.st, h.events, tt.input)

			assert.False(t, out.OK)
			assert.True(t, out.Invalid)
			assert.Contains(t, out.Message, tt.want)
			assert.Zero(t, h.networkCalls())
			assert.Zero(t, h.bundles.calls)

			recorded, _ := h.activity.ListActivity(context.Background(), store.ActivityFilter{})
			assert.Empty(t, recorded)
		})
	}
}

func TestDeploy_InitNotFoundNamesConfiguration(t *testing.T) {
	h := newHarness(t)
	h.rt.initErr = &runtime.Error{Kind: runtime.KindNotFound, Op: "init", Status: 404, Message: "not found"}

	out := h.o.Deploy(context.Background(), h.st, h.events, DeployInput{BundleKey: "foo"})

	assert.False(t, out.OK)
	assert.False(t, out.Invalid)
	assert.Equal(t,
		"Error: Project 'p' or Location 'us-central1' not found, or Vertex AI API not enabled, or Bucket 'gs://bucket' invalid/inaccessible.",
		out.Message)
	assert.Zero(t, h.bundles.calls)
	assert.Empty(t, h.rt.created)
}

func TestDeploy_CredentialFailureStopsBeforeRemote(t *testing.T) {
	h := newHarness(t)
	h.tokens.err = errBoom

	out := h.o.Deploy(context.Background(), h.st, h.events, DeployInput{BundleKey: "foo"})

	assert.False(t, out.OK)
	assert.Contains(t, out.Message, "Credential error")
	assert.Zero(t, h.rt.inits)
	assert.Empty(t, h.rt.created)
}

func TestDeploy_ImportFailure(t *testing.T) {
	h := newHarness(t)
	h.bundles.err = bundle.ErrImport

	out := h.o.Deploy(context.Background(), h.st, h.events, DeployInput{BundleKey: "foo"})

	assert.False(t, out.OK)
	assert.True(t, strings.HasPrefix(out.Message, "Agent import failed"))
	assert.Empty(t, h.rt.created)
}

func TestDeploy_CreateFailureIsNotRolledBack(t *testing.T) {
	h := newHarness(t)
	h.rt.createErr = &runtime.Error{Kind: runtime.KindGeneric, Op: "create", Status: 500, Message: "quota exceeded"}

	out := h.o.Deploy(context.Background(), h.st, h.events, DeployInput{BundleKey: "foo"})

	assert.False(t, out.OK)
	assert.Equal(t, "Error during agent engine creation: quota exceeded", out.Message)
	assert.Contains(t, out.Detail, "HTTP 500")
	assert.Empty(t, h.rt.deleted)

	recorded, err := h.activity.ListActivity(context.Background(), store.ActivityFilter{Action: "deploy"})
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.False(t, recorded[0].OK)
}

type panicBundles struct{}

func (panicBundles) Build(ctx context.Context, entry bundle.Entry, opts bundle.BuildOptions) (*bundle.Bundle, error) {
	panic("factory exploded")
}

func TestDeploy_PanicBecomesOutcome(t *testing.T) {
	h := newHarness(t)
	h.o.deps.Bundles = panicBundles{}

	out := h.o.Deploy(context.Background(), h.st, h.events, DeployInput{BundleKey: "foo"})

	assert.False(t, out.OK)
	assert.Equal(t, "Internal error during deploy.", out.Message)
	assert.Contains(t, out.Detail, "factory exploded")
	assert.False(t, h.st.Busy(string(ActionDeploy)))
}

func TestGuard_RejectsSameActionOnly(t *testing.T) {
	h := newHarness(t)
	h.rt.add("projects/p/locations/us-central1/reasoningEngines/1")
	require.True(t, h.st.Begin(string(ActionDeploy)))

	out := h.o.Deploy(context.Background(), h.st, h.events, DeployInput{BundleKey: "foo"})
	assert.True(t, out.Invalid)
	assert.Contains(t, out.Message, "already in progress")
	assert.Zero(t, h.networkCalls())
	assert.True(t, h.st.Busy(string(ActionDeploy)), "a rejected run must not release the holder's guard")

	other := h.o.Destroy(context.Background(), h.st, h.events, []string{"projects/p/locations/us-central1/reasoningEngines/1"})
	assert.True(t, other.OK, other.Message)

	h.st.End(string(ActionDeploy))
	again := h.o.Deploy(context.Background(), h.st, h.events, DeployInput{BundleKey: "foo"})
	assert.True(t, again.OK, again.Message)
}

func TestUpdate_ServiceAccountOverride(t *testing.T) {
	name := "projects/p/locations/us-central1/reasoningEngines/7"

	tests := []struct {
		name string
		sa   string
		want string
	}{
		{name: "blank keeps current", sa: "   ", want: ""},
		{name: "trimmed override", sa: "  runner@p.iam.gserviceaccount.com ", want: "runner@p.iam.gserviceaccount.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.rt.add(name)

			out := h.o.Update(context.Background(), h.st, h.events, UpdateInput{
				Resource:       name,
				BundleKey:      "foo",
				ServiceAccount: tt.sa,
			})

			require.True(t, out.OK, out.Message)
			require.Len(t, h.rt.updated, 1)
			assert.Equal(t, tt.want, h.rt.updated[0].ServiceAccount)
			assert.Equal(t, "Agent 7", h.rt.updated[0].DisplayName)
			assert.Equal(t, name, out.Resource)
			assert.Equal(t, name, h.st.View().UpdateResource)
		})
	}
}

func TestUpdate_MissingResource(t *testing.T) {
	h := newHarness(t)

	out := h.o.Update(context.Background(), h.st, h.events, UpdateInput{
		Resource:  "projects/p/locations/us-central1/reasoningEngines/404",
		BundleKey: "foo",
	})

	assert.False(t, out.OK)
	assert.Equal(t, "Agent engine '404' no longer exists.", out.Message)
	assert.Zero(t, h.bundles.calls)
	assert.Empty(t, h.rt.updated)
}

func TestUpdate_RequiresSelection(t *testing.T) {
	h := newHarness(t)

	out := h.o.Update(context.Background(), h.st, h.events, UpdateInput{BundleKey: "foo"})

	assert.True(t, out.Invalid)
	assert.Zero(t, h.networkCalls())
}

func TestDestroy_PartialFailure(t *testing.T) {
	h := newHarness(t)
	names := []string{
		"projects/p/locations/us-central1/reasoningEngines/1",
		"projects/p/locations/us-central1/reasoningEngines/2",
		"projects/p/locations/us-central1/reasoningEngines/3",
	}
	h.rt.add(names...)
	h.rt.deleteErr[names[1]] = &runtime.Error{Kind: runtime.KindPermissionDenied, Op: "delete", Status: 403, Message: "denied"}

	require.True(t, h.o.ListResources(context.Background(), h.st, h.events).OK)
	h.st.Update(func(d *session.Data) { d.DestroySelection = names })

	out := h.o.Destroy(context.Background(), h.st, h.events, nil)

	assert.False(t, out.OK)
	assert.Equal(t, 2, out.Succeeded())
	assert.Equal(t, 1, out.Failed())
	assert.Equal(t, "Successfully deleted: 2. Failed: 1.", out.Message)
	assert.Equal(t, names, h.rt.deleted, "deletes run sequentially in selection order")
	assert.Len(t, h.events.items(), 3)
	assert.Contains(t, out.Detail, names[1])

	view := h.st.View()
	assert.Equal(t, []string{names[1]}, view.DestroySelection)

	require.True(t, h.o.ListResources(context.Background(), h.st, h.events).OK)
	remaining := h.st.View().Resources
	require.Len(t, remaining, 1)
	assert.Equal(t, names[1], remaining[0].Name)

	recorded, err := h.activity.ListActivity(context.Background(), store.ActivityFilter{Action: "destroy"})
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Len(t, recorded[0].Items, 3)
}

func TestDestroy_EmptySelection(t *testing.T) {
	h := newHarness(t)

	out := h.o.Destroy(context.Background(), h.st, h.events, []string{" ", ""})

	assert.True(t, out.Invalid)
	assert.Zero(t, h.networkCalls())
}

func TestListResources(t *testing.T) {
	h := newHarness(t)
	h.rt.add("projects/p/locations/us-central1/reasoningEngines/1")
	h.st.Update(func(d *session.Data) {
		d.DestroySelection = []string{"projects/p/locations/us-central1/reasoningEngines/gone"}
		d.UpdateResource = "projects/p/locations/us-central1/reasoningEngines/gone"
	})

	out := h.o.ListResources(context.Background(), h.st, h.events)

	require.True(t, out.OK)
	assert.Equal(t, "Found 1 agent engines.", out.Message)
	view := h.st.View()
	assert.Len(t, view.Resources, 1)
	assert.Empty(t, view.DestroySelection)
	assert.Empty(t, view.UpdateResource)
	assert.False(t, view.ResourcesFetched.IsZero())

	recorded, _ := h.activity.ListActivity(context.Background(), store.ActivityFilter{})
	assert.Empty(t, recorded, "listing is not recorded")
}

func TestListResources_PermissionDenied(t *testing.T) {
	h := newHarness(t)
	h.rt.initErr = &runtime.Error{Kind: runtime.KindPermissionDenied, Op: "init", Status: 403, Message: "denied"}

	out := h.o.ListResources(context.Background(), h.st, h.events)

	assert.False(t, out.OK)
	assert.Equal(t, "Permission denied for agent engines. Ensure 'Vertex AI User' role or necessary permissions in 'p'.", out.Message)
}
