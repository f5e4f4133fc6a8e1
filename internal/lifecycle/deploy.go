// ABOUTME: Deploy and update pipelines: validate, init, build the bundle, then create or update.
// ABOUTME: Long calls publish elapsed-time ticks; failures leave remote state as it is.

package lifecycle

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/2389/agent-console/internal/bundle"
	"github.com/2389/agent-console/internal/runtime"
	"github.com/2389/agent-console/internal/session"
)

const envPreviewWidth = 30

// DeployInput is the operator's deploy form.
type DeployInput struct {
	BundleKey      string
	DisplayName    string
	Description    string
	ServiceAccount string
}

// UpdateInput is the operator's update form. An empty Resource uses the
// session's selected update resource.
type UpdateInput struct {
	Resource       string
	BundleKey      string
	DisplayName    string
	Description    string
	ServiceAccount string
}

// Deploy creates a new agent resource from a catalogue bundle.
func (o *Orchestrator) Deploy(ctx context.Context, st *session.State, sink Sink, in DeployInput) *Outcome {
	return o.execute(ctx, st, sink, ActionDeploy, func(ctx context.Context, r *run) *Outcome {
		target := st.View().Target
		if verr := validateTarget(target); verr != nil {
			return r.invalid(verr)
		}
		if target.Bucket() == "" {
			return r.invalid(invalid("staging_bucket", "Set the GCS staging bucket before deploying."))
		}
		entry, verr := o.entry(in.BundleKey)
		if verr != nil {
			return r.invalid(verr)
		}
		st.Update(func(d *session.Data) { d.DeployBundle = entry.Key })

		if _, fail := r.credentials(ctx); fail != nil {
			return fail
		}
		eng, fail := r.initRemote(ctx, target, "deployment")
		if fail != nil {
			return fail
		}
		b, env, fail := r.importBundle(ctx, entry)
		if fail != nil {
			return fail
		}

		req := runtime.CreateRequest{
			DisplayName:    firstNonEmpty(in.DisplayName, entry.EngineDisplayName()),
			Description:    firstNonEmpty(in.Description, entry.EngineDescription()),
			ServiceAccount: firstNonEmpty(in.ServiceAccount, entry.ServiceAccount),
			Source:         source(b),
		}
		r.logger.Info("deploying",
			"bundle", entry.Key,
			"display_name", req.DisplayName,
			"requirements", b.Requirements,
			"files", b.Files,
			"env_keys", slices.Sorted(maps.Keys(b.EnvVars)))

		stop := r.ticker(ctx, "Deploying to Agent Engine (this may take 2-5 minutes)...")
		res, err := eng.Create(ctx, req)
		stop()
		if err != nil {
			out := r.fail(remoteMessage("Error during agent engine creation: ", "deployment", target.Project, err), err)
			out.Env = env
			return out
		}

		st.Update(func(d *session.Data) {
			d.Resources = append([]runtime.Resource{*res}, d.Resources...)
		})
		out := r.succeed("Successfully created remote agent: " + res.Name)
		out.Resource = res.Name
		out.Env = env
		return out
	})
}

// Update replaces the code and presentation of an existing resource.
func (o *Orchestrator) Update(ctx context.Context, st *session.State, sink Sink, in UpdateInput) *Outcome {
	return o.execute(ctx, st, sink, ActionUpdate, func(ctx context.Context, r *run) *Outcome {
		view := st.View()
		if verr := validateTarget(view.Target); verr != nil {
			return r.invalid(verr)
		}
		name := strings.TrimSpace(firstNonEmpty(in.Resource, view.UpdateResource))
		if name == "" {
			return r.invalid(invalid("resource", "Select an agent engine to update."))
		}
		entry, verr := o.entry(in.BundleKey)
		if verr != nil {
			return r.invalid(verr)
		}
		st.Update(func(d *session.Data) { d.UpdateResource = name })

		if _, fail := r.credentials(ctx); fail != nil {
			return fail
		}
		eng, fail := r.initRemote(ctx, view.Target, "update")
		if fail != nil {
			return fail
		}

		current, err := eng.Get(ctx, name)
		if err != nil {
			if runtime.IsNotFound(err) {
				return r.fail(fmt.Sprintf("Agent engine '%s' no longer exists.", lastSegment(name)), err)
			}
			return r.fail(remoteMessage("Failed to read agent engine: ", "update", view.Target.Project, err), err)
		}

		b, env, fail := r.importBundle(ctx, entry)
		if fail != nil {
			return fail
		}

		req := runtime.UpdateRequest{
			DisplayName: firstNonEmpty(in.DisplayName, current.DisplayName, entry.EngineDisplayName()),
			Description: firstNonEmpty(in.Description, current.Description, entry.EngineDescription()),
			Source:      source(b),
		}
		if sa := strings.TrimSpace(in.ServiceAccount); sa != "" {
			req.ServiceAccount = sa
		}

		stop := r.ticker(ctx, "Updating agent engine (this may take 2-5 minutes)...")
		res, err := eng.Update(ctx, name, req)
		stop()
		if err != nil {
			out := r.fail(remoteMessage("Error during agent engine update: ", "update", view.Target.Project, err), err)
			out.Resource = name
			out.Env = env
			return out
		}

		st.Update(func(d *session.Data) {
			for i := range d.Resources {
				if d.Resources[i].Name == res.Name {
					d.Resources[i] = *res
				}
			}
		})
		out := r.succeed("Successfully updated remote agent: " + res.Name)
		out.Resource = res.Name
		out.Env = env
		return out
	})
}

// entry looks up a catalogue entry for a deploy or update.
func (o *Orchestrator) entry(key string) (bundle.Entry, *ValidationError) {
	key = strings.TrimSpace(key)
	if key == "" {
		return bundle.Entry{}, invalid("bundle", "Select an agent configuration.")
	}
	entry, err := o.deps.Catalog.Get(key)
	if err != nil {
		return bundle.Entry{}, invalid("bundle", fmt.Sprintf("Unknown agent configuration '%s'.", key))
	}
	return entry, nil
}

// importBundle builds the bundle and reports the loaded environment.
func (r *run) importBundle(ctx context.Context, entry bundle.Entry) (*bundle.Bundle, []EnvPreview, *Outcome) {
	r.emit(PhaseImporting, "Importing agent code...")
	b, err := r.o.deps.Bundles.Build(ctx, entry, bundle.BuildOptions{BaseRequirements: r.o.deps.BaseRequirements})
	if err != nil {
		return nil, nil, r.fail("Agent import failed: "+err.Error(), err)
	}
	env := previewEnv(b.EnvVars)
	msg := "Agent code imported. Preparing deployment..."
	if len(env) > 0 {
		msg = fmt.Sprintf("Agent code imported with %d environment variables. Preparing deployment...", len(env))
	}
	r.emit(PhaseImporting, msg)
	return b, env, nil
}

func source(b *bundle.Bundle) runtime.Source {
	return runtime.Source{
		EntrypointModule: b.EntrypointModule,
		EntrypointObject: b.EntrypointObject,
		RequirementsFile: bundle.RequirementsFile,
		Archive:          b.Archive,
		EnvVars:          b.EnvVars,
	}
}

func previewEnv(vars map[string]string) []EnvPreview {
	out := make([]EnvPreview, 0, len(vars))
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		v := vars[k]
		if r := []rune(v); len(r) > envPreviewWidth {
			v = string(r[:envPreviewWidth]) + "..."
		}
		out = append(out, EnvPreview{Key: k, Value: v})
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
