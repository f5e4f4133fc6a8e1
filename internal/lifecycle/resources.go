// ABOUTME: Listing and destroying deployed agent resources.
// ABOUTME: Destroy is a sequential best-effort batch with per-item results.

package lifecycle

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/2389/agent-console/internal/runtime"
	"github.com/2389/agent-console/internal/session"
)

func validateTarget(t runtime.Target) *ValidationError {
	if strings.TrimSpace(t.Project) == "" {
		return invalid("project", "Set the Agent Engine project ID first.")
	}
	if strings.TrimSpace(t.Location) == "" {
		return invalid("location", "Set the Agent Engine location first.")
	}
	return nil
}

// ListResources fetches the deployed agents of the session's target and
// stores them in the session.
func (o *Orchestrator) ListResources(ctx context.Context, st *session.State, sink Sink) *Outcome {
	return o.execute(ctx, st, sink, ActionListResources, func(ctx context.Context, r *run) *Outcome {
		target := st.View().Target
		if verr := validateTarget(target); verr != nil {
			return r.invalid(verr)
		}

		if _, fail := r.credentials(ctx); fail != nil {
			return fail
		}
		eng, fail := r.initRemote(ctx, target, "agent engines")
		if fail != nil {
			return fail
		}

		r.emit(PhaseInFlight, "Fetching agent engines...")
		resources, err := eng.List(ctx)
		if err != nil {
			return r.fail(remoteMessage("Failed to list agent engines: ", "agent engines", target.Project, err), err)
		}

		st.Update(func(d *session.Data) {
			d.Resources = resources
			d.ResourcesFetched = time.Now()
			d.DestroySelection = keepPresent(d.DestroySelection, resources)
			if _, ok := d.Resource(d.UpdateResource); !ok {
				d.UpdateResource = ""
			}
		})
		return r.succeed(fmt.Sprintf("Found %d agent engines.", len(resources)))
	})
}

// Destroy deletes names one at a time. An empty names uses the session's
// destroy selection. A failed item does not stop the batch.
func (o *Orchestrator) Destroy(ctx context.Context, st *session.State, sink Sink, names []string) *Outcome {
	return o.execute(ctx, st, sink, ActionDestroy, func(ctx context.Context, r *run) *Outcome {
		view := st.View()
		if len(names) == 0 {
			names = view.DestroySelection
		}
		names = compactNames(names)
		if verr := validateTarget(view.Target); verr != nil {
			return r.invalid(verr)
		}
		if len(names) == 0 {
			return r.invalid(invalid("selection", "Select at least one agent engine to destroy."))
		}

		if _, fail := r.credentials(ctx); fail != nil {
			return fail
		}
		eng, fail := r.initRemote(ctx, view.Target, "agent engines")
		if fail != nil {
			return fail
		}

		items := make([]ItemResult, 0, len(names))
		for i, name := range names {
			r.emit(PhaseInFlight, fmt.Sprintf("Deleting %s (%d of %d)...", lastSegment(name), i+1, len(names)))
			res := ItemResult{Name: name, OK: true, Message: fmt.Sprintf("Successfully deleted %s.", lastSegment(name))}
			if err := eng.Delete(ctx, name, true); err != nil {
				res = ItemResult{Name: name, Message: fmt.Sprintf("Failed to delete %s: %s", lastSegment(name), summary(err))}
				r.logger.Error("delete failed", "resource", name, "error", err)
			}
			items = append(items, res)
			r.item(res)
		}

		deleted := make([]string, 0, len(items))
		for _, it := range items {
			if it.OK {
				deleted = append(deleted, it.Name)
			}
		}
		st.Update(func(d *session.Data) {
			d.Resources = slices.DeleteFunc(d.Resources, func(res runtime.Resource) bool {
				return slices.Contains(deleted, res.Name)
			})
			d.DestroySelection = slices.DeleteFunc(d.DestroySelection, func(n string) bool {
				return slices.Contains(deleted, n)
			})
		})

		out := &Outcome{Items: items}
		out.OK = out.Failed() == 0
		out.Message = fmt.Sprintf("Successfully deleted: %d. Failed: %d.", out.Succeeded(), out.Failed())
		if !out.OK {
			out.Detail = batchDetail(items)
		}
		return out
	})
}

func keepPresent(selection []string, resources []runtime.Resource) []string {
	return slices.DeleteFunc(slices.Clone(selection), func(name string) bool {
		return !slices.ContainsFunc(resources, func(r runtime.Resource) bool { return r.Name == name })
	})
}

// compactNames trims, drops blanks and removes duplicates, keeping order.
func compactNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || slices.Contains(out, n) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func lastSegment(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

func batchDetail(items []ItemResult) string {
	var b strings.Builder
	for _, it := range items {
		if !it.OK {
			fmt.Fprintf(&b, "%s: %s\n", it.Name, it.Message)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}
