// ABOUTME: Activity page listing recorded lifecycle actions, newest first
// ABOUTME: Optional ?action= filter narrows to one pipeline

package webadmin

import (
	"net/http"

	"github.com/2389/agent-console/internal/lifecycle"
	"github.com/2389/agent-console/internal/session"
	"github.com/2389/agent-console/internal/store"
)

var recordedActions = []lifecycle.Action{
	lifecycle.ActionDeploy,
	lifecycle.ActionUpdate,
	lifecycle.ActionDestroy,
	lifecycle.ActionRegister,
	lifecycle.ActionLegacyRegister,
	lifecycle.ActionDeregister,
	lifecycle.ActionLegacyDeregister,
	lifecycle.ActionCreateAuthorization,
	lifecycle.ActionDeleteAuthorization,
}

// handleActivity renders the activity page
func (a *Admin) handleActivity(w http.ResponseWriter, r *http.Request, st *session.State) {
	action := r.URL.Query().Get("action")

	data := activityData{
		Title:     "Activity",
		Tabs:      tabs,
		CSRFToken: getCSRFToken(r),
		BaseURL:   a.config.BaseURL,
		Principal: a.currentPrincipal(),
		Action:    action,
	}
	for _, act := range recordedActions {
		data.Actions = append(data.Actions, string(act))
	}

	if a.activity == nil {
		data.Error = "Activity recording is disabled."
	} else {
		list, err := a.activity.ListActivity(r.Context(), store.ActivityFilter{Action: action})
		if err != nil {
			a.logger.Error("failed to list activity", "error", err)
			data.Error = "Failed to load activity."
		}
		data.Activity = list
	}

	a.render(w, http.StatusOK, "activity", "base", data)
}
