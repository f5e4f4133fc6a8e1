// ABOUTME: Server-sent event stream of pipeline progress for the caller's session
// ABOUTME: Replays the latest event per action on connect, then streams live updates

package webadmin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/agent-console/internal/lifecycle"
	"github.com/2389/agent-console/internal/session"
)

const heartbeatInterval = 30 * time.Second

// progressMessage is the JSON payload of a progress event. Outcome details
// meant for the log are never included.
type progressMessage struct {
	Action    string      `json:"action"`
	Phase     string      `json:"phase"`
	Message   string      `json:"message"`
	ElapsedMS int64       `json:"elapsed_ms"`
	Terminal  bool        `json:"terminal"`
	OK        bool        `json:"ok"`
	Item      *itemResult `json:"item,omitempty"`
}

type itemResult struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func newProgressMessage(ev lifecycle.Event) progressMessage {
	msg := progressMessage{
		Action:    string(ev.Action),
		Phase:     string(ev.Phase),
		Message:   ev.Message,
		ElapsedMS: ev.Elapsed.Milliseconds(),
		Terminal:  ev.Phase.Terminal(),
	}
	if ev.Outcome != nil {
		msg.OK = ev.Outcome.OK
	}
	if ev.Item != nil {
		msg.Item = &itemResult{Name: ev.Item.Name, OK: ev.Item.OK, Message: ev.Item.Message}
	}
	return msg
}

// handleEvents handles SSE streaming of progress events
func (a *Admin) handleEvents(w http.ResponseWriter, r *http.Request, st *session.State) {
	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	events, subID := a.progress.Subscribe(r.Context(), st.ID())
	defer a.progress.Unsubscribe(st.ID(), subID)

	fmt.Fprint(w, "event: connected\ndata: {}\n\n")
	for _, ev := range a.progress.Latest(st.ID()) {
		a.writeEvent(w, ev)
	}
	flusher.Flush()

	// Create heartbeat ticker to keep connection alive
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case ev, ok := <-events:
			if !ok {
				// broadcaster closed
				return
			}
			a.writeEvent(w, ev)
			flusher.Flush()
		}
	}
}

func (a *Admin) writeEvent(w http.ResponseWriter, ev lifecycle.Event) {
	data, err := json.Marshal(newProgressMessage(ev))
	if err != nil {
		a.logger.Error("failed to marshal progress event", "error", err)
		return
	}
	name := "progress"
	if ev.Item != nil {
		name = "item"
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}
