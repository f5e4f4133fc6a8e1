// ABOUTME: Test-chat pipeline with a lazily created remote session per browser session.
// ABOUTME: A failed turn is shown inline and keeps the remote session for the next message.

package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/2389/agent-console/internal/session"
)

// NoReply is shown when the agent answers without any text.
const NoReply = "Agent did not return a textual response."

const errorSnippetWidth = 100

// ChatInput is one message to a deployed agent. An empty UserID uses the
// current chat user or session.DefaultChatUser.
type ChatInput struct {
	Resource string
	UserID   string
	Message  string
}

// Chat sends a message to resource and records both turns in the session.
// Switching to another resource or user starts a new transcript.
func (o *Orchestrator) Chat(ctx context.Context, st *session.State, sink Sink, in ChatInput) *Outcome {
	return o.execute(ctx, st, sink, ActionChat, func(ctx context.Context, r *run) *Outcome {
		view := st.View()
		if verr := validateTarget(view.Target); verr != nil {
			return r.invalid(verr)
		}
		resource := strings.TrimSpace(firstNonEmpty(in.Resource, view.Chat.Resource))
		if resource == "" {
			return r.invalid(invalid("resource", "Select an agent engine to chat with."))
		}
		msg := strings.TrimSpace(in.Message)
		if msg == "" {
			return r.invalid(invalid("message", "Type a message first."))
		}
		user := firstNonEmpty(in.UserID, view.Chat.UserID, session.DefaultChatUser)

		st.Update(func(d *session.Data) {
			if d.Chat.Resource != resource || d.Chat.UserID != user {
				d.Chat = session.Chat{Resource: resource, UserID: user}
			}
			d.Chat.Turns = append(d.Chat.Turns, session.ChatTurn{Text: msg, At: time.Now()})
		})

		reply, out := r.chatTurn(ctx, view.Target.Project, resource, user, msg)
		if out != nil {
			snippet := out.Message
			if rs := []rune(snippet); len(rs) > errorSnippetWidth {
				snippet = string(rs[:errorSnippetWidth]) + "..."
			}
			st.Update(func(d *session.Data) {
				d.Chat.Turns = append(d.Chat.Turns, session.ChatTurn{FromAgent: true, Text: "Error: " + snippet, Failed: true, At: time.Now()})
			})
			out.Resource = resource
			return out
		}

		st.Update(func(d *session.Data) {
			d.Chat.Turns = append(d.Chat.Turns, session.ChatTurn{FromAgent: true, Text: reply, At: time.Now()})
		})
		out = r.succeed("Agent replied.")
		out.Resource = resource
		out.Reply = reply
		return out
	})
}

func (r *run) chatTurn(ctx context.Context, project, resource, user, msg string) (string, *Outcome) {
	if _, fail := r.credentials(ctx); fail != nil {
		return "", fail
	}
	eng, fail := r.initRemote(ctx, r.st.View().Target, "test chat")
	if fail != nil {
		return "", fail
	}

	sessionID := r.st.View().Chat.SessionID
	if sessionID == "" {
		r.emit(PhaseInFlight, "Starting a test session...")
		id, err := eng.CreateSession(ctx, resource, user)
		if err != nil {
			return "", r.fail(remoteMessage("Could not start a test session: ", "test chat", project, err), err)
		}
		sessionID = id
		r.st.Update(func(d *session.Data) {
			if d.Chat.Resource == resource {
				d.Chat.SessionID = id
			}
		})
		r.logger.Info("test session created", "resource", resource, "remote_session", id)
	}

	stop := r.ticker(ctx, "Waiting for the agent...")
	reply, err := eng.StreamQuery(ctx, resource, user, sessionID, msg)
	stop()
	if err != nil {
		return "", r.fail(remoteMessage("Test chat error: ", "test chat", project, err), err)
	}
	if strings.TrimSpace(reply) == "" {
		r.logger.Warn("agent returned no text", "resource", resource)
		reply = NoReply
	}
	return reply, nil
}

// ResetChat forgets the transcript and the remote session.
func (o *Orchestrator) ResetChat(st *session.State) {
	st.Update(func(d *session.Data) {
		user := d.Chat.UserID
		d.Chat = session.Chat{UserID: user}
	})
}

// SelectChatResource points the chat at resource, starting a new transcript
// when it changes.
func (o *Orchestrator) SelectChatResource(st *session.State, resource string) {
	resource = strings.TrimSpace(resource)
	st.Update(func(d *session.Data) {
		if d.Chat.Resource != resource {
			d.Chat = session.Chat{Resource: resource, UserID: d.Chat.UserID}
		}
	})
}
