// ABOUTME: Tests for the test-chat pipeline
// ABOUTME: Covers lazy remote sessions, failed turns and transcript resets

package lifecycle

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agent-console/internal/runtime"
	"github.com/2389/agent-console/internal/session"
	"github.com/2389/agent-console/internal/store"
)

const chatResource = "projects/p/locations/us-central1/reasoningEngines/9"

func TestChat_SessionCreatedOnceAndReused(t *testing.T) {
	h := newHarness(t)
	h.rt.reply = "hello there"

	first := h.o.Chat(context.Background(), h.st, h.events, ChatInput{Resource: chatResource, Message: "hi"})
	require.True(t, first.OK, first.Message)
	assert.Equal(t, "hello there", first.Reply)

	second := h.o.Chat(context.Background(), h.st, h.events, ChatInput{Message: "again"})
	require.True(t, second.OK, second.Message)

	assert.Equal(t, 1, h.rt.sessions)
	assert.Equal(t, []string{"remote-1:hi", "remote-1:again"}, h.rt.queries)

	chat := h.st.View().Chat
	assert.Equal(t, chatResource, chat.Resource)
	assert.Equal(t, session.DefaultChatUser, chat.UserID)
	assert.Equal(t, "remote-1", chat.SessionID)
	require.Len(t, chat.Turns, 4)
	assert.False(t, chat.Turns[0].FromAgent)
	assert.True(t, chat.Turns[1].FromAgent)

	recorded, _ := h.activity.ListActivity(context.Background(), store.ActivityFilter{})
	assert.Empty(t, recorded, "chat turns are not recorded")
}

func TestChat_EmptyReply(t *testing.T) {
	h := newHarness(t)

	out := h.o.Chat(context.Background(), h.st, h.events, ChatInput{Resource: chatResource, Message: "hi"})

	require.True(t, out.OK)
	assert.Equal(t, NoReply, out.Reply)
}

func TestChat_FailedTurnKeepsSession(t *testing.T) {
	h := newHarness(t)
	h.rt.reply = "ok"

	require.True(t, h.o.Chat(context.Background(), h.st, h.events, ChatInput{Resource: chatResource, Message: "one"}).OK)

	h.rt.queryErr = &runtime.Error{Kind: runtime.KindGeneric, Op: "stream_query", Message: strings.Repeat("e", 150)}
	failed := h.o.Chat(context.Background(), h.st, h.events, ChatInput{Message: "two"})
	assert.False(t, failed.OK)

	chat := h.st.View().Chat
	assert.Equal(t, "remote-1", chat.SessionID)
	last := chat.Turns[len(chat.Turns)-1]
	assert.True(t, last.Failed)
	assert.True(t, strings.HasPrefix(last.Text, "Error: "))
	assert.True(t, strings.HasSuffix(last.Text, "..."))
	assert.Len(t, []rune(last.Text), len("Error: ")+100+len("..."))

	h.rt.queryErr = nil
	recovered := h.o.Chat(context.Background(), h.st, h.events, ChatInput{Message: "three"})
	require.True(t, recovered.OK)
	assert.Equal(t, 1, h.rt.sessions)
	assert.Equal(t, "remote-1:three", h.rt.queries[len(h.rt.queries)-1])
}

func TestChat_SessionCreationFailure(t *testing.T) {
	h := newHarness(t)
	h.rt.sessionErr = &runtime.Error{Kind: runtime.KindPermissionDenied, Op: "create_session", Status: 403, Message: "denied"}

	out := h.o.Chat(context.Background(), h.st, h.events, ChatInput{Resource: chatResource, Message: "hi"})

	assert.False(t, out.OK)
	assert.Equal(t, "Permission denied for test chat. Ensure 'Vertex AI User' role or necessary permissions in 'p'.", out.Message)
	assert.Empty(t, h.rt.queries)
	assert.Empty(t, h.st.View().Chat.SessionID)
}

func TestChat_SwitchingResourceStartsNewTranscript(t *testing.T) {
	h := newHarness(t)
	h.rt.reply = "ok"

	require.True(t, h.o.Chat(context.Background(), h.st, h.events, ChatInput{Resource: chatResource, Message: "hi"}).OK)

	other := "projects/p/locations/us-central1/reasoningEngines/10"
	require.True(t, h.o.Chat(context.Background(), h.st, h.events, ChatInput{Resource: other, Message: "hi"}).OK)

	chat := h.st.View().Chat
	assert.Equal(t, other, chat.Resource)
	assert.Equal(t, "remote-2", chat.SessionID)
	assert.Len(t, chat.Turns, 2)
}

func TestChat_ChangingUserStartsNewTranscript(t *testing.T) {
	h := newHarness(t)
	h.rt.reply = "ok"

	require.True(t, h.o.Chat(context.Background(), h.st, h.events, ChatInput{Resource: chatResource, Message: "hi"}).OK)
	require.True(t, h.o.Chat(context.Background(), h.st, h.events, ChatInput{UserID: "alice", Message: "hi"}).OK)

	chat := h.st.View().Chat
	assert.Equal(t, "alice", chat.UserID)
	assert.Equal(t, 2, h.rt.sessions)
	assert.Len(t, chat.Turns, 2)
}

func TestChat_Validation(t *testing.T) {
	h := newHarness(t)

	noResource := h.o.Chat(context.Background(), h.st, h.events, ChatInput{Message: "hi"})
	assert.True(t, noResource.Invalid)

	noMessage := h.o.Chat(context.Background(), h.st, h.events, ChatInput{Resource: chatResource, Message: "  "})
	assert.True(t, noMessage.Invalid)

	assert.Zero(t, h.networkCalls())
	assert.Empty(t, h.st.View().Chat.Turns)
}

func TestResetAndSelectChat(t *testing.T) {
	h := newHarness(t)
	h.rt.reply = "ok"
	require.True(t, h.o.Chat(context.Background(), h.st, h.events, ChatInput{Resource: chatResource, UserID: "bob", Message: "hi"}).OK)

	h.o.SelectChatResource(h.st, chatResource)
	assert.Len(t, h.st.View().Chat.Turns, 2, "selecting the same resource keeps the transcript")

	h.o.ResetChat(h.st)
	chat := h.st.View().Chat
	assert.Empty(t, chat.Turns)
	assert.Empty(t, chat.SessionID)
	assert.Equal(t, "bob", chat.UserID)

	h.o.SelectChatResource(h.st, " "+chatResource+" ")
	assert.Equal(t, chatResource, h.st.View().Chat.Resource)
}
