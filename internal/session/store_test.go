package session

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T, limit int) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewStore(client, 2*time.Hour, limit)
}

func TestCreateAndGet(t *testing.T) {
	mr, store := setupStore(t, 100)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^sess_[0-9a-f]{12}$`), sess.ID)
	assert.Equal(t, StatusInitiated, sess.Status)
	assert.Equal(t, 2*time.Hour, mr.TTL(sessionKey(sess.ID)))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.False(t, got.WSActive)
	assert.InDelta(t, sess.StartTime, got.StartTime, 0.001)
}

func TestGetUnknown(t *testing.T) {
	_, store := setupStore(t, 100)
	_, err := store.Get(context.Background(), "sess_missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSettersUpdateExistingOnly(t *testing.T) {
	_, store := setupStore(t, 100)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, store.SetUser(ctx, sess.ID, "+15550001111", 7, "Ada"))
	require.NoError(t, store.SetWSActive(ctx, sess.ID, true))
	require.NoError(t, store.SetStatus(ctx, sess.ID, StatusConnected))
	require.NoError(t, store.SetMetadata(ctx, sess.ID, "greeting", map[string]string{"text": "hi"}))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, got.Status)
	assert.Equal(t, "+15550001111", got.UserContact)
	assert.Equal(t, int64(7), got.UserID)
	assert.True(t, got.WSActive)
	assert.JSONEq(t, `{"text":"hi"}`, string(got.Metadata["greeting"]))

	var greeting map[string]string
	ok, err := store.GetMetadata(ctx, sess.ID, "greeting", &greeting)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hi", greeting["text"])

	require.NoError(t, store.SetStatus(ctx, "sess_missing", StatusClosed))
	exists, err := store.Exists(ctx, "sess_missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHistoryKeepsSystemMessageWhenTrimmed(t *testing.T) {
	_, store := setupStore(t, 5)
	ctx := context.Background()
	id := "sess_history"

	require.NoError(t, store.InitConversation(ctx, id, "system prompt"))
	for i := 0; i < 12; i++ {
		require.NoError(t, store.AddMessage(ctx, id, Message{Role: RoleUser, Content: fmt.Sprintf("m%d", i)}))

		msgs, err := store.Conversation(ctx, id)
		require.NoError(t, err)
		require.LessOrEqual(t, len(msgs), 5)
		require.Equal(t, RoleSystem, msgs[0].Role)
	}

	msgs, err := store.Conversation(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, "system prompt", msgs[0].Content)
	assert.Equal(t, "m8", msgs[1].Content)
	assert.Equal(t, "m11", msgs[4].Content)
}

func TestHistoryTrimDropsOrphanedToolResults(t *testing.T) {
	_, store := setupStore(t, 4)
	ctx := context.Background()
	id := "sess_orphans"

	require.NoError(t, store.InitConversation(ctx, id, "sys"))
	require.NoError(t, store.AddMessage(ctx, id, Message{Role: RoleUser, Content: "check my slots"}))
	require.NoError(t, store.AddMessage(ctx, id, Message{
		Role: RoleAssistant,
		ToolCalls: []ToolCallRecord{
			{ID: "call_1", Name: "fetch_slots"},
			{ID: "call_2", Name: "retrieve_appointments"},
		},
	}))
	require.NoError(t, store.AddMessage(ctx, id, Message{Role: RoleTool, Content: `{"success":true}`, ToolCallID: "call_1"}))
	require.NoError(t, store.AddMessage(ctx, id, Message{Role: RoleTool, Content: `{"success":true}`, ToolCallID: "call_2"}))

	msgs, err := store.Conversation(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, RoleAssistant, msgs[1].Role, "tool results still follow their call")

	// Evicting the assistant entry would leave both tool results first.
	require.NoError(t, store.AddMessage(ctx, id, Message{Role: RoleAssistant, Content: "You have two slots."}))

	msgs, err = store.Conversation(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "You have two slots.", msgs[1].Content)
}

func TestHistoryRoundTripsToolEntries(t *testing.T) {
	_, store := setupStore(t, 100)
	ctx := context.Background()
	id := "sess_tools"

	require.NoError(t, store.InitConversation(ctx, id, "sys"))
	require.NoError(t, store.AddMessage(ctx, id, Message{Role: RoleUser, Content: "book tomorrow"}))
	require.NoError(t, store.AddMessage(ctx, id, Message{
		Role:      RoleAssistant,
		ToolCalls: []ToolCallRecord{{ID: "call_1", Name: "fetch_slots", Arguments: map[string]any{"date": "tomorrow"}}},
	}))
	require.NoError(t, store.AddMessage(ctx, id, Message{Role: RoleTool, Content: `{"success":true}`, ToolCallID: "call_1", Name: "fetch_slots"}))

	msgs, err := store.Conversation(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "fetch_slots", msgs[2].ToolCalls[0].Name)
	assert.Equal(t, "tomorrow", msgs[2].ToolCalls[0].Arguments["date"])
	assert.Equal(t, "call_1", msgs[3].ToolCallID)

	turns, err := store.UserTurnCount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, turns)
}

func TestRemoveDeletesSessionAndHistory(t *testing.T) {
	mr, store := setupStore(t, 100)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, store.InitConversation(ctx, sess.ID, "sys"))
	require.NoError(t, store.Remove(ctx, sess.ID))

	assert.False(t, mr.Exists(sessionKey(sess.ID)))
	assert.False(t, mr.Exists(conversationKey(sess.ID)))
}

func TestSessionsAreIsolated(t *testing.T) {
	_, store := setupStore(t, 100)
	ctx := context.Background()

	a, err := store.Create(ctx)
	require.NoError(t, err)
	b, err := store.Create(ctx)
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)

	require.NoError(t, store.InitConversation(ctx, a.ID, "sys a"))
	require.NoError(t, store.InitConversation(ctx, b.ID, "sys b"))
	require.NoError(t, store.AddMessage(ctx, a.ID, Message{Role: RoleUser, Content: "only a"}))
	require.NoError(t, store.SetStatus(ctx, a.ID, StatusEnded))

	msgsB, err := store.Conversation(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, msgsB, 1)
	gotB, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInitiated, gotB.Status)
}
