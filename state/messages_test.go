package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InsulaLabs/relay/models"
)

func channelScope(ch string) Scope {
	return Scope{WorkspaceID: "w1", ChannelID: ch}
}

func dmScope(peer string) Scope {
	return Scope{WorkspaceID: "w1", RecipientID: peer}
}

func msgEnvelope(t *testing.T, m models.Message) models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(models.EventNewMessage, m)
	require.NoError(t, err)
	return env
}

func channelMsg(id, ch, sender, content string, at time.Time) models.Message {
	return models.Message{
		ID: id, WorkspaceID: "w1", ChannelID: ch,
		SenderID: sender, Content: content, CreatedAt: at,
	}
}

func TestApplyMessageDedupById(t *testing.T) {
	v := NewMessageView("me", channelScope("c1"))
	env := msgEnvelope(t, channelMsg("m1", "c1", "alice", "hi", time.Now()))

	changed, err := v.Apply(env)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = v.Apply(env)
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Equal(t, 1, v.Len())
}

func TestApplyMessageIgnoresOtherChannel(t *testing.T) {
	v := NewMessageView("me", channelScope("c1"))

	changed, err := v.Apply(msgEnvelope(t, channelMsg("m1", "c2", "alice", "hi", time.Now())))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 0, v.Len())
}

func TestDMRelevanceIsSymmetric(t *testing.T) {
	now := time.Now()
	fromPeer := models.Message{
		ID: "m1", WorkspaceID: "w1", SenderID: "peer", RecipientID: "me",
		Content: "hello", CreatedAt: now,
	}
	selfEcho := models.Message{
		ID: "m2", WorkspaceID: "w1", SenderID: "me", RecipientID: "peer",
		Content: "hi back", CreatedAt: now.Add(time.Second),
	}
	unrelated := models.Message{
		ID: "m3", WorkspaceID: "w1", SenderID: "stranger", RecipientID: "me",
		Content: "psst", CreatedAt: now,
	}

	v := NewMessageView("me", dmScope("peer"))

	for _, m := range []models.Message{fromPeer, selfEcho} {
		changed, err := v.Apply(msgEnvelope(t, m))
		require.NoError(t, err)
		assert.True(t, changed, "message %s should be relevant", m.ID)
	}

	changed, err := v.Apply(msgEnvelope(t, unrelated))
	require.NoError(t, err)
	assert.False(t, changed)

	got := v.Messages()
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, "m2", got[1].ID)
}

func TestMessagesOrderedByCreationTime(t *testing.T) {
	now := time.Now()
	v := NewMessageView("me", channelScope("c1"))

	// Delivered out of order.
	for _, m := range []models.Message{
		channelMsg("m3", "c1", "alice", "third", now.Add(2*time.Second)),
		channelMsg("m1", "c1", "alice", "first", now),
		channelMsg("m2", "c1", "bob", "second", now.Add(time.Second)),
	} {
		_, err := v.Apply(msgEnvelope(t, m))
		require.NoError(t, err)
	}

	got := v.Messages()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestReactionAddAndRemove(t *testing.T) {
	v := NewMessageView("me", channelScope("c1"))
	_, err := v.Apply(msgEnvelope(t, channelMsg("m1", "c1", "alice", "hi", time.Now())))
	require.NoError(t, err)

	add := func() (bool, error) {
		env, err := models.NewEnvelope(models.EventReactionUpdated, models.ReactionChange{
			MessageID: "m1",
			Reaction:  models.Reaction{Emoji: "+1", UserID: "bob"},
			Action:    models.ReactionAdded,
		})
		require.NoError(t, err)
		return v.Apply(env)
	}

	changed, err := add()
	require.NoError(t, err)
	assert.True(t, changed)

	// Duplicate add is a no-op.
	changed, err = add()
	require.NoError(t, err)
	assert.False(t, changed)
	require.Len(t, v.Messages()[0].Reactions, 1)

	env, err := models.NewEnvelope(models.EventReactionUpdated, models.ReactionChange{
		MessageID: "m1",
		Reaction:  models.Reaction{Emoji: "+1", UserID: "bob"},
		Action:    models.ReactionRemoved,
	})
	require.NoError(t, err)
	changed, err = v.Apply(env)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, v.Messages()[0].Reactions)

	// Removing again is a no-op.
	changed, err = v.Apply(env)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestReactionForUnknownMessageIgnored(t *testing.T) {
	v := NewMessageView("me", channelScope("c1"))
	env, err := models.NewEnvelope(models.EventReactionUpdated, models.ReactionChange{
		MessageID: "ghost",
		Reaction:  models.Reaction{Emoji: "+1", UserID: "bob"},
		Action:    models.ReactionAdded,
	})
	require.NoError(t, err)

	changed, err := v.Apply(env)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMessagesSnapshotDoesNotAliasReactions(t *testing.T) {
	v := NewMessageView("me", channelScope("c1"))
	_, err := v.Apply(msgEnvelope(t, channelMsg("m1", "c1", "alice", "hi", time.Now())))
	require.NoError(t, err)

	env, err := models.NewEnvelope(models.EventReactionUpdated, models.ReactionChange{
		MessageID: "m1",
		Reaction:  models.Reaction{Emoji: "+1", UserID: "bob"},
		Action:    models.ReactionAdded,
	})
	require.NoError(t, err)
	_, err = v.Apply(env)
	require.NoError(t, err)

	snapshot := v.Messages()
	require.Len(t, snapshot[0].Reactions, 1)
	snapshot[0].Reactions[0] = models.Reaction{Emoji: "-1", UserID: "mallory"}

	assert.Equal(t, models.Reaction{Emoji: "+1", UserID: "bob"}, v.Messages()[0].Reactions[0])
}

func TestProfileUpdateRefreshesSenders(t *testing.T) {
	now := time.Now()
	v := NewMessageView("me", channelScope("c1"))
	m := channelMsg("m1", "c1", "alice", "hi", now)
	m.Sender = &models.Profile{ID: "alice", Username: "alice", FullName: "Alice"}
	_, err := v.Apply(msgEnvelope(t, m))
	require.NoError(t, err)

	env, err := models.NewEnvelope(models.EventUserUpdated, models.Profile{
		ID: "alice", Username: "alice", FullName: "Alice Cooper", AvatarURL: "https://a/alice.png",
	})
	require.NoError(t, err)

	changed, err := v.Apply(env)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "Alice Cooper", v.Messages()[0].Sender.FullName)

	// Same update again changes nothing.
	changed, err = v.Apply(env)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestApplyMalformedEnvelopeFailsClosed(t *testing.T) {
	v := NewMessageView("me", channelScope("c1"))

	_, err := v.Apply(models.Envelope{Event: models.EventNewMessage, Data: json.RawMessage(`{"content":"no ids"}`)})
	assert.ErrorIs(t, err, models.ErrMalformedEnvelope)
	assert.Equal(t, 0, v.Len())

	_, err = v.Apply(models.Envelope{Event: "message_deleted", Data: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, models.ErrUnknownEvent)
}

func TestResyncMergesMissedMessagesExactlyOnce(t *testing.T) {
	now := time.Now()
	v := NewMessageView("me", channelScope("c1"))

	// Delivered live before the outage.
	_, err := v.Apply(msgEnvelope(t, channelMsg("m1", "c1", "alice", "one", now)))
	require.NoError(t, err)

	// Resync after reconnect: full history, three missed.
	history := []models.Message{
		channelMsg("m1", "c1", "alice", "one", now),
		channelMsg("m2", "c1", "bob", "two", now.Add(time.Second)),
		channelMsg("m3", "c1", "alice", "three", now.Add(2*time.Second)),
		channelMsg("m4", "c1", "bob", "four", now.Add(3*time.Second)),
	}
	added := v.Resync(history)
	assert.Equal(t, 3, added)

	// A second resync is a pure no-op.
	assert.Equal(t, 0, v.Resync(history))

	got := v.Messages()
	require.Len(t, got, 4)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"},
		[]string{got[0].ID, got[1].ID, got[2].ID, got[3].ID})
}
