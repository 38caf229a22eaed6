package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InsulaLabs/relay/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Config{
		BaseURL:      server.URL,
		SessionToken: "session-token",
		Logger:       testLogger(),
	})
	require.NoError(t, err)
	return c
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{SessionToken: "x"})
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "http://x"})
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "ftp://x", SessionToken: "x"})
	assert.Error(t, err)
}

func TestConnectionToken(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/realtime/token", r.URL.Path)
		assert.Equal(t, "Bearer session-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(models.TokenResponse{Token: "conn-token"})
	}))

	token, err := c.ConnectionToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "conn-token", token)
}

func TestConnectionTokenEmptyResponse(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(models.TokenResponse{})
	}))

	_, err := c.ConnectionToken(context.Background())
	assert.Error(t, err)
}

func TestPublishSendsEnvelope(t *testing.T) {
	var got models.PublishRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/realtime/publish", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))

	err := c.Publish(context.Background(), "channel:c1", models.EventUserTyping, models.Typing{
		WorkspaceID: "w1", ChannelID: "c1", UserID: "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, "channel:c1", got.Channel)
	assert.Equal(t, models.EventUserTyping, got.Data.Event)
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusBadRequest, ErrBadRequest},
	}
	for _, tc := range cases {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		err := c.Publish(context.Background(), "channel:c1", models.EventNewMessage, models.Message{ID: "m", SenderID: "u", ChannelID: "c1"})
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
	}
}

func TestMessagesQueryEncoding(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "w1", r.URL.Query().Get("workspace_id"))
		assert.Equal(t, "c1", r.URL.Query().Get("channel_id"))
		json.NewEncoder(w).Encode(map[string]any{"data": []models.Message{{ID: "m1"}}})
	}))

	msgs, err := c.Messages(context.Background(), MessagesQuery{WorkspaceID: "w1", ChannelID: "c1"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestSendMessage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m OutgoingMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"data": models.Message{ID: "m1", Content: m.Content}})
	}))

	msg, err := c.SendMessage(context.Background(), OutgoingMessage{
		WorkspaceID: "w1", ChannelID: "c1", Content: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "hi", msg.Content)
}

func TestWebsocketURL(t *testing.T) {
	c, err := New(Config{BaseURL: "https://relay.example.com", SessionToken: "x", Logger: testLogger()})
	require.NoError(t, err)
	u := c.websocketURL("tok en")
	assert.Equal(t, "wss://relay.example.com/v1/realtime/subscribe?token=tok+en", u)
}
