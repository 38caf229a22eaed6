package client

import (
	"context"
	"net/http"

	"github.com/InsulaLabs/relay/models"
)

// OutgoingMessage is a message to create. Exactly one of ChannelID or
// RecipientID must be set.
type OutgoingMessage struct {
	WorkspaceID string `json:"workspace_id"`
	ChannelID   string `json:"channel_id,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
	ParentID    string `json:"parent_id,omitempty"`
	Content     string `json:"content"`
}

// SendMessage persists a message through the mutation API. The server
// publishes the realtime event; callers rely on their own subscription
// for the echo.
func (c *Client) SendMessage(ctx context.Context, m OutgoingMessage) (models.Message, error) {
	var out struct {
		Data models.Message `json:"data"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "v1/messages", nil, m, &out); err != nil {
		return models.Message{}, err
	}
	return out.Data, nil
}

// React adds or removes the caller's reaction on a message.
func (c *Client) React(ctx context.Context, messageID, emoji string, action models.ReactionAction) error {
	body := struct {
		Emoji  string                `json:"emoji"`
		Action models.ReactionAction `json:"action"`
	}{Emoji: emoji, Action: action}
	return c.doRequest(ctx, http.MethodPost, "v1/messages/"+messageID+"/reactions", nil, body, nil)
}

// TypingScope addresses a typing signal. Exactly one of ChannelID or
// RecipientID must be set.
type TypingScope struct {
	WorkspaceID string `json:"workspace_id"`
	ChannelID   string `json:"channel_id,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
}

// SendTyping signals that the caller is typing. Call it repeatedly
// while typing continues; each signal refreshes the indicator on
// subscriber screens.
func (c *Client) SendTyping(ctx context.Context, scope TypingScope) error {
	return c.doRequest(ctx, http.MethodPost, "v1/typing", nil, scope, nil)
}

// ProfileUpdate carries the caller's profile changes. Empty fields are
// left untouched server-side.
type ProfileUpdate struct {
	Username  string `json:"username,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Badge     string `json:"badge,omitempty"`
}

// UpdateProfile updates the caller's profile and returns the stored
// result.
func (c *Client) UpdateProfile(ctx context.Context, u ProfileUpdate) (models.Profile, error) {
	var out struct {
		Data models.Profile `json:"data"`
	}
	if err := c.doRequest(ctx, http.MethodPatch, "v1/users/me", nil, u, &out); err != nil {
		return models.Profile{}, err
	}
	return out.Data, nil
}
