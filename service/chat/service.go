/*
Package chat hosts the mutation handlers that sit in front of the row
store. Each mutation persists first, then publishes the corresponding
event best-effort: a delivery failure is logged and the request still
succeeds, because subscribers reconcile through resync anyway.
*/
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/InsulaLabs/relay/auth"
	"github.com/InsulaLabs/relay/models"
	"github.com/InsulaLabs/relay/pubsub"
	"github.com/InsulaLabs/relay/topics"
)

type Service struct {
	logger *slog.Logger
	store  Store
	pub    pubsub.Publisher
	tokens *auth.TokenService
}

func New(logger *slog.Logger, store Store, pub pubsub.Publisher, tokens *auth.TokenService) *Service {
	return &Service{
		logger: logger.WithGroup("chat"),
		store:  store,
		pub:    pub,
		tokens: tokens,
	}
}

// Register mounts the chat routes through the broker's handler
// registry so they share its rate limiting.
func (s *Service) Register(add func(path string, handler http.Handler, category string) error) error {
	routes := []struct {
		path     string
		category string
		handler  http.HandlerFunc
	}{
		{"POST /v1/messages", "default", s.createMessageHandler},
		{"GET /v1/messages", "default", s.listMessagesHandler},
		{"POST /v1/messages/{id}/reactions", "default", s.reactionHandler},
		{"POST /v1/typing", "typing", s.typingHandler},
		{"PATCH /v1/users/me", "default", s.updateProfileHandler},
		{"PATCH /v1/channels/{id}", "default", s.updateChannelHandler},
	}
	for _, rt := range routes {
		if err := add(rt.path, rt.handler, rt.category); err != nil {
			return err
		}
	}
	return nil
}

// publish fires the event after the row is already persisted. Failures
// are logged, never surfaced to the caller.
func (s *Service) publish(ctx context.Context, topic string, event models.EventKind, data any) {
	if err := s.pub.Publish(ctx, topic, event, data); err != nil {
		s.logger.Warn("Event publish failed after persist", "topic", topic, "event", event, "error", err)
	}
}

// messageTopics returns where a message's events go: the channel
// topic, or both participants' user topics for a DM so the sender's
// other devices see the echo.
func messageTopics(m models.Message) []string {
	if m.ChannelID != "" {
		return []string{topics.Channel(m.ChannelID)}
	}
	if m.SenderID == m.RecipientID {
		return []string{topics.User(m.SenderID)}
	}
	return []string{topics.User(m.RecipientID), topics.User(m.SenderID)}
}

type createMessageRequest struct {
	WorkspaceID string `json:"workspace_id"`
	ChannelID   string `json:"channel_id,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
	ParentID    string `json:"parent_id,omitempty"`
	Content     string `json:"content"`
}

func (s *Service) createMessageHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := s.tokens.IdentityFromRequest(r)
	if err != nil {
		http.Error(w, "Invalid or missing token", http.StatusUnauthorized)
		return
	}

	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Malformed request body", http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "Content is required", http.StatusBadRequest)
		return
	}
	if (req.ChannelID == "") == (req.RecipientID == "") {
		http.Error(w, "Exactly one of channel_id and recipient_id is required", http.StatusBadRequest)
		return
	}

	if req.ChannelID != "" {
		member, err := s.store.IsChannelMember(r.Context(), identity.UserID, req.ChannelID)
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if !member {
			http.Error(w, "Not a channel member", http.StatusForbidden)
			return
		}
	}

	msg, err := s.store.CreateMessage(r.Context(), models.Message{
		WorkspaceID: req.WorkspaceID,
		ChannelID:   req.ChannelID,
		RecipientID: req.RecipientID,
		ParentID:    req.ParentID,
		SenderID:    identity.UserID,
		Content:     req.Content,
	})
	if err != nil {
		s.logger.Error("Failed to persist message", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	for _, topic := range messageTopics(msg) {
		s.publish(r.Context(), topic, models.EventNewMessage, msg)
	}

	writeJSON(w, http.StatusCreated, map[string]any{"data": msg})
}

func (s *Service) listMessagesHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := s.tokens.IdentityFromRequest(r)
	if err != nil {
		http.Error(w, "Invalid or missing token", http.StatusUnauthorized)
		return
	}

	channelID := r.URL.Query().Get("channel_id")
	recipientID := r.URL.Query().Get("recipient_id")
	if (channelID == "") == (recipientID == "") {
		http.Error(w, "Exactly one of channel_id and recipient_id is required", http.StatusBadRequest)
		return
	}

	q := MessagesQuery{WorkspaceID: r.URL.Query().Get("workspace_id")}
	if channelID != "" {
		member, err := s.store.IsChannelMember(r.Context(), identity.UserID, channelID)
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if !member {
			http.Error(w, "Not a channel member", http.StatusForbidden)
			return
		}
		q.ChannelID = channelID
	} else {
		q.UserA = identity.UserID
		q.UserB = recipientID
	}

	msgs, err := s.store.ListMessages(r.Context(), q)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": msgs})
}

type reactionRequest struct {
	Emoji  string                `json:"emoji"`
	Action models.ReactionAction `json:"action"`
}

func (s *Service) reactionHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := s.tokens.IdentityFromRequest(r)
	if err != nil {
		http.Error(w, "Invalid or missing token", http.StatusUnauthorized)
		return
	}

	var req reactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Malformed request body", http.StatusBadRequest)
		return
	}
	if req.Emoji == "" {
		http.Error(w, "Emoji is required", http.StatusBadRequest)
		return
	}
	if req.Action != models.ReactionAdded && req.Action != models.ReactionRemoved {
		http.Error(w, "Action must be 'added' or 'removed'", http.StatusBadRequest)
		return
	}

	messageID := r.PathValue("id")
	msg, err := s.store.GetMessage(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "Message not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	reaction := models.Reaction{Emoji: req.Emoji, UserID: identity.UserID}
	next, changed := mergeReaction(msg.Reactions, reaction, req.Action)
	if changed {
		if err := s.store.SetReactions(r.Context(), messageID, next); err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}

	change := models.ReactionChange{MessageID: messageID, Reaction: reaction, Action: req.Action}
	for _, topic := range messageTopics(msg) {
		s.publish(r.Context(), topic, models.EventReactionUpdated, change)
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": change})
}

// mergeReaction applies set semantics: add dedups, remove tolerates
// absence.
func mergeReaction(existing []models.Reaction, reaction models.Reaction, action models.ReactionAction) ([]models.Reaction, bool) {
	switch action {
	case models.ReactionAdded:
		for _, rx := range existing {
			if rx == reaction {
				return existing, false
			}
		}
		return append(append([]models.Reaction{}, existing...), reaction), true
	case models.ReactionRemoved:
		for i, rx := range existing {
			if rx == reaction {
				return append(append([]models.Reaction{}, existing[:i]...), existing[i+1:]...), true
			}
		}
	}
	return existing, false
}

type typingRequest struct {
	WorkspaceID string `json:"workspace_id"`
	ChannelID   string `json:"channel_id,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
}

// typingHandler publishes a typing event. Nothing is persisted; the
// indicator lives and dies in subscriber memory.
func (s *Service) typingHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := s.tokens.IdentityFromRequest(r)
	if err != nil {
		http.Error(w, "Invalid or missing token", http.StatusUnauthorized)
		return
	}

	var req typingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Malformed request body", http.StatusBadRequest)
		return
	}
	if req.WorkspaceID == "" || (req.ChannelID == "") == (req.RecipientID == "") {
		http.Error(w, "workspace_id and exactly one of channel_id, recipient_id are required", http.StatusBadRequest)
		return
	}

	var topic string
	if req.ChannelID != "" {
		topic = topics.ChannelTyping(req.WorkspaceID, req.ChannelID)
	} else {
		topic = topics.DMTyping(req.WorkspaceID, req.RecipientID)
	}

	username := identity.Username
	if profile, err := s.store.GetProfile(r.Context(), identity.UserID); err == nil && profile.Username != "" {
		username = profile.Username
	}

	s.publish(r.Context(), topic, models.EventUserTyping, models.Typing{
		WorkspaceID: req.WorkspaceID,
		ChannelID:   req.ChannelID,
		RecipientID: req.RecipientID,
		UserID:      identity.UserID,
		Username:    username,
	})

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "ok"})
}

type updateProfileRequest struct {
	Username  string `json:"username,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Badge     string `json:"badge,omitempty"`
}

func (s *Service) updateProfileHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := s.tokens.IdentityFromRequest(r)
	if err != nil {
		http.Error(w, "Invalid or missing token", http.StatusUnauthorized)
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Malformed request body", http.StatusBadRequest)
		return
	}

	profile, err := s.store.GetProfile(r.Context(), identity.UserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	profile.ID = identity.UserID
	if profile.Username == "" {
		profile.Username = identity.Username
	}
	if req.Username != "" {
		profile.Username = req.Username
	}
	if req.FullName != "" {
		profile.FullName = req.FullName
	}
	if req.AvatarURL != "" {
		profile.AvatarURL = req.AvatarURL
	}
	if req.Badge != "" {
		profile.Badge = req.Badge
	}

	if err := s.store.UpsertProfile(r.Context(), profile); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	workspaces, err := s.store.WorkspacesOf(r.Context(), identity.UserID)
	if err != nil {
		s.logger.Warn("Could not resolve workspaces for profile broadcast", "user_id", identity.UserID, "error", err)
	}
	for _, ws := range workspaces {
		s.publish(r.Context(), topics.Workspace(ws), models.EventUserUpdated, profile)
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": profile})
}

type updateChannelRequest struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

func (s *Service) updateChannelHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := s.tokens.IdentityFromRequest(r)
	if err != nil {
		http.Error(w, "Invalid or missing token", http.StatusUnauthorized)
		return
	}

	var req updateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Malformed request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" && req.Description == "" {
		http.Error(w, "Nothing to update", http.StatusBadRequest)
		return
	}

	channelID := r.PathValue("id")
	ch, err := s.store.GetChannel(r.Context(), channelID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "Channel not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	member, err := s.store.IsWorkspaceMember(r.Context(), identity.UserID, ch.WorkspaceID)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !member {
		http.Error(w, "Not a workspace member", http.StatusForbidden)
		return
	}

	updated, err := s.store.UpdateChannel(r.Context(), models.ChannelUpdate{
		ID:          channelID,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.publish(r.Context(), topics.Workspace(ch.WorkspaceID), models.EventChannelUpdated, models.ChannelUpdate{
		ID:          updated.ID,
		Name:        updated.Name,
		Description: updated.Description,
	})

	writeJSON(w, http.StatusOK, map[string]any{"data": updated})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
