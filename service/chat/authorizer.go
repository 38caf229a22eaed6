package chat

import (
	"context"
	"log/slog"

	"github.com/InsulaLabs/relay/topics"
)

// MembershipAuthorizer gates subscriptions on live membership rows.
// Nothing is cached: a user removed from a channel is denied on their
// very next subscribe, which matters because subscriptions are
// replayed on every reconnect.
type MembershipAuthorizer struct {
	store  Store
	logger *slog.Logger
}

func NewMembershipAuthorizer(store Store, logger *slog.Logger) *MembershipAuthorizer {
	return &MembershipAuthorizer{store: store, logger: logger.WithGroup("authz")}
}

func (a *MembershipAuthorizer) CanSubscribe(userID, topic string) bool {
	parsed, err := topics.Parse(topic)
	if err != nil {
		return false
	}

	ctx := context.Background()
	switch parsed.Kind {
	case topics.KindChannel:
		ok, err := a.store.IsChannelMember(ctx, userID, parsed.ChannelID)
		return err == nil && ok
	case topics.KindChannelTyping:
		ok, err := a.store.IsChannelMember(ctx, userID, parsed.ChannelID)
		return err == nil && ok
	case topics.KindWorkspace:
		ok, err := a.store.IsWorkspaceMember(ctx, userID, parsed.WorkspaceID)
		return err == nil && ok
	case topics.KindUser:
		// A user topic belongs to its user alone.
		return parsed.UserID == userID
	case topics.KindDMTyping:
		// Either side of the DM may watch the typing topic; both must
		// at least share the workspace.
		ok, err := a.store.IsWorkspaceMember(ctx, userID, parsed.WorkspaceID)
		return err == nil && ok
	}
	return false
}
