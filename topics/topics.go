/*
Topic identifiers are the pub/sub addresses of the system. Both the
publishing side and the subscribing side derive them through this
package so the two can never drift apart. Nothing outside this package
is allowed to hand-build a topic string.
*/
package topics

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNotATopic = errors.New("not a recognized topic")

// Kind discriminates the parsed form of a topic string.
type Kind int

const (
	KindChannel Kind = iota
	KindWorkspace
	KindUser
	KindChannelTyping
	KindDMTyping
)

// Topic is the parsed form of a topic string. Which id fields are set
// depends on the Kind.
type Topic struct {
	Kind        Kind
	ChannelID   string
	WorkspaceID string
	UserID      string
	RecipientID string
}

// Channel addresses every member currently viewing a chat channel.
func Channel(channelID string) string {
	return "channel:" + channelID
}

// Workspace addresses every member of a workspace, used for broadcast
// style events such as profile updates.
func Workspace(workspaceID string) string {
	return "workspace:" + workspaceID
}

// User addresses a single user across all of their open clients.
// Direct messages are delivered on the user topics of both parties.
func User(userID string) string {
	return "user:" + userID
}

// ChannelTyping carries the ephemeral typing indicator for one channel.
func ChannelTyping(workspaceID, channelID string) string {
	return fmt.Sprintf("workspace:%s:channel:%s:typing", workspaceID, channelID)
}

// DMTyping carries the typing indicator for a direct message pair, as
// seen by the recipient.
func DMTyping(workspaceID, recipientID string) string {
	return fmt.Sprintf("workspace:%s:dm:%s:typing", workspaceID, recipientID)
}

// Parse inverts the naming scheme. The broker uses it to decide which
// membership check authorizes a subscription.
func Parse(topic string) (Topic, error) {
	parts := strings.Split(topic, ":")
	switch {
	case len(parts) == 2 && parts[0] == "channel" && parts[1] != "":
		return Topic{Kind: KindChannel, ChannelID: parts[1]}, nil
	case len(parts) == 2 && parts[0] == "workspace" && parts[1] != "":
		return Topic{Kind: KindWorkspace, WorkspaceID: parts[1]}, nil
	case len(parts) == 2 && parts[0] == "user" && parts[1] != "":
		return Topic{Kind: KindUser, UserID: parts[1]}, nil
	case len(parts) == 5 && parts[0] == "workspace" && parts[2] == "channel" && parts[4] == "typing" &&
		parts[1] != "" && parts[3] != "":
		return Topic{Kind: KindChannelTyping, WorkspaceID: parts[1], ChannelID: parts[3]}, nil
	case len(parts) == 5 && parts[0] == "workspace" && parts[2] == "dm" && parts[4] == "typing" &&
		parts[1] != "" && parts[3] != "":
		return Topic{Kind: KindDMTyping, WorkspaceID: parts[1], RecipientID: parts[3]}, nil
	}
	return Topic{}, fmt.Errorf("%w: %q", ErrNotATopic, topic)
}
