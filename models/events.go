/*
Wire types shared by the broker, the mutation service, and the client
SDK. The payload field names are stable; clients in other languages
depend on them.

Every payload is self-describing: it carries the channel / recipient /
sender ids a router needs to decide relevance without any side-channel
lookup. Decode enforces that and fails closed on anything malformed.
*/
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownEvent      = errors.New("unknown event kind")
	ErrMalformedEnvelope = errors.New("malformed event envelope")
)

// EventKind is the fixed event vocabulary carried over the wire.
type EventKind string

const (
	EventNewMessage      EventKind = "new_message"
	EventReactionUpdated EventKind = "reaction_updated"
	EventUserUpdated     EventKind = "user_updated"
	EventUserTyping      EventKind = "user_typing"
	EventChannelUpdated  EventKind = "channel_updated"
)

// Envelope is the {event, data} wrapper carried on every topic. One
// topic multiplexes several semantic event kinds.
type Envelope struct {
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Push is a server-to-client frame: the envelope plus the topic it was
// published on, so a client multiplexing many subscriptions over one
// connection can route it.
type Push struct {
	Topic string          `json:"topic"`
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Envelope re-wraps the push payload for router consumption.
func (p Push) Envelope() Envelope {
	return Envelope{Event: p.Event, Data: p.Data}
}

// Profile is the denormalized sender projection embedded in messages
// and broadcast on user_updated.
type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Badge     string `json:"badge,omitempty"`
}

// Reaction is one (user, emoji) pair on a message.
type Reaction struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"user_id"`
}

// Message is the new_message payload. Exactly one of ChannelID or
// RecipientID is set: channel message vs direct message.
type Message struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	ChannelID   string     `json:"channel_id,omitempty"`
	RecipientID string     `json:"recipient_id,omitempty"`
	SenderID    string     `json:"sender_id"`
	ParentID    string     `json:"parent_id,omitempty"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"created_at"`
	Sender      *Profile   `json:"sender,omitempty"`
	Reactions   []Reaction `json:"reactions"`
}

// ReactionAction discriminates reaction_updated payloads.
type ReactionAction string

const (
	ReactionAdded   ReactionAction = "added"
	ReactionRemoved ReactionAction = "removed"
)

// ReactionChange is the reaction_updated payload.
type ReactionChange struct {
	MessageID string         `json:"messageId"`
	Reaction  Reaction       `json:"reaction"`
	Action    ReactionAction `json:"action"`
}

// Typing is the user_typing payload. ChannelID is empty for DM typing.
type Typing struct {
	WorkspaceID string `json:"workspace_id,omitempty"`
	ChannelID   string `json:"channel_id,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
	UserID      string `json:"user_id"`
	Username    string `json:"username,omitempty"`
}

// ChannelUpdate is the channel_updated payload.
type ChannelUpdate struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Payload is the decoded, typed form of an envelope's data. The
// concrete types are exactly the five event kinds above; routers type
// switch over them and the compiler keeps the switch honest.
type Payload interface {
	Kind() EventKind
}

func (Message) Kind() EventKind        { return EventNewMessage }
func (ReactionChange) Kind() EventKind { return EventReactionUpdated }
func (Profile) Kind() EventKind        { return EventUserUpdated }
func (Typing) Kind() EventKind         { return EventUserTyping }
func (ChannelUpdate) Kind() EventKind  { return EventChannelUpdated }

// NewEnvelope wraps an event payload for publishing.
func NewEnvelope(event EventKind, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: raw}, nil
}

// Decode turns an envelope into its typed payload.
//
// A router must never crash on a bad event, so anything that cannot be
// decoded, or that is missing the identifiers relevance filtering
// depends on, comes back as ErrMalformedEnvelope (or ErrUnknownEvent)
// for the caller to drop.
func Decode(env Envelope) (Payload, error) {
	fail := func(err error) error {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, env.Event, err)
	}

	switch env.Event {
	case EventNewMessage:
		var m Message
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fail(err)
		}
		if m.ID == "" || m.SenderID == "" {
			return nil, fail(errors.New("missing id or sender_id"))
		}
		if m.ChannelID == "" && m.RecipientID == "" {
			return nil, fail(errors.New("missing channel_id and recipient_id"))
		}
		return m, nil

	case EventReactionUpdated:
		var rc ReactionChange
		if err := json.Unmarshal(env.Data, &rc); err != nil {
			return nil, fail(err)
		}
		if rc.MessageID == "" || rc.Reaction.UserID == "" || rc.Reaction.Emoji == "" {
			return nil, fail(errors.New("missing messageId or reaction fields"))
		}
		if rc.Action != ReactionAdded && rc.Action != ReactionRemoved {
			return nil, fail(fmt.Errorf("bad action %q", rc.Action))
		}
		return rc, nil

	case EventUserUpdated:
		var p Profile
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fail(err)
		}
		if p.ID == "" {
			return nil, fail(errors.New("missing id"))
		}
		return p, nil

	case EventUserTyping:
		var ty Typing
		if err := json.Unmarshal(env.Data, &ty); err != nil {
			return nil, fail(err)
		}
		if ty.UserID == "" && ty.Username == "" {
			return nil, fail(errors.New("missing actor identity"))
		}
		return ty, nil

	case EventChannelUpdated:
		var cu ChannelUpdate
		if err := json.Unmarshal(env.Data, &cu); err != nil {
			return nil, fail(err)
		}
		if cu.ID == "" {
			return nil, fail(errors.New("missing id"))
		}
		return cu, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}
