/*
Package state holds the client-side projections that realtime events
are merged into: the open conversation's message list, typing
indicators, presence, and cached channel metadata.

Transports promise at-least-once delivery and no cross-topic ordering,
so every merge here is idempotent and order-insensitive: dedup by id,
set semantics for reactions and typing. Applying the same envelope
twice never duplicates a visible effect.
*/
package state

import (
	"sort"
	"sync"

	"github.com/InsulaLabs/relay/models"
)

// Scope identifies the conversation a MessageView renders: a channel,
// or a DM with one peer.
type Scope struct {
	WorkspaceID string
	ChannelID   string
	RecipientID string
}

// MessageView is the ordered message list of one open conversation.
// Safe for concurrent use; events and resync fetches race freely.
type MessageView struct {
	mu          sync.Mutex
	localUserID string
	scope       Scope
	messages    []models.Message
	byID        map[string]int
}

func NewMessageView(localUserID string, scope Scope) *MessageView {
	return &MessageView{
		localUserID: localUserID,
		scope:       scope,
		byID:        make(map[string]int),
	}
}

// Apply merges one envelope into the view. It reports whether the view
// changed. Malformed or unknown envelopes are dropped; a bad event
// must never take the view down.
func (v *MessageView) Apply(env models.Envelope) (bool, error) {
	payload, err := models.Decode(env)
	if err != nil {
		return false, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	switch p := payload.(type) {
	case models.Message:
		return v.applyMessage(p), nil
	case models.ReactionChange:
		return v.applyReaction(p), nil
	case models.Profile:
		return v.applyProfile(p), nil
	}
	return false, nil
}

// relevant decides from envelope contents alone whether a message
// belongs to this conversation. DMs match symmetrically, and the local
// user's own echo is accepted so the sender renders their message too.
func (v *MessageView) relevant(m models.Message) bool {
	if m.ChannelID != "" {
		return m.ChannelID == v.scope.ChannelID
	}
	if v.scope.RecipientID == "" {
		return false
	}
	// Peer sent it to us, or we sent it to the peer.
	if m.SenderID == v.scope.RecipientID && m.RecipientID == v.localUserID {
		return true
	}
	if m.SenderID == v.localUserID && m.RecipientID == v.scope.RecipientID {
		return true
	}
	return false
}

func (v *MessageView) applyMessage(m models.Message) bool {
	if !v.relevant(m) {
		return false
	}
	if _, exists := v.byID[m.ID]; exists {
		return false
	}
	v.insert(m)
	return true
}

// insert keeps the list ordered by creation time, message id breaking
// ties so concurrent timestamps stay deterministic.
func (v *MessageView) insert(m models.Message) {
	idx := sort.Search(len(v.messages), func(i int) bool {
		if v.messages[i].CreatedAt.Equal(m.CreatedAt) {
			return v.messages[i].ID > m.ID
		}
		return v.messages[i].CreatedAt.After(m.CreatedAt)
	})
	v.messages = append(v.messages, models.Message{})
	copy(v.messages[idx+1:], v.messages[idx:])
	v.messages[idx] = m
	v.reindex(idx)
}

func (v *MessageView) reindex(from int) {
	for i := from; i < len(v.messages); i++ {
		v.byID[v.messages[i].ID] = i
	}
}

func (v *MessageView) applyReaction(rc models.ReactionChange) bool {
	idx, ok := v.byID[rc.MessageID]
	if !ok {
		return false
	}
	msg := &v.messages[idx]

	switch rc.Action {
	case models.ReactionAdded:
		for _, existing := range msg.Reactions {
			if existing.UserID == rc.Reaction.UserID && existing.Emoji == rc.Reaction.Emoji {
				return false
			}
		}
		msg.Reactions = append(msg.Reactions, rc.Reaction)
		return true
	case models.ReactionRemoved:
		for i, existing := range msg.Reactions {
			if existing.UserID == rc.Reaction.UserID && existing.Emoji == rc.Reaction.Emoji {
				msg.Reactions = append(msg.Reactions[:i], msg.Reactions[i+1:]...)
				return true
			}
		}
		return false
	}
	return false
}

// applyProfile folds a profile update into every held message from
// that sender, keeping denormalized sender snapshots fresh.
func (v *MessageView) applyProfile(p models.Profile) bool {
	changed := false
	for i := range v.messages {
		if v.messages[i].SenderID != p.ID {
			continue
		}
		if v.messages[i].Sender == nil || *v.messages[i].Sender != p {
			snapshot := p
			v.messages[i].Sender = &snapshot
			changed = true
		}
	}
	return changed
}

// Resync merges a full history fetch into the view. Messages already
// delivered over the transport stay put; missed ones slot in by
// timestamp. Used after every reconnect.
func (v *MessageView) Resync(history []models.Message) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	added := 0
	for _, m := range history {
		if !v.relevant(m) {
			continue
		}
		if _, exists := v.byID[m.ID]; exists {
			continue
		}
		v.insert(m)
		added++
	}
	return added
}

// Messages returns a copy of the current ordered list. Reaction
// slices are copied too so callers cannot mutate the view's storage.
func (v *MessageView) Messages() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.Message, len(v.messages))
	copy(out, v.messages)
	for i := range out {
		if len(out[i].Reactions) > 0 {
			out[i].Reactions = append([]models.Reaction(nil), out[i].Reactions...)
		}
	}
	return out
}

// Len reports the number of held messages.
func (v *MessageView) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.messages)
}
