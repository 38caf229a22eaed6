package state

import (
	"sort"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/InsulaLabs/relay/models"
)

// DefaultPresenceTTL is how long a user stays online after their last
// heartbeat.
const DefaultPresenceTTL = 60 * time.Second

// Presence is the TTL-backed set of users considered online. A user is
// online while heartbeats keep arriving and drops off the set once
// they stop.
type Presence struct {
	online *ttlcache.Cache[string, struct{}]
	stop   func()
}

func NewPresence(ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	online := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](ttl),
	)
	go online.Start()
	return &Presence{online: online, stop: online.Stop}
}

// Observe feeds the set from realtime traffic: any decodable event
// with an identifiable actor counts as a heartbeat for that actor.
// Undecodable envelopes are ignored.
func (p *Presence) Observe(env models.Envelope) bool {
	payload, err := models.Decode(env)
	if err != nil {
		return false
	}

	var actor string
	switch e := payload.(type) {
	case models.Message:
		actor = e.SenderID
	case models.ReactionChange:
		actor = e.Reaction.UserID
	case models.Profile:
		actor = e.ID
	case models.Typing:
		actor = e.UserID
	}
	if actor == "" {
		return false
	}
	p.Touch(actor)
	return true
}

// Touch records a heartbeat, resetting the user's expiry.
func (p *Presence) Touch(userID string) {
	p.online.Set(userID, struct{}{}, ttlcache.DefaultTTL)
}

// Online reports whether the user has a live heartbeat.
func (p *Presence) Online(userID string) bool {
	return p.online.Has(userID)
}

// List returns the online user ids, sorted.
func (p *Presence) List() []string {
	ids := make([]string, 0, p.online.Len())
	p.online.Range(func(item *ttlcache.Item[string, struct{}]) bool {
		ids = append(ids, item.Key())
		return true
	})
	sort.Strings(ids)
	return ids
}

func (p *Presence) Close() {
	p.stop()
}
