package state

import (
	"sort"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/InsulaLabs/relay/models"
)

// DefaultTypingTTL is how long a typing indicator stays visible after
// its last refresh.
const DefaultTypingTTL = 3 * time.Second

// TypingSet tracks who is currently typing in one conversation. Each
// refresh resets the actor's expiry rather than stacking timers, and
// the local user is filtered out so clients never see their own
// indicator.
type TypingSet struct {
	localUserID string
	entries     *ttlcache.Cache[string, string]
	stop        func()
}

// NewTypingSet builds a set expiring entries ttl after their last
// refresh. A non-positive ttl means DefaultTypingTTL.
func NewTypingSet(localUserID string, ttl time.Duration) *TypingSet {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	entries := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](ttl),
	)
	go entries.Start()
	return &TypingSet{
		localUserID: localUserID,
		entries:     entries,
		stop:        entries.Stop,
	}
}

// Apply refreshes the actor's entry. Events from the local user are
// ignored. Reports whether the set holds the actor afterwards.
func (t *TypingSet) Apply(ty models.Typing) bool {
	actor := ty.UserID
	if actor == "" {
		actor = ty.Username
	}
	if actor == t.localUserID {
		return false
	}
	name := ty.Username
	if name == "" {
		name = actor
	}
	t.entries.Set(actor, name, ttlcache.DefaultTTL)
	return true
}

// Active returns the display names of everyone currently typing,
// sorted for stable rendering.
func (t *TypingSet) Active() []string {
	names := make([]string, 0, t.entries.Len())
	t.entries.Range(func(item *ttlcache.Item[string, string]) bool {
		names = append(names, item.Value())
		return true
	})
	sort.Strings(names)
	return names
}

// Close releases the expiry timer. Required on unmount so no timer
// fires into dead state.
func (t *TypingSet) Close() {
	t.stop()
}
