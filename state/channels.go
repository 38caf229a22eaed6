package state

import (
	"sync"

	"github.com/InsulaLabs/relay/models"
)

// ChannelCache holds the client's view of channel metadata, kept
// fresh by channel_updated events.
type ChannelCache struct {
	mu       sync.Mutex
	channels map[string]models.ChannelUpdate
}

func NewChannelCache() *ChannelCache {
	return &ChannelCache{channels: make(map[string]models.ChannelUpdate)}
}

// Apply merges an update. Empty fields on the event leave the cached
// value alone, so partial updates never erase known metadata.
func (c *ChannelCache) Apply(cu models.ChannelUpdate) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.channels[cu.ID]
	if !ok {
		c.channels[cu.ID] = cu
		return true
	}

	merged := existing
	if cu.Name != "" {
		merged.Name = cu.Name
	}
	if cu.Description != "" {
		merged.Description = cu.Description
	}
	if merged == existing {
		return false
	}
	c.channels[cu.ID] = merged
	return true
}

// Get returns the cached metadata for a channel.
func (c *ChannelCache) Get(id string) (models.ChannelUpdate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cu, ok := c.channels[id]
	return cu, ok
}
