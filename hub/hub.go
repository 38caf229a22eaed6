/*
In-process topic fan-out. Each connected realtime session registers
here once and joins any number of topics; Broadcast copies a push to
every member of a topic. Delivery into a member's channel is
best-effort: a member that cannot keep up loses pushes rather than
stalling the broadcaster, and reconciles through the resync fetch it
performs on its next reconnect.

The broker transport and the legacy room transport share this registry,
they differ only in how joins are expressed on the wire.
*/
package hub

import (
	"sync"

	"github.com/InsulaLabs/relay/models"
)

const defaultBufferSize = 256

type member struct {
	id     int64
	topics map[string]struct{}
	ch     chan models.Push
}

type Hub struct {
	mu         sync.RWMutex
	nextID     int64
	members    map[int64]*member
	byTopic    map[string]map[int64]*member
	bufferSize int
}

func New(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Hub{
		members:    make(map[int64]*member),
		byTopic:    make(map[string]map[int64]*member),
		bufferSize: bufferSize,
	}
}

// Add registers a new member with no topics. The returned channel is
// closed by remove; remove is idempotent and releases every topic the
// member joined.
func (h *Hub) Add() (id int64, ch <-chan models.Push, remove func()) {
	h.mu.Lock()
	h.nextID++
	id = h.nextID
	m := &member{
		id:     id,
		topics: make(map[string]struct{}),
		ch:     make(chan models.Push, h.bufferSize),
	}
	h.members[id] = m
	h.mu.Unlock()

	remove = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		existing, ok := h.members[id]
		if !ok {
			return
		}
		delete(h.members, id)
		for topic := range existing.topics {
			h.leaveLocked(existing, topic)
		}
		close(existing.ch)
	}
	return id, m.ch, remove
}

// Join adds the member to a topic. Joining a topic twice is a no-op.
func (h *Hub) Join(id int64, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.members[id]
	if !ok {
		return
	}
	if _, joined := m.topics[topic]; joined {
		return
	}
	m.topics[topic] = struct{}{}
	if h.byTopic[topic] == nil {
		h.byTopic[topic] = make(map[int64]*member)
	}
	h.byTopic[topic][id] = m
}

// Leave removes the member from a topic; a no-op if never joined.
func (h *Hub) Leave(id int64, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.members[id]
	if !ok {
		return
	}
	if _, joined := m.topics[topic]; !joined {
		return
	}
	delete(m.topics, topic)
	h.leaveLocked(m, topic)
}

func (h *Hub) leaveLocked(m *member, topic string) {
	if set, ok := h.byTopic[topic]; ok {
		delete(set, m.id)
		if len(set) == 0 {
			delete(h.byTopic, topic)
		}
	}
}

// Broadcast fans the envelope out to every current member of the
// topic and reports how many send buffers accepted it.
func (h *Hub) Broadcast(topic string, env models.Envelope) int {
	push := models.Push{Topic: topic, Event: env.Event, Data: env.Data}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, m := range h.byTopic[topic] {
		select {
		case m.ch <- push:
			delivered++
		default:
			// Slow member, push dropped. Resync covers the gap.
		}
	}
	return delivered
}

// Subscribers reports the current member count of a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byTopic[topic])
}

// Members reports the number of registered members.
func (h *Hub) Members() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}
