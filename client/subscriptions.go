package client

import (
	"log/slog"
	"sync"

	"github.com/InsulaLabs/relay/models"
)

// Handler consumes events pushed on a subscribed topic.
type Handler func(env models.Envelope)

type topicSub struct {
	handlers map[int64]Handler
}

// Subscriptions maps topics to handlers over a single transport
// connection. Each topic holds at most one transport subscription no
// matter how many handlers are attached; incoming pushes fan out to
// all of them. Safe for concurrent use.
type Subscriptions struct {
	mu     sync.Mutex
	nextID int64
	topics map[string]*topicSub
	send   func(models.ControlFrame) error
	logger *slog.Logger
}

func NewSubscriptions(logger *slog.Logger) *Subscriptions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriptions{
		topics: make(map[string]*topicSub),
		send:   func(models.ControlFrame) error { return nil },
		logger: logger.WithGroup("subscriptions"),
	}
}

// SetSender installs the function used to push control frames to the
// server. The connection swaps it on every (re)connect.
func (s *Subscriptions) SetSender(send func(models.ControlFrame) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if send == nil {
		send = func(models.ControlFrame) error { return nil }
	}
	s.send = send
}

// Subscribe attaches h to topic and returns a cancel func. The first
// handler on a topic sends a subscribe frame; later ones piggyback on
// the existing transport subscription. Cancelling the last handler
// sends an unsubscribe frame; cancelling twice is a no-op.
func (s *Subscriptions) Subscribe(topic string, h Handler) (func(), error) {
	s.mu.Lock()
	ts, existed := s.topics[topic]
	if !existed {
		ts = &topicSub{handlers: make(map[int64]Handler)}
		s.topics[topic] = ts
	}
	s.nextID++
	id := s.nextID
	ts.handlers[id] = h
	send := s.send
	s.mu.Unlock()

	if !existed {
		if err := send(models.ControlFrame{Action: models.ControlSubscribe, Topic: topic}); err != nil {
			s.mu.Lock()
			delete(ts.handlers, id)
			if len(ts.handlers) == 0 {
				delete(s.topics, topic)
			}
			s.mu.Unlock()
			return nil, err
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() { s.unsubscribe(topic, id) })
	}
	return cancel, nil
}

func (s *Subscriptions) unsubscribe(topic string, id int64) {
	s.mu.Lock()
	ts, ok := s.topics[topic]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(ts.handlers, id)
	last := len(ts.handlers) == 0
	if last {
		delete(s.topics, topic)
	}
	send := s.send
	s.mu.Unlock()

	if last {
		if err := send(models.ControlFrame{Action: models.ControlUnsubscribe, Topic: topic}); err != nil {
			s.logger.Warn("unsubscribe frame failed", "topic", topic, "error", err)
		}
	}
}

// dispatch routes a pushed frame to every handler on its topic.
// Handlers run synchronously on the read loop; they must not block.
func (s *Subscriptions) dispatch(p models.Push) {
	s.mu.Lock()
	ts, ok := s.topics[p.Topic]
	if !ok {
		s.mu.Unlock()
		return
	}
	handlers := make([]Handler, 0, len(ts.handlers))
	for _, h := range ts.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	env := p.Envelope()
	for _, h := range handlers {
		h(env)
	}
}

// activeTopics snapshots the subscribed topic set, used to replay
// subscribe frames after a reconnect.
func (s *Subscriptions) activeTopics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.topics))
	for topic := range s.topics {
		out = append(out, topic)
	}
	return out
}

// releaseAll drops every handler without sending frames. Used during
// teardown when the socket is going away anyway.
func (s *Subscriptions) releaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = make(map[string]*topicSub)
}

// Count reports the number of subscribed topics.
func (s *Subscriptions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.topics)
}
