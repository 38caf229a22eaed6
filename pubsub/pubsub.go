/*
Package pubsub abstracts where published events go: the in-process hub
when the relay runs embedded, or a remote broker over HTTP when it runs
standalone. Application code publishes through the Publisher interface
and never knows which one it got.
*/
package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/InsulaLabs/relay/client"
	"github.com/InsulaLabs/relay/hub"
	"github.com/InsulaLabs/relay/models"
)

// Publisher delivers an event to every subscriber of a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event models.EventKind, data any) error
}

// Local publishes straight into an in-process hub.
type Local struct {
	hub    *hub.Hub
	logger *slog.Logger
}

func NewLocal(h *hub.Hub, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{hub: h, logger: logger.WithGroup("pubsub")}
}

func (l *Local) Publish(_ context.Context, topic string, event models.EventKind, data any) error {
	env, err := models.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	delivered := l.hub.Broadcast(topic, env)
	l.logger.Debug("published", "topic", topic, "event", event, "delivered", delivered)
	return nil
}

// Remote publishes through a broker's HTTP publish endpoint.
type Remote struct {
	client *client.Client
}

func NewRemote(c *client.Client) *Remote {
	return &Remote{client: c}
}

func (r *Remote) Publish(ctx context.Context, topic string, event models.EventKind, data any) error {
	if err := r.client.Publish(ctx, topic, event, data); err != nil {
		return fmt.Errorf("remote publish: %w", err)
	}
	return nil
}

// Registry hands out one shared Publisher, built lazily on first use.
// The build function is injected up front so the wiring stays explicit
// and tests can swap in their own publisher.
type Registry struct {
	once  sync.Once
	build func() Publisher
	pub   Publisher
}

func NewRegistry(build func() Publisher) *Registry {
	return &Registry{build: build}
}

// Publisher returns the shared instance, constructing it exactly once
// even under concurrent first use.
func (r *Registry) Publisher() Publisher {
	r.once.Do(func() {
		r.pub = r.build()
	})
	return r.pub
}
