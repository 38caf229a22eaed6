package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/InsulaLabs/relay/models"
)

// ConnState is the lifecycle state of a realtime connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

const (
	writeWait      = 10 * time.Second
	backoffInitial = 1 * time.Second
	backoffMax     = 30 * time.Second
)

// Conn is a realtime connection that survives network failures. It
// fetches a fresh connection token before every dial, replays active
// subscriptions after a reconnect, and keeps retrying with capped
// exponential backoff until its context is cancelled.
type Conn struct {
	client *Client
	subs   *Subscriptions
	logger *slog.Logger

	mu        sync.Mutex
	state     ConnState
	ws        *websocket.Conn
	onConnect []func()
	cancel    context.CancelFunc
	done      chan struct{}

	writeMu sync.Mutex
}

// Dial creates a connection bound to client. It does not connect;
// call Run.
func (c *Client) Dial() *Conn {
	return &Conn{
		client: c,
		subs:   NewSubscriptions(c.logger),
		logger: c.logger.WithGroup("conn"),
		state:  StateDisconnected,
	}
}

// Subscriptions exposes the connection's subscription set.
func (c *Conn) Subscriptions() *Subscriptions {
	return c.subs
}

// State reports the current lifecycle state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnConnect registers a hook fired on EVERY transition into the
// connected state, the initial one included. Views use it to resync
// state that events may have skipped while the socket was down.
func (c *Conn) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// Run connects and keeps the connection alive until ctx is cancelled
// or Close is called. It returns once the background loop has started.
func (c *Conn) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return errors.New("connection already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.loop(ctx)
	}()
	return nil
}

func (c *Conn) loop(ctx context.Context) {
	backoff := backoffInitial
	first := true

	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}

		if first {
			c.setState(StateConnecting)
		} else {
			c.setState(StateReconnecting)
		}

		ws, err := c.dialOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateDisconnected)
				return
			}
			c.logger.Warn("dial failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				c.setState(StateDisconnected)
				return
			case <-time.After(jitter(backoff)):
			}
			if backoff *= 2; backoff > backoffMax {
				backoff = backoffMax
			}
			continue
		}
		backoff = backoffInitial
		first = false

		c.mu.Lock()
		c.ws = ws
		c.state = StateConnected
		hooks := append([]func(){}, c.onConnect...)
		c.mu.Unlock()

		c.subs.SetSender(func(f models.ControlFrame) error {
			return c.writeJSON(ws, f)
		})
		if err := c.resubscribe(ws); err != nil {
			c.logger.Warn("resubscribe failed", "error", err)
			ws.Close()
			continue
		}
		c.logger.Info("connected")
		for _, fn := range hooks {
			fn()
		}

		c.readLoop(ctx, ws)

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		ws.Close()
	}
}

// dialOnce mints a fresh connection token and dials the subscribe
// endpoint. Tokens are short-lived so a cached one is never reused.
func (c *Conn) dialOnce(ctx context.Context) (*websocket.Conn, error) {
	token, err := c.client.ConnectionToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("mint connection token: %w", err)
	}

	dialer := *websocket.DefaultDialer
	if c.client.skipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	ws, resp, err := dialer.DialContext(ctx, c.client.websocketURL(token), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial: %v (status %d)", ErrTransport, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial: %v", ErrTransport, err)
	}
	return ws, nil
}

// resubscribe replays a subscribe frame for every active topic so the
// new session carries the same topic set as the old one.
func (c *Conn) resubscribe(ws *websocket.Conn) error {
	for _, topic := range c.subs.activeTopics() {
		f := models.ControlFrame{Action: models.ControlSubscribe, Topic: topic}
		if err := c.writeJSON(ws, f); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) {
	// The watcher lives no longer than this session's socket.
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-sessionDone:
		}
	}()

	for {
		var p models.Push
		if err := ws.ReadJSON(&p); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Warn("read failed", "error", err)
			}
			return
		}
		// Ack frames carry a topic but no event; only real pushes
		// reach the handlers.
		if p.Topic == "" || p.Event == "" {
			continue
		}
		c.subs.dispatch(p)
	}
}

func (c *Conn) writeJSON(ws *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(v)
}

// Close tears the connection down in order: subscriptions released
// first, then the socket, then the loop is waited out. Safe to call
// more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	ws := c.ws
	c.cancel = nil
	c.mu.Unlock()

	c.subs.releaseAll()
	if cancel != nil {
		cancel()
	}
	if ws != nil {
		ws.Close()
	}
	if done != nil {
		<-done
	}
	c.setState(StateDisconnected)
}

func (c *Conn) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}
