package core

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/InsulaLabs/relay/models"
	"github.com/InsulaLabs/relay/topics"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Maximum control frame size allowed from peer.
)

// A session is one authenticated WebSocket connection. It multiplexes
// any number of topic subscriptions; the client changes its topic set
// with control frames and receives pushes tagged with their topic.
type session struct {
	conn    *websocket.Conn
	service *Core

	userID string

	// Hub membership. pushes delivers events for every subscribed
	// topic; remove releases the membership exactly once.
	memberID int64
	pushes   <-chan models.Push
	remove   func()

	// Buffered channel of outbound frames (pushes and acks).
	send chan []byte
}

func (c *Core) newSession(conn *websocket.Conn, userID string) *session {
	memberID, pushes, remove := c.hub.Add()
	return &session{
		conn:     conn,
		service:  c,
		userID:   userID,
		memberID: memberID,
		pushes:   pushes,
		remove:   remove,
		send:     make(chan []byte, c.cfg.Sessions.EventChannelSize),
	}
}

// handleControl applies one control frame and queues the ack.
func (s *session) handleControl(frame models.ControlFrame) {
	ack := models.Ack{Action: frame.Action, Topic: frame.Topic, OK: true}

	switch frame.Action.Normalize() {
	case models.ControlSubscribe:
		if _, err := topics.Parse(frame.Topic); err != nil {
			ack.OK = false
			ack.Error = "invalid topic"
		} else if !s.service.authz.CanSubscribe(s.userID, frame.Topic) {
			s.service.logger.Warn("Subscription denied", "user_id", s.userID, "topic", frame.Topic)
			ack.OK = false
			ack.Error = "forbidden"
		} else {
			s.service.hub.Join(s.memberID, frame.Topic)
			s.service.logger.Debug("Subscriber joined topic", "user_id", s.userID, "topic", frame.Topic)
		}
	case models.ControlUnsubscribe:
		s.service.hub.Leave(s.memberID, frame.Topic)
	default:
		ack.OK = false
		ack.Error = "unknown action"
	}

	s.queue(ack)
}

// queue marshals a frame onto the send channel, dropping it if the
// writer cannot keep up.
func (s *session) queue(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.service.logger.Error("Failed to marshal outbound frame", "error", err)
		return
	}
	select {
	case s.send <- raw:
	default:
		s.service.logger.Warn("Session send channel full, frame dropped", "remote_addr", s.conn.RemoteAddr())
	}
}

// forwardPump moves hub pushes onto the send channel. It exits when
// the hub membership is removed and the push channel closes, and it is
// the sole closer of the send channel so writePump shuts down cleanly.
func (s *session) forwardPump() {
	defer close(s.send)
	for p := range s.pushes {
		s.queue(p)
	}
}

// readPump pumps control frames from the WebSocket connection. The
// application ensures that there is at most one reader on a connection
// by executing all reads from this goroutine.
func (s *session) readPump() {
	defer func() {
		s.service.unregisterSession(s)
		s.conn.Close()
		s.service.logger.Info(
			"WebSocket readPump finished, connection closed and unregistered",
			"remote_addr", s.conn.RemoteAddr(),
			"user_id", s.userID,
		)
	}()
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))

	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame models.ControlFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.service.logger.Error(
					"WebSocket read error",
					"remote_addr", s.conn.RemoteAddr(),
					"user_id", s.userID,
					"error", err,
				)
			} else {
				s.service.logger.Info(
					"WebSocket connection closed",
					"remote_addr", s.conn.RemoteAddr(),
					"user_id", s.userID,
					"error", err,
				)
			}
			break
		}
		s.handleControl(frame)
	}
}

// writePump pumps queued frames to the WebSocket connection and keeps
// the peer alive with pings. A goroutine running writePump is started
// for each connection; all writes happen here.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		s.service.logger.Info("WebSocket writePump finished", "remote_addr", s.conn.RemoteAddr(), "user_id", s.userID)
	}()
	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.service.logger.Info("WebSocket write failed", "remote_addr", s.conn.RemoteAddr(), "error", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
