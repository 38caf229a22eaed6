package core

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/InsulaLabs/relay/auth"
	"github.com/InsulaLabs/relay/config"
	"github.com/InsulaLabs/relay/models"
	"github.com/InsulaLabs/relay/topics"
)

// tokenHandler mints a short-lived connection token for the caller.
// The caller authenticates with their session credential; the token
// exists so the session credential never rides a WebSocket URL.
func (c *Core) tokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	identity, err := c.tokens.IdentityFromRequest(r)
	if err != nil {
		http.Error(w, "Invalid or missing token", http.StatusUnauthorized)
		return
	}

	token, err := c.tokens.MintConnectionToken(identity.UserID)
	if err != nil {
		c.logger.Error("Failed to mint connection token", "user_id", identity.UserID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, models.TokenResponse{Token: token})
}

// publishHandler accepts an envelope over HTTP and broadcasts it to
// the topic's subscribers. Delivery is fire-and-forget: a topic with
// no subscribers is not an error.
func (c *Core) publishHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if _, err := c.tokens.IdentityFromRequest(r); err != nil {
		http.Error(w, "Invalid or missing token", http.StatusUnauthorized)
		return
	}

	var req models.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Malformed request body", http.StatusBadRequest)
		return
	}
	if _, err := topics.Parse(req.Channel); err != nil {
		http.Error(w, "Invalid topic", http.StatusBadRequest)
		return
	}
	if req.Data.Event == "" {
		http.Error(w, "Missing event", http.StatusBadRequest)
		return
	}

	delivered := c.hub.Broadcast(req.Channel, req.Data)
	c.logger.Debug("Event published", "topic", req.Channel, "event", req.Data.Event, "delivered", delivered)

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "delivered": delivered})
}

// subscribeHandler upgrades the connection to a WebSocket. The
// handshake carries a connection token as a query parameter; in rooms
// mode a session token is accepted instead, for clients that never
// talk to the token endpoint.
func (c *Core) subscribeHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := c.authenticateSubscribe(r)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrTokenMissing) {
			c.logger.Warn("WebSocket connection attempt without token", "remote_addr", r.RemoteAddr)
		} else {
			c.logger.Warn("WebSocket connection attempt with bad token", "remote_addr", r.RemoteAddr, "error", err)
		}
		http.Error(w, "Invalid or missing token", status)
		return
	}

	c.wsConnectionLock.Lock()
	if c.activeWsConnections >= int32(c.cfg.Sessions.MaxConnections) {
		c.wsConnectionLock.Unlock()
		c.logger.Warn("Max WebSocket connections reached, rejecting new connection", "current", c.activeWsConnections, "max", c.cfg.Sessions.MaxConnections)
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	c.activeWsConnections++
	c.wsConnectionLock.Unlock()

	conn, err := c.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Error("Failed to upgrade WebSocket connection", "error", err, "user_id", userID)
		c.wsConnectionLock.Lock()
		c.activeWsConnections--
		c.wsConnectionLock.Unlock()
		return
	}
	c.logger.Info("WebSocket connection upgraded", "remote_addr", conn.RemoteAddr().String(), "user_id", userID)

	s := c.newSession(conn, userID)

	go s.forwardPump()
	go s.writePump()
	go s.readPump()
}

func (c *Core) authenticateSubscribe(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return "", auth.ErrTokenMissing
	}

	userID, err := c.tokens.VerifyConnectionToken(token)
	if err == nil {
		return userID, nil
	}

	if c.cfg.Transport == config.TransportRooms {
		if identity, sessErr := c.tokens.VerifySessionToken(token); sessErr == nil {
			return identity.UserID, nil
		}
	}
	return "", err
}

func (c *Core) unregisterSession(s *session) {
	s.remove()

	c.wsConnectionLock.Lock()
	if c.activeWsConnections > 0 {
		c.activeWsConnections--
	} else {
		c.logger.Warn("Attempted to decrement active WebSocket connections below zero")
	}
	c.wsConnectionLock.Unlock()
}

// statsHandler reports broker occupancy. Authenticated; meant for
// debugging and dashboards, not machine consumption.
func (c *Core) statsHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := c.tokens.IdentityFromRequest(r); err != nil {
		http.Error(w, "Invalid or missing token", http.StatusUnauthorized)
		return
	}

	c.wsConnectionLock.Lock()
	active := c.activeWsConnections
	c.wsConnectionLock.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"active_connections": active,
		"hub_members":        c.hub.Members(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
