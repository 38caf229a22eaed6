package models

// ControlAction is a client-to-server request on the realtime socket.
// The rooms transport historically used join/leave; they are accepted
// as synonyms of subscribe/unsubscribe so older clients keep working.
type ControlAction string

const (
	ControlSubscribe   ControlAction = "subscribe"
	ControlUnsubscribe ControlAction = "unsubscribe"
	ControlJoin        ControlAction = "join"
	ControlLeave       ControlAction = "leave"
)

// Normalize collapses the legacy synonyms.
func (a ControlAction) Normalize() ControlAction {
	switch a {
	case ControlJoin:
		return ControlSubscribe
	case ControlLeave:
		return ControlUnsubscribe
	}
	return a
}

// ControlFrame is sent by the client to change its topic set.
type ControlFrame struct {
	Action ControlAction `json:"action"`
	Topic  string        `json:"topic"`
}

// Ack is the server's reply to a control frame.
type Ack struct {
	Action ControlAction `json:"action"`
	Topic  string        `json:"topic"`
	OK     bool          `json:"ok"`
	Error  string        `json:"error,omitempty"`
}

// PublishRequest is the body of the HTTP publish endpoint. Channel is
// the topic string; the name is kept for wire compatibility.
type PublishRequest struct {
	Channel string   `json:"channel"`
	Data    Envelope `json:"data"`
}

// TokenResponse carries a freshly minted connection token.
type TokenResponse struct {
	Token string `json:"token"`
}
