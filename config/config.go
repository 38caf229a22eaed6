package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport selects the realtime substrate. Broker is the steady
// state: HTTP publish plus token-authenticated socket subscriptions.
// Rooms is the legacy in-process adapter kept for rollback: session
// authenticated sockets with join/leave frames and direct dispatch.
type Transport string

const (
	TransportBroker Transport = "broker"
	TransportRooms  Transport = "rooms"
)

type TLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type AuthConfig struct {
	JWTSecret                 string `yaml:"jwtSecret"`
	ConnectionTokenTTLSeconds int    `yaml:"connectionTokenTTLSeconds"` // 0 => 5 minutes
	SessionTTLHours           int    `yaml:"sessionTTLHours"`           // 0 => 7 days
}

type SessionsConfig struct {
	EventChannelSize         int `yaml:"eventChannelSize"`
	WebSocketReadBufferSize  int `yaml:"webSocketReadBufferSize"`
	WebSocketWriteBufferSize int `yaml:"webSocketWriteBufferSize"`
	MaxConnections           int `yaml:"maxConnections"`
}

type RateLimiterConfig struct {
	Limit float64 `yaml:"limit"` // Requests per second; 0 disables the category
	Burst int     `yaml:"burst"`
}

type RateLimiters struct {
	Token   RateLimiterConfig `yaml:"token"`
	Publish RateLimiterConfig `yaml:"publish"`
	Typing  RateLimiterConfig `yaml:"typing"`
	Default RateLimiterConfig `yaml:"default"`
}

type Relay struct {
	HttpBinding    string         `yaml:"httpBinding"`
	Transport      Transport      `yaml:"transport"`
	TLS            TLS            `yaml:"tls"`
	Auth           AuthConfig     `yaml:"auth"`
	Sessions       SessionsConfig `yaml:"sessions"`
	RateLimiters   RateLimiters   `yaml:"rateLimiters"`
	TrustedProxies []string       `yaml:"trustedProxies"`
}

var (
	ErrConfigFileUnreadable     = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable = errors.New("config file is unmarshallable")
	ErrHttpBindingMissing       = errors.New("httpBinding is missing in config")
	ErrJWTSecretMissing         = errors.New("auth.jwtSecret is missing in config")
	ErrTLSMissing               = errors.New("TLS configuration incomplete: both cert and key must be provided if one is specified")
	ErrTransportInvalid         = errors.New("transport must be 'broker' or 'rooms'")
	ErrSessionsInvalid          = errors.New("sessions buffer sizes and maxConnections must be positive")
)

func (a AuthConfig) ConnectionTokenTTL() time.Duration {
	if a.ConnectionTokenTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(a.ConnectionTokenTTLSeconds) * time.Second
}

func (a AuthConfig) SessionTTL() time.Duration {
	if a.SessionTTLHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(a.SessionTTLHours) * time.Hour
}

func LoadConfig(configFile string) (*Relay, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, ErrConfigFileUnreadable
	}

	var cfg Relay
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, ErrConfigFileUnmarshallable
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Relay) Validate() error {
	if c.HttpBinding == "" {
		return ErrHttpBindingMissing
	}
	if c.Auth.JWTSecret == "" {
		return ErrJWTSecretMissing
	}
	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		return ErrTLSMissing
	}

	if c.Transport == "" {
		c.Transport = TransportBroker
	}
	if c.Transport != TransportBroker && c.Transport != TransportRooms {
		return ErrTransportInvalid
	}

	if c.Sessions.EventChannelSize == 0 {
		c.Sessions.EventChannelSize = 1024
	}
	if c.Sessions.WebSocketReadBufferSize == 0 {
		c.Sessions.WebSocketReadBufferSize = 1024
	}
	if c.Sessions.WebSocketWriteBufferSize == 0 {
		c.Sessions.WebSocketWriteBufferSize = 1024
	}
	if c.Sessions.MaxConnections == 0 {
		c.Sessions.MaxConnections = 4096
	}
	if c.Sessions.EventChannelSize < 0 || c.Sessions.WebSocketReadBufferSize < 0 ||
		c.Sessions.WebSocketWriteBufferSize < 0 || c.Sessions.MaxConnections < 0 {
		return ErrSessionsInvalid
	}

	return nil
}
