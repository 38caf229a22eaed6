package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
httpBinding: "127.0.0.1:8080"
transport: broker
auth:
  jwtSecret: "s3cret"
  connectionTokenTTLSeconds: 300
sessions:
  eventChannelSize: 256
  webSocketReadBufferSize: 1024
  webSocketWriteBufferSize: 1024
  maxConnections: 100
rateLimiters:
  publish:
    limit: 50
    burst: 100
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.HttpBinding)
	assert.Equal(t, TransportBroker, cfg.Transport)
	assert.Equal(t, 5*time.Minute, cfg.Auth.ConnectionTokenTTL())
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.SessionTTL())
	assert.Equal(t, 100, cfg.Sessions.MaxConnections)
	assert.Equal(t, 50.0, cfg.RateLimiters.Publish.Limit)
	assert.Equal(t, 0.0, cfg.RateLimiters.Token.Limit) // disabled
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
httpBinding: "127.0.0.1:8080"
auth:
  jwtSecret: "s3cret"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, TransportBroker, cfg.Transport)
	assert.Equal(t, 1024, cfg.Sessions.EventChannelSize)
	assert.Equal(t, 4096, cfg.Sessions.MaxConnections)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfigFileUnreadable)

	_, err = LoadConfig(writeConfig(t, "{not yaml"))
	assert.ErrorIs(t, err, ErrConfigFileUnmarshallable)

	_, err = LoadConfig(writeConfig(t, "auth:\n  jwtSecret: x\n"))
	assert.ErrorIs(t, err, ErrHttpBindingMissing)

	_, err = LoadConfig(writeConfig(t, "httpBinding: \"127.0.0.1:8080\"\n"))
	assert.ErrorIs(t, err, ErrJWTSecretMissing)

	_, err = LoadConfig(writeConfig(t, `
httpBinding: "127.0.0.1:8080"
transport: carrier-pigeon
auth:
  jwtSecret: x
`))
	assert.ErrorIs(t, err, ErrTransportInvalid)

	_, err = LoadConfig(writeConfig(t, `
httpBinding: "127.0.0.1:8080"
auth:
  jwtSecret: x
tls:
  cert: /etc/relay/cert.pem
`))
	assert.ErrorIs(t, err, ErrTLSMissing)
}
