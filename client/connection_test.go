package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestConnStateString(t *testing.T) {
	require.Equal(t, "disconnected", StateDisconnected.String())
	require.Equal(t, "connecting", StateConnecting.String())
	require.Equal(t, "connected", StateConnected.String())
	require.Equal(t, "reconnecting", StateReconnecting.String())
	require.Equal(t, "unknown", ConnState(99).String())
}

// The context watcher of a session must exit with that session. A
// flapping network otherwise accumulates one blocked goroutine per
// reconnect for the whole lifetime of the connection.
func TestReadLoopWatcherExitsWithSession(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := &Conn{subs: NewSubscriptions(testLogger()), logger: testLogger()}
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	before := runtime.NumGoroutine()
	for i := 0; i < 5; i++ {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			conn.readLoop(ctx, ws)
			close(done)
		}()

		ws.Close()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("readLoop never returned after the socket closed")
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before+1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("goroutines leaked across sessions: %d before, %d after", before, runtime.NumGoroutine())
}
