package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/babylon/trading-engine/internal/engine"
)

// dialTestConn upgrades a throwaway server connection and returns the
// client-side conn.
func dialTestConn(t *testing.T) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial failed: %v", err)
	}
	return conn, srv.Close
}

func waitForClient(t *testing.T, hub *WSHub, conn *websocket.Conn, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.RLock()
		_, ok := hub.clients[conn]
		hub.mu.RUnlock()
		if ok == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("client registered = %v, want %v", ok, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// A broadcast to a dead connection must drop the client without racing the
// per-connection keepalive readers. Run with -race.
func TestWSHub_BroadcastDropsDeadClient(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	conn, cleanup := dialTestConn(t)
	defer cleanup()

	hub.register <- conn
	waitForClient(t, hub, conn, true)

	// Sever the transport so the next broadcast write fails.
	conn.UnderlyingConn().Close()

	// Mirror the keepalive goroutine's membership check while the hub
	// handles the failed write.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			hub.mu.RLock()
			_ = hub.clients[conn]
			hub.mu.RUnlock()
		}
	}()

	hub.Broadcast(engine.Event{Type: "trade_executed"})
	<-done

	waitForClient(t, hub, conn, false)
}

func TestWSHub_UnregisterIsIdempotent(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	conn, cleanup := dialTestConn(t)
	defer cleanup()

	hub.register <- conn
	waitForClient(t, hub, conn, true)

	hub.unregister <- conn
	waitForClient(t, hub, conn, false)

	// A second unregister (read pump and broadcast can both report the
	// same dead conn) must not panic or double-decrement.
	hub.unregister <- conn
	waitForClient(t, hub, conn, false)
}
