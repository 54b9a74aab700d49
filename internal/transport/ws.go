package transport

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// heartbeat/idle parameters per spec.md §4.10: "server sends a
// heartbeat every 25s and closes idle sockets after 5m without
// activity." Grounded on the teacher's internal/gateway/handler/rpc/
// user_interaction.go websocket relay: a buffered outbound channel
// drained by a writer goroutine, a ping ticker, and a read-deadline
// refreshed by the pong handler.
const (
	wsWriteWait = 10 * time.Second
	wsIdleWait  = 5 * time.Minute
	wsPingEvery = 25 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleEvents serves /ws/events/{session_id}: relays every
// eventbus.Event published for the session until the client
// disconnects, the socket goes idle past wsIdleWait, or the server
// shuts down.
func (s *Transport) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/events/")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(wsIdleWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsIdleWait))
	})

	sub := s.Bus.Subscribe(sessionID)
	defer s.Bus.Unsubscribe(sub)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Drain inbound frames solely to detect disconnect/idle; this
	// channel carries no client->server protocol (spec.md §4.10 is
	// server-push only).
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			cancel()
			<-writerDone
			return
		}
	}
}
