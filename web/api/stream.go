package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var streamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const streamPingInterval = 30 * time.Second

// streamOrder pushes a single order's live log entries over a WebSocket.
// The step history endpoint is the durable record; this stream only
// carries entries published while the connection is open.
func (s *Server) streamOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	if _, err := s.store.GetOrder(orderID); err != nil {
		writeStoreError(w, err)
		return
	}
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	entries, cancel := s.bus.Subscribe(orderID)
	defer cancel()

	// Drain client frames so close and pong handling works
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-clientGone:
			return
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case e, ok := <-entries:
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}
