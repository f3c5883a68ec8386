package v1

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"ampd/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The daemon binds to loopback; origins are not filtered.
		return true
	},
}

// wsFrame is the JSON shape of one websocket event.
type wsFrame struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// HandleGlobalEvents streams daemon-wide events over SSE until the
// client disconnects.
func (r *Router) HandleGlobalEvents(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		SendError(w, http.StatusInternalServerError, "event hub unavailable", "")
		return
	}
	sub := r.hub.Subscribe()
	defer r.hub.Unsubscribe(sub)

	sse, err := newSSEWriter(w)
	if err != nil {
		SendError(w, http.StatusInternalServerError, "streaming not supported", "")
		return
	}

	for {
		select {
		case <-req.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if err := sse.Write(ev); err != nil {
				return
			}
		}
	}
}

// HandleGlobalEventsWS streams the same daemon-wide events over a
// websocket for clients that cannot hold an SSE response open.
func (r *Router) HandleGlobalEventsWS(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		SendError(w, http.StatusInternalServerError, "event hub unavailable", "")
		return
	}
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := r.hub.Subscribe()
	defer r.hub.Unsubscribe(sub)

	// Reader drains control frames and signals disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1024)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-req.Context().Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if err := writeWSEvent(conn, ev); err != nil {
				return
			}
		}
	}
}

func writeWSEvent(conn *websocket.Conn, ev session.StreamEvent) error {
	data, err := json.Marshal(wsFrame{Type: ev.Type, Payload: ev.Payload})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
