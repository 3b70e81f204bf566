package transport

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fortsarb/screener/internal/observ"
	"github.com/fortsarb/screener/internal/screener"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	// the UI is served from another origin in every deployment we run
	CheckOrigin: func(*http.Request) bool { return true },
}

type pushMessage struct {
	Type string         `json:"type"`
	Data []screener.Row `json:"data"`
}

// handlePush upgrades to a websocket and pushes the full snapshot on the
// configured cadence until the peer goes away.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	observ.IncCounter("push_client_total", map[string]string{"event": "connect"})
	defer observ.IncCounter("push_client_total", map[string]string{"event": "disconnect"})

	// drain control/incoming frames so pings and close frames are handled
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(pushMessage{Type: "screener", Data: s.scr.Rows()}); err != nil {
				s.log.Debug("push write failed", zap.Error(err))
				return
			}
		}
	}
}
