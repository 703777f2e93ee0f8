package websocket

import (
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"kirimin/server/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Serve runs both pumps for an accepted connection. It blocks until
// the connection drops, then unregisters the session.
func (h *Hub) Serve(s *Session, conn *websocket.Conn) {
	h.Register <- s
	go writePump(s, conn)
	readPump(h, s, conn)
}

// readPump consumes client frames until the connection closes.
func readPump(h *Hub, s *Session, conn *websocket.Conn) {
	defer func() {
		h.Unregister <- s
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Warn("ws_read_failed", zap.String("uid", s.uid), zap.Error(err))
			}
			return
		}

		var ev IncomingEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Log.Debug("ws_bad_frame", zap.String("uid", s.uid), zap.Error(err))
			continue
		}
		s.handleIncoming(ev)
	}
}

// writePump drains the session's send queue and keeps the connection
// alive with pings. It ends when the session is stopped.
func writePump(s *Session, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data := <-s.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-s.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
