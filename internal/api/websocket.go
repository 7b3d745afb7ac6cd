package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bhadraagada/ralphh/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The control surface is intended for trusted local/operator access
	// (default bind 127.0.0.1); any origin is accepted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocket upgrades the connection and streams every live envelope from
// the broadcaster to the client until it disconnects. Observers receive
// only events appended after they joined; there is no backfill.
func (h *handler) WebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket: upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.bcast.Subscribe()
	defer h.bcast.Unsubscribe(sub)

	if err := conn.WriteJSON(events.Envelope{Channel: "system", Message: "connected"}); err != nil {
		return
	}

	// Drain and discard any client-sent frames so control frames (ping/
	// close) are still processed; this endpoint is publish-only.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for env := range sub.Chan() {
		if err := conn.WriteJSON(env); err != nil {
			h.log.Debug("websocket: write failed, closing", zap.Error(err))
			return
		}
	}
}
