package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mystorage/mystorage/internal/common/logger"
	"github.com/mystorage/mystorage/internal/streaming"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The manager serves a local UI, cross-origin clients are allowed.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades a request to a WebSocket connection and attaches it to
// the hub. Clients receive every event until they narrow their subscription.
// GET /ws
func ServeWS(hub *streaming.Hub, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error("websocket upgrade failed", zap.Error(err))
			return
		}

		client := streaming.NewClient(uuid.New().String(), conn, hub, log)
		hub.Register(client)

		go client.WritePump()
		go client.ReadPump()
	}
}
