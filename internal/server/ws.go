package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dexflow/engine/internal/publisher"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser clients connect cross-origin in the reference deployment.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscribeOrder upgrades the connection and forwards every message from the
// order's pub/sub channel until the client disconnects. Each socket gets its
// own subscriber connection, torn down with the socket.
func (s *Server) subscribeOrder(c *gin.Context) {
	orderID := c.Param("orderId")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	defer conn.Close()

	sub := s.subscriber()
	defer sub.Close()

	ctx := c.Request.Context()
	pubsub := sub.Subscribe(ctx, publisher.OrderChannel(orderID))
	defer pubsub.Close()

	// Reader loop detects client close; nothing inbound is expected.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("websocket subscriber attached", zap.String("order_id", orderID))
	for {
		select {
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}
