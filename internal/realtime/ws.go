package realtime

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Widget embeds on customer domains; origin policy is enforced by the
	// pixel key check upstream, not by the websocket handshake.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSubscriber adapts a websocket connection to the hub's Subscriber
// interface. Gorilla connections allow one concurrent writer, so sends are
// serialized on a mutex.
type wsSubscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSubscriber) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHandler bridges websocket clients into the hub.
type WSHandler struct {
	hub    *Hub
	logger zerolog.Logger
}

// NewWSHandler creates the websocket endpoint handler.
func NewWSHandler(hub *Hub, logger zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, logger: logger}
}

// Subscribe handles GET /ws/conversations/:id. It upgrades the connection,
// registers it for the conversation's insert events, and blocks reading
// until the peer goes away.
func (h *WSHandler) Subscribe(c echo.Context) error {
	conversationID := c.Param("id")
	if conversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Conversation ID required")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}
	defer conn.Close()

	sub := &wsSubscriber{conn: conn}
	id := h.hub.Register(conversationID, sub)
	defer h.hub.Unregister(conversationID, id)

	h.logger.Debug().
		Str("conversation_id", conversationID).
		Int64("subscriber_id", id).
		Msg("realtime subscriber connected")

	// Drain inbound frames. The channel is push-only; the read loop exists
	// to notice disconnects and honor control frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.logger.Debug().
		Str("conversation_id", conversationID).
		Int64("subscriber_id", id).
		Msg("realtime subscriber disconnected")

	return nil
}
