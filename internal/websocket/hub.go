package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"backoffice/internal/authz"
	"backoffice/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS layer in front of the router
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event is the frame pushed to moderators
type Event struct {
	Event string    `json:"event"`
	Data  any       `json:"data"`
	At    time.Time `json:"at"`
}

// Client represents a single connected WebSocket client
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans moderation events out to every connected moderator
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	log        zerolog.Logger
	mu         sync.Mutex
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		log:        log.With().Str("component", "ws").Logger(),
	}
}

// Run dispatches until ctx is cancelled, then disconnects every client
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug().Msg("moderator connected")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.Debug().Msg("moderator disconnected")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Clients reports how many connections are registered
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish queues an event for broadcast. A full queue drops the event
// rather than stalling the request that produced it.
func (h *Hub) Publish(event string, payload any) {
	msg, err := json.Marshal(Event{Event: event, Data: payload, At: time.Now().UTC()})
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn().Str("event", event).Msg("event queue full, dropping event")
	}
}

func (c *Client) writePump() {
	defer func() {
		_ = c.conn.Close()
	}()
	for message := range c.send {
		w, err := c.conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		_, _ = w.Write(message)

		// Fast track writing queued messages
		n := len(c.send)
		for i := 0; i < n; i++ {
			_, _ = w.Write([]byte{'\n'})
			_, _ = w.Write(<-c.send)
		}

		if err := w.Close(); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
	}
}

// ServeWs upgrades callers holding comments.moderate. Browsers cannot set
// headers on the handshake, so the token travels in the query string.
func ServeWs(hub *Hub, secret []byte, resolver service.PrincipalResolver, gate *authz.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("token")
		if raw == "" {
			hub.log.Debug().Msg("websocket rejected: missing token")
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		userID, _, err := service.ParseToken(secret, raw)
		if err != nil {
			hub.log.Debug().Err(err).Msg("websocket rejected: invalid token")
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		p, err := resolver.Resolve(c.Request.Context(), userID)
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		if !gate.Can(p, authz.CapCommentModerate) {
			hub.log.Debug().Str("user_id", userID.String()).Msg("websocket rejected: not a moderator")
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256)}
		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}
