package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"canopy/backend/internal/middleware"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBuffer     = 32
)

// Conn is one live client connection. Its lifecycle is
// Connected -> Joined(doc) -> {Joined(other) | Disconnected}.
type Conn struct {
	ID     string
	UserID string

	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once

	// documentID is the currently joined room, guarded by hub.mu.
	documentID string
}

// NewConn registers a connection with the hub. ws may be nil in tests;
// delivery then only fills the outbound buffer.
func (h *Hub) NewConn(userID string, ws *websocket.Conn) *Conn {
	return &Conn{
		ID:     uuid.New().String(),
		UserID: userID,
		hub:    h,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
	}
}

// Outbound exposes the delivery buffer, used by the write pump and by
// hub tests.
func (c *Conn) Outbound() <-chan []byte { return c.send }

// sendFrame queues a frame without blocking; false means the buffer
// was full and the frame was dropped.
func (c *Conn) sendFrame(event string, data interface{}) bool {
	raw, err := json.Marshal(data)
	if err != nil {
		return false
	}
	frame, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Conn) sendError(message string) {
	c.sendFrame(EventError, map[string]string{"message": message})
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// readPump consumes inbound frames until the connection drops, then
// hands the implicit leave to the hub.
func (c *Conn) readPump(ctx context.Context) {
	defer c.hub.Disconnect(c)

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError("malformed frame")
			continue
		}
		c.handleFrame(ctx, frame)
	}
}

func (c *Conn) handleFrame(ctx context.Context, frame Frame) {
	switch frame.Event {
	case EventJoinDocument:
		var p joinPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil || p.DocumentID == "" {
			c.sendError("join-document requires a documentId")
			return
		}
		if err := c.hub.Join(ctx, c, p.DocumentID, p.UserID); err != nil {
			c.sendError(err.Error())
		}
	case EventLeaveDocument:
		c.hub.Leave(c)
	case EventDocumentUpdate:
		var p updatePayload
		if err := json.Unmarshal(frame.Data, &p); err != nil || p.DocumentID == "" {
			c.sendError("document-update requires a documentId")
			return
		}
		c.hub.BroadcastUpdate(ctx, c, p.DocumentID, p.Changes, p.Version)
	default:
		c.sendError("unknown event " + frame.Event)
	}
}

// writePump drains the outbound buffer onto the wire and keeps the
// connection alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades an authenticated HTTP request into a live
// connection and runs its pumps.
func ServeWS(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.ForContext(c.Request.Context())
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		conn := hub.NewConn(user.ID, ws)
		go conn.writePump()
		conn.readPump(c.Request.Context())
	}
}
