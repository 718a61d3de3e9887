// Package realtime is the room broadcast layer: live connections
// grouped by the document they are viewing, join access checks, and
// best-effort relay of change notifications to every other member of
// the room. It never touches persisted node state.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"canopy/backend/internal/logger"
	"canopy/backend/internal/models"
	"canopy/backend/internal/realtime/bus"
)

// RoomStore is the slice of the tree store the hub needs to validate
// joins. It never mutates anything.
type RoomStore interface {
	Get(ctx context.Context, id string) (*models.Node, error)
	CanJoinRoom(ctx context.Context, node *models.Node, userID string) (bool, error)
	ResolveUserID(ctx context.Context, userID string) (string, error)
}

type Hub struct {
	mu    sync.RWMutex
	log   *logger.Logger
	store RoomStore
	bus   bus.Bus

	// rooms maps a document id to its live member set. A room exists
	// exactly while it has members.
	rooms map[string]map[*Conn]bool
}

func NewHub(st RoomStore, b bus.Bus, log *logger.Logger) *Hub {
	return &Hub{
		log:   log.With("component", "hub"),
		store: st,
		bus:   b,
		rooms: make(map[string]map[*Conn]bool),
	}
}

// Start wires the bus forwarder into local delivery. Must be called
// before any traffic.
func (h *Hub) Start(ctx context.Context) error {
	return h.bus.StartForwarder(ctx, h.deliver)
}

// Join validates access and moves the connection into the document's
// room. A connection is in at most one room; joining another leaves
// the old one first. On failure only the caller hears about it.
func (h *Hub) Join(ctx context.Context, c *Conn, documentID, asUserID string) error {
	// asUserID only canonicalizes the caller's own identity (an email
	// alias for the authenticated user). Access is always checked
	// against the connection's authenticated user; naming someone
	// else's identity is a denial, not an impersonation path.
	userID := c.UserID
	if asUserID != "" {
		resolved, err := h.store.ResolveUserID(ctx, asUserID)
		if err != nil || resolved != c.UserID {
			return fmt.Errorf("access denied")
		}
	}

	node, err := h.store.Get(ctx, documentID)
	if err != nil {
		return fmt.Errorf("document not found")
	}
	ok, err := h.store.CanJoinRoom(ctx, node, userID)
	if err != nil {
		return fmt.Errorf("access check failed")
	}
	if !ok {
		return fmt.Errorf("access denied")
	}

	h.mu.Lock()
	leftRoom := ""
	if c.documentID != "" && c.documentID != documentID {
		leftRoom = c.documentID
		h.removeLocked(c)
	}
	room, exists := h.rooms[documentID]
	if !exists {
		room = make(map[*Conn]bool)
		h.rooms[documentID] = room
	}
	room[c] = true
	c.documentID = documentID
	size := len(room)
	h.mu.Unlock()

	if leftRoom != "" {
		h.publish(ctx, bus.Message{
			Event:      EventUserLeft,
			DocumentID: leftRoom,
			UserID:     c.UserID,
			SenderConn: c.ID,
			Timestamp:  time.Now(),
		})
	}

	h.publish(ctx, bus.Message{
		Event:      EventUserJoined,
		DocumentID: documentID,
		UserID:     userID,
		SenderConn: c.ID,
		Timestamp:  time.Now(),
	})

	c.sendFrame(EventJoinedDocument, map[string]interface{}{
		"documentId":  documentID,
		"version":     node.Version,
		"activeUsers": size,
	})
	h.log.Debug("joined room", "documentId", documentID, "userId", userID, "activeUsers", size)
	return nil
}

// Leave removes the connection from its room, discarding the room when
// it empties, and notifies the remaining members.
func (h *Hub) Leave(c *Conn) {
	h.mu.Lock()
	documentID := c.documentID
	if documentID == "" {
		h.mu.Unlock()
		return
	}
	h.removeLocked(c)
	h.mu.Unlock()

	h.publish(context.Background(), bus.Message{
		Event:      EventUserLeft,
		DocumentID: documentID,
		UserID:     c.UserID,
		SenderConn: c.ID,
		Timestamp:  time.Now(),
	})
}

// Disconnect treats an abrupt connection loss as an implicit leave.
func (h *Hub) Disconnect(c *Conn) {
	h.Leave(c)
	c.close()
}

func (h *Hub) removeLocked(c *Conn) {
	if room, ok := h.rooms[c.documentID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.documentID)
		}
	}
	c.documentID = ""
}

// BroadcastUpdate relays a committed change to every other member of
// the room. changes is a partial field diff; receivers treat a version
// that is not strictly newer as a hint to refresh.
func (h *Hub) BroadcastUpdate(ctx context.Context, c *Conn, documentID string, changes json.RawMessage, version int64) {
	h.publish(ctx, bus.Message{
		Event:      EventRemoteUpdate,
		DocumentID: documentID,
		UserID:     c.UserID,
		Changes:    changes,
		Version:    version,
		SenderConn: c.ID,
		Timestamp:  time.Now(),
	})
}

// NotifyDeleted tells a room its document is about to disappear, so
// live viewers can navigate away instead of editing a missing node.
func (h *Hub) NotifyDeleted(ctx context.Context, documentID string) {
	h.publish(ctx, bus.Message{
		Event:      EventDocumentDeleted,
		DocumentID: documentID,
		Timestamp:  time.Now(),
	})
}

// NotifyChange publishes a server-originated change (REST mutations)
// into the room, with no sender connection to exclude.
func (h *Hub) NotifyChange(ctx context.Context, documentID string, changes json.RawMessage, version int64, userID string) {
	h.publish(ctx, bus.Message{
		Event:      EventRemoteUpdate,
		DocumentID: documentID,
		UserID:     userID,
		Changes:    changes,
		Version:    version,
		Timestamp:  time.Now(),
	})
}

// RoomSize reports the live member count of a room.
func (h *Hub) RoomSize(documentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[documentID])
}

func (h *Hub) publish(ctx context.Context, msg bus.Message) {
	if err := h.bus.Publish(ctx, msg); err != nil {
		h.log.Warn("bus publish failed", "event", msg.Event, "documentId", msg.DocumentID, "error", err)
	}
}

// deliver fans a bus message out to the local members of its room,
// never echoing back to the sender. Delivery is best-effort: a member
// whose outbound buffer is full misses the message and reconciles by
// re-fetching. The lock is held across the sends: Disconnect closes a
// connection's outbound channel only after removing it from its room
// under the write lock, so a send can never interleave with the close.
func (h *Hub) deliver(msg bus.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room := h.rooms[msg.DocumentID]
	if len(room) == 0 {
		return
	}
	size := len(room)

	var data interface{}
	switch msg.Event {
	case EventRemoteUpdate:
		data = map[string]interface{}{
			"documentId": msg.DocumentID,
			"changes":    msg.Changes,
			"version":    msg.Version,
			"userId":     msg.UserID,
			"timestamp":  msg.Timestamp,
		}
	case EventUserJoined, EventUserLeft:
		data = map[string]interface{}{
			"documentId":  msg.DocumentID,
			"userId":      msg.UserID,
			"activeUsers": size,
		}
	case EventDocumentDeleted:
		data = map[string]interface{}{
			"documentId": msg.DocumentID,
		}
	default:
		return
	}

	for c := range room {
		if c.ID == msg.SenderConn {
			continue
		}
		if !c.sendFrame(msg.Event, data) {
			h.log.Warn("dropping message for slow consumer", "event", msg.Event, "documentId", msg.DocumentID, "connId", c.ID)
		}
	}
}
