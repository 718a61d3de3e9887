// Package bus is the fan-out backbone of the realtime layer. The
// default LocalBus loops messages back in-process; RedisBus swaps in a
// shared pub/sub channel when the service runs as more than one
// process. The hub only ever talks to the Bus interface.
package bus

import (
	"context"
	"encoding/json"
	"time"
)

// Message is one broadcast unit scoped to a document room.
type Message struct {
	Event      string          `json:"event"`
	DocumentID string          `json:"documentId"`
	UserID     string          `json:"userId,omitempty"`
	Changes    json.RawMessage `json:"changes,omitempty"`
	Version    int64           `json:"version,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`

	// SenderConn is the originating connection id; delivery skips it
	// so a sender never hears its own broadcast echoed back.
	SenderConn string `json:"senderConn,omitempty"`
}

type Bus interface {
	Publish(ctx context.Context, msg Message) error
	StartForwarder(ctx context.Context, onMsg func(m Message)) error
	Close() error
}
