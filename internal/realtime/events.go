package realtime

import "encoding/json"

// Wire events. Client to server:
const (
	EventJoinDocument   = "join-document"
	EventLeaveDocument  = "leave-document"
	EventDocumentUpdate = "document-update"
)

// Server to client:
const (
	EventJoinedDocument  = "joined-document"
	EventRemoteUpdate    = "remote-update"
	EventUserJoined      = "user-joined"
	EventUserLeft        = "user-left"
	EventDocumentDeleted = "document-deleted"
	EventError           = "error"
)

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinPayload struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId,omitempty"`
}

type updatePayload struct {
	DocumentID string          `json:"documentId"`
	Changes    json.RawMessage `json:"changes"`
	Version    int64           `json:"version"`
}
