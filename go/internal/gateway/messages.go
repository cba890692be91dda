package gateway

import "encoding/json"

// MessageType tags every frame sent to WebSocket clients.
type MessageType string

const (
	MessageSnapshot        MessageType = "snapshot"
	MessageDocumentChanged MessageType = "document_changed"
	MessageServerTime      MessageType = "server_time"
)

// Message is the frame written to clients. ServerTimeMs is stamped when the
// frame is queued; together with ClientTimeMs echoed from a time request a
// client can estimate its offset from the server clock.
type Message struct {
	Type         MessageType     `json:"type"`
	CommitteeID  string          `json:"committee_id,omitempty"`
	DocumentKey  string          `json:"document_key,omitempty"`
	Version      int64           `json:"version,omitempty"`
	ServerTimeMs int64           `json:"server_time_ms"`
	ClientTimeMs int64           `json:"client_time_ms,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// clientMessage is what clients may send. Only "time" is understood.
type clientMessage struct {
	Type         string `json:"type"`
	ClientTimeMs int64  `json:"client_time_ms"`
}
