package channel

import "encoding/json"

// Event names the closed set of channel events. Producers and consumers
// share these constants so a mismatched name is a compile-time symbol error,
// not a silently dead subscription.
type Event string

// Inbound events pushed by the server.
const (
	// EventActiveUsers carries a full snapshot of online users.
	EventActiveUsers Event = "active-users"
	// EventUserOnline carries a single user who just came online.
	EventUserOnline Event = "userOnline"
	// EventUserOffline carries the id of a user who went offline.
	EventUserOffline Event = "userOffline"
	// EventNewMessage carries one pushed message.
	EventNewMessage Event = "newMessage"
	// EventAuthorized confirms the handshake credential was accepted.
	EventAuthorized Event = "authorized"
	// EventUnauthorized reports the handshake credential was rejected.
	EventUnauthorized Event = "unauthorized"
)

// Transport lifecycle events, synthesized locally by the manager.
const (
	EventConnect      Event = "connect"
	EventDisconnect   Event = "disconnect"
	EventConnectError Event = "connect_error"
)

// Outbound events the client may emit.
const (
	// EventGetActiveUsers asks the server for a fresh presence snapshot.
	EventGetActiveUsers Event = "getActiveUsers"
)

// Handler consumes one event payload. Handlers run on the channel's read
// goroutine and must not block.
type Handler func(data json.RawMessage)

// envelope is the wire format for every channel frame.
type envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}
