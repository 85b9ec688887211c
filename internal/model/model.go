// Package model defines domain entities shared by the session, channel and
// message-sync layers.
package model

import "time"

// User is an account known to the backend. The backend owns identity; the
// client only ever reads these records.
type User struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Message is a single direct message. Immutable once received; the
// server-assigned ID and CreatedAt are authoritative for ordering and
// deduplication.
type Message struct {
	ID         string    `json:"_id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Involves reports whether the message belongs to a conversation with peer.
func (m Message) Involves(peerID string) bool {
	return m.SenderID == peerID || m.ReceiverID == peerID
}

// Status is the authentication state of the process-wide session.
type Status int

const (
	// StatusAnonymous means no credential is held.
	StatusAnonymous Status = iota
	// StatusAuthenticating means a token is being validated against the backend.
	StatusAuthenticating
	// StatusAuthenticated means the backend accepted the token.
	StatusAuthenticated
	// StatusRejected means the backend refused the credential.
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusAnonymous:
		return "anonymous"
	case StatusAuthenticating:
		return "authenticating"
	case StatusAuthenticated:
		return "authenticated"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}
