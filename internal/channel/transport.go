package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one live bidirectional pipe to the server. The manager
// recreates transports freely; subscriptions never live here.
type Transport interface {
	// ReadMessage blocks until the next frame or a terminal read error.
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens transports. Injectable so tests can supply a deterministic
// in-memory pipe instead of a real websocket.
type Dialer interface {
	Dial(ctx context.Context, token string) (Transport, error)
}

const handshakeTimeout = 10 * time.Second

// WebsocketDialer dials the backend's websocket endpoint, passing the
// session token as the auth query parameter the server expects.
type WebsocketDialer struct {
	// URL is the websocket endpoint, e.g. "ws://host/socket".
	URL string
}

// Dial opens a websocket carrying token as the handshake credential.
func (d *WebsocketDialer) Dial(ctx context.Context, token string) (Transport, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse channel url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialer := &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteJSON(v any) error {
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
