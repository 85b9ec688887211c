package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RushangSavaliya/chatwire/internal/channel"
	"github.com/RushangSavaliya/chatwire/internal/model"
)

// wireFrame mirrors the channel envelope for test pushes.
type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type fakeTransport struct {
	in     chan wireFrame
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes []wireFrame
}

var _ channel.Transport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan wireFrame, 16), closed: make(chan struct{})}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case f := <-t.in:
		return json.Marshal(f)
	case <-t.closed:
		return nil, errors.New("transport closed")
	}
}

func (t *fakeTransport) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var f wireFrame
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	t.mu.Lock()
	t.writes = append(t.writes, f)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) push(event channel.Event, v any) {
	var data json.RawMessage
	if v != nil {
		data, _ = json.Marshal(v)
	}
	t.in <- wireFrame{Event: string(event), Data: data}
}

func (t *fakeTransport) written() []wireFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]wireFrame(nil), t.writes...)
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	tokens     []string
}

var _ channel.Dialer = (*fakeDialer)(nil)

func (d *fakeDialer) Dial(_ context.Context, token string) (channel.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := newFakeTransport()
	d.transports = append(d.transports, t)
	d.tokens = append(d.tokens, token)
	return t, nil
}

func (d *fakeDialer) transportCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) dialedTokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tokens...)
}

func (d *fakeDialer) transportAt(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[i]
}

// testBackend is a minimal REST double for the endpoints the client uses.
func testBackend(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/auth/me":
			if auth != "Bearer good-token" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]model.User{"user": {ID: "me", Username: "alice"}})
		case r.Method == http.MethodPost && r.URL.Path == "/auth/logout":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == "/users":
			_ = json.NewEncoder(w).Encode(map[string][]model.User{"users": {
				{ID: "me", Username: "alice"},
				{ID: "p", Username: "bob"},
			}})
		case r.Method == http.MethodGet && r.URL.Path == "/messages/p":
			_ = json.NewEncoder(w).Encode(map[string][]model.Message{"messages": {
				{ID: "m1", SenderID: "p", ReceiverID: "me", Content: "hi"},
			}})
		case r.Method == http.MethodPost && r.URL.Path == "/messages":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			_ = json.NewEncoder(w).Encode(map[string]model.Message{"message": {
				ID:         uuid.Must(uuid.NewV4()).String(),
				SenderID:   "me",
				ReceiverID: body["receiverId"],
				Content:    body["content"],
			}})
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestClient(t *testing.T, srv *httptest.Server, d *fakeDialer) *Client {
	t.Helper()
	return New(Config{
		BaseURL:    srv.URL,
		StateDir:   t.TempDir(),
		Channel:    channel.Config{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		Dialer:     d,
		HTTPClient: srv.Client(),
	}, zap.NewNop())
}

func waitConnected(t *testing.T, c *Client) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := c.ConnectionState()
		return s == channel.StateOpen || s == channel.StateAuthorized
	}, time.Second, time.Millisecond)
}

func TestLoginConnectsChannelWithToken(t *testing.T) {
	srv := testBackend(t)
	defer srv.Close()
	d := &fakeDialer{}
	c := newTestClient(t, srv, d)

	require.True(t, c.session.Login(context.Background(), "good-token"))
	require.Equal(t, model.StatusAuthenticated, c.Status())
	require.Equal(t, "alice", c.Me().Username)

	waitConnected(t, c)
	require.Equal(t, []string{"good-token"}, d.dialedTokens())
}

func TestLoginWithBadTokenStaysIdle(t *testing.T) {
	srv := testBackend(t)
	defer srv.Close()
	d := &fakeDialer{}
	c := newTestClient(t, srv, d)

	require.False(t, c.session.Login(context.Background(), "bad-token"))
	require.Equal(t, model.StatusRejected, c.Status())
	require.Equal(t, channel.StateIdle, c.ConnectionState())
	require.Zero(t, d.transportCount())
}

func TestPushedMessageReachesSelectedThread(t *testing.T) {
	srv := testBackend(t)
	defer srv.Close()
	d := &fakeDialer{}
	c := newTestClient(t, srv, d)

	require.True(t, c.session.Login(context.Background(), "good-token"))
	waitConnected(t, c)

	// A push before any conversation is open is dropped safely; this one is
	// also for a different peer, so it stays out of the thread regardless.
	d.transportAt(0).push(channel.EventNewMessage, model.Message{ID: "m0", SenderID: "stranger", ReceiverID: "me"})

	require.NoError(t, c.SelectPeer(context.Background(), "p"))
	require.Equal(t, "p", c.Peer())

	d.transportAt(0).push(channel.EventNewMessage, model.Message{ID: "m2", SenderID: "p", ReceiverID: "me", Content: "again"})
	require.Eventually(t, func() bool { return len(c.Messages()) == 2 }, time.Second, time.Millisecond)
	require.Equal(t, "m1", c.Messages()[0].ID)
	require.Equal(t, "m2", c.Messages()[1].ID)
}

func TestSendThenEchoIsDeduplicated(t *testing.T) {
	srv := testBackend(t)
	defer srv.Close()
	d := &fakeDialer{}
	c := newTestClient(t, srv, d)

	require.True(t, c.session.Login(context.Background(), "good-token"))
	waitConnected(t, c)
	require.NoError(t, c.SelectPeer(context.Background(), "p"))

	sent, err := c.Send(context.Background(), "yo")
	require.NoError(t, err)
	require.NotEmpty(t, sent.ID)
	msgs := c.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, sent.ID, msgs[1].ID)

	d.transportAt(0).push(channel.EventNewMessage, sent)
	time.Sleep(10 * time.Millisecond)
	require.Len(t, c.Messages(), 2)
}

func TestPresenceEventsUpdateTracker(t *testing.T) {
	srv := testBackend(t)
	defer srv.Close()
	d := &fakeDialer{}
	c := newTestClient(t, srv, d)

	require.True(t, c.session.Login(context.Background(), "good-token"))
	waitConnected(t, c)

	tr := d.transportAt(0)
	tr.push(channel.EventActiveUsers, []model.User{{ID: "a", Username: "ann"}, {ID: "b", Username: "ben"}})
	require.Eventually(t, func() bool { return c.IsOnline("a") && c.IsOnline("b") }, time.Second, time.Millisecond)

	tr.push(channel.EventUserOffline, "b")
	tr.push(channel.EventUserOnline, model.User{ID: "c", Username: "cam"})
	require.Eventually(t, func() bool {
		return c.IsOnline("a") && !c.IsOnline("b") && c.IsOnline("c")
	}, time.Second, time.Millisecond)
	require.Len(t, c.Online(), 2)
}

func TestSnapshotRequestedOnEveryConnect(t *testing.T) {
	srv := testBackend(t)
	defer srv.Close()
	d := &fakeDialer{}
	c := newTestClient(t, srv, d)

	require.True(t, c.session.Login(context.Background(), "good-token"))
	waitConnected(t, c)

	require.Eventually(t, func() bool {
		w := d.transportAt(0).written()
		return len(w) == 1 && w[0].Event == string(channel.EventGetActiveUsers)
	}, time.Second, time.Millisecond)

	// Drop the transport; the reconnected channel asks again.
	d.transportAt(0).Close()
	require.Eventually(t, func() bool {
		if d.transportCount() < 2 {
			return false
		}
		w := d.transportAt(1).written()
		return len(w) == 1 && w[0].Event == string(channel.EventGetActiveUsers)
	}, time.Second, time.Millisecond)
}

func TestUnauthorizedPushForcesLogout(t *testing.T) {
	srv := testBackend(t)
	defer srv.Close()
	d := &fakeDialer{}
	c := newTestClient(t, srv, d)

	require.True(t, c.session.Login(context.Background(), "good-token"))
	waitConnected(t, c)

	d.transportAt(0).push(channel.EventUnauthorized, nil)
	require.Eventually(t, func() bool {
		return c.Status() == model.StatusAnonymous && c.ConnectionState() == channel.StateIdle
	}, time.Second, time.Millisecond)
	require.Empty(t, c.session.Token())
}

func TestMalformedPayloadsAreDropped(t *testing.T) {
	srv := testBackend(t)
	defer srv.Close()
	d := &fakeDialer{}
	c := newTestClient(t, srv, d)

	require.True(t, c.session.Login(context.Background(), "good-token"))
	waitConnected(t, c)
	require.NoError(t, c.SelectPeer(context.Background(), "p"))

	tr := d.transportAt(0)
	tr.push(channel.EventNewMessage, "not an object")
	tr.push(channel.EventActiveUsers, map[string]string{"not": "an array"})
	tr.push(channel.EventUserOnline, 42)
	tr.push(channel.EventNewMessage, model.Message{ID: "m2", SenderID: "p", ReceiverID: "me"})

	require.Eventually(t, func() bool { return len(c.Messages()) == 2 }, time.Second, time.Millisecond)
	require.Equal(t, channel.StateOpen, c.ConnectionState())
}
