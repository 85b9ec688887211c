// Package client wires the session store, channel manager, presence
// tracker and message synchronizer into the single facade the view layer
// consumes. The view only ever reads snapshots from here; subscriptions are
// registered once for the process lifetime, independent of any view.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/RushangSavaliya/chatwire/internal/api"
	"github.com/RushangSavaliya/chatwire/internal/channel"
	"github.com/RushangSavaliya/chatwire/internal/model"
	"github.com/RushangSavaliya/chatwire/internal/presence"
	"github.com/RushangSavaliya/chatwire/internal/session"
	"github.com/RushangSavaliya/chatwire/internal/thread"
)

// Config collects the endpoints and tunables for a Client.
type Config struct {
	// BaseURL is the REST API root, e.g. "http://host/api".
	BaseURL string
	// SocketURL is the websocket endpoint, e.g. "ws://host/socket".
	SocketURL string
	// StateDir is where the session token is persisted; empty uses the
	// per-user default.
	StateDir string
	// Channel tunes reconnect behavior.
	Channel channel.Config

	// Dialer and HTTPClient are injectable for tests; nil uses the real
	// websocket dialer and a default HTTP client.
	Dialer     channel.Dialer
	HTTPClient *http.Client
}

// Client is the application core behind the UI.
type Client struct {
	api      *api.Client
	channel  *channel.Manager
	session  *session.Store
	presence *presence.Tracker
	log      *zap.Logger

	mu      sync.Mutex
	current *thread.Thread
	users   []model.User
}

// New constructs the fully wired client and registers its process-lifetime
// channel subscriptions.
func New(cfg Config, log *zap.Logger) *Client {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &channel.WebsocketDialer{URL: cfg.SocketURL}
	}

	apiClient := api.New(cfg.BaseURL, cfg.HTTPClient)
	mgr := channel.NewManager(dialer, cfg.Channel, log.Named("channel"))
	store := session.New(apiClient, mgr, session.NewTokenFile(cfg.StateDir), log.Named("session"))
	tracker := presence.NewTracker(log.Named("presence"))

	c := &Client{
		api:      apiClient,
		channel:  mgr,
		session:  store,
		presence: tracker,
		log:      log,
	}
	tracker.SetKnownFilter(c.isKnownUser)
	c.subscribe()
	return c
}

// subscribe registers every channel handler exactly once. The channel
// manager keeps them across reconnects, so nothing here ever re-runs.
func (c *Client) subscribe() {
	c.channel.On(channel.EventNewMessage, func(data json.RawMessage) {
		var msg model.Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.ID == "" {
			c.log.Warn("malformed newMessage payload dropped", zap.Error(err))
			return
		}
		c.mu.Lock()
		current := c.current
		c.mu.Unlock()
		if current != nil {
			current.Deliver(msg)
		}
	})

	c.channel.On(channel.EventActiveUsers, func(data json.RawMessage) {
		var users []model.User
		if err := json.Unmarshal(data, &users); err != nil {
			c.log.Warn("malformed active-users payload dropped", zap.Error(err))
			return
		}
		c.presence.Replace(users)
	})

	c.channel.On(channel.EventUserOnline, func(data json.RawMessage) {
		var u model.User
		if err := json.Unmarshal(data, &u); err != nil || u.ID == "" {
			c.log.Warn("malformed userOnline payload dropped", zap.Error(err))
			return
		}
		c.presence.SetOnline(u)
	})

	c.channel.On(channel.EventUserOffline, func(data json.RawMessage) {
		id, err := decodeUserID(data)
		if err != nil {
			c.log.Warn("malformed userOffline payload dropped", zap.Error(err))
			return
		}
		c.presence.SetOffline(id)
	})

	c.channel.On(channel.EventUnauthorized, func(json.RawMessage) {
		c.session.HandleUnauthorized()
	})

	// Presence self-heals after an outage: every (re)connect asks for a
	// fresh snapshot.
	c.channel.On(channel.EventConnect, func(json.RawMessage) {
		c.channel.Emit(channel.EventGetActiveUsers, nil)
	})
}

// decodeUserID accepts either a bare id string or an identity object, the
// two shapes the server uses for single-id events.
func decodeUserID(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err == nil && id != "" {
		return id, nil
	}
	var obj struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil || obj.ID == "" {
		return "", fmt.Errorf("unrecognized user id payload")
	}
	return obj.ID, nil
}

// Bootstrap resumes a persisted session, if any.
func (c *Client) Bootstrap(ctx context.Context) bool {
	return c.session.Bootstrap(ctx)
}

// Login authenticates with credentials.
func (c *Client) Login(ctx context.Context, usernameOrEmail, password string) bool {
	return c.session.LoginWithPassword(ctx, usernameOrEmail, password)
}

// Register creates a new account; the caller logs in afterwards.
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	return c.api.Register(ctx, username, email, password)
}

// Logout clears the session and drops the selected conversation.
func (c *Client) Logout(ctx context.Context) {
	c.session.Logout(ctx)
	c.mu.Lock()
	c.current = nil
	c.users = nil
	c.mu.Unlock()
}

// Status returns the session status.
func (c *Client) Status() model.Status { return c.session.Status() }

// Me returns the authenticated identity.
func (c *Client) Me() model.User { return c.session.User() }

// ConnectionState returns the channel lifecycle state.
func (c *Client) ConnectionState() channel.State { return c.channel.State() }

// Users fetches and caches the known-users list. The cache backs the
// presence known-id filter and peer lookup by username.
func (c *Client) Users(ctx context.Context) ([]model.User, error) {
	users, err := c.api.Users(ctx, c.session.Token())
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.users = users
	c.mu.Unlock()
	return users, nil
}

// isKnownUser reports membership in the cached known-users list. Before the
// first fetch the filter stays permissive so early presence deltas are not
// lost.
func (c *Client) isKnownUser(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.users) == 0 {
		return true
	}
	for _, u := range c.users {
		if u.ID == id {
			return true
		}
	}
	return false
}

// SelectPeer opens the conversation with peerID, replacing any previously
// selected thread, and runs the history fetch. Live messages arriving
// during the fetch are queued into the merged result.
func (c *Client) SelectPeer(ctx context.Context, peerID string) error {
	th := thread.New(c.api, c.session.Token, peerID, c.log.Named("thread"))
	c.mu.Lock()
	c.current = th
	c.mu.Unlock()

	if err := th.Load(ctx); err != nil {
		return err
	}
	return nil
}

// Peer returns the selected conversation peer id; empty when none.
func (c *Client) Peer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.PeerID()
}

// Messages returns the selected thread's merged sequence; nil when no
// conversation is open.
func (c *Client) Messages() []model.Message {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()
	if current == nil {
		return nil
	}
	return current.Messages()
}

// Send posts content to the selected peer.
func (c *Client) Send(ctx context.Context, content string) (model.Message, error) {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()
	if current == nil {
		return model.Message{}, fmt.Errorf("no conversation selected")
	}
	return current.Send(ctx, content)
}

// Online returns the current presence set.
func (c *Client) Online() []model.User { return c.presence.Online() }

// IsOnline reports whether id is currently online.
func (c *Client) IsOnline(id string) bool { return c.presence.IsOnline(id) }
