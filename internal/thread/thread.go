// Package thread merges a one-shot history fetch with the live push stream
// into a single ordered, duplicate-free message sequence per conversation.
package thread

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/RushangSavaliya/chatwire/internal/model"
)

// API is the subset of the REST client a thread depends on. Sending is a
// direct REST call; the channel is push-only.
type API interface {
	Messages(ctx context.Context, token, peerID string) ([]model.Message, error)
	SendMessage(ctx context.Context, token, receiverID, content string) (model.Message, error)
}

// TokenFunc supplies the current session token at call time. The session
// store owns the token; threads only read it.
type TokenFunc func() string

// Thread is the conversation with one peer. Created when the peer is
// selected and abandoned, not torn down, when another peer takes its
// place: Deliver filters by peer, so an abandoned thread simply stops
// receiving.
type Thread struct {
	api    API
	token  TokenFunc
	log    *zap.Logger
	peerID string

	mu       sync.Mutex
	loading  bool
	messages []model.Message
	seen     map[string]struct{}
	// pending queues live messages that arrive while the history fetch is
	// in flight, so none are lost to that race.
	pending []model.Message
}

// New creates a thread for peerID in the loading state. Call Load to run
// the history fetch; Deliver may be called at any time, including before
// Load completes.
func New(api API, token TokenFunc, peerID string, log *zap.Logger) *Thread {
	return &Thread{
		api:     api,
		token:   token,
		log:     log,
		peerID:  peerID,
		loading: true,
		seen:    make(map[string]struct{}),
	}
}

// PeerID returns the conversation peer.
func (t *Thread) PeerID() string { return t.peerID }

// Loading reports whether the history fetch is still outstanding.
func (t *Thread) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading
}

// Load fetches the conversation history and merges it with any live
// messages that arrived in the meantime: union of both sources, no
// duplicate ids, history before queued arrivals. A failed fetch leaves the
// thread empty with loading cleared; retry is a manual re-open.
func (t *Thread) Load(ctx context.Context) error {
	history, err := t.api.Messages(ctx, t.token(), t.peerID)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.loading = false

	if err != nil {
		t.pending = nil
		return fmt.Errorf("load history: %w", err)
	}

	for _, msg := range history {
		t.appendLocked(msg)
	}
	for _, msg := range t.pending {
		t.appendLocked(msg)
	}
	t.pending = nil
	return nil
}

// Deliver feeds one pushed message into the thread. Messages for other
// conversations are ignored; ids already present are discarded silently,
// which absorbs server re-delivery across a reconnect window.
func (t *Thread) Deliver(msg model.Message) {
	if !msg.Involves(t.peerID) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loading {
		t.pending = append(t.pending, msg)
		return
	}
	t.appendLocked(msg)
}

// Send posts a message over REST and appends the canonical server record
// immediately, so the sender sees their own message before any broadcast
// echo; the echo is then deduplicated by id. A failed send leaves the
// thread untouched.
func (t *Thread) Send(ctx context.Context, content string) (model.Message, error) {
	msg, err := t.api.SendMessage(ctx, t.token(), t.peerID, content)
	if err != nil {
		return model.Message{}, fmt.Errorf("send: %w", err)
	}

	t.mu.Lock()
	if t.loading {
		t.pending = append(t.pending, msg)
	} else {
		t.appendLocked(msg)
	}
	t.mu.Unlock()
	return msg, nil
}

// Messages returns a copy of the merged sequence in arrival order.
func (t *Thread) Messages() []model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.Message(nil), t.messages...)
}

// appendLocked appends msg unless its id was already seen. Caller holds
// t.mu.
func (t *Thread) appendLocked(msg model.Message) {
	if msg.ID == "" {
		t.log.Warn("message without id dropped", zap.String("peer", t.peerID))
		return
	}
	if _, dup := t.seen[msg.ID]; dup {
		return
	}
	t.seen[msg.ID] = struct{}{}
	t.messages = append(t.messages, msg)
}
