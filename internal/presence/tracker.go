// Package presence maintains the online-users set. Presence is eventually
// consistent: stale entries are not corrected here, they heal on the next
// snapshot, so the tracker carries no retry logic.
package presence

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/RushangSavaliya/chatwire/internal/model"
)

// Tracker is the authoritative online-set view for the UI. Snapshot events
// replace the set wholesale; delta events add or remove one id and are
// idempotent. Reads and writes may race (channel goroutine vs UI), hence
// the lock.
type Tracker struct {
	log *zap.Logger

	mu     sync.RWMutex
	online map[string]model.User
	// known, when set, rejects ids outside the broader known-users list:
	// presence annotates identities, it never introduces them.
	known func(id string) bool
}

// NewTracker constructs an empty Tracker.
func NewTracker(log *zap.Logger) *Tracker {
	return &Tracker{log: log, online: make(map[string]model.User)}
}

// SetKnownFilter installs the known-users membership check applied to
// snapshot and delta events alike.
func (t *Tracker) SetKnownFilter(known func(id string) bool) {
	t.mu.Lock()
	t.known = known
	t.mu.Unlock()
}

// Replace installs a full snapshot, superseding all prior state.
func (t *Tracker) Replace(users []model.User) {
	t.mu.Lock()
	next := make(map[string]model.User, len(users))
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		if t.known != nil && !t.known(u.ID) {
			t.log.Warn("presence snapshot entry for unknown user dropped", zap.String("id", u.ID))
			continue
		}
		next[u.ID] = u
	}
	t.online = next
	t.mu.Unlock()
	t.log.Debug("presence snapshot applied", zap.Int("online", len(next)))
}

// SetOnline records that user came online. Re-adding a present id is a
// no-op.
func (t *Tracker) SetOnline(u model.User) {
	if u.ID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.known != nil && !t.known(u.ID) {
		t.log.Warn("presence delta for unknown user dropped", zap.String("id", u.ID))
		return
	}
	t.online[u.ID] = u
}

// SetOffline records that the id went offline. Removing an absent id is a
// no-op.
func (t *Tracker) SetOffline(id string) {
	t.mu.Lock()
	delete(t.online, id)
	t.mu.Unlock()
}

// IsOnline reports whether id is currently online.
func (t *Tracker) IsOnline(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[id]
	return ok
}

// Online returns the current set sorted by username for stable display.
func (t *Tracker) Online() []model.User {
	t.mu.RLock()
	users := make([]model.User, 0, len(t.online))
	for _, u := range t.online {
		users = append(users, u)
	}
	t.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// Len returns the number of users currently online.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.online)
}
