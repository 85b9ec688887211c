// Package session owns the authentication token and the authenticated
// user's identity. It is the single source of truth for "are we logged in"
// and the only component allowed to connect or disconnect the channel.
package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/RushangSavaliya/chatwire/internal/errs"
	"github.com/RushangSavaliya/chatwire/internal/model"
)

// API is the subset of the REST client the store depends on.
type API interface {
	Login(ctx context.Context, usernameOrEmail, password string) (string, error)
	Me(ctx context.Context, token string) (model.User, error)
	Logout(ctx context.Context, token string) error
}

// Connector is the channel lifecycle surface the store drives. Satisfied by
// channel.Manager.
type Connector interface {
	Connect(token string)
	Disconnect()
}

// Tokens persists the session token across process restarts.
type Tokens interface {
	Save(token string) error
	Load() (string, error)
	Clear() error
}

// Store is the process-wide session. Login and logout are the only
// mutations; every failure is converted into a status transition rather
// than an error thrown past this boundary.
type Store struct {
	api    API
	conn   Connector
	tokens Tokens
	log    *zap.Logger

	mu     sync.Mutex
	token  string
	user   model.User
	status model.Status
}

// New constructs a Store. The session starts anonymous.
func New(api API, conn Connector, tokens Tokens, log *zap.Logger) *Store {
	return &Store{api: api, conn: conn, tokens: tokens, log: log}
}

// Status returns the current authentication status.
func (s *Store) Status() model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// User returns the authenticated identity; the zero value when anonymous.
func (s *Store) User() model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Token returns the current access token; empty when anonymous.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Login validates token against the backend. On success the token is
// persisted, the identity recorded and the channel connected. On any
// failure the persisted token is cleared, the channel is disconnected and
// the status reflects whether the credential was rejected or the network
// failed. Reports success; never returns an error.
func (s *Store) Login(ctx context.Context, token string) bool {
	s.setStatus(model.StatusAuthenticating)

	user, err := s.api.Me(ctx, token)
	if err != nil {
		status := model.StatusAnonymous
		if errors.Is(err, errs.ErrUnauthorized) {
			status = model.StatusRejected
		}
		s.clearLocal(status)
		s.conn.Disconnect()
		s.log.Warn("login failed", zap.Error(err))
		return false
	}

	if err := s.tokens.Save(token); err != nil {
		// The in-memory session still works; only restart resume is lost.
		s.log.Warn("persist token", zap.Error(err))
	}

	s.mu.Lock()
	s.token = token
	s.user = user
	s.status = model.StatusAuthenticated
	s.mu.Unlock()

	s.log.Info("logged in", zap.String("user", user.Username))
	s.conn.Connect(token)
	return true
}

// LoginWithPassword exchanges credentials for a token, then runs the token
// login path.
func (s *Store) LoginWithPassword(ctx context.Context, usernameOrEmail, password string) bool {
	token, err := s.api.Login(ctx, usernameOrEmail, password)
	if err != nil {
		status := model.StatusAnonymous
		if errors.Is(err, errs.ErrUnauthorized) {
			status = model.StatusRejected
		}
		s.clearLocal(status)
		s.conn.Disconnect()
		s.log.Warn("password login failed", zap.Error(err))
		return false
	}
	return s.Login(ctx, token)
}

// Logout notifies the backend best-effort, clears persisted and in-memory
// state, and disconnects the channel. Idempotent: when already logged out
// it does nothing beyond the cleanup.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	if token != "" {
		if err := s.api.Logout(ctx, token); err != nil {
			// Local logout proceeds regardless.
			s.log.Warn("logout notification failed", zap.Error(err))
		}
	}

	s.clearLocal(model.StatusAnonymous)
	s.conn.Disconnect()
	s.log.Info("logged out")
}

// Bootstrap resumes a previous session from the persisted token, if one
// exists and has not expired. Reports whether a session was resumed.
func (s *Store) Bootstrap(ctx context.Context) bool {
	token, err := s.tokens.Load()
	if err != nil {
		if !errors.Is(err, errs.ErrNoToken) {
			s.log.Warn("load persisted token", zap.Error(err))
		}
		return false
	}
	return s.Login(ctx, token)
}

// HandleUnauthorized treats an asynchronous credential rejection from the
// channel identically to a failed login: it forces a full logout.
func (s *Store) HandleUnauthorized() {
	s.log.Warn("session rejected by server; logging out")
	s.Logout(context.Background())
}

func (s *Store) setStatus(status model.Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// clearLocal wipes the persisted and in-memory credential and parks the
// session in the given status.
func (s *Store) clearLocal(status model.Status) {
	if err := s.tokens.Clear(); err != nil {
		s.log.Warn("clear persisted token", zap.Error(err))
	}
	s.mu.Lock()
	s.token = ""
	s.user = model.User{}
	s.status = status
	s.mu.Unlock()
}
