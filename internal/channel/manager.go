// Package channel maintains the persistent push channel to the backend: one
// logical connection that authorizes with the session token, retries with
// bounded backoff on unexpected drops, and keeps caller subscriptions alive
// across any number of reconnects.
package channel

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the connection lifecycle state.
type State int

const (
	// StateIdle means no transport exists and none is pending.
	StateIdle State = iota
	// StateConnecting means a dial or retry is in flight.
	StateConnecting
	// StateOpen means the transport is live but not yet authorized.
	StateOpen
	// StateAuthorized means the server accepted the handshake credential.
	StateAuthorized
	// StateUnauthorized means the server rejected the credential; terminal
	// until a new token arrives via Connect.
	StateUnauthorized
	// StateErrored means dialing failed; either a retry is pending or the
	// attempt ceiling was reached.
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateAuthorized:
		return "authorized"
	case StateUnauthorized:
		return "unauthorized"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Config tunes reconnect behavior. Zero values get defaults.
type Config struct {
	// BaseDelay is the first retry delay; each attempt doubles it.
	BaseDelay time.Duration
	// MaxDelay caps the per-attempt delay.
	MaxDelay time.Duration
	// MaxAttempts is the consecutive dial-failure ceiling before the
	// manager parks in a terminal errored state.
	MaxAttempts int
}

func (c *Config) defaults() {
	if c.BaseDelay == 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
}

// Manager owns the channel lifecycle. The subscription registry is
// long-lived and caller-owned; transports are short-lived and recreated on
// every connect, so a caller that subscribes once stays subscribed across
// reconnects without re-registering.
type Manager struct {
	cfg    Config
	dialer Dialer
	log    *zap.Logger

	mu        sync.Mutex
	subs      map[Event]Handler
	state     State
	transport Transport
	token     string
	attempt   int
	retry     *time.Timer
	// gen invalidates stale dial goroutines, read loops and retry timers
	// after a teardown; only work tagged with the current gen may mutate
	// the manager.
	gen uint64
}

// NewManager constructs a Manager using dialer for every transport it opens.
func NewManager(dialer Dialer, cfg Config, log *zap.Logger) *Manager {
	cfg.defaults()
	return &Manager{
		cfg:    cfg,
		dialer: dialer,
		log:    log,
		subs:   make(map[Event]Handler),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// On registers handler for event. Takes effect immediately and is retained
// across every future transport. A second On for the same event replaces
// the previous handler.
func (m *Manager) On(event Event, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[event] = handler
}

// Off removes the handler for event, if any.
func (m *Manager) Off(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, event)
}

// Connect tears down any existing channel and opens a new one carrying
// token as the handshake credential. At most one live transport exists at
// any time. Dial failures retry with exponential backoff up to the attempt
// ceiling.
func (m *Manager) Connect(token string) {
	m.mu.Lock()
	m.teardownLocked()
	m.token = token
	m.attempt = 0
	m.state = StateConnecting
	gen := m.gen
	m.mu.Unlock()

	go m.dial(gen)
}

// Disconnect closes the transport if present, cancels any pending retry and
// resets the attempt counter. Safe to call when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.teardownLocked()
	m.attempt = 0
	m.state = StateIdle
	m.mu.Unlock()
	m.log.Info("channel disconnected")
}

// Emit sends one event on the channel if it is currently open; otherwise
// the event is dropped with a warning. Fire-and-forget: delivery
// correctness is the application layer's concern, not the transport's.
func (m *Manager) Emit(event Event, payload any) {
	m.mu.Lock()
	tr := m.transport
	open := m.state == StateOpen || m.state == StateAuthorized
	m.mu.Unlock()

	if !open || tr == nil {
		m.log.Warn("emit dropped: channel not open", zap.String("event", string(event)))
		return
	}

	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			m.log.Warn("emit dropped: encode payload", zap.String("event", string(event)), zap.Error(err))
			return
		}
		data = b
	}
	if err := tr.WriteJSON(envelope{Event: event, Data: data}); err != nil {
		m.log.Warn("emit failed", zap.String("event", string(event)), zap.Error(err))
	}
}

// teardownLocked invalidates pending work and closes the live transport.
// Caller holds m.mu.
func (m *Manager) teardownLocked() {
	m.gen++
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	if m.transport != nil {
		_ = m.transport.Close()
		m.transport = nil
	}
}

// dial opens one transport. On failure it schedules a retry or, past the
// ceiling, parks in a terminal errored state without clearing the session:
// a network partition is not an invalid credential.
func (m *Manager) dial(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	token := m.token
	m.mu.Unlock()

	tr, err := m.dialer.Dial(context.Background(), token)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if err == nil {
			_ = tr.Close()
		}
		return
	}

	if err != nil {
		m.scheduleRetryLocked(gen, err)
		return
	}

	// The attempt counter survives a successful dial; it resets only once
	// the connection proves itself with a first read (see readLoop).
	m.transport = tr
	m.state = StateOpen
	m.mu.Unlock()

	m.log.Info("channel open")
	go m.readLoop(gen, tr)
	m.dispatch(EventConnect, nil)
}

// scheduleRetryLocked counts one failed connection attempt, then either
// parks in the terminal errored state or arms the next dial under the same
// generation. Caller holds m.mu; returns with it released.
func (m *Manager) scheduleRetryLocked(gen uint64, err error) {
	m.attempt++
	attempt := m.attempt
	if attempt >= m.cfg.MaxAttempts {
		m.state = StateErrored
		m.mu.Unlock()
		m.log.Error("channel connect failed; retries exhausted",
			zap.Int("attempts", attempt), zap.Error(err))
		m.dispatch(EventConnectError, nil)
		return
	}
	delay := m.backoffLocked()
	m.state = StateErrored
	m.retry = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.retry = nil
		m.state = StateConnecting
		m.mu.Unlock()
		m.dial(gen)
	})
	m.mu.Unlock()
	m.log.Warn("channel connect failed; will retry",
		zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
}

// backoffLocked computes the delay for the current attempt. Caller holds m.mu.
func (m *Manager) backoffLocked() time.Duration {
	delay := m.cfg.BaseDelay << (m.attempt - 1)
	if delay > m.cfg.MaxDelay || delay <= 0 {
		delay = m.cfg.MaxDelay
	}
	return delay
}

// readLoop consumes frames until the transport dies. An unexpected death
// counts as a failed attempt and goes through the same backoff schedule as a
// refused dial, under the same generation so Disconnect can still cancel it.
func (m *Manager) readLoop(gen uint64, tr Transport) {
	settled := false
	for {
		data, err := tr.ReadMessage()
		if err != nil {
			m.mu.Lock()
			if gen != m.gen {
				// Deliberate teardown; nothing to recover.
				m.mu.Unlock()
				return
			}
			m.transport = nil
			m.state = StateConnecting
			m.mu.Unlock()

			m.log.Warn("channel dropped; reconnecting", zap.Error(err))
			m.dispatch(EventDisconnect, nil)

			m.mu.Lock()
			if gen != m.gen {
				m.mu.Unlock()
				return
			}
			m.scheduleRetryLocked(gen, err)
			return
		}
		if !settled {
			settled = true
			m.mu.Lock()
			if gen == m.gen {
				m.attempt = 0
			}
			m.mu.Unlock()
		}
		m.handleFrame(gen, data)
	}
}

// handleFrame decodes one inbound frame, applies reserved-event state
// transitions, and forwards the event to its subscriber. Malformed frames
// are dropped with a warning; they must never kill the read loop.
func (m *Manager) handleFrame(gen uint64, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		m.log.Warn("malformed channel frame dropped", zap.ByteString("frame", data))
		return
	}

	switch env.Event {
	case EventAuthorized:
		m.mu.Lock()
		if gen == m.gen && m.state == StateOpen {
			m.state = StateAuthorized
		}
		m.mu.Unlock()
		m.log.Info("channel authorized")
	case EventUnauthorized:
		// Credential rejection is terminal: no retry until a new token
		// arrives via Connect. The session store subscribes to this event
		// and forces a logout.
		m.mu.Lock()
		if gen == m.gen {
			m.teardownLocked()
			m.state = StateUnauthorized
		}
		m.mu.Unlock()
		m.log.Warn("channel unauthorized")
	}

	m.dispatch(env.Event, env.Data)
}

// dispatch invokes the registered handler for event, if any, outside the
// manager lock.
func (m *Manager) dispatch(event Event, data json.RawMessage) {
	m.mu.Lock()
	handler := m.subs[event]
	m.mu.Unlock()
	if handler != nil {
		handler(data)
	}
}
