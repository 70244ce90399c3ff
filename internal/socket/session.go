// Package socket owns the realtime connection lifecycle for one
// authenticated session: establishing the transport, detecting loss,
// reconnecting with a bounded backoff budget, and draining the outbound
// intent queue on every connected transition.
package socket

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/kingofdead6/aetherchat/internal/metrics"
	"github.com/kingofdead6/aetherchat/internal/protocol"

	"golang.org/x/sync/singleflight"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Status is the only error-reporting channel for connection failures.
// Reason is human-readable and empty on clean transitions.
type Status struct {
	State  State
	Reason string
}

// wsConn is the subset of the transport the session needs. gorilla's *Conn
// satisfies it; tests substitute their own.
type wsConn interface {
	WriteJSON(v any) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type DialFunc func(ctx context.Context, url string, header http.Header) (wsConn, error)

type Config struct {
	URL    string
	Token  string
	UserID string

	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Dial defaults to a gorilla/websocket dialer.
	Dial DialFunc
}

func (c *Config) withDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 10
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Dial == nil {
		c.Dial = gorillaDial
	}
}

// Session is the single realtime connection of an authenticated session.
type Session struct {
	cfg Config

	mu           sync.Mutex
	conn         wsConn
	state        State
	gen          int // connection generation, stale read loops check it
	attempts     int
	reconnecting bool
	suspended    bool // set by Disconnect, cleared by Connect/Reconnect
	queue        []Intent
	runCtx       context.Context // from the last Connect, drives retries

	handlers  map[string]func(any)
	statusFns []func(Status)
	connectFn []func()

	sf singleflight.Group
}

func New(cfg Config) *Session {
	cfg.withDefaults()
	return &Session{
		cfg:      cfg,
		state:    StateDisconnected,
		handlers: make(map[string]func(any)),
	}
}

// On registers a handler for one inbound event. Handlers run on the read
// loop goroutine and receive the validated typed payload. Registering a
// second handler for the same event replaces the first, which is how the
// client rebinds room-scoped handlers when the active room changes.
func (s *Session) On(event string, fn func(payload any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = fn
}

// OnStatus subscribes to connection status transitions.
func (s *Session) OnStatus(fn func(Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusFns = append(s.statusFns, fn)
}

// OnConnect subscribes to connected transitions, after the session user is
// re-registered and the queue drained. The room tracker uses this to
// recover membership.
func (s *Session) OnConnect(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectFn = append(s.connectFn, fn)
}

// State returns the current transport state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect establishes the transport. Concurrent calls collapse into one
// attempt. A missing credential surfaces through the status signal; Connect
// never returns an error to the caller.
func (s *Session) Connect(ctx context.Context) {
	_, _, _ = s.sf.Do("connect", func() (any, error) {
		s.connect(ctx)
		return nil, nil
	})
}

func (s *Session) connect(ctx context.Context) {
	if s.cfg.Token == "" {
		s.setStatus(StateDisconnected, "no authentication token available, please log in")
		return
	}

	s.mu.Lock()
	if s.state == StateConnected {
		s.mu.Unlock()
		return
	}
	s.suspended = false
	s.runCtx = ctx
	s.mu.Unlock()

	s.setStatus(StateConnecting, "")

	conn, err := s.cfg.Dial(ctx, s.cfg.URL, s.authHeader())
	if err != nil {
		s.setStatus(StateDisconnected, "connection failed: "+err.Error()+", retrying")
		s.scheduleReconnect(ctx)
		return
	}

	s.attach(ctx, conn)
}

// attach installs a freshly dialed transport: registers the session user,
// drains the queue in order, then notifies on-connect subscribers.
func (s *Session) attach(ctx context.Context, conn wsConn) {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = conn
	s.state = StateConnected
	s.attempts = 0
	s.gen++
	gen := s.gen

	if err := s.writeLocked(protocol.EventRegister, s.cfg.UserID); err != nil {
		s.dropConnLocked()
		s.mu.Unlock()
		s.setStatus(StateDisconnected, "disconnected: "+err.Error()+", reconnecting")
		s.scheduleReconnect(ctx)
		return
	}
	if err := s.drainLocked(); err != nil {
		s.mu.Unlock()
		s.setStatus(StateDisconnected, "disconnected: "+err.Error()+", reconnecting")
		s.scheduleReconnect(ctx)
		return
	}
	fns := s.connectFn
	s.mu.Unlock()

	s.setStatus(StateConnected, "")
	for _, fn := range fns {
		fn()
	}

	go s.readLoop(ctx, conn, gen)
}

// Disconnect tears down the transport and suspends automatic reconnection.
// The outbound queue is preserved so a later Connect can drain it.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.suspended = true
	s.dropConnLocked()
	s.mu.Unlock()
	s.setStatus(StateDisconnected, "")
}

// Reconnect forces a disconnect+connect cycle and resets the retry budget.
func (s *Session) Reconnect(ctx context.Context) {
	s.mu.Lock()
	s.attempts = 0
	s.dropConnLocked()
	s.mu.Unlock()
	s.Connect(ctx)
}

// dropConnLocked closes the transport and bumps the generation so the old
// read loop unwinds silently. Callers hold s.mu.
func (s *Session) dropConnLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.state = StateDisconnected
	s.gen++
}

func (s *Session) readLoop(ctx context.Context, conn wsConn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			stale := s.gen != gen
			if !stale {
				s.dropConnLocked()
			}
			suspended := s.suspended
			s.mu.Unlock()

			if stale || suspended || ctx.Err() != nil {
				return
			}
			s.setStatus(StateDisconnected, "disconnected: "+err.Error()+", reconnecting")
			s.scheduleReconnect(ctx)
			return
		}

		s.dispatch(data)
	}
}

func (s *Session) dispatch(data []byte) {
	event, payload, err := protocol.ParseServerEvent(data)
	if err != nil {
		// Malformed payloads are logged and dropped, no state mutation.
		log.Printf("socket: dropping event %q: %v", event, err)
		metrics.EventsTotal.WithLabelValues("dropped").Inc()
		return
	}
	metrics.EventsTotal.WithLabelValues("in").Inc()

	// The broker's generic error event feeds the status signal without
	// changing the transport state.
	if event == protocol.EventError {
		if p, ok := payload.(protocol.ErrorPayload); ok && p.Message != "" {
			s.setStatus(s.State(), p.Message)
		}
	}

	s.mu.Lock()
	fn, ok := s.handlers[event]
	s.mu.Unlock()
	if ok {
		fn(payload)
	}
}

// scheduleReconnect starts the bounded retry loop unless one is already
// running or Disconnect suspended the session.
func (s *Session) scheduleReconnect(ctx context.Context) {
	s.mu.Lock()
	if s.reconnecting || s.suspended {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	go s.reconnectLoop(ctx)
}

func (s *Session) reconnectLoop(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	for {
		s.mu.Lock()
		if s.state == StateConnected || s.suspended {
			s.mu.Unlock()
			return
		}
		if s.attempts >= s.cfg.MaxAttempts {
			s.mu.Unlock()
			s.setStatus(StateDisconnected, "reconnect attempts exhausted, manual reconnect required")
			return
		}
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()

		delay := backoff(attempt, s.cfg.InitialDelay, s.cfg.MaxDelay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.setStatus(StateConnecting, "")
		conn, err := s.cfg.Dial(ctx, s.cfg.URL, s.authHeader())
		if err != nil {
			metrics.Reconnects.WithLabelValues("failure").Inc()
			s.setStatus(StateDisconnected, "connection failed: "+err.Error()+", retrying")
			continue
		}

		metrics.Reconnects.WithLabelValues("success").Inc()
		s.attach(ctx, conn)
		return
	}
}

// backoff doubles the initial delay per attempt, capped at maxDelay.
func backoff(attempt int, initial, maxDelay time.Duration) time.Duration {
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return d
}

func (s *Session) authHeader() http.Header {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.cfg.Token)
	return header
}

func (s *Session) setStatus(state State, reason string) {
	s.mu.Lock()
	s.state = state
	fns := s.statusFns
	s.mu.Unlock()

	st := Status{State: state, Reason: reason}
	for _, fn := range fns {
		fn(st)
	}
}
