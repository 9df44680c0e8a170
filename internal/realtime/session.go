package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"workthread-notify-backend/internal/auth"
)

// State is a point in a session's lifecycle. Sessions only move forward.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateAdmitted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAdmitted:
		return "admitted"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ErrUnauthenticated is returned by Run when the handshake carried no usable
// credential.
var ErrUnauthenticated = errors.New("unauthenticated connection")

// maxInboundMessage bounds client frames; clients have nothing to send but
// control traffic.
const maxInboundMessage = 4096

// Authenticator resolves the identity behind a handshake request.
type Authenticator interface {
	Resolve(ctx context.Context, r *http.Request) auth.Identity
}

// ScopeFunc picks the one group an admitted identity joins.
type ScopeFunc func(id auth.Identity) Group

// SessionConfig tunes the per-connection pumps.
type SessionConfig struct {
	OutboundBuffer int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.OutboundBuffer <= 0 {
		c.OutboundBuffer = 32
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	return c
}

// Session is one live websocket. It belongs to at most one group, from the
// moment it is admitted until it closes.
type Session struct {
	id       string
	conn     *websocket.Conn
	req      *http.Request
	gate     Authenticator
	registry *Registry
	scope    ScopeFunc
	cfg      SessionConfig
	log      zerolog.Logger

	state    atomic.Int32
	identity auth.Identity
	group    Group
	out      chan []byte

	closeOnce sync.Once
}

// NewSession wraps an upgraded connection. r is the handshake request.
func NewSession(conn *websocket.Conn, r *http.Request, gate Authenticator, registry *Registry, scope ScopeFunc, cfg SessionConfig, log zerolog.Logger) *Session {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	return &Session{
		id:       id,
		conn:     conn,
		req:      r,
		gate:     gate,
		registry: registry,
		scope:    scope,
		cfg:      cfg,
		log:      log.With().Str("session", id).Logger(),
		out:      make(chan []byte, cfg.OutboundBuffer),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// Identity is only meaningful once the session has been admitted.
func (s *Session) Identity() auth.Identity { return s.identity }

// Group is zero until the session has been admitted.
func (s *Session) Group() Group { return s.group }

// Offer queues frame for the peer without blocking.
func (s *Session) Offer(frame []byte) bool {
	if s.State() != StateAdmitted {
		return false
	}
	select {
	case s.out <- frame:
		return true
	default:
		return false
	}
}

// Run drives the session to completion. It returns nil when the peer or ctx
// ended an admitted session normally, ErrUnauthenticated when the handshake
// was rejected, and the transport error otherwise. Group membership is
// always released before Run returns.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.close()

	s.state.Store(int32(StateAuthenticating))
	s.identity = s.gate.Resolve(ctx, s.req)
	if !s.identity.Authenticated() {
		s.log.Warn().Str("remote", s.req.RemoteAddr).Msg("rejecting unauthenticated connection")
		s.writeClose(websocket.ClosePolicyViolation, "authentication required")
		return ErrUnauthenticated
	}

	s.group = s.scope(s.identity)
	s.log = s.log.With().Str("group", s.group.String()).Int64("user_id", s.identity.UserID).Logger()
	s.state.Store(int32(StateAdmitted))
	s.registry.Join(s.group, s)
	s.log.Info().Msg("session admitted")

	errc := make(chan error, 2)
	go func() { errc <- s.readPump() }()
	go func() { errc <- s.writePump(ctx) }()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if err == nil || errors.Is(err, context.Canceled) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		s.log.Info().Msg("session ended")
		return nil
	}
	s.log.Debug().Err(err).Msg("session ended with transport error")
	return err
}

// close releases the group membership and the connection. Safe to call at
// any point of the lifecycle, any number of times.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		if !s.group.IsZero() {
			s.registry.Leave(s.group, s)
		}
		s.state.Store(int32(StateClosed))
		s.conn.Close()
	})
}

func (s *Session) writeClose(code int, text string) {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	if err := s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline); err != nil {
		s.log.Debug().Err(err).Msg("close frame not sent")
	}
}

func (s *Session) readPump() error {
	s.conn.SetReadLimit(maxInboundMessage)
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return err
		}
		// Inbound frames carry nothing; chat messages are sent over REST.
	}
}

func (s *Session) writePump(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PongTimeout * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case frame := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-ctx.Done():
			s.writeClose(websocket.CloseGoingAway, "server shutting down")
			return ctx.Err()
		}
	}
}
