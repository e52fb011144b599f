package sessions

import (
	"context"
	"errors"
	"sync"

	"github.com/ggoodman/dsp-mcp-go/mcp"
)

// State is the lifecycle state of a Session.
type State string

const (
	StatePending State = "pending"
	StateActive  State = "active"
	StateClosed  State = "closed"
)

var (
	// ErrSessionClosed is returned when sending to a session that has closed.
	ErrSessionClosed = errors.New("session closed")
	// ErrOutboundFull is returned when the outbound queue of a session has no
	// room left, typically because no client is draining it.
	ErrOutboundFull = errors.New("session outbound queue full")
)

const defaultOutboundDepth = 64

// Binding is the protocol-server instance serving one session. It is released
// when the session closes.
type Binding interface {
	Close() error
}

// Session is one logical client connection.
type Session struct {
	id string

	mu              sync.RWMutex
	state           State
	protocolVersion string
	client          mcp.ImplementationInfo

	binding  Binding
	outbound chan []byte
	done     chan struct{}
}

func newSession(id string, depth int) *Session {
	return &Session{
		id:       id,
		state:    StatePending,
		outbound: make(chan []byte, depth),
		done:     make(chan struct{}),
	}
}

// NewEphemeral constructs an Active session that never enters a Registry. The
// caller must call Release once the request it serves completes.
func NewEphemeral(id string, bind func(*Session) Binding) *Session {
	s := newSession(id, 1)
	s.state = StateActive
	s.protocolVersion = mcp.LatestProtocolVersion
	if bind != nil {
		s.binding = bind(s)
	}
	return s
}

// ID returns the opaque session identity.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ProtocolVersion returns the negotiated protocol version. It is empty while
// the session is pending.
func (s *Session) ProtocolVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocolVersion
}

// ClientInfo returns the client implementation info sent during initialize.
func (s *Session) ClientInfo() mcp.ImplementationInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Binding returns the protocol-server instance bound to this session.
func (s *Session) Binding() Binding { return s.binding }

// Outbound yields server-to-client messages queued with Send.
func (s *Session) Outbound() <-chan []byte { return s.outbound }

// Done is closed when the session transitions to Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Send queues a server-to-client message. It never blocks on a slow reader.
func (s *Session) Send(ctx context.Context, msg []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case s.outbound <- msg:
		return nil
	default:
		return ErrOutboundFull
	}
}

// Release closes an ephemeral session and its binding.
func (s *Session) Release() { s.close() }

func (s *Session) activate(protocolVersion string, client mcp.ImplementationInfo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePending {
		return false
	}
	s.state = StateActive
	s.protocolVersion = protocolVersion
	s.client = client
	return true
}

// close transitions to Closed and reports whether this call did so.
func (s *Session) close() bool {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return false
	}
	s.state = StateClosed
	close(s.done)
	s.mu.Unlock()

	if s.binding != nil {
		_ = s.binding.Close()
	}
	return true
}
