package sessions

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ggoodman/dsp-mcp-go/mcp"
	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned when a session id does not map to a live
	// session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrBadRequest is returned when a request carries no session id and is
	// not allowed to create one.
	ErrBadRequest = errors.New("no valid session id provided")
	// ErrInvalidTransition is returned by Activate for a session that is not
	// pending.
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// Resolution is the outcome of Registry.Resolve.
type Resolution struct {
	// Session is the live session for an existing id. It is nil when IsNew
	// is set: the caller is expected to create one with Begin.
	Session *Session
	IsNew   bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithIDGenerator overrides session id generation. The generator must return
// unguessable values.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// WithOutboundDepth sets the capacity of each session's outbound queue.
func WithOutboundDepth(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.depth = n
		}
	}
}

// Registry maps session ids to live sessions and drives their transitions.
type Registry struct {
	log   *slog.Logger
	newID func() string
	depth int

	mu     sync.RWMutex
	live   map[string]*Session
	closed map[string]struct{}
}

// NewRegistry constructs an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		log:    slog.Default(),
		newID:  uuid.NewString,
		depth:  defaultOutboundDepth,
		live:   make(map[string]*Session),
		closed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve decides how an inbound POST maps onto a session. It never creates
// anything: a Resolution with IsNew set tells the caller to Begin one.
func (r *Registry) Resolve(id string, isInitialize bool) (Resolution, error) {
	if id != "" {
		r.mu.RLock()
		s, ok := r.live[id]
		r.mu.RUnlock()
		if !ok {
			r.log.Debug("session.resolve.miss", slog.String("session_id", id))
			return Resolution{}, ErrSessionNotFound
		}
		return Resolution{Session: s}, nil
	}
	if !isInitialize {
		return Resolution{}, ErrBadRequest
	}
	return Resolution{IsNew: true}, nil
}

// Lookup returns the live session for id. It serves verbs that can never
// create a session (GET streams and DELETE).
func (r *Registry) Lookup(id string) (*Session, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	r.mu.RLock()
	s, ok := r.live[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Begin mints a new session id and constructs a Pending session bound to the
// protocol-server returned by bind. The session is not visible to Resolve
// until Activate succeeds.
func (r *Registry) Begin(bind func(*Session) Binding) *Session {
	var id string
	for {
		id = r.newID()
		r.mu.RLock()
		_, isLive := r.live[id]
		_, wasClosed := r.closed[id]
		r.mu.RUnlock()
		if !isLive && !wasClosed {
			break
		}
	}
	s := newSession(id, r.depth)
	if bind != nil {
		s.binding = bind(s)
	}
	r.log.Debug("session.begin", slog.String("session_id", id))
	return s
}

// Activate records a successful initialize handshake: the session moves from
// Pending to Active and becomes resolvable.
func (r *Registry) Activate(s *Session, protocolVersion string, client mcp.ImplementationInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.live[s.id]; exists {
		return fmt.Errorf("%w: session %s already active", ErrInvalidTransition, s.id)
	}
	if _, wasClosed := r.closed[s.id]; wasClosed {
		return fmt.Errorf("%w: session %s was closed", ErrInvalidTransition, s.id)
	}
	if !s.activate(protocolVersion, client) {
		return fmt.Errorf("%w: session %s is %s", ErrInvalidTransition, s.id, s.State())
	}
	r.live[s.id] = s
	r.log.Info("session.activate.ok",
		slog.String("session_id", s.id),
		slog.String("protocol_version", protocolVersion),
		slog.String("client", client.Name),
	)
	return nil
}

// Abandon discards a Pending session whose handshake failed. It is never
// registered, and its id is retired.
func (r *Registry) Abandon(s *Session) {
	r.mu.Lock()
	if _, isLive := r.live[s.id]; !isLive {
		r.closed[s.id] = struct{}{}
	}
	r.mu.Unlock()
	if s.State() == StatePending {
		s.close()
		r.log.Debug("session.abandon", slog.String("session_id", s.id))
	}
}

// Close transitions the session to Closed and removes it. It reports whether
// this call removed it; closing an absent id is a no-op.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	s, ok := r.live[id]
	if ok {
		delete(r.live, id)
		r.closed[id] = struct{}{}
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.close()
	r.log.Info("session.close.ok", slog.String("session_id", id))
	return true
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

// CloseAll closes every active session.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Close(id)
	}
}
