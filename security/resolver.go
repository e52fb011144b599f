package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

var (
	// ErrNoSatisfiableRequirement is wrapped by SetupError.
	ErrNoSatisfiableRequirement = errors.New("no satisfiable security requirement")
	// ErrCredentialUnavailable is returned by Apply when a bearer token could
	// not be obtained.
	ErrCredentialUnavailable = errors.New("credential unavailable")
	// ErrUnknownScheme is returned by Apply for a scheme that is not defined.
	ErrUnknownScheme = errors.New("unknown security scheme")
)

// SetupError reports that none of a tool's requirements can be satisfied. Its
// message names the requirement structure and never the missing secrets.
type SetupError struct {
	Requirements []Requirement
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("Tool requires security: %s, but no suitable credentials found.", Describe(e.Requirements))
}

func (e *SetupError) Unwrap() error { return ErrNoSatisfiableRequirement }

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the Resolver's logger.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// Resolver selects and applies security requirements.
type Resolver struct {
	schemes map[string]Scheme
	values  Values
	cache   *CredentialCache
	log     *slog.Logger
}

// NewResolver constructs a Resolver over the defined schemes. The cache is
// used for every OAuth2 scheme and may be shared by several resolvers.
func NewResolver(schemes []Scheme, values Values, cache *CredentialCache, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		schemes: make(map[string]Scheme, len(schemes)),
		values:  values,
		cache:   cache,
		log:     slog.Default(),
	}
	for _, s := range schemes {
		r.schemes[s.Name] = s
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the first requirement, in declaration order, whose schemes
// are all configured. An empty list resolves to a nil Requirement, meaning
// the call proceeds unauthenticated. When nothing is satisfiable the error is
// a *SetupError.
func (r *Resolver) Resolve(reqs []Requirement) (Requirement, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	for _, req := range reqs {
		if r.satisfied(req) {
			return req, nil
		}
	}
	return nil, &SetupError{Requirements: reqs}
}

func (r *Resolver) satisfied(req Requirement) bool {
	for _, ss := range req {
		s, ok := r.schemes[ss.Scheme]
		if !ok {
			return false
		}
		switch s.Kind {
		case KindAPIKey:
			if r.values.apiKey(s.HeaderName) == "" {
				return false
			}
		case KindOAuth2:
			if r.values.ClientID == "" || r.values.ClientSecret == "" {
				return false
			}
			if s.TokenURL == "" && r.values.DefaultTokenURL == "" && r.values.Issuer == "" {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Apply writes the headers for every scheme of req. A bearer token that
// cannot be acquired fails the whole call; the request is never sent
// partially authenticated.
func (r *Resolver) Apply(ctx context.Context, req Requirement, h http.Header) error {
	for _, ss := range req {
		s, ok := r.schemes[ss.Scheme]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownScheme, ss.Scheme)
		}
		switch s.Kind {
		case KindAPIKey:
			h.Set(s.HeaderName, r.values.apiKey(s.HeaderName))
		case KindOAuth2:
			if r.cache == nil {
				return fmt.Errorf("%w: %s: no credential cache", ErrCredentialUnavailable, s.Name)
			}
			tok, ok := r.cache.Acquire(ctx, s.Name, s)
			if !ok {
				r.log.WarnContext(ctx, "security.apply.token_unavailable", slog.String("scheme", s.Name))
				return fmt.Errorf("%w: %s", ErrCredentialUnavailable, s.Name)
			}
			h.Set(s.HeaderName, tok)
		default:
			return fmt.Errorf("%w: %s has kind %q", ErrUnknownScheme, s.Name, s.Kind)
		}
	}
	return nil
}
