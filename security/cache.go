package security

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultTokenTTL applies when the token response carries no lifetime.
	DefaultTokenTTL = time.Hour
	// DefaultExpiryMargin is subtracted from every token lifetime so tokens
	// are refreshed before the backend starts rejecting them.
	DefaultExpiryMargin = time.Minute
)

// Entry is a cached bearer credential. Entries are replaced, never modified.
type Entry struct {
	Token  string    `json:"token"`
	Expiry time.Time `json:"expiry"`
}

// Store persists cache entries.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, e Entry) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	m sync.Map // key -> Entry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	v, ok := s.m.Load(key)
	if !ok {
		return Entry{}, false, nil
	}
	return v.(Entry), true, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, e Entry) error {
	s.m.Store(key, e)
	return nil
}

// CacheOption configures a CredentialCache.
type CacheOption func(*CredentialCache)

// WithStore replaces the default in-memory store.
func WithStore(st Store) CacheOption {
	return func(c *CredentialCache) {
		if st != nil {
			c.store = st
		}
	}
}

// WithExchanger replaces the client-credentials exchanger.
func WithExchanger(x TokenExchanger) CacheOption {
	return func(c *CredentialCache) {
		if x != nil {
			c.exchanger = x
		}
	}
}

// WithTokenURLDiscovery sets the fallback used when neither the scheme nor
// the configuration names a token endpoint.
func WithTokenURLDiscovery(d TokenURLDiscoverer) CacheOption {
	return func(c *CredentialCache) { c.discovery = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *CredentialCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *CredentialCache) {
		if l != nil {
			c.log = l
		}
	}
}

// TokenURLDiscoverer resolves a token endpoint at runtime.
type TokenURLDiscoverer interface {
	TokenURL(ctx context.Context) (string, error)
}

// CredentialCache holds bearer tokens keyed by scheme and client identity.
type CredentialCache struct {
	values    Values
	store     Store
	exchanger TokenExchanger
	discovery TokenURLDiscoverer
	now       func() time.Time
	log       *slog.Logger

	exchanges atomic.Int64
}

// NewCredentialCache constructs a cache for the configured client. The API-key
// values in v decorate every token request.
func NewCredentialCache(v Values, opts ...CacheOption) *CredentialCache {
	c := &CredentialCache{
		values:    v,
		store:     NewMemoryStore(),
		exchanger: NewOAuth2Exchanger(nil),
		now:       time.Now,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the cache key for a scheme under the configured client.
func (c *CredentialCache) Key(schemeName string) string {
	return schemeName + "_" + c.values.ClientID
}

// Exchanges returns how many token exchanges this cache has started.
func (c *CredentialCache) Exchanges() int64 { return c.exchanges.Load() }

// Acquire returns a valid token for the scheme, exchanging client credentials
// on a miss. It reports false when the client is not configured, no token
// endpoint is known, or the exchange fails; callers must not proceed
// unauthenticated in that case.
func (c *CredentialCache) Acquire(ctx context.Context, schemeName string, scheme Scheme) (string, bool) {
	if c.values.ClientID == "" || c.values.ClientSecret == "" {
		c.log.ErrorContext(ctx, "credential.acquire.unconfigured", slog.String("scheme", schemeName))
		return "", false
	}

	key := c.Key(schemeName)
	now := c.now()

	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.WarnContext(ctx, "credential.cache.get_failed", slog.String("scheme", schemeName), slog.String("err", err.Error()))
	}
	if ok && now.Before(e.Expiry) {
		c.log.DebugContext(ctx, "credential.cache.hit",
			slog.String("scheme", schemeName),
			slog.Duration("remaining", e.Expiry.Sub(now)),
		)
		return e.Token, true
	}

	tokenURL, err := c.tokenURL(ctx, scheme)
	if err != nil {
		c.log.ErrorContext(ctx, "credential.acquire.no_token_url", slog.String("scheme", schemeName), slog.String("err", err.Error()))
		return "", false
	}

	headers := http.Header{}
	for name, val := range c.values.APIKeys {
		if val != "" {
			headers.Set(name, val)
		}
	}

	c.exchanges.Add(1)
	start := time.Now()
	tok, err := c.exchanger.Exchange(ctx, ExchangeRequest{
		TokenURL:     tokenURL,
		ClientID:     c.values.ClientID,
		ClientSecret: c.values.ClientSecret,
		Headers:      headers,
	})
	if err != nil {
		c.log.ErrorContext(ctx, "credential.exchange.fail",
			slog.String("scheme", schemeName),
			slog.String("err", err.Error()),
			slog.Duration("dur", time.Since(start)),
		)
		return "", false
	}
	if tok == nil || tok.AccessToken == "" {
		c.log.ErrorContext(ctx, "credential.exchange.no_token", slog.String("scheme", schemeName))
		return "", false
	}

	ttl := tok.ExpiresIn
	if ttl <= 0 {
		if exp, ok := jwtExpiry(tok.AccessToken); ok {
			ttl = exp.Sub(now)
		}
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	entry := Entry{Token: tok.AccessToken, Expiry: now.Add(ttl - DefaultExpiryMargin)}
	if err := c.store.Put(ctx, key, entry); err != nil {
		c.log.WarnContext(ctx, "credential.cache.put_failed", slog.String("scheme", schemeName), slog.String("err", err.Error()))
	}

	c.log.InfoContext(ctx, "credential.exchange.ok",
		slog.String("scheme", schemeName),
		slog.Duration("ttl", ttl),
		slog.Duration("dur", time.Since(start)),
	)
	return tok.AccessToken, true
}

func (c *CredentialCache) tokenURL(ctx context.Context, scheme Scheme) (string, error) {
	if scheme.TokenURL != "" {
		return scheme.TokenURL, nil
	}
	if c.values.DefaultTokenURL != "" {
		return c.values.DefaultTokenURL, nil
	}
	if c.discovery != nil {
		return c.discovery.TokenURL(ctx)
	}
	return "", errNoTokenURL
}
