package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// defaultDiscoveryRetry is how long a failed discovery is reported without
// contacting the issuer again.
const defaultDiscoveryRetry = 30 * time.Second

// DiscoveryOption configures an IssuerDiscovery.
type DiscoveryOption func(*IssuerDiscovery)

// WithDiscoveryRetry sets how long a failed lookup is remembered.
func WithDiscoveryRetry(d time.Duration) DiscoveryOption {
	return func(id *IssuerDiscovery) { id.retryAfter = d }
}

// WithDiscoveryClock replaces the time source. Tests only.
func WithDiscoveryClock(now func() time.Time) DiscoveryOption {
	return func(id *IssuerDiscovery) {
		if now != nil {
			id.now = now
		}
	}
}

// IssuerDiscovery finds the token endpoint from an OpenID Connect issuer's
// discovery document. A successful lookup is remembered for good. A failed
// one is remembered for the retry window. The network fetch runs without
// holding the lock, so concurrent first callers may each fetch.
type IssuerDiscovery struct {
	issuer     string
	retryAfter time.Duration
	now        func() time.Time

	mu       sync.Mutex
	tokenURL string
	lastErr  error
	failedAt time.Time
}

var _ TokenURLDiscoverer = (*IssuerDiscovery)(nil)

func NewIssuerDiscovery(issuer string, opts ...DiscoveryOption) *IssuerDiscovery {
	d := &IssuerDiscovery{issuer: issuer, retryAfter: defaultDiscoveryRetry, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *IssuerDiscovery) TokenURL(ctx context.Context) (string, error) {
	d.mu.Lock()
	if d.tokenURL != "" {
		u := d.tokenURL
		d.mu.Unlock()
		return u, nil
	}
	if d.lastErr != nil && d.now().Sub(d.failedAt) < d.retryAfter {
		err := d.lastErr
		d.mu.Unlock()
		return "", err
	}
	d.mu.Unlock()

	u, err := d.discover(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.lastErr = err
		d.failedAt = d.now()
		return "", err
	}
	d.tokenURL = u
	d.lastErr = nil
	return u, nil
}

func (d *IssuerDiscovery) discover(ctx context.Context) (string, error) {
	p, err := oidc.NewProvider(ctx, d.issuer)
	if err != nil {
		return "", fmt.Errorf("discover token endpoint for %s: %w", d.issuer, err)
	}
	u := p.Endpoint().TokenURL
	if u == "" {
		return "", fmt.Errorf("issuer %s advertises no token endpoint", d.issuer)
	}
	return u, nil
}
