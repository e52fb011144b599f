package security

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var errNoTokenURL = errors.New("no token endpoint configured")

// ExchangeRequest describes one client-credentials token request.
type ExchangeRequest struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	// Headers decorate the token request, alongside the form body.
	Headers http.Header
}

// Token is the result of an exchange. ExpiresIn is zero when the endpoint did
// not report a lifetime.
type Token struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// TokenExchanger performs the client-credentials grant.
type TokenExchanger interface {
	Exchange(ctx context.Context, req ExchangeRequest) (*Token, error)
}

// OAuth2Exchanger exchanges credentials with golang.org/x/oauth2. The client
// id and secret travel in the form body together with
// grant_type=client_credentials.
type OAuth2Exchanger struct {
	client *http.Client
}

var _ TokenExchanger = (*OAuth2Exchanger)(nil)

// NewOAuth2Exchanger returns an exchanger using client, or
// http.DefaultClient when nil.
func NewOAuth2Exchanger(client *http.Client) *OAuth2Exchanger {
	if client == nil {
		client = http.DefaultClient
	}
	return &OAuth2Exchanger{client: client}
}

func (x *OAuth2Exchanger) Exchange(ctx context.Context, req ExchangeRequest) (*Token, error) {
	cfg := clientcredentials.Config{
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		TokenURL:     req.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	base := x.client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc := &http.Client{
		Timeout:   x.client.Timeout,
		Transport: headerTransport{base: base, headers: req.Headers},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)

	tok, err := cfg.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("client credentials exchange: %w", err)
	}

	out := &Token{AccessToken: tok.AccessToken}
	if !tok.Expiry.IsZero() {
		out.ExpiresIn = time.Until(tok.Expiry).Round(time.Second)
	}
	return out, nil
}

type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, vs := range t.headers {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	return t.base.RoundTrip(r)
}

// jwtExpiry reads the exp claim of a JWT access token without verifying it.
// The token is only inspected to schedule a refresh.
func jwtExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
