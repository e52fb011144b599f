package security

import "strings"

// Kind is the authentication mechanism of a Scheme.
type Kind string

const (
	// KindAPIKey sends a configured static value in a header.
	KindAPIKey Kind = "apiKey"
	// KindOAuth2 sends a token obtained with the client-credentials grant.
	KindOAuth2 Kind = "oauth2"
)

// Scheme is a named way of authenticating an outbound call.
type Scheme struct {
	Name       string
	Kind       Kind
	HeaderName string
	// TokenURL is the client-credentials token endpoint. When empty the
	// process-wide default applies.
	TokenURL string
}

// SchemeScopes names one scheme of a Requirement and the scopes it asks for.
// Scopes are descriptive only.
type SchemeScopes struct {
	Scheme string
	Scopes []string
}

// Requirement is a set of schemes that must all be satisfied together.
type Requirement []SchemeScopes

// Require builds a Requirement over the named schemes without scopes.
func Require(schemes ...string) Requirement {
	req := make(Requirement, 0, len(schemes))
	for _, s := range schemes {
		req = append(req, SchemeScopes{Scheme: s})
	}
	return req
}

func (r Requirement) String() string {
	parts := make([]string, 0, len(r))
	for _, s := range r {
		if len(s.Scopes) > 0 {
			parts = append(parts, s.Scheme+" (scopes: "+strings.Join(s.Scopes, ", ")+")")
			continue
		}
		parts = append(parts, s.Scheme)
	}
	return "[" + strings.Join(parts, " AND ") + "]"
}

// Describe renders a disjunction of requirements, for example
// "[A AND B (scopes: x)] OR [C]".
func Describe(reqs []Requirement) string {
	parts := make([]string, 0, len(reqs))
	for _, r := range reqs {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, " OR ")
}

// Values are the configured secrets schemes draw from.
type Values struct {
	// APIKeys holds API-key values keyed by the header they are sent in.
	APIKeys map[string]string

	ClientID     string
	ClientSecret string
	// DefaultTokenURL is used by OAuth2 schemes that declare no TokenURL.
	DefaultTokenURL string
	// Issuer enables token endpoint discovery when no token URL is known.
	Issuer string
}

func (v Values) apiKey(header string) string {
	for k, val := range v.APIKeys {
		if strings.EqualFold(k, header) {
			return val
		}
	}
	return ""
}
