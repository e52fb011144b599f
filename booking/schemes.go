package booking

import "github.com/ggoodman/dsp-mcp-go/security"

// Security scheme names declared by the booking API.
const (
	SchemeAPIToken        = "HeaderApiToken"
	SchemeSubscriptionKey = "HeaderApimSubscriptionKey"
	SchemeAPIVersion      = "HeaderApiVersion"
)

// Header names the schemes are sent in.
const (
	HeaderAPIToken        = "Api-Token"
	HeaderSubscriptionKey = "Ocp-Apim-Subscription-Key"
	HeaderAPIVersion      = "Api-Version"
)

// Schemes returns the security schemes of the booking API. The token scheme
// declares no token URL of its own; the configured default or the issuer's
// discovered endpoint is used.
func Schemes() []security.Scheme {
	return []security.Scheme{
		{Name: SchemeAPIToken, Kind: security.KindOAuth2, HeaderName: HeaderAPIToken},
		{Name: SchemeSubscriptionKey, Kind: security.KindAPIKey, HeaderName: HeaderSubscriptionKey},
		{Name: SchemeAPIVersion, Kind: security.KindAPIKey, HeaderName: HeaderAPIVersion},
	}
}

// bookingSecurity is the single requirement every booking tool declares.
func bookingSecurity() []security.Requirement {
	return []security.Requirement{
		security.Require(SchemeAPIToken, SchemeSubscriptionKey, SchemeAPIVersion),
	}
}
