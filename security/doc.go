// Package security decides how an outbound backend call is authenticated.
//
// A tool declares an ordered list of Requirements. Each Requirement is a
// conjunction of named Schemes; the Resolver picks the first Requirement whose
// every scheme is configured with the secrets it needs, and Apply writes the
// resulting headers. API-key schemes copy a configured value into their header.
// OAuth2 schemes obtain a bearer token through the CredentialCache, which runs
// a client-credentials exchange on a miss and keeps the token until shortly
// before it expires.
//
// The CredentialCache is an explicit object constructed once per process and
// handed to the Resolver. It does not serialize concurrent misses: two callers
// that observe an expired entry at the same time may both exchange, and the
// later Put wins. Entries are immutable values, so the race only costs a
// redundant token request.
package security
