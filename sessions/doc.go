// Package sessions owns the lifecycle of MCP client sessions for the stateful
// streamable HTTP deployment.
//
// A Session is the server-side half of one logical client connection. It is
// bound to exactly one protocol-server instance for its whole life and moves
// through three states:
//
//	Pending -> Active -> Closed
//
// The Registry is the only owner of the id -> session map and of every state
// transition. Transports drive it with discrete calls:
//
//	res, err := reg.Resolve(id, isInitialize)   // lookup or decide to create
//	s := reg.Begin(bind)                         // Pending, not yet visible
//	err = reg.Activate(s, version, clientInfo)   // handshake succeeded, now visible
//	reg.Close(id)                                // Closed, removed exactly once
//
// A session id is minted only for an initialize request arriving without one,
// and a closed id is never handed out or accepted again.
//
// Stateless deployments bypass the registry with NewEphemeral: the session
// exists for the duration of a single HTTP request and is released with it.
package sessions
