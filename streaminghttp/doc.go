// Package streaminghttp implements the MCP streamable HTTP transport. It
// mounts as a standard net/http handler on a single endpoint.
//
// Verbs
//   - POST carries exactly one JSON-RPC message. Requests are answered as
//     application/json, or as a single Server-Sent Event when the client only
//     accepts text/event-stream. Notifications and responses get 202.
//   - GET opens a Server-Sent Events stream of the session's outbound queue
//     (for example notifications/resources/list_changed).
//   - DELETE terminates a session.
//
// # Sessions
//
// In the default stateful mode a session is minted on initialize, announced
// through the Mcp-Session-Id response header and required on every later
// request. Sessions live in a sessions.Registry and each one owns a private
// engine.Server.
//
// In stateless mode (WithStateless) every POST is served by a fresh server
// and an ephemeral session that are released when the request completes.
// GET and DELETE are rejected with 405.
//
// # Errors
//
// Transport failures are written as JSON-RPC error objects with a null id,
// for example {"jsonrpc":"2.0","error":{"code":-32000,"message":"..."},"id":null}.
// A panic while serving is recovered and reported as 500 / -32603 if nothing
// has been written yet.
//
// Example (mount in net/http):
//
//	h := streaminghttp.New(registry, newServer)
//	mux := http.NewServeMux()
//	mux.Handle("/mcp", h)
//	http.ListenAndServe(":3067", mux)
package streaminghttp
