// Package stdio implements a single-connection MCP transport over
// stdin/stdout, for running the server as a subprocess of a desktop client.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Auth             : none; the OS user only labels logs
//	Sessions         : exactly one, memory only
//	Transport        : newline-delimited JSON-RPC
//
// Example:
//
//	h := stdio.NewHandler(func() *engine.Server { return engine.New(caps) })
//	if err := h.Serve(ctx); err != nil { log.Fatal(err) }
//
// Logs must go to stderr; stdout carries protocol traffic only.
package stdio
