// Package mcpservice defines the capability interfaces a protocol-server
// instance dispatches against, plus the containers this server uses to fill
// them: the tool executor adapter, static prompts and static resources with
// templates.
//
// Conventions:
//   - Capability discovery methods return (cap, ok, err). A false ok means the
//     capability is not offered to the session; err is reserved for failures
//     while deciding.
//   - Pagination uses Page[T]. A nil cursor requests the first page. Cursors
//     are decimal offsets.
//   - Implementations MUST be safe for concurrent use.
package mcpservice
