// Package mcp contains the Model Context Protocol data types and method names
// used by the dsp-mcp server. It mirrors the wire representation of the
// protocol while keeping the surface Go-friendly: exported structs with json
// tags and string constants for method names.
//
// The package holds no transport logic. The streaminghttp and stdio packages
// implement framing and session handling, and the mcpservice package builds
// results out of these types.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "hello"}},
//	}
package mcp
