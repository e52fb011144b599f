// Package toolexec turns declarative tool definitions into authenticated
// backend HTTP calls.
//
// Every tool is a value implementing Tool. A Registry holds them in
// declaration order, and an Executor runs one invocation through fixed
// stages:
//
//	validate -> build request -> resolve security -> apply security -> dispatch -> shape
//
// Each stage converts its own failure into a content envelope, so Execute
// always returns a *mcp.CallToolResult for a known tool and never a Go error.
package toolexec
