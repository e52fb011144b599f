package mcpservice

import (
	"context"
	"errors"

	"github.com/ggoodman/dsp-mcp-go/mcp"
	"github.com/ggoodman/dsp-mcp-go/sessions"
)

var (
	// ErrPromptNotFound is returned by GetPrompt for an unknown prompt name.
	ErrPromptNotFound = errors.New("prompt not found")
	// ErrResourceNotFound is returned by ReadResource for a URI that matches
	// neither a resource nor a template.
	ErrResourceNotFound = errors.New("resource not found")
)

// ServerCapabilities is what a protocol-server instance consults for every
// session it serves.
type ServerCapabilities interface {
	// GetServerInfo returns the implementation info surfaced in the
	// initialize result.
	GetServerInfo(ctx context.Context, session *sessions.Session) (mcp.ImplementationInfo, error)

	// GetInstructions returns optional instructions for the initialize result.
	GetInstructions(ctx context.Context, session *sessions.Session) (instructions string, ok bool, err error)

	GetToolsCapability(ctx context.Context, session *sessions.Session) (cap ToolsCapability, ok bool, err error)
	GetPromptsCapability(ctx context.Context, session *sessions.Session) (cap PromptsCapability, ok bool, err error)
	GetResourcesCapability(ctx context.Context, session *sessions.Session) (cap ResourcesCapability, ok bool, err error)
}

// ToolsCapability lists and invokes tools.
type ToolsCapability interface {
	ListTools(ctx context.Context, session *sessions.Session, cursor *string) (Page[mcp.Tool], error)

	// CallTool invokes a tool. Tool-level failures are reported inside the
	// result with IsError set; an error return is reserved for failures of the
	// capability itself.
	CallTool(ctx context.Context, session *sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)
}

// PromptsCapability lists and materializes prompts.
type PromptsCapability interface {
	ListPrompts(ctx context.Context, session *sessions.Session, cursor *string) (Page[mcp.Prompt], error)
	GetPrompt(ctx context.Context, session *sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error)
}

// ResourcesCapability lists and reads resources.
type ResourcesCapability interface {
	ListResources(ctx context.Context, session *sessions.Session, cursor *string) (Page[mcp.Resource], error)
	ListResourceTemplates(ctx context.Context, session *sessions.Session, cursor *string) (Page[mcp.ResourceTemplate], error)
	ReadResource(ctx context.Context, session *sessions.Session, uri string) ([]mcp.ResourceContents, error)

	// GetListChangedCapability returns a capability that lets the server
	// register for list-changed signals. When ok is false, listChanged is not
	// advertised.
	GetListChangedCapability(ctx context.Context, session *sessions.Session) (cap ResourceListChangedCapability, ok bool, err error)
}

// NotifyResourceChangeFunc is invoked when the resource list changes.
type NotifyResourceChangeFunc func(ctx context.Context, session *sessions.Session)

// ResourceListChangedCapability registers list-changed callbacks. Callbacks
// stop once ctx is done.
type ResourceListChangedCapability interface {
	Register(ctx context.Context, session *sessions.Session, fn NotifyResourceChangeFunc) (ok bool, err error)
}
