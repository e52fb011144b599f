package mcpservice

import (
	"context"

	"github.com/ggoodman/dsp-mcp-go/mcp"
	"github.com/ggoodman/dsp-mcp-go/sessions"
)

// ServerOption configures the ServerCapabilities returned by NewServer.
type ServerOption func(*server)

type server struct {
	info         mcp.ImplementationInfo
	instructions *string

	tools     ToolsCapability
	prompts   PromptsCapability
	resources ResourcesCapability
}

// NewServer builds a ServerCapabilities whose capabilities are the same for
// every session.
func NewServer(opts ...ServerOption) ServerCapabilities {
	s := &server{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithServerInfo sets the server info.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(s *server) { s.info = info }
}

// WithInstructions sets instructions returned during initialize.
func WithInstructions(instr string) ServerOption {
	return func(s *server) { s.instructions = &instr }
}

// WithToolsCapability wires the tools capability.
func WithToolsCapability(cap ToolsCapability) ServerOption {
	return func(s *server) { s.tools = cap }
}

// WithPromptsCapability wires the prompts capability.
func WithPromptsCapability(cap PromptsCapability) ServerOption {
	return func(s *server) { s.prompts = cap }
}

// WithResourcesCapability wires the resources capability.
func WithResourcesCapability(cap ResourcesCapability) ServerOption {
	return func(s *server) { s.resources = cap }
}

func (s *server) GetServerInfo(context.Context, *sessions.Session) (mcp.ImplementationInfo, error) {
	return s.info, nil
}

func (s *server) GetInstructions(context.Context, *sessions.Session) (string, bool, error) {
	if s.instructions == nil {
		return "", false, nil
	}
	return *s.instructions, true, nil
}

func (s *server) GetToolsCapability(context.Context, *sessions.Session) (ToolsCapability, bool, error) {
	return s.tools, s.tools != nil, nil
}

func (s *server) GetPromptsCapability(context.Context, *sessions.Session) (PromptsCapability, bool, error) {
	return s.prompts, s.prompts != nil, nil
}

func (s *server) GetResourcesCapability(context.Context, *sessions.Session) (ResourcesCapability, bool, error) {
	return s.resources, s.resources != nil, nil
}
