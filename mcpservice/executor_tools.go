package mcpservice

import (
	"context"

	"github.com/ggoodman/dsp-mcp-go/mcp"
	"github.com/ggoodman/dsp-mcp-go/sessions"
	"github.com/ggoodman/dsp-mcp-go/toolexec"
)

// ExecutorTools exposes a toolexec.Executor as a ToolsCapability. The tool
// list is fixed, so it is returned in a single page.
type ExecutorTools struct {
	exec *toolexec.Executor
}

var _ ToolsCapability = (*ExecutorTools)(nil)

// NewExecutorTools adapts exec.
func NewExecutorTools(exec *toolexec.Executor) *ExecutorTools {
	return &ExecutorTools{exec: exec}
}

func (t *ExecutorTools) ListTools(_ context.Context, _ *sessions.Session, cursor *string) (Page[mcp.Tool], error) {
	return pageSlice(t.exec.Registry().List(), 0, cursor), nil
}

func (t *ExecutorTools) CallTool(ctx context.Context, _ *sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	return t.exec.Execute(ctx, req.Name, req.Arguments), nil
}
