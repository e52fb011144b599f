package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ggoodman/dsp-mcp-go/internal/logctx"
	"github.com/ggoodman/dsp-mcp-go/mcp"
	"github.com/ggoodman/dsp-mcp-go/security"
)

// Option configures an Executor.
type Option func(*Executor)

// WithBaseURL sets the backend base URL every tool path is appended to.
func WithBaseURL(u string) Option {
	return func(e *Executor) { e.baseURL = u }
}

// WithHTTPClient sets the client used for backend calls.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) {
		if c != nil {
			e.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// Executor runs tool invocations.
type Executor struct {
	reg      *Registry
	resolver *security.Resolver
	client   *http.Client
	baseURL  string
	log      *slog.Logger
}

// NewExecutor constructs an Executor. resolver may be nil only when no tool
// declares security requirements.
func NewExecutor(reg *Registry, resolver *security.Resolver, opts ...Option) *Executor {
	e := &Executor{
		reg:      reg,
		resolver: resolver,
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the tools the executor serves.
func (e *Executor) Registry() *Registry { return e.reg }

// Execute runs one invocation. It always returns a content envelope.
func (e *Executor) Execute(ctx context.Context, name string, raw json.RawMessage) *mcp.CallToolResult {
	td, ok := logctx.ToolCall(ctx)
	if !ok || td.ToolName != name {
		td = &logctx.ToolCallData{ToolName: name}
		ctx = logctx.WithToolCallData(ctx, td)
	}
	start := time.Now()

	tool, ok := e.reg.Get(name)
	if !ok {
		e.log.WarnContext(ctx, "tool.execute.unknown")
		return errorResult(fmt.Sprintf("Error: Unknown tool requested: %s", name))
	}
	def := tool.Definition()

	args, err := tool.Validate(raw)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			e.log.InfoContext(ctx, "tool.validate.fail", slog.Int("violations", len(verr.Violations)))
			return errorResult(verr.Error())
		}
		e.log.ErrorContext(ctx, "tool.validate.error", slog.String("err", err.Error()))
		return errorResult(fmt.Sprintf("Internal error during validation setup: %v", err))
	}

	req, err := BuildRequest(def, args)
	if err != nil {
		e.log.ErrorContext(ctx, "tool.build.fail", slog.String("err", err.Error()))
		return setupErrorResult(name)
	}
	td.Operation = strings.ToUpper(def.Method) + " " + def.PathTemplate

	if len(def.Security) > 0 {
		if e.resolver == nil {
			e.log.ErrorContext(ctx, "tool.security.no_resolver")
			return setupErrorResult(name)
		}
		chosen, err := e.resolver.Resolve(def.Security)
		if err != nil {
			e.log.WarnContext(ctx, "tool.security.unsatisfied", slog.String("err", err.Error()))
			var serr *security.SetupError
			if errors.As(err, &serr) {
				return errorResult(serr.Error())
			}
			return setupErrorResult(name)
		}
		td.Security = chosen.String()
		if err := e.resolver.Apply(ctx, chosen, req.Header); err != nil {
			e.log.ErrorContext(ctx, "tool.security.apply_failed", slog.String("err", err.Error()))
			return setupErrorResult(name)
		}
	}

	e.log.InfoContext(ctx, "tool.dispatch.start", slog.String("method", req.Method), slog.String("path", req.Path))
	resp, err := dispatch(ctx, e.client, e.baseURL, req)
	if err != nil {
		var derr *DispatchError
		if !errors.As(err, &derr) {
			derr = &DispatchError{Transport: true, Message: err.Error()}
		}
		e.log.WarnContext(ctx, "tool.dispatch.fail",
			slog.Bool("transport", derr.Transport),
			slog.Int("status", derr.StatusCode),
			slog.Duration("dur", time.Since(start)),
		)
		return errorResult(derr.Error())
	}

	text, ferr := Shape(tool, resp)
	if ferr != nil {
		e.log.WarnContext(ctx, "tool.format.fail", slog.String("err", ferr.Error()))
	}
	e.log.InfoContext(ctx, "tool.execute.ok",
		slog.Int("status", resp.StatusCode),
		slog.Duration("dur", time.Since(start)),
	)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: text}}}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: text}},
		IsError: true,
	}
}

func setupErrorResult(name string) *mcp.CallToolResult {
	return errorResult(fmt.Sprintf("Internal error during tool setup: '%s'", name))
}
