package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/dsp-mcp-go/internal/jsonrpc"
	"github.com/ggoodman/dsp-mcp-go/internal/logctx"
	"github.com/ggoodman/dsp-mcp-go/mcp"
	"github.com/ggoodman/dsp-mcp-go/mcpservice"
	"github.com/ggoodman/dsp-mcp-go/sessions"
)

// Server is the protocol-server instance bound to one session. It answers
// JSON-RPC requests against the configured capabilities and forwards
// list-changed signals to the session's outbound queue.
type Server struct {
	srv mcpservice.ServerCapabilities
	log *slog.Logger

	// ctx bounds background work such as list-changed forwarding. It is
	// cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inflight map[string]context.CancelFunc // RequestID.Key -> cancel
	attached bool
}

var _ sessions.Binding = (*Server)(nil)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// New constructs a Server over caps.
func New(caps mcpservice.ServerCapabilities, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		srv:      caps,
		log:      slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Close stops background work and cancels in-flight tool calls.
func (s *Server) Close() error {
	s.cancel()
	return nil
}

// Initialize runs the initialize handshake. A request without a protocol
// version fails with a *jsonrpc.Error carrying InvalidParams. A supported
// requested version is echoed; anything else negotiates down to the latest.
func (s *Server) Initialize(ctx context.Context, sess *sessions.Session, req *mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	if req == nil || req.ProtocolVersion == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: "Invalid params: protocolVersion is required"}
	}

	version := req.ProtocolVersion
	if !mcp.IsSupportedProtocolVersion(version) {
		s.log.InfoContext(ctx, "engine.initialize.version_fallback", slog.String("requested", version))
		version = mcp.LatestProtocolVersion
	}

	info, err := s.srv.GetServerInfo(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("get server info: %w", err)
	}
	res := &mcp.InitializeResult{ProtocolVersion: version, ServerInfo: info}

	if instr, ok, err := s.srv.GetInstructions(ctx, sess); err != nil {
		return nil, fmt.Errorf("get instructions: %w", err)
	} else if ok {
		res.Instructions = instr
	}

	if cap, ok, err := s.srv.GetToolsCapability(ctx, sess); err != nil {
		return nil, fmt.Errorf("get tools capability: %w", err)
	} else if ok && cap != nil {
		res.Capabilities.Tools = &struct {
			ListChanged bool `json:"listChanged"`
		}{}
	}

	if cap, ok, err := s.srv.GetPromptsCapability(ctx, sess); err != nil {
		return nil, fmt.Errorf("get prompts capability: %w", err)
	} else if ok && cap != nil {
		res.Capabilities.Prompts = &struct {
			ListChanged bool `json:"listChanged"`
		}{}
	}

	if cap, ok, err := s.srv.GetResourcesCapability(ctx, sess); err != nil {
		return nil, fmt.Errorf("get resources capability: %w", err)
	} else if ok && cap != nil {
		entry := &struct {
			ListChanged bool `json:"listChanged"`
			Subscribe   bool `json:"subscribe"`
		}{}
		if lc, hasLC, err := cap.GetListChangedCapability(ctx, sess); err != nil {
			return nil, fmt.Errorf("get resources listChanged capability: %w", err)
		} else if hasLC && lc != nil {
			entry.ListChanged = true
		}
		res.Capabilities.Resources = entry
	}

	s.log.InfoContext(ctx, "engine.initialize.ok",
		slog.String("protocol_version", version),
		slog.String("client", req.ClientInfo.Name),
	)
	return res, nil
}

// Attach starts forwarding resource list-changed signals to sess. It is
// called once the session is active and is idempotent.
func (s *Server) Attach(sess *sessions.Session) {
	s.mu.Lock()
	if s.attached {
		s.mu.Unlock()
		return
	}
	s.attached = true
	s.mu.Unlock()

	cap, ok, err := s.srv.GetResourcesCapability(s.ctx, sess)
	if err != nil || !ok || cap == nil {
		return
	}
	lc, ok, err := cap.GetListChangedCapability(s.ctx, sess)
	if err != nil || !ok || lc == nil {
		return
	}
	_, err = lc.Register(s.ctx, sess, func(ctx context.Context, sess *sessions.Session) {
		msg, err := json.Marshal(jsonrpc.NewNotification(string(mcp.ResourcesListChangedNotificationMethod), nil))
		if err != nil {
			return
		}
		if err := sess.Send(ctx, msg); err != nil {
			s.log.DebugContext(ctx, "engine.notify.drop",
				slog.String("session_id", sess.ID()),
				slog.String("err", err.Error()),
			)
		}
	})
	if err != nil {
		s.log.Warn("engine.attach.fail", slog.String("err", err.Error()))
	}
}

// Handle answers one request or notification. Notifications yield nil.
func (s *Server) Handle(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: msgType(req)})

	if req.IsNotification() {
		s.handleNotification(ctx, req)
		return nil
	}

	start := time.Now()
	res, rpcErr := s.dispatch(ctx, sess, req)
	if rpcErr != nil {
		s.log.InfoContext(ctx, "engine.handle_request.error",
			slog.Int("code", int(rpcErr.Code)),
			slog.Duration("dur", time.Since(start)),
		)
		return jsonrpc.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, res)
	if err != nil {
		s.log.ErrorContext(ctx, "engine.handle_request.encode_fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error", nil)
	}
	s.log.DebugContext(ctx, "engine.handle_request.ok", slog.Duration("dur", time.Since(start)))
	return resp
}

func msgType(req *jsonrpc.Request) string {
	if req.IsNotification() {
		return "notification"
	}
	return "request"
}

func (s *Server) handleNotification(ctx context.Context, req *jsonrpc.Request) {
	switch req.Method {
	case string(mcp.InitializedNotificationMethod):
		s.log.DebugContext(ctx, "engine.notification.initialized")
	case string(mcp.CancelledNotificationMethod):
		var params struct {
			RequestID *jsonrpc.RequestID `json:"requestId"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || params.RequestID.IsNil() {
			return
		}
		s.mu.Lock()
		cancel := s.inflight[params.RequestID.Key()]
		s.mu.Unlock()
		if cancel != nil {
			cancel()
			s.log.InfoContext(ctx, "engine.notification.cancelled", slog.String("request_id", params.RequestID.String()))
		}
	default:
		s.log.DebugContext(ctx, "engine.notification.ignored")
	}
}

func (s *Server) dispatch(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	switch req.Method {
	case string(mcp.PingMethod):
		return &mcp.EmptyResult{}, nil
	case string(mcp.ToolsListMethod):
		return s.toolsList(ctx, sess, req)
	case string(mcp.ToolsCallMethod):
		return s.toolsCall(ctx, sess, req)
	case string(mcp.PromptsListMethod):
		return s.promptsList(ctx, sess, req)
	case string(mcp.PromptsGetMethod):
		return s.promptsGet(ctx, sess, req)
	case string(mcp.ResourcesListMethod):
		return s.resourcesList(ctx, sess, req)
	case string(mcp.ResourcesTemplatesListMethod):
		return s.resourceTemplatesList(ctx, sess, req)
	case string(mcp.ResourcesReadMethod):
		return s.resourcesRead(ctx, sess, req)
	case string(mcp.InitializeMethod):
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidRequest, Message: "Invalid Request: session already initialized"}
	}
	return nil, methodNotFound(req.Method)
}

func methodNotFound(method string) *jsonrpc.Error {
	return &jsonrpc.Error{Code: jsonrpc.ErrorCodeMethodNotFound, Message: "Method not found: " + method}
}

func invalidParams(err error) *jsonrpc.Error {
	return &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: "Invalid params: " + err.Error()}
}

func internalError(err error) *jsonrpc.Error {
	return &jsonrpc.Error{Code: jsonrpc.ErrorCodeInternalError, Message: err.Error()}
}

// decodeParams unmarshals optional params into v.
func decodeParams(req *jsonrpc.Request, v any) *jsonrpc.Error {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return invalidParams(err)
	}
	return nil
}

func cursorOf(c string) *string {
	if c == "" {
		return nil
	}
	return &c
}

func nextCursor(c *string) string {
	if c == nil {
		return ""
	}
	return *c
}

func (s *Server) toolsCap(ctx context.Context, sess *sessions.Session, method string) (mcpservice.ToolsCapability, *jsonrpc.Error) {
	cap, ok, err := s.srv.GetToolsCapability(ctx, sess)
	if err != nil {
		s.log.ErrorContext(ctx, "engine.capability.fail", slog.String("err", err.Error()))
		return nil, internalError(err)
	}
	if !ok || cap == nil {
		return nil, methodNotFound(method)
	}
	return cap, nil
}

func (s *Server) toolsList(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	var params mcp.ListToolsRequest
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	cap, rpcErr := s.toolsCap(ctx, sess, req.Method)
	if rpcErr != nil {
		return nil, rpcErr
	}
	page, err := cap.ListTools(ctx, sess, cursorOf(params.Cursor))
	if err != nil {
		return nil, internalError(err)
	}
	res := &mcp.ListToolsResult{Tools: page.Items}
	res.NextCursor = nextCursor(page.NextCursor)
	return res, nil
}

func (s *Server) toolsCall(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	var params mcp.CallToolRequestReceived
	if len(req.Params) == 0 {
		return nil, invalidParams(errors.New("missing params"))
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, invalidParams(err)
	}
	if params.Name == "" {
		return nil, invalidParams(errors.New("missing tool name"))
	}
	cap, rpcErr := s.toolsCap(ctx, sess, req.Method)
	if rpcErr != nil {
		return nil, rpcErr
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})
	callCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	id := req.ID.Key()
	s.mu.Lock()
	s.inflight[id] = cancel
	s.mu.Unlock()
	defer func() {
		stop()
		cancel()
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
	}()

	res, err := cap.CallTool(callCtx, sess, &params)
	if err != nil {
		s.log.ErrorContext(ctx, "engine.tools_call.fail", slog.String("err", err.Error()))
		return nil, internalError(err)
	}
	return res, nil
}

func (s *Server) promptsCap(ctx context.Context, sess *sessions.Session, method string) (mcpservice.PromptsCapability, *jsonrpc.Error) {
	cap, ok, err := s.srv.GetPromptsCapability(ctx, sess)
	if err != nil {
		return nil, internalError(err)
	}
	if !ok || cap == nil {
		return nil, methodNotFound(method)
	}
	return cap, nil
}

func (s *Server) promptsList(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	var params mcp.ListPromptsRequest
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	cap, rpcErr := s.promptsCap(ctx, sess, req.Method)
	if rpcErr != nil {
		return nil, rpcErr
	}
	page, err := cap.ListPrompts(ctx, sess, cursorOf(params.Cursor))
	if err != nil {
		return nil, internalError(err)
	}
	res := &mcp.ListPromptsResult{Prompts: page.Items}
	res.NextCursor = nextCursor(page.NextCursor)
	return res, nil
}

func (s *Server) promptsGet(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	var params mcp.GetPromptRequestReceived
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	cap, rpcErr := s.promptsCap(ctx, sess, req.Method)
	if rpcErr != nil {
		return nil, rpcErr
	}
	res, err := cap.GetPrompt(ctx, sess, &params)
	switch {
	case errors.Is(err, mcpservice.ErrPromptNotFound), errors.Is(err, mcpservice.ErrMissingPromptArgument):
		return nil, invalidParams(err)
	case err != nil:
		return nil, internalError(err)
	}
	return res, nil
}

func (s *Server) resourcesCap(ctx context.Context, sess *sessions.Session, method string) (mcpservice.ResourcesCapability, *jsonrpc.Error) {
	cap, ok, err := s.srv.GetResourcesCapability(ctx, sess)
	if err != nil {
		return nil, internalError(err)
	}
	if !ok || cap == nil {
		return nil, methodNotFound(method)
	}
	return cap, nil
}

func (s *Server) resourcesList(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	var params mcp.ListResourcesRequest
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	cap, rpcErr := s.resourcesCap(ctx, sess, req.Method)
	if rpcErr != nil {
		return nil, rpcErr
	}
	page, err := cap.ListResources(ctx, sess, cursorOf(params.Cursor))
	if err != nil {
		return nil, internalError(err)
	}
	res := &mcp.ListResourcesResult{Resources: page.Items}
	res.NextCursor = nextCursor(page.NextCursor)
	return res, nil
}

func (s *Server) resourceTemplatesList(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	var params mcp.ListResourceTemplatesRequest
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	cap, rpcErr := s.resourcesCap(ctx, sess, req.Method)
	if rpcErr != nil {
		return nil, rpcErr
	}
	page, err := cap.ListResourceTemplates(ctx, sess, cursorOf(params.Cursor))
	if err != nil {
		return nil, internalError(err)
	}
	res := &mcp.ListResourceTemplatesResult{ResourceTemplates: page.Items}
	res.NextCursor = nextCursor(page.NextCursor)
	return res, nil
}

func (s *Server) resourcesRead(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	var params mcp.ReadResourceRequest
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if params.URI == "" {
		return nil, invalidParams(errors.New("missing uri"))
	}
	cap, rpcErr := s.resourcesCap(ctx, sess, req.Method)
	if rpcErr != nil {
		return nil, rpcErr
	}
	contents, err := cap.ReadResource(ctx, sess, params.URI)
	switch {
	case errors.Is(err, mcpservice.ErrResourceNotFound):
		return nil, invalidParams(err)
	case err != nil:
		return nil, internalError(err)
	}
	return &mcp.ReadResourceResult{Contents: contents}, nil
}
