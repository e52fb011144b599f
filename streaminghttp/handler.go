package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/ggoodman/dsp-mcp-go/internal/engine"
	"github.com/ggoodman/dsp-mcp-go/internal/jsonrpc"
	"github.com/ggoodman/dsp-mcp-go/internal/logctx"
	"github.com/ggoodman/dsp-mcp-go/mcp"
	"github.com/ggoodman/dsp-mcp-go/sessions"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
)

const (
	endpointPath = "/mcp"

	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"

	// maxBodyBytes bounds a single POSTed JSON-RPC message.
	maxBodyBytes = 4 << 20
)

// Messages of transport-level rejections.
const (
	msgSessionNotFound    = "Session not found. Please reinitialize."
	msgNoSessionID        = "Bad Request: No valid session ID provided"
	msgInvalidSessionID   = "Bad Request: Invalid or missing session ID"
	msgStatelessMethod    = "Method not allowed in Lambda stateless mode."
	msgForbiddenHost      = "Forbidden: invalid Host header"
	msgInternal           = "Internal server error"
	msgUnsupportedType    = "Unsupported Media Type: Content-Type must be application/json"
	msgNotAcceptable      = "Not Acceptable: Client must accept application/json or text/event-stream"
	msgBatchUnsupported   = "Invalid Request: batch messages are not supported"
	msgParseError         = "Parse error: invalid JSON"
	msgInvalidInitRequest = "Invalid Request: initialize must be a request"
)

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithStateless serves every POST with a fresh server and ephemeral session.
func WithStateless(stateless bool) Option {
	return func(h *Handler) { h.stateless = stateless }
}

// WithAllowedHosts restricts the accepted Host header values. An empty list
// disables the check. Entries match with or without a port.
func WithAllowedHosts(hosts []string) Option {
	return func(h *Handler) {
		h.allowedHosts = make(map[string]struct{}, len(hosts))
		for _, host := range hosts {
			if host = strings.ToLower(strings.TrimSpace(host)); host != "" {
				h.allowedHosts[host] = struct{}{}
			}
		}
	}
}

// Handler serves the MCP endpoint.
type Handler struct {
	reg       *sessions.Registry
	newServer func() *engine.Server
	log       *slog.Logger

	stateless    bool
	allowedHosts map[string]struct{}

	mux *http.ServeMux
}

// New constructs a Handler. newServer is called once per session (or per
// request in stateless mode) to build the protocol server bound to it.
func New(reg *sessions.Registry, newServer func() *engine.Server, opts ...Option) *Handler {
	h := &Handler{
		reg:       reg,
		newServer: newServer,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	h.mux = http.NewServeMux()
	h.mux.HandleFunc("POST "+endpointPath, h.handlePost)
	h.mux.HandleFunc("GET "+endpointPath, h.handleGet)
	h.mux.HandleFunc("DELETE "+endpointPath, h.handleDelete)
	h.mux.HandleFunc("OPTIONS "+endpointPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Transport:  "http",
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	})
	r = r.WithContext(ctx)
	tw := &trackingWriter{ResponseWriter: w}

	defer func() {
		if v := recover(); v != nil {
			if v == http.ErrAbortHandler {
				panic(v)
			}
			h.log.ErrorContext(ctx, "http.panic", slog.String("err", fmt.Sprint(v)))
			if !tw.wrote {
				writeJSONRPCError(tw, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, msgInternal)
			}
		}
	}()

	tw.Header().Set("Access-Control-Allow-Origin", "*")
	tw.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	tw.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Mcp-Session-Id, Mcp-Protocol-Version, Last-Event-ID")
	tw.Header().Set("Access-Control-Expose-Headers", mcpSessionIDHeader)

	if !h.hostAllowed(r.Host) {
		h.log.WarnContext(ctx, "http.host.forbidden", slog.String("host", r.Host))
		writeJSONRPCError(tw, http.StatusForbidden, jsonrpc.ErrorCodeServerError, msgForbiddenHost)
		return
	}

	h.mux.ServeHTTP(tw, r)
}

func (h *Handler) hostAllowed(host string) bool {
	if len(h.allowedHosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	if _, ok := h.allowedHosts[host]; ok {
		return true
	}
	if bare, _, err := net.SplitHostPort(host); err == nil {
		_, ok := h.allowedHosts[bare]
		return ok
	}
	return false
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		h.log.WarnContext(ctx, "http.post.content_type.unsupported", slog.String("content_type", r.Header.Get("Content-Type")))
		writeJSONRPCError(w, http.StatusUnsupportedMediaType, jsonrpc.ErrorCodeServerError, msgUnsupportedType)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.log.WarnContext(ctx, "http.post.read.fail", slog.String("err", err.Error()))
		writeJSONRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeParseError, msgParseError)
		return
	}
	msg, err := jsonrpc.Parse(body)
	if err != nil {
		if errors.Is(err, jsonrpc.ErrBatchUnsupported) {
			h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
			writeJSONRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest, msgBatchUnsupported)
			return
		}
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		writeJSONRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeParseError, msgParseError)
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: msg.Method, ID: msg.ID.String(), Type: msg.Type()})
	isInitialize := msg.Method == string(mcp.InitializeMethod)

	if h.stateless {
		h.servePostStateless(ctx, w, r, msg, isInitialize)
		h.log.InfoContext(ctx, "http.post.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	res, err := h.reg.Resolve(r.Header.Get(mcpSessionIDHeader), isInitialize)
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound):
		h.log.InfoContext(ctx, "session.resolve.miss")
		writeJSONRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeServerError, msgSessionNotFound)
		return
	case errors.Is(err, sessions.ErrBadRequest):
		h.log.InfoContext(ctx, "session.resolve.no_id", slog.String("method", msg.Method))
		writeJSONRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeServerError, msgNoSessionID)
		return
	case err != nil:
		h.log.ErrorContext(ctx, "session.resolve.fail", slog.String("err", err.Error()))
		writeJSONRPCError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, msgInternal)
		return
	}

	if res.IsNew {
		h.initializeSession(ctx, w, r, msg)
		h.log.InfoContext(ctx, "http.post.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	sess := res.Session
	ctx = logctx.WithSessionData(ctx, sessionData(sess))
	srv, ok := sess.Binding().(*engine.Server)
	if !ok {
		h.log.ErrorContext(ctx, "session.binding.missing")
		writeJSONRPCError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, msgInternal)
		return
	}
	if pv := sess.ProtocolVersion(); pv != "" {
		w.Header().Set(mcpProtocolVersionHeader, pv)
	}
	h.dispatch(ctx, w, r, srv, sess, msg)
	h.log.InfoContext(ctx, "http.post.ok", slog.Duration("dur", time.Since(start)))
}

// initializeSession runs the handshake for a new stateful session. The
// session only becomes resolvable once the handshake succeeds.
func (h *Handler) initializeSession(ctx context.Context, w http.ResponseWriter, r *http.Request, msg *jsonrpc.AnyMessage) {
	req := msg.AsRequest()
	if req == nil || req.IsNotification() {
		writeJSONRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest, msgInvalidInitRequest)
		return
	}
	format, ok := negotiate(r)
	if !ok {
		writeJSONRPCError(w, http.StatusNotAcceptable, jsonrpc.ErrorCodeServerError, msgNotAcceptable)
		return
	}

	srv := h.newServer()
	sess := h.reg.Begin(func(*sessions.Session) sessions.Binding { return srv })
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), State: string(sessions.StatePending)})

	initRes, rpcErr := initialize(ctx, srv, sess, req)
	if rpcErr != nil {
		h.reg.Abandon(sess)
		h.log.InfoContext(ctx, "session.initialize.fail", slog.Int("code", int(rpcErr.Code)))
		writeResponse(ctx, w, format, http.StatusOK, jsonrpc.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data), h.log)
		return
	}

	var params mcp.InitializeRequest
	_ = json.Unmarshal(req.Params, &params)
	if err := h.reg.Activate(sess, initRes.ProtocolVersion, params.ClientInfo); err != nil {
		h.reg.Abandon(sess)
		h.log.ErrorContext(ctx, "session.activate.fail", slog.String("err", err.Error()))
		writeJSONRPCError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, msgInternal)
		return
	}
	srv.Attach(sess)

	resp, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		h.reg.Close(sess.ID())
		writeJSONRPCError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, msgInternal)
		return
	}
	w.Header().Set(mcpSessionIDHeader, sess.ID())
	w.Header().Set(mcpProtocolVersionHeader, initRes.ProtocolVersion)
	writeResponse(ctx, w, format, http.StatusOK, resp, h.log)
	h.log.InfoContext(ctx, "session.initialize.ok")
}

func (h *Handler) servePostStateless(ctx context.Context, w http.ResponseWriter, r *http.Request, msg *jsonrpc.AnyMessage, isInitialize bool) {
	srv := h.newServer()
	sess := sessions.NewEphemeral(uuid.NewString(), func(*sessions.Session) sessions.Binding { return srv })
	defer sess.Release()
	ctx = logctx.WithSessionData(ctx, sessionData(sess))

	if !isInitialize {
		h.dispatch(ctx, w, r, srv, sess, msg)
		return
	}

	req := msg.AsRequest()
	if req == nil || req.IsNotification() {
		writeJSONRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest, msgInvalidInitRequest)
		return
	}
	var resp *jsonrpc.Response
	initRes, rpcErr := initialize(ctx, srv, sess, req)
	if rpcErr != nil {
		resp = jsonrpc.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	} else {
		var err error
		if resp, err = jsonrpc.NewResultResponse(req.ID, initRes); err != nil {
			h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
			writeJSONRPCError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, msgInternal)
			return
		}
		w.Header().Set(mcpProtocolVersionHeader, initRes.ProtocolVersion)
	}
	writeResponse(ctx, w, formatJSON, http.StatusOK, resp, h.log)
}

// dispatch serves a non-initialize message on an active session.
func (h *Handler) dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request, srv *engine.Server, sess *sessions.Session, msg *jsonrpc.AnyMessage) {
	req := msg.AsRequest()
	if req == nil {
		// Client responses carry nothing this server waits for.
		h.log.DebugContext(ctx, "jsonrpc.response.ignored")
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if req.IsNotification() {
		srv.Handle(ctx, sess, req)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	format := formatJSON
	if !h.stateless {
		var ok bool
		if format, ok = negotiate(r); !ok {
			writeJSONRPCError(w, http.StatusNotAcceptable, jsonrpc.ErrorCodeServerError, msgNotAcceptable)
			return
		}
	}
	resp := srv.Handle(ctx, sess, req)
	writeResponse(ctx, w, format, http.StatusOK, resp, h.log)
}

func initialize(ctx context.Context, srv *engine.Server, sess *sessions.Session, req *jsonrpc.Request) (*mcp.InitializeResult, *jsonrpc.Error) {
	var params mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: "Invalid params: " + err.Error()}
		}
	}
	res, err := srv.Initialize(ctx, sess, &params)
	if err != nil {
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) {
			return nil, rpcErr
		}
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInternalError, Message: err.Error()}
	}
	return res, nil
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stateless {
		writeJSONRPCError(w, http.StatusMethodNotAllowed, jsonrpc.ErrorCodeServerError, msgStatelessMethod)
		return
	}
	sess, err := h.reg.Lookup(r.Header.Get(mcpSessionIDHeader))
	if err != nil {
		h.log.InfoContext(ctx, "http.get.session.invalid", slog.String("err", err.Error()))
		writeJSONRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeServerError, msgInvalidSessionID)
		return
	}
	ctx = logctx.WithSessionData(ctx, sessionData(sess))

	if _, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{eventStreamMediaType}); err != nil {
		h.log.WarnContext(ctx, "http.get.not_acceptable", slog.String("accept", r.Header.Get("Accept")))
		writeJSONRPCError(w, http.StatusNotAcceptable, jsonrpc.ErrorCodeServerError, "Not Acceptable: Client must accept text/event-stream")
		return
	}
	f, ok := w.(http.Flusher)
	if !ok {
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		writeJSONRPCError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, msgInternal)
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	if pv := sess.ProtocolVersion(); pv != "" {
		w.Header().Set(mcpProtocolVersionHeader, pv)
	}
	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	wf.Flush()
	h.log.InfoContext(ctx, "sse.stream.start")

	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "sse.stream.client_gone")
			return
		case <-sess.Done():
			h.log.InfoContext(ctx, "sse.stream.session_closed")
			return
		case msg := <-sess.Outbound():
			if err := writeSSEEvent(wf, msg); err != nil {
				h.log.WarnContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
				return
			}
			h.log.DebugContext(ctx, "sse.message.deliver")
		}
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stateless {
		writeJSONRPCError(w, http.StatusMethodNotAllowed, jsonrpc.ErrorCodeServerError, msgStatelessMethod)
		return
	}
	sess, err := h.reg.Lookup(r.Header.Get(mcpSessionIDHeader))
	if err != nil {
		h.log.InfoContext(ctx, "http.delete.session.invalid", slog.String("err", err.Error()))
		writeJSONRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeServerError, msgInvalidSessionID)
		return
	}
	h.reg.Close(sess.ID())
	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), State: string(sessions.StateClosed)}), "http.delete.ok")
}

type responseFormat int

const (
	formatJSON responseFormat = iota
	formatSSE
)

// negotiate picks JSON whenever the client accepts it and falls back to a
// single SSE event for clients that only accept text/event-stream.
func negotiate(r *http.Request) (responseFormat, bool) {
	if _, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{jsonMediaType}); err == nil {
		return formatJSON, true
	}
	if _, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{eventStreamMediaType}); err == nil {
		return formatSSE, true
	}
	return formatJSON, false
}

func writeResponse(ctx context.Context, w http.ResponseWriter, format responseFormat, status int, resp *jsonrpc.Response, log *slog.Logger) {
	b, err := json.Marshal(resp)
	if err != nil {
		log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
		writeJSONRPCError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, msgInternal)
		return
	}
	if format == formatSSE {
		setSSEHeaders(w)
		w.WriteHeader(status)
		f, _ := w.(http.Flusher)
		if err := writeSSEEvent(&lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}, b); err != nil {
			log.WarnContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		}
		return
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	if _, err := w.Write(b); err != nil {
		log.WarnContext(ctx, "rpc.response.write.fail", slog.String("err", err.Error()))
	}
}

// writeJSONRPCError writes a transport-level JSON-RPC error with a null id.
func writeJSONRPCError(w http.ResponseWriter, status int, code jsonrpc.ErrorCode, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(nil, code, msg, nil))
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// lockedWriteFlusher serializes writes and flushes and refuses to write once
// ctx is done.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Flusher == nil || (l.ctx != nil && l.ctx.Err() != nil) {
		return
	}
	l.Flusher.Flush()
}

// writeSSEEvent writes one data-only event and flushes it.
func writeSSEEvent(wf *lockedWriteFlusher, payload []byte) error {
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	if _, err := wf.Write(frame); err != nil {
		return fmt.Errorf("write SSE event: %w", err)
	}
	wf.Flush()
	return nil
}

// trackingWriter records whether the response has been committed.
type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (t *trackingWriter) WriteHeader(status int) {
	t.wrote = true
	t.ResponseWriter.WriteHeader(status)
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	t.wrote = true
	return t.ResponseWriter.Write(p)
}

func (t *trackingWriter) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		t.wrote = true
		f.Flush()
	}
}

func (t *trackingWriter) Unwrap() http.ResponseWriter { return t.ResponseWriter }

func sessionData(sess *sessions.Session) *logctx.SessionData {
	return &logctx.SessionData{SessionID: sess.ID(), State: string(sess.State()), Client: sess.ClientInfo().Name}
}
