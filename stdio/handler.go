package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ggoodman/dsp-mcp-go/internal/engine"
	"github.com/ggoodman/dsp-mcp-go/internal/jsonrpc"
	"github.com/ggoodman/dsp-mcp-go/internal/logctx"
	"github.com/ggoodman/dsp-mcp-go/mcp"
	"github.com/ggoodman/dsp-mcp-go/sessions"
)

// maxLineBytes bounds a single inbound message.
const maxLineBytes = 4 << 20

// ErrAlreadyServing is returned by a second call to Serve.
var ErrAlreadyServing = errors.New("stdio: Serve already called")

// Handler is a single-connection stdio transport that reads newline-delimited
// JSON-RPC messages from an io.Reader and writes responses to an io.Writer.
// By default it uses os.Stdin and os.Stdout.
//
// The handler owns exactly one session. It stays Pending until the peer's
// initialize request succeeds and is closed when Serve returns.
type Handler struct {
	newServer    func() *engine.Server
	r            io.Reader
	w            io.Writer
	l            *slog.Logger
	userProvider UserProvider

	wmu     sync.Mutex
	serving bool
	smu     sync.Mutex
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(newServer func() *engine.Server, opts ...Option) *Handler {
	h := &Handler{
		newServer:    newServer,
		r:            os.Stdin,
		w:            os.Stdout,
		l:            slog.Default(),
		userProvider: OSUserProvider{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Serve runs the event loop until EOF on the reader or ctx is cancelled. EOF
// is a clean shutdown and yields nil. Requests are answered concurrently so
// that notifications/cancelled can reach an in-flight tools/call.
func (h *Handler) Serve(ctx context.Context) error {
	h.smu.Lock()
	if h.serving {
		h.smu.Unlock()
		return ErrAlreadyServing
	}
	h.serving = true
	h.smu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := sessions.NewRegistry(sessions.WithLogger(h.l))
	srv := h.newServer()
	sess := reg.Begin(func(*sessions.Session) sessions.Binding { return srv })
	c := &conn{h: h, reg: reg, srv: srv, sess: sess}
	defer c.close()

	user := "unknown"
	if id, err := h.userProvider.CurrentUserID(); err == nil && id != "" {
		user = id
	}
	ctx = logctx.WithRequestData(ctx, &logctx.RequestData{RequestID: sess.ID(), Transport: "stdio", RemoteAddr: user})
	h.l.InfoContext(ctx, "stdio.serve.start")

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		readErr <- h.readLines(ctx, lines)
	}()

	go c.pumpOutbound(ctx)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			h.l.InfoContext(ctx, "stdio.serve.cancelled")
			return ctx.Err()
		case err := <-readErr:
			if err != nil {
				h.l.ErrorContext(ctx, "stdio.read.fail", slog.String("err", err.Error()))
				return err
			}
			h.l.InfoContext(ctx, "stdio.serve.eof")
			return nil
		case line := <-lines:
			c.handleLine(ctx, &wg, line)
		}
	}
}

// readLines delivers each non-empty line until EOF, which yields nil.
func (h *Handler) readLines(ctx context.Context, out chan<- []byte) error {
	sc := bufio.NewScanner(h.r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for sc.Scan() {
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		line := make([]byte, len(b))
		copy(line, b)
		select {
		case out <- line:
		case <-ctx.Done():
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

// writeJSON encodes v as one line. Responses and notifications share the
// mutex so that lines never interleave.
func (h *Handler) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return h.writeLine(b)
}

func (h *Handler) writeLine(b []byte) error {
	h.wmu.Lock()
	defer h.wmu.Unlock()
	if _, err := h.w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write stdout: %w", err)
	}
	return nil
}

type conn struct {
	h    *Handler
	reg  *sessions.Registry
	srv  *engine.Server
	sess *sessions.Session

	mu          sync.Mutex
	initialized bool
}

func (c *conn) close() {
	c.mu.Lock()
	active := c.initialized
	c.mu.Unlock()
	if active {
		c.reg.Close(c.sess.ID())
		return
	}
	c.reg.Abandon(c.sess)
}

func (c *conn) isInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

func (c *conn) sessionCtx(ctx context.Context) context.Context {
	return logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: c.sess.ID(),
		State:     string(c.sess.State()),
		Client:    c.sess.ClientInfo().Name,
	})
}

func (c *conn) handleLine(ctx context.Context, wg *sync.WaitGroup, line []byte) {
	log := c.h.l
	msg, err := jsonrpc.Parse(line)
	if err != nil {
		if errors.Is(err, jsonrpc.ErrBatchUnsupported) {
			log.WarnContext(ctx, "jsonrpc.batch.forbidden")
			c.writeError(ctx, nil, jsonrpc.ErrorCodeInvalidRequest, "Invalid Request: batch messages are not supported")
			return
		}
		log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		c.writeError(ctx, nil, jsonrpc.ErrorCodeParseError, "Parse error")
		return
	}

	req := msg.AsRequest()
	if req == nil {
		log.DebugContext(ctx, "jsonrpc.response.ignored")
		return
	}
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: msg.Type()})

	if req.Method == string(mcp.InitializeMethod) && !c.isInitialized() {
		c.initialize(ctx, req)
		return
	}

	if !c.isInitialized() && req.Method != string(mcp.PingMethod) {
		if req.IsNotification() {
			log.DebugContext(ctx, "stdio.notification.before_initialize")
			return
		}
		c.writeError(ctx, req.ID, jsonrpc.ErrorCodeInvalidRequest, "Invalid Request: session not initialized")
		return
	}

	if req.IsNotification() {
		c.srv.Handle(c.sessionCtx(ctx), c.sess, req)
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		resp := c.srv.Handle(c.sessionCtx(ctx), c.sess, req)
		if resp == nil {
			return
		}
		if err := c.h.writeJSON(resp); err != nil {
			log.WarnContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
		}
	}()
}

// initialize runs the handshake synchronously so that later lines observe the
// Active session.
func (c *conn) initialize(ctx context.Context, req *jsonrpc.Request) {
	log := c.h.l
	if req.IsNotification() {
		log.WarnContext(ctx, "stdio.initialize.notification")
		return
	}

	var params mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			c.writeError(ctx, req.ID, jsonrpc.ErrorCodeInvalidParams, "Invalid params: "+err.Error())
			return
		}
	}
	res, err := c.srv.Initialize(c.sessionCtx(ctx), c.sess, &params)
	if err != nil {
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) {
			c.writeError(ctx, req.ID, rpcErr.Code, rpcErr.Message)
		} else {
			c.writeError(ctx, req.ID, jsonrpc.ErrorCodeInternalError, err.Error())
		}
		log.InfoContext(ctx, "session.initialize.fail")
		return
	}

	if err := c.reg.Activate(c.sess, res.ProtocolVersion, params.ClientInfo); err != nil {
		log.ErrorContext(ctx, "session.activate.fail", slog.String("err", err.Error()))
		c.writeError(ctx, req.ID, jsonrpc.ErrorCodeInternalError, "Internal error")
		return
	}
	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
	c.srv.Attach(c.sess)

	resp, err := jsonrpc.NewResultResponse(req.ID, res)
	if err != nil {
		log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		c.writeError(ctx, req.ID, jsonrpc.ErrorCodeInternalError, "Internal error")
		return
	}
	if err := c.h.writeJSON(resp); err != nil {
		log.WarnContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
		return
	}
	log.InfoContext(c.sessionCtx(ctx), "session.initialize.ok")
}

// pumpOutbound writes queued server-to-client messages until the session
// closes or ctx ends.
func (c *conn) pumpOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.sess.Done():
			return
		case msg := <-c.sess.Outbound():
			if err := c.h.writeLine(msg); err != nil {
				c.h.l.WarnContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
				return
			}
			c.h.l.DebugContext(ctx, "stdio.message.deliver")
		}
	}
}

func (c *conn) writeError(ctx context.Context, id *jsonrpc.RequestID, code jsonrpc.ErrorCode, msg string) {
	if err := c.h.writeJSON(jsonrpc.NewErrorResponse(id, code, msg, nil)); err != nil {
		c.h.l.WarnContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
	}
}
