// Package logctx carries request-scoped attributes through context.Context and
// adds them to every slog record emitted with that context.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler. Records logged with a context carrying
// request, session, rpc or tool-call data gain a group per kind: req, sess,
// rpc and tool. Empty fields are omitted.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(group("req",
			"id", rd.RequestID,
			"transport", rd.Transport,
			"method", rd.Method,
			"path", rd.Path,
			"remote_addr", rd.RemoteAddr,
		))
	}
	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(group("sess", "id", sd.SessionID, "state", sd.State, "client", sd.Client))
	}
	if msg, ok := ctx.Value(rpcMessageKey{}).(*RPCMessage); ok {
		r.AddAttrs(group("rpc", "method", msg.Method, "id", msg.ID, "type", msg.Type))
	}
	if td, ok := ctx.Value(toolCallDataKey{}).(*ToolCallData); ok {
		r.AddAttrs(group("tool", "name", td.ToolName, "operation", td.Operation, "security", td.Security))
	}
	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

// group builds a slog group from key/value string pairs, skipping empty values.
func group(name string, kv ...string) slog.Attr {
	attrs := make([]any, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			attrs = append(attrs, slog.String(kv[i], kv[i+1]))
		}
	}
	return slog.Group(name, attrs...)
}

type requestDataKey struct{}

// RequestData describes one inbound HTTP request or stdio connection.
type RequestData struct {
	RequestID string
	// Transport is "http" or "stdio".
	Transport  string
	Method     string
	Path       string
	RemoteAddr string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type sessionDataKey struct{}

type SessionData struct {
	SessionID string
	State     string
	// Client is the clientInfo name sent during initialize.
	Client string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type rpcMessageKey struct{}

type RPCMessage struct {
	Method string
	ID     string
	Type   string
}

func WithRPCMessage(ctx context.Context, msg *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcMessageKey{}, msg)
}

type toolCallDataKey struct{}

// ToolCallData follows one tool call through the executor. Operation and
// Security are filled in as the pipeline learns them; Security names the
// chosen requirement and never carries credential values.
type ToolCallData struct {
	ToolName  string
	Operation string
	Security  string
}

func WithToolCallData(ctx context.Context, data *ToolCallData) context.Context {
	return context.WithValue(ctx, toolCallDataKey{}, data)
}

// ToolCall returns the tool-call data carried by ctx, if any.
func ToolCall(ctx context.Context) (*ToolCallData, bool) {
	td, ok := ctx.Value(toolCallDataKey{}).(*ToolCallData)
	return td, ok
}
