package streaminghttp_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ggoodman/dsp-mcp-go/internal/engine"
	"github.com/ggoodman/dsp-mcp-go/internal/logctx"
	"github.com/ggoodman/dsp-mcp-go/mcp"
	"github.com/ggoodman/dsp-mcp-go/mcpservice"
	"github.com/ggoodman/dsp-mcp-go/security"
	"github.com/ggoodman/dsp-mcp-go/sessions"
	"github.com/ggoodman/dsp-mcp-go/streaminghttp"
	"github.com/ggoodman/dsp-mcp-go/toolexec"
)

type echoArgs struct {
	Word string `json:"word" jsonschema:"minLength=1"`
}

type fixture struct {
	reg       *sessions.Registry
	resources *mcpservice.StaticResources
	url       string
}

func newFixture(t *testing.T, opts ...streaminghttp.Option) *fixture {
	t.Helper()
	log := slog.New(testLogHandler(t))

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": r.URL.Query().Get("word")})
	}))
	t.Cleanup(backend.Close)

	tool := toolexec.MustNew[echoArgs](toolexec.Definition{
		Name:         "echo",
		Description:  "Echo a word",
		Method:       "get",
		PathTemplate: "/echo",
		Parameters:   []toolexec.Parameter{{Name: "word", In: toolexec.InQuery}},
	}, nil)
	toolReg, err := toolexec.NewRegistry(tool)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	exec := toolexec.NewExecutor(toolReg, security.NewResolver(nil, security.Values{}, nil),
		toolexec.WithBaseURL(backend.URL), toolexec.WithLogger(log))

	resources, err := mcpservice.NewStaticResources(
		[]mcp.Resource{{URI: "test://hello", Name: "hello", MimeType: "text/plain"}},
		map[string][]mcp.ResourceContents{"test://hello": {{URI: "test://hello", MimeType: "text/plain", Text: "hi"}}},
	)
	if err != nil {
		t.Fatalf("resources: %v", err)
	}
	caps := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "dsp-mcp", Version: "0.1.0"}),
		mcpservice.WithToolsCapability(mcpservice.NewExecutorTools(exec)),
		mcpservice.WithResourcesCapability(resources),
	)

	reg := sessions.NewRegistry(sessions.WithLogger(log))
	t.Cleanup(reg.CloseAll)
	h := streaminghttp.New(reg, func() *engine.Server { return engine.New(caps, engine.WithLogger(log)) },
		append([]streaminghttp.Option{streaminghttp.WithLogger(log)}, opts...)...)

	mux := http.NewServeMux()
	mux.Handle("/mcp", h)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &fixture{reg: reg, resources: resources, url: srv.URL + "/mcp"}
}

func (f *fixture) post(t *testing.T, sessionID, body string, header ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"raw","version":"0"}}}`

func (f *fixture) initialize(t *testing.T) string {
	t.Helper()
	res := f.post(t, "", initializeBody)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("initialize: status %d", res.StatusCode)
	}
	id := res.Header.Get("Mcp-Session-Id")
	if id == "" {
		t.Fatal("initialize: no session id")
	}
	return id
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	ID json.RawMessage `json:"id"`
}

func decodeEnvelope(t *testing.T, res *http.Response) rpcEnvelope {
	t.Helper()
	var env rpcEnvelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func expectTransportError(t *testing.T, res *http.Response, status, code int, message string) {
	t.Helper()
	if res.StatusCode != status {
		t.Fatalf("status: want %d got %d", status, res.StatusCode)
	}
	env := decodeEnvelope(t, res)
	if env.Error == nil {
		t.Fatal("expected an error object")
	}
	if env.Error.Code != code || env.Error.Message != message {
		t.Fatalf("error: want %d %q got %d %q", code, message, env.Error.Code, env.Error.Message)
	}
	if string(env.ID) != "null" {
		t.Fatalf("id: want null got %s", env.ID)
	}
}

func TestSDKClientRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := sdk.NewClient(&sdk.Implementation{Name: "e2e", Version: "0.0.0"}, &sdk.ClientOptions{})
	cs, err := client.Connect(ctx, &sdk.StreamableClientTransport{Endpoint: f.url}, &sdk.ClientSessionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cs.Close()

	if want, got := "dsp-mcp", cs.InitializeResult().ServerInfo.Name; want != got {
		t.Fatalf("server name: want %q got %q", want, got)
	}

	lt, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(lt.Tools) != 1 || lt.Tools[0].Name != "echo" {
		t.Fatalf("unexpected tools: %+v", lt.Tools)
	}

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{Name: "echo", Arguments: map[string]any{"word": "hello"}})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %+v", res.Content)
	}
	text, ok := res.Content[0].(*sdk.TextContent)
	if !ok {
		t.Fatalf("unexpected content %T", res.Content[0])
	}
	if !strings.Contains(text.Text, `"echo": "hello"`) {
		t.Fatalf("unexpected text: %s", text.Text)
	}

	bad, err := cs.CallTool(ctx, &sdk.CallToolParams{Name: "echo", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if !bad.IsError {
		t.Fatal("expected validation failure to be reported in-band")
	}

	rr, err := cs.ReadResource(ctx, &sdk.ReadResourceParams{URI: "test://hello"})
	if err != nil {
		t.Fatalf("read resource: %v", err)
	}
	if len(rr.Contents) != 1 || rr.Contents[0].Text != "hi" {
		t.Fatalf("unexpected contents: %+v", rr.Contents)
	}

	if want, got := 1, f.reg.Count(); want != got {
		t.Fatalf("sessions: want %d got %d", want, got)
	}
}

func TestPostSessionErrors(t *testing.T) {
	f := newFixture(t)

	t.Run("missing session id", func(t *testing.T) {
		res := f.post(t, "", `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
		expectTransportError(t, res, http.StatusBadRequest, -32000, "Bad Request: No valid session ID provided")
	})

	t.Run("unknown session id", func(t *testing.T) {
		res := f.post(t, "nope", `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
		expectTransportError(t, res, http.StatusBadRequest, -32000, "Session not found. Please reinitialize.")
	})

	t.Run("batch", func(t *testing.T) {
		res := f.post(t, "", `[`+initializeBody+`]`)
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("status: want 400 got %d", res.StatusCode)
		}
		if env := decodeEnvelope(t, res); env.Error == nil || env.Error.Code != -32600 {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	})

	t.Run("content type", func(t *testing.T) {
		res := f.post(t, "", initializeBody, "Content-Type", "text/plain")
		if res.StatusCode != http.StatusUnsupportedMediaType {
			t.Fatalf("status: want 415 got %d", res.StatusCode)
		}
	})

	t.Run("missing protocol version", func(t *testing.T) {
		res := f.post(t, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"capabilities":{},"clientInfo":{"name":"raw","version":"0"}}}`)
		if res.Header.Get("Mcp-Session-Id") != "" {
			t.Fatal("failed handshake must not mint a session")
		}
		if env := decodeEnvelope(t, res); env.Error == nil || env.Error.Code != -32602 {
			t.Fatalf("unexpected envelope: %+v", env)
		}
		if f.reg.Count() != 0 {
			t.Fatalf("sessions: %d", f.reg.Count())
		}
	})
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	id := f.initialize(t)

	res := f.post(t, id, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("notification: want 202 got %d", res.StatusCode)
	}

	res = f.post(t, id, `{"jsonrpc":"2.0","id":"p","method":"ping"}`)
	if env := decodeEnvelope(t, res); env.Error != nil || string(env.ID) != `"p"` {
		t.Fatalf("ping: %+v", env)
	}

	res = f.post(t, id, initializeBody)
	if env := decodeEnvelope(t, res); env.Error == nil || env.Error.Code != -32600 {
		t.Fatalf("repeat initialize: %+v", env)
	}

	req, _ := http.NewRequest(http.MethodDelete, f.url, nil)
	req.Header.Set("Mcp-Session-Id", id)
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = del.Body.Close()
	if del.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: want 204 got %d", del.StatusCode)
	}

	res = f.post(t, id, `{"jsonrpc":"2.0","id":3,"method":"ping"}`)
	expectTransportError(t, res, http.StatusBadRequest, -32000, "Session not found. Please reinitialize.")

	del, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer del.Body.Close()
	expectTransportError(t, del, http.StatusBadRequest, -32000, "Bad Request: Invalid or missing session ID")
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSessionLogsCarryClientName(t *testing.T) {
	var out lockedBuffer
	log := slog.New(logctx.Handler{Handler: slog.NewTextHandler(&out, nil)})
	f := newFixture(t, streaminghttp.WithLogger(log))
	id := f.initialize(t)

	res := f.post(t, id, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	if env := decodeEnvelope(t, res); env.Error != nil {
		t.Fatalf("ping: %+v", env)
	}
	got := out.String()
	for _, want := range []string{"sess.id=" + id, "sess.state=active", "sess.client=raw"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in logs:\n%s", want, got)
		}
	}
}

func TestGetStreamsListChanged(t *testing.T) {
	f := newFixture(t)
	id := f.initialize(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Mcp-Session-Id", id)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get: status %d", res.StatusCode)
	}

	f.resources.Replace(context.Background(), nil, nil)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(res.Body)
		for sc.Scan() {
			if line := sc.Text(); strings.HasPrefix(line, "data: ") {
				lines <- strings.TrimPrefix(line, "data: ")
			}
		}
		close(lines)
	}()

	select {
	case line, ok := <-lines:
		if !ok {
			t.Fatal("stream closed before any event")
		}
		if !strings.Contains(line, `"notifications/resources/list_changed"`) {
			t.Fatalf("unexpected event: %s", line)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no list_changed event")
	}

	f.reg.Close(id)
	select {
	case _, ok := <-lines:
		if ok {
			t.Fatal("unexpected event after close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after session close")
	}
}

func TestGetRequiresSession(t *testing.T) {
	f := newFixture(t)
	req, _ := http.NewRequest(http.MethodGet, f.url, nil)
	req.Header.Set("Accept", "text/event-stream")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	expectTransportError(t, res, http.StatusBadRequest, -32000, "Bad Request: Invalid or missing session ID")
}

func TestEventStreamOnlyClient(t *testing.T) {
	f := newFixture(t)
	id := f.initialize(t)

	res := f.post(t, id, `{"jsonrpc":"2.0","id":7,"method":"ping"}`, "Accept", "text/event-stream")
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type: %s", ct)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(body, []byte("data: {")) || !bytes.HasSuffix(body, []byte("}\n\n")) {
		t.Fatalf("unexpected frame %q", body)
	}
	if !bytes.Contains(body, []byte(`"id":7`)) {
		t.Fatalf("frame lacks request id: %q", body)
	}
}

func TestStatelessMode(t *testing.T) {
	f := newFixture(t, streaminghttp.WithStateless(true))

	res := f.post(t, "", initializeBody)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("initialize: status %d", res.StatusCode)
	}
	if res.Header.Get("Mcp-Session-Id") != "" {
		t.Fatal("stateless mode must not announce a session")
	}

	res = f.post(t, "", `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	env := decodeEnvelope(t, res)
	if env.Error != nil || !bytes.Contains(env.Result, []byte(`"echo"`)) {
		t.Fatalf("tools/list: %+v %s", env.Error, env.Result)
	}
	if f.reg.Count() != 0 {
		t.Fatalf("stateless mode registered %d sessions", f.reg.Count())
	}

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		req, _ := http.NewRequest(method, f.url, nil)
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		expectTransportError(t, res, http.StatusMethodNotAllowed, -32000, "Method not allowed in Lambda stateless mode.")
		_ = res.Body.Close()
	}
}

func TestAllowedHostsAndCORS(t *testing.T) {
	f := newFixture(t, streaminghttp.WithAllowedHosts([]string{"mcp.example.com"}))

	res := f.post(t, "", initializeBody)
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin: %q", got)
	}
	if got := res.Header.Get("Access-Control-Expose-Headers"); got != "Mcp-Session-Id" {
		t.Fatalf("expose headers: %q", got)
	}
	expectTransportError(t, res, http.StatusForbidden, -32000, "Forbidden: invalid Host header")

	req, _ := http.NewRequest(http.MethodPost, f.url, strings.NewReader(initializeBody))
	req.Host = "mcp.example.com"
	req.Header.Set("Content-Type", "application/json")
	ok, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer ok.Body.Close()
	if ok.StatusCode != http.StatusOK {
		t.Fatalf("allowed host: status %d", ok.StatusCode)
	}

	opt, _ := http.NewRequest(http.MethodOptions, f.url, nil)
	opt.Host = "mcp.example.com"
	pre, err := http.DefaultClient.Do(opt)
	if err != nil {
		t.Fatal(err)
	}
	defer pre.Body.Close()
	if pre.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight: want 204 got %d", pre.StatusCode)
	}
}

func TestPanicRecovery(t *testing.T) {
	reg := sessions.NewRegistry()
	h := streaminghttp.New(reg, func() *engine.Server { panic("boom") },
		streaminghttp.WithLogger(slog.New(testLogHandler(t))))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(initializeBody))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: want 500 got %d", rec.Code)
	}
	var env rpcEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Error == nil || env.Error.Code != -32603 || env.Error.Message != "Internal server error" {
		t.Fatalf("unexpected envelope: %s", rec.Body.String())
	}
}

// bridge is a slog.Handler that forwards records to t.Log until the test
// finishes.
type bridge struct {
	slog.Handler
	t    testing.TB
	buf  *bytes.Buffer
	mu   *sync.Mutex
	done *bool
}

func (b *bridge) Handle(ctx context.Context, rec slog.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if *b.done {
		return nil
	}
	if err := b.Handler.Handle(ctx, rec); err != nil {
		return err
	}
	out := bytes.TrimSuffix(b.buf.Bytes(), []byte("\n"))
	b.t.Log(string(out))
	b.buf.Reset()
	return nil
}

func (b *bridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &bridge{Handler: b.Handler.WithAttrs(attrs), t: b.t, buf: b.buf, mu: b.mu, done: b.done}
}

func (b *bridge) WithGroup(name string) slog.Handler {
	return &bridge{Handler: b.Handler.WithGroup(name), t: b.t, buf: b.buf, mu: b.mu, done: b.done}
}

func testLogHandler(t *testing.T) slog.Handler {
	b := &bridge{t: t, buf: &bytes.Buffer{}, mu: &sync.Mutex{}, done: new(bool)}
	b.Handler = slog.NewTextHandler(b.buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	t.Cleanup(func() {
		b.mu.Lock()
		*b.done = true
		b.mu.Unlock()
	})
	return b
}
