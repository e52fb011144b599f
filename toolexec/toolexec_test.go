package toolexec_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/ggoodman/dsp-mcp-go/mcp"
	"github.com/ggoodman/dsp-mcp-go/security"
	"github.com/ggoodman/dsp-mcp-go/toolexec"
)

type cartArgs struct {
	ID    string `json:"id" jsonschema:"minLength=1"`
	Limit int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=50"`
	Token string `json:"session-token,omitempty"`
}

type optionalCartArgs struct {
	ID string `json:"id,omitempty"`
}

type orderBody struct {
	Items []string `json:"items" jsonschema:"minItems=1"`
	Mode  string   `json:"mode,omitempty" jsonschema:"enum=fast,enum=slow,default=fast"`
}

type orderArgs struct {
	RequestBody orderBody `json:"requestBody"`
}

func cartTool(t *testing.T, format toolexec.Formatter) toolexec.Tool {
	t.Helper()
	tool, err := toolexec.New[cartArgs](toolexec.Definition{
		Name:         "get_cart",
		Method:       "get",
		PathTemplate: "/carts/{id}",
		Parameters: []toolexec.Parameter{
			{Name: "id", In: toolexec.InPath},
			{Name: "limit", In: toolexec.InQuery},
			{Name: "session-token", In: toolexec.InHeader},
		},
	}, format)
	if err != nil {
		t.Fatalf("new tool: %v", err)
	}
	return tool
}

func orderTool(t *testing.T) toolexec.Tool {
	t.Helper()
	return toolexec.MustNew[orderArgs](toolexec.Definition{
		Name:                   "create_order",
		Method:                 "post",
		PathTemplate:           "/orders",
		RequestBodyContentType: "application/json",
		Security:               []security.Requirement{security.Require("Key")},
	}, nil)
}

func TestBuildRequest(t *testing.T) {
	def := cartTool(t, nil).Definition()

	t.Run("path query and header", func(t *testing.T) {
		req, err := toolexec.BuildRequest(def, toolexec.Args{"id": "42", "limit": int64(5), "session-token": "abc"})
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if want, got := "/carts/42", req.Path; want != got {
			t.Fatalf("path: want %q got %q", want, got)
		}
		if want, got := "GET", req.Method; want != got {
			t.Fatalf("method: want %q got %q", want, got)
		}
		if want, got := "5", req.Query.Get("limit"); want != got {
			t.Fatalf("query: want %q got %q", want, got)
		}
		if want, got := "abc", req.Header.Get("session-token"); want != got {
			t.Fatalf("header: want %q got %q", want, got)
		}
		if want, got := "application/json", req.Header.Get("Accept"); want != got {
			t.Fatalf("accept: want %q got %q", want, got)
		}
	})

	t.Run("path values are escaped", func(t *testing.T) {
		req, err := toolexec.BuildRequest(def, toolexec.Args{"id": "a/b c"})
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if want, got := "/carts/a%2Fb%20c", req.Path; want != got {
			t.Fatalf("path: want %q got %q", want, got)
		}
	})

	t.Run("missing path value is a definition error", func(t *testing.T) {
		_, err := toolexec.BuildRequest(def, toolexec.Args{"limit": int64(1)})
		if !errors.Is(err, toolexec.ErrUnresolvedPath) {
			t.Fatalf("expected ErrUnresolvedPath, got %v", err)
		}
	})

	t.Run("nil values are skipped", func(t *testing.T) {
		req, err := toolexec.BuildRequest(def, toolexec.Args{"id": "1", "session-token": nil})
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if _, ok := req.Header["Session-Token"]; ok {
			t.Fatalf("nil header value must not be set")
		}
	})

	t.Run("body with content type", func(t *testing.T) {
		odef := orderTool(t).Definition()
		req, err := toolexec.BuildRequest(odef, toolexec.Args{"requestBody": map[string]any{"items": []any{"x"}}})
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if want, got := `{"items":["x"]}`, string(req.Body); want != got {
			t.Fatalf("body: want %s got %s", want, got)
		}
		if want, got := "application/json", req.Header.Get("Content-Type"); want != got {
			t.Fatalf("content type: want %q got %q", want, got)
		}
	})
}

func TestNewRegistry(t *testing.T) {
	t.Run("duplicate names", func(t *testing.T) {
		if _, err := toolexec.NewRegistry(cartTool(t, nil), cartTool(t, nil)); err == nil {
			t.Fatalf("expected duplicate error")
		}
	})

	t.Run("unbound placeholder", func(t *testing.T) {
		bad := toolexec.MustNew[cartArgs](toolexec.Definition{Name: "bad", Method: "get", PathTemplate: "/x/{missing}"}, nil)
		if _, err := toolexec.NewRegistry(bad); err == nil {
			t.Fatalf("expected placeholder error")
		}
	})

	t.Run("declaration order", func(t *testing.T) {
		reg, err := toolexec.NewRegistry(orderTool(t), cartTool(t, nil))
		if err != nil {
			t.Fatalf("registry: %v", err)
		}
		list := reg.List()
		if len(list) != 2 || list[0].Name != "create_order" || list[1].Name != "get_cart" {
			t.Fatalf("unexpected order: %+v", list)
		}
		if list[1].InputSchema.Type != "object" || list[1].InputSchema.Properties["id"].Type != "string" {
			t.Fatalf("unexpected schema: %+v", list[1].InputSchema)
		}
	})
}

func TestValidate(t *testing.T) {
	tool := orderTool(t)

	t.Run("non-object input becomes empty object", func(t *testing.T) {
		_, err := tool.Validate(json.RawMessage(`"nope"`))
		var verr *toolexec.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if want, got := "requestBody", verr.Violations[0].Path; want != got {
			t.Fatalf("path: want %q got %q", want, got)
		}
		if want, got := "required", verr.Violations[0].Code; want != got {
			t.Fatalf("code: want %q got %q", want, got)
		}
	})

	t.Run("every violation is listed", func(t *testing.T) {
		_, err := tool.Validate(json.RawMessage(`{"requestBody":{"items":[],"mode":"warp"}}`))
		var verr *toolexec.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if len(verr.Violations) != 2 {
			t.Fatalf("expected 2 violations, got %+v", verr.Violations)
		}
		msg := verr.Error()
		for _, want := range []string{"Invalid arguments for tool 'create_order': ", "requestBody.items (array_min_items)", "requestBody.mode (enum)"} {
			if !strings.Contains(msg, want) {
				t.Fatalf("missing %q in %q", want, msg)
			}
		}
	})

	t.Run("defaults and numbers", func(t *testing.T) {
		args, err := tool.Validate(json.RawMessage(`{"requestBody":{"items":["a"]},"extra":3}`))
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		body := args["requestBody"].(map[string]any)
		if want, got := "fast", body["mode"]; want != got {
			t.Fatalf("default: want %v got %v", want, got)
		}
		if want, got := int64(3), args["extra"]; want != got {
			t.Fatalf("number: want %v (%T) got %v (%T)", want, want, got, got)
		}
	})

	t.Run("numeric bounds", func(t *testing.T) {
		_, err := cartTool(t, nil).Validate(json.RawMessage(`{"id":"1","limit":99}`))
		if err == nil || !strings.Contains(err.Error(), "limit") {
			t.Fatalf("expected limit violation, got %v", err)
		}
	})
}

type backend struct {
	*httptest.Server
	calls atomic.Int32

	mu   sync.Mutex
	last *http.Request
	body []byte
}

func newBackend(t *testing.T, h http.HandlerFunc) *backend {
	t.Helper()
	b := &backend{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.last = r.Clone(context.Background())
		b.body = body
		b.mu.Unlock()
		h(w, r)
	}))
	t.Cleanup(b.Close)
	return b
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func newExecutor(t *testing.T, baseURL string, keys map[string]string, tools ...toolexec.Tool) *toolexec.Executor {
	t.Helper()
	reg, err := toolexec.NewRegistry(tools...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	resolver := security.NewResolver(
		[]security.Scheme{{Name: "Key", Kind: security.KindAPIKey, HeaderName: "X-Key"}},
		security.Values{APIKeys: keys},
		nil,
	)
	return toolexec.NewExecutor(reg, resolver,
		toolexec.WithBaseURL(baseURL),
		toolexec.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) != 1 {
		t.Fatalf("expected one content block, got %+v", res)
	}
	return res.Content[0].Text
}

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown tool is an envelope", func(t *testing.T) {
		ex := newExecutor(t, "http://unused", nil, cartTool(t, nil))
		res := ex.Execute(ctx, "nope", nil)
		if !res.IsError || text(t, res) != "Error: Unknown tool requested: nope" {
			t.Fatalf("unexpected result %+v", res)
		}
	})

	t.Run("validation failure never dispatches", func(t *testing.T) {
		be := newBackend(t, jsonHandler(200, `{}`))
		ex := newExecutor(t, be.URL, map[string]string{"X-Key": "k"}, orderTool(t))
		res := ex.Execute(ctx, "create_order", json.RawMessage(`{"requestBody":{"items":[]}}`))
		if !res.IsError || !strings.Contains(text(t, res), "requestBody.items (array_min_items)") {
			t.Fatalf("unexpected result %+v", res)
		}
		if be.calls.Load() != 0 {
			t.Fatalf("backend must not be called")
		}
	})

	t.Run("unsatisfied security is a setup error", func(t *testing.T) {
		be := newBackend(t, jsonHandler(200, `{}`))
		ex := newExecutor(t, be.URL, nil, orderTool(t))
		res := ex.Execute(ctx, "create_order", json.RawMessage(`{"requestBody":{"items":["a"]}}`))
		if want, got := "Tool requires security: [Key], but no suitable credentials found.", text(t, res); want != got {
			t.Fatalf("want %q got %q", want, got)
		}
		if be.calls.Load() != 0 {
			t.Fatalf("backend must not be called")
		}
	})

	t.Run("missing path argument fails validation", func(t *testing.T) {
		ex := newExecutor(t, "http://unused", nil, cartTool(t, nil))
		res := ex.Execute(ctx, "get_cart", json.RawMessage(`{}`))
		if !res.IsError {
			t.Fatalf("expected error result")
		}
		if got := text(t, res); !strings.Contains(got, "id") {
			t.Fatalf("expected validation of required id, got %q", got)
		}
	})

	t.Run("unresolved path is a setup error", func(t *testing.T) {
		be := newBackend(t, jsonHandler(200, `{}`))
		tool := toolexec.MustNew[optionalCartArgs](toolexec.Definition{
			Name:         "get_cart",
			Method:       "get",
			PathTemplate: "/carts/{id}",
			Parameters:   []toolexec.Parameter{{Name: "id", In: toolexec.InPath}},
		}, nil)
		ex := newExecutor(t, be.URL, nil, tool)
		res := ex.Execute(ctx, "get_cart", json.RawMessage(`{}`))
		if want, got := "Internal error during tool setup: 'get_cart'", text(t, res); !res.IsError || want != got {
			t.Fatalf("want %q got %q (isError=%v)", want, got, res.IsError)
		}
		if be.calls.Load() != 0 {
			t.Fatalf("backend must not be called")
		}
	})

	t.Run("generic json rendering with security headers", func(t *testing.T) {
		be := newBackend(t, jsonHandler(201, `{"ok":true}`))
		ex := newExecutor(t, be.URL, map[string]string{"X-Key": "secret-key"}, orderTool(t))
		res := ex.Execute(ctx, "create_order", json.RawMessage(`{"requestBody":{"items":["a"]}}`))
		if res.IsError {
			t.Fatalf("unexpected error %+v", res)
		}
		want := "API Response (Status: 201):\n{\n  \"ok\": true\n}"
		if got := text(t, res); got != want {
			t.Fatalf("want %q got %q", want, got)
		}

		be.mu.Lock()
		defer be.mu.Unlock()
		if be.last.Method != http.MethodPost || be.last.URL.Path != "/orders" {
			t.Fatalf("unexpected request %s %s", be.last.Method, be.last.URL.Path)
		}
		if got := be.last.Header.Get("X-Key"); got != "secret-key" {
			t.Fatalf("security header: got %q", got)
		}
		var body map[string]any
		if err := json.Unmarshal(be.body, &body); err != nil {
			t.Fatalf("body: %v", err)
		}
		if body["mode"] != "fast" {
			t.Fatalf("expected defaulted body, got %v", body)
		}
	})

	t.Run("formatter output", func(t *testing.T) {
		be := newBackend(t, jsonHandler(200, `{"id":"c-1"}`))
		ex := newExecutor(t, be.URL, nil, cartTool(t, func(r *toolexec.Response) (string, error) {
			var v struct{ ID string }
			if err := r.Decode(&v); err != nil {
				return "", err
			}
			return "cart " + v.ID + " via " + r.Header.Get("Content-Type"), nil
		}))
		res := ex.Execute(ctx, "get_cart", json.RawMessage(`{"id":"c-1","limit":2}`))
		if want, got := "cart c-1 via application/json; charset=utf-8", text(t, res); want != got {
			t.Fatalf("want %q got %q", want, got)
		}
		be.mu.Lock()
		defer be.mu.Unlock()
		if be.last.URL.RawQuery != "limit=2" {
			t.Fatalf("query: got %q", be.last.URL.RawQuery)
		}
	})

	t.Run("formatter failure falls back to raw json", func(t *testing.T) {
		be := newBackend(t, jsonHandler(200, `{"id":"c-1"}`))
		ex := newExecutor(t, be.URL, nil, cartTool(t, func(*toolexec.Response) (string, error) {
			return "", errors.New("boom")
		}))
		res := ex.Execute(ctx, "get_cart", json.RawMessage(`{"id":"c-1"}`))
		want := "Warning - serialization error, showing raw response:\n\n{\n  \"id\": \"c-1\"\n}"
		if got := text(t, res); got != want {
			t.Fatalf("want %q got %q", want, got)
		}
	})

	t.Run("formatter panic falls back to raw json", func(t *testing.T) {
		be := newBackend(t, jsonHandler(200, `[1,2]`))
		ex := newExecutor(t, be.URL, nil, cartTool(t, func(*toolexec.Response) (string, error) {
			panic("bad formatter")
		}))
		res := ex.Execute(ctx, "get_cart", json.RawMessage(`{"id":"c-1"}`))
		if got := text(t, res); !strings.HasPrefix(got, "Warning - serialization error") {
			t.Fatalf("unexpected %q", got)
		}
	})

	t.Run("text and empty bodies", func(t *testing.T) {
		be := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/empty") {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			w.Header().Set("Content-Type", "text/plain")
			_, _ = io.WriteString(w, "plain words")
		})
		ex := newExecutor(t, be.URL, nil, cartTool(t, nil))
		if got := text(t, ex.Execute(ctx, "get_cart", json.RawMessage(`{"id":"x"}`))); got != "plain words" {
			t.Fatalf("text body: got %q", got)
		}
		if got := text(t, ex.Execute(ctx, "get_cart", json.RawMessage(`{"id":"empty"}`))); got != "(Status: 204 - No body content)" {
			t.Fatalf("empty body: got %q", got)
		}
	})

	t.Run("json null body", func(t *testing.T) {
		be := newBackend(t, jsonHandler(200, `null`))
		ex := newExecutor(t, be.URL, nil, cartTool(t, nil))
		res := ex.Execute(ctx, "get_cart", json.RawMessage(`{"id":"x"}`))
		if want, got := "(Status: 200 - No body content)", text(t, res); res.IsError || want != got {
			t.Fatalf("want %q got %q", want, got)
		}
	})

	t.Run("http error status", func(t *testing.T) {
		be := newBackend(t, jsonHandler(404, `{"errors":[{"title":"no cart"}]}`))
		ex := newExecutor(t, be.URL, nil, cartTool(t, nil))
		res := ex.Execute(ctx, "get_cart", json.RawMessage(`{"id":"x"}`))
		got := text(t, res)
		if !res.IsError || !strings.HasPrefix(got, "API Error: Status 404 (Not Found)") || !strings.Contains(got, "no cart") {
			t.Fatalf("unexpected %+v", res)
		}
	})

	t.Run("long error body is cut on a rune boundary", func(t *testing.T) {
		body := strings.Repeat("é", 1500)
		be := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, "x"+body)
		})
		ex := newExecutor(t, be.URL, nil, cartTool(t, nil))
		got := text(t, ex.Execute(ctx, "get_cart", json.RawMessage(`{"id":"x"}`)))
		if !utf8.ValidString(got) {
			t.Fatalf("excerpt is not valid UTF-8")
		}
		if !strings.HasSuffix(got, "é...") {
			t.Fatalf("expected truncated excerpt, got suffix %q", got[len(got)-10:])
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		be := newBackend(t, jsonHandler(200, `{}`))
		url := be.URL
		be.Close()
		ex := newExecutor(t, url, nil, cartTool(t, nil))
		res := ex.Execute(ctx, "get_cart", json.RawMessage(`{"id":"x"}`))
		if !res.IsError || !strings.HasPrefix(text(t, res), "Network Error: ") {
			t.Fatalf("unexpected %+v", res)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		be := newBackend(t, jsonHandler(200, `{}`))
		ex := newExecutor(t, be.URL, nil, cartTool(t, nil))
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		res := ex.Execute(cctx, "get_cart", json.RawMessage(`{"id":"x"}`))
		if !res.IsError || !strings.Contains(text(t, res), "context canceled") {
			t.Fatalf("unexpected %+v", res)
		}
	})
}

func TestShapeStringifiesScalars(t *testing.T) {
	tool := cartTool(t, nil)
	got, err := toolexec.Shape(tool, &toolexec.Response{StatusCode: 200, ContentType: "application/json", Body: []byte("42"), Data: float64(42)})
	if err != nil || got != "42" {
		t.Fatalf("got %q %v", got, err)
	}
	got, _ = toolexec.Shape(tool, &toolexec.Response{StatusCode: 200, ContentType: "application/json", Body: bytes.TrimSpace([]byte(` "hi" `)), Data: "hi"})
	if got != "hi" {
		t.Fatalf("got %q", got)
	}
}
