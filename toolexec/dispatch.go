package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"
)

// maxErrorBody bounds how much of an error response is quoted back.
const maxErrorBody = 2048

// DispatchError is a failed backend call. Transport is set when no HTTP
// response was received.
type DispatchError struct {
	Transport  bool
	StatusCode int
	Status     string
	Message    string
}

func (e *DispatchError) Error() string {
	if e.Transport {
		return "Network Error: " + e.Message
	}
	if e.Message == "" {
		return fmt.Sprintf("API Error: Status %d (%s)", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("API Error: Status %d (%s): %s", e.StatusCode, e.Status, e.Message)
}

// dispatch sends req to baseURL and reads the whole response.
func dispatch(ctx context.Context, client *http.Client, baseURL string, req *OutboundRequest) (*Response, error) {
	u := strings.TrimRight(baseURL, "/") + req.Path
	if q := req.Query.Encode(); q != "" {
		u += "?" + q
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, &DispatchError{Transport: true, Message: err.Error()}
	}
	hreq.Header = req.Header.Clone()

	hresp, err := client.Do(hreq)
	if err != nil {
		return nil, &DispatchError{Transport: true, Message: err.Error()}
	}
	defer hresp.Body.Close()

	raw, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, &DispatchError{Transport: true, Message: fmt.Sprintf("read response body: %v", err)}
	}

	resp := &Response{
		StatusCode:  hresp.StatusCode,
		Status:      statusText(hresp),
		Header:      hresp.Header,
		ContentType: hresp.Header.Get("Content-Type"),
		Body:        raw,
	}
	if len(raw) > 0 {
		if isJSONContentType(resp.ContentType) {
			var data any
			if err := json.Unmarshal(raw, &data); err == nil {
				resp.Data = data
			} else {
				resp.Data = string(raw)
			}
		} else {
			resp.Data = string(raw)
		}
	}

	if hresp.StatusCode >= http.StatusBadRequest {
		return resp, &DispatchError{
			StatusCode: hresp.StatusCode,
			Status:     resp.Status,
			Message:    errorExcerpt(resp),
		}
	}
	return resp, nil
}

func statusText(r *http.Response) string {
	if t := http.StatusText(r.StatusCode); t != "" {
		return t
	}
	return strings.TrimSpace(strings.TrimPrefix(r.Status, fmt.Sprint(r.StatusCode)))
}

func errorExcerpt(r *Response) string {
	var s string
	if isStructured(r.Data) {
		b, _ := json.Marshal(r.Data)
		s = string(b)
	} else {
		s = strings.TrimSpace(string(r.Body))
	}
	if len(s) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}
