package toolexec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Response is a backend response as seen by formatters.
type Response struct {
	StatusCode  int
	Status      string
	Header      http.Header
	ContentType string
	Body        []byte
	// Data is the decoded JSON body when the content type is JSON and the
	// body parsed, otherwise nil.
	Data any
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return errors.New("response has no body")
	}
	return json.Unmarshal(r.Body, v)
}

// Shape renders resp for tool. Formatter failures and panics fall back to the
// raw payload with a warning so that the response is never lost.
func Shape(tool Tool, resp *Response) (text string, formatErr error) {
	structured := isJSONContentType(resp.ContentType) && isStructured(resp.Data)

	if structured {
		out, err := safeFormat(tool, resp)
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, ErrNoFormatter):
			return fmt.Sprintf("API Response (Status: %d):\n%s", resp.StatusCode, pretty(resp.Data)), nil
		default:
			return fmt.Sprintf("Warning - serialization error, showing raw response:\n\n%s", pretty(resp.Data)), err
		}
	}

	// A JSON body of literal null decodes to nil and counts as no content.
	if len(resp.Body) == 0 || (isJSONContentType(resp.ContentType) && resp.Data == nil) {
		return fmt.Sprintf("(Status: %d - No body content)", resp.StatusCode), nil
	}
	if s, ok := resp.Data.(string); ok {
		return s, nil
	}
	if resp.Data != nil {
		return fmt.Sprint(resp.Data), nil
	}
	return string(resp.Body), nil
}

func safeFormat(tool Tool, resp *Response) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("formatter panic: %v", r)
		}
	}()
	return tool.Format(resp)
}

func isStructured(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

func pretty(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("[Stringify Error]: %v", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}
