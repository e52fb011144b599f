package toolexec

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ErrUnresolvedPath is returned when a path template still contains a
// placeholder after substitution. It signals a broken definition, not bad
// input.
var ErrUnresolvedPath = errors.New("failed to resolve path parameters")

// OutboundRequest is a backend call before security is applied.
type OutboundRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// BuildRequest maps validated arguments onto the definition's path, query,
// headers and body.
func BuildRequest(def Definition, args Args) (*OutboundRequest, error) {
	req := &OutboundRequest{
		Method: strings.ToUpper(def.Method),
		Path:   def.PathTemplate,
		Query:  url.Values{},
		Header: http.Header{},
	}
	req.Header.Set("Accept", "application/json")

	for _, p := range def.Parameters {
		v, ok := args[p.Name]
		if !ok || v == nil {
			continue
		}
		switch p.In {
		case InPath:
			req.Path = strings.ReplaceAll(req.Path, "{"+p.Name+"}", url.PathEscape(stringify(v)))
		case InQuery:
			if items, ok := v.([]any); ok {
				for _, item := range items {
					req.Query.Add(p.Name, stringify(item))
				}
				continue
			}
			req.Query.Set(p.Name, stringify(v))
		case InHeader:
			req.Header.Set(p.Name, stringify(v))
		}
	}

	if strings.Contains(req.Path, "{") {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedPath, req.Path)
	}

	if def.RequestBodyContentType != "" {
		if body, ok := args[BodyArgument]; ok && body != nil {
			b, err := encodeBody(def.RequestBodyContentType, body)
			if err != nil {
				return nil, err
			}
			req.Body = b
			req.Header.Set("Content-Type", def.RequestBodyContentType)
		}
	}
	return req, nil
}

func encodeBody(contentType string, body any) ([]byte, error) {
	if s, ok := body.(string); ok && !isJSONContentType(contentType) {
		return []byte(s), nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return b, nil
}

// stringify renders an argument the way it appears in a URL or header.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

func isJSONContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "application/json") || strings.HasSuffix(strings.SplitN(ct, ";", 2)[0], "+json")
}
