package toolexec

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/ggoodman/dsp-mcp-go/mcp"
	"github.com/ggoodman/dsp-mcp-go/security"
)

// Location is where an execution parameter is bound on the outbound request.
type Location string

const (
	InPath   Location = "path"
	InQuery  Location = "query"
	InHeader Location = "header"
)

// BodyArgument is the argument holding the request body payload.
const BodyArgument = "requestBody"

// Parameter binds one argument to a location on the outbound request.
type Parameter struct {
	Name string
	In   Location
}

// Definition is the immutable description of a tool.
type Definition struct {
	Name        string
	Description string
	InputSchema mcp.ToolInputSchema

	Method       string
	PathTemplate string
	Parameters   []Parameter
	// RequestBodyContentType, when set, sends the requestBody argument with
	// this content type.
	RequestBodyContentType string
	// Security lists alternative requirement sets in order of preference.
	Security []security.Requirement
}

// Descriptor returns the protocol view of the definition.
func (d Definition) Descriptor() mcp.Tool {
	return mcp.Tool{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema}
}

var placeholderRE = regexp.MustCompile(`\{([^{}]+)\}`)

// check verifies that every path placeholder is bound by an InPath parameter.
func (d Definition) check() error {
	if d.Name == "" {
		return errors.New("tool definition has no name")
	}
	bound := make(map[string]bool, len(d.Parameters))
	for _, p := range d.Parameters {
		if p.In == InPath {
			bound[p.Name] = true
		}
	}
	for _, m := range placeholderRE.FindAllStringSubmatch(d.PathTemplate, -1) {
		if !bound[m[1]] {
			return fmt.Errorf("tool %q: path placeholder {%s} has no path parameter", d.Name, m[1])
		}
	}
	return nil
}

// Args are validated tool arguments.
type Args map[string]any

// Tool is one entry of the catalog.
type Tool interface {
	Definition() Definition
	// Validate checks raw arguments against the input schema. Shape
	// violations are reported as *ValidationError.
	Validate(raw json.RawMessage) (Args, error)
	// Format renders a successful backend response. Tools without a
	// formatter return ErrNoFormatter.
	Format(resp *Response) (string, error)
}

// Formatter renders a backend response for a tool.
type Formatter func(resp *Response) (string, error)

// ErrNoFormatter is returned by Tool.Format when the tool relies on the
// generic rendering.
var ErrNoFormatter = errors.New("tool has no formatter")
