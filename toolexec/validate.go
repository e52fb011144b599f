package toolexec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ggoodman/dsp-mcp-go/mcp"
	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// Violation is one failed schema rule.
type Violation struct {
	Path    string
	Code    string
	Message string
}

// ValidationError lists every violation found in a tool's arguments.
type ValidationError struct {
	Tool       string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s (%s): %s", v.Path, v.Code, v.Message))
	}
	return fmt.Sprintf("Invalid arguments for tool '%s': %s", e.Tool, strings.Join(parts, ", "))
}

// schemaTool is a Tool whose arguments are described by the Go type A.
type schemaTool[A any] struct {
	def    Definition
	schema *gojsonschema.Schema
	format Formatter
}

// New builds a Tool whose input schema is reflected from A. The definition's
// InputSchema is overwritten with the reflected one. format may be nil.
func New[A any](def Definition, format Formatter) (Tool, error) {
	def.InputSchema = ReflectInputSchema[A]()
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.InputSchema))
	if err != nil {
		return nil, fmt.Errorf("compile input schema for %q: %w", def.Name, err)
	}
	return &schemaTool[A]{def: def, schema: compiled, format: format}, nil
}

// MustNew is like New but panics on error. It suits catalogs built at start-up.
func MustNew[A any](def Definition, format Formatter) Tool {
	t, err := New[A](def, format)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *schemaTool[A]) Definition() Definition { return t.def }

func (t *schemaTool[A]) Format(resp *Response) (string, error) {
	if t.format == nil {
		return "", ErrNoFormatter
	}
	return t.format(resp)
}

func (t *schemaTool[A]) Validate(raw json.RawMessage) (Args, error) {
	args := Args{}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&args); err != nil {
			return nil, &ValidationError{Tool: t.def.Name, Violations: []Violation{{Path: "(root)", Code: "invalid_json", Message: err.Error()}}}
		}
	}

	res, err := t.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return nil, fmt.Errorf("validate arguments for %q: %w", t.def.Name, err)
	}
	if !res.Valid() {
		verr := &ValidationError{Tool: t.def.Name}
		for _, re := range res.Errors() {
			verr.Violations = append(verr.Violations, violationFrom(re))
		}
		return nil, verr
	}

	applyDefaults(args, t.def.InputSchema.Properties)
	return normalizeNumbers(args).(map[string]any), nil
}

func violationFrom(re gojsonschema.ResultError) Violation {
	path := re.Field()
	if re.Type() == "required" {
		if prop, ok := re.Details()["property"].(string); ok {
			if path == "(root)" {
				path = prop
			} else {
				path = path + "." + prop
			}
		}
	}
	return Violation{Path: path, Code: re.Type(), Message: re.Description()}
}

// applyDefaults fills absent object properties that declare a default.
func applyDefaults(obj map[string]any, props map[string]mcp.SchemaProperty) {
	for name, p := range props {
		v, present := obj[name]
		if !present && p.Default != nil {
			obj[name] = p.Default
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			applyDefaults(val, p.Properties)
		case []any:
			if p.Items == nil {
				continue
			}
			for _, item := range val {
				if m, ok := item.(map[string]any); ok {
					applyDefaults(m, p.Items.Properties)
				}
			}
		}
	}
}

// normalizeNumbers converts json.Number values to int64 or float64.
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case Args:
		return normalizeNumbers(map[string]any(val))
	case []any:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	default:
		return v
	}
}

// ReflectInputSchema reflects A into an object schema. Unknown properties are
// tolerated on input.
func ReflectInputSchema[A any]() mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	s := r.Reflect(new(A))
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{}, AdditionalProperties: true}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toMCPProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}
	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: true,
	}
}

// toMCPProperty recursively maps a jsonschema.Schema onto mcp.SchemaProperty,
// keeping the validation keywords.
func toMCPProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
		Default:     s.Default,
		Pattern:     s.Pattern,
		MinLength:   s.MinLength,
		MaxLength:   s.MaxLength,
		MinItems:    s.MinItems,
		MaxItems:    s.MaxItems,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if f, err := s.Minimum.Float64(); err == nil && s.Minimum != "" {
		p.Minimum = &f
	}
	if f, err := s.Maximum.Float64(); err == nil && s.Maximum != "" {
		p.Maximum = &f
	}
	if s.Type == "array" && s.Items != nil {
		item := toMCPProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toMCPProperty(el.Value)
		}
		p.Properties = m
		if len(s.Required) > 0 {
			p.Required = append([]string(nil), s.Required...)
		}
	}
	return p
}
