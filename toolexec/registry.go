package toolexec

import (
	"fmt"

	"github.com/ggoodman/dsp-mcp-go/mcp"
)

// Registry is the immutable set of tools, kept in declaration order.
type Registry struct {
	order  []Tool
	byName map[string]Tool
}

// NewRegistry validates and indexes tools. Duplicate names and path
// placeholders without a path parameter are rejected.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		def := t.Definition()
		if err := def.check(); err != nil {
			return nil, err
		}
		if _, dup := r.byName[def.Name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", def.Name)
		}
		r.byName[def.Name] = t
		r.order = append(r.order, t)
	}
	return r, nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// List returns the protocol descriptors of every tool.
func (r *Registry) List() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, t.Definition().Descriptor())
	}
	return out
}

// Len returns the number of tools.
func (r *Registry) Len() int { return len(r.order) }
