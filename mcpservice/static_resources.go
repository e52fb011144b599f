package mcpservice

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/ggoodman/dsp-mcp-go/mcp"
	"github.com/ggoodman/dsp-mcp-go/sessions"
)

// TemplateReadFunc reads a URI matched by a resource template. vars holds the
// values bound to the template's variables.
type TemplateReadFunc func(ctx context.Context, session *sessions.Session, uri string, vars map[string]string) ([]mcp.ResourceContents, error)

// StaticTemplate pairs a resource template with the handler for URIs it
// matches.
type StaticTemplate struct {
	Descriptor mcp.ResourceTemplate
	Read       TemplateReadFunc
}

type compiledTemplate struct {
	StaticTemplate
	re   *regexp.Regexp
	vars []string
}

var templateVarRE = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// compileTemplate turns a simple-expansion URI template into an anchored
// regexp. Each variable matches a non-empty run without '/'.
func compileTemplate(t StaticTemplate) (compiledTemplate, error) {
	src := t.Descriptor.URITemplate
	var (
		b    strings.Builder
		vars []string
		last int
	)
	b.WriteString("^")
	for _, loc := range templateVarRE.FindAllStringSubmatchIndex(src, -1) {
		b.WriteString(regexp.QuoteMeta(src[last:loc[0]]))
		b.WriteString(`([^/]+?)`)
		vars = append(vars, src[loc[2]:loc[3]])
		last = loc[1]
	}
	b.WriteString(regexp.QuoteMeta(src[last:]))
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return compiledTemplate{}, fmt.Errorf("compile resource template %q: %w", src, err)
	}
	return compiledTemplate{StaticTemplate: t, re: re, vars: vars}, nil
}

func (c compiledTemplate) match(uri string) (map[string]string, bool) {
	m := c.re.FindStringSubmatch(uri)
	if m == nil {
		return nil, false
	}
	vars := make(map[string]string, len(c.vars))
	for i, name := range c.vars {
		vars[name] = m[i+1]
	}
	return vars, true
}

// StaticResources is a threadsafe set of resources, their contents and a
// fixed list of templates. Replace swaps resources and contents and signals
// list-changed subscribers.
type StaticResources struct {
	mu        sync.RWMutex
	resources []mcp.Resource
	contents  map[string][]mcp.ResourceContents
	templates []compiledTemplate
	pageSize  int

	notifier ChangeNotifier
}

var _ ResourcesCapability = (*StaticResources)(nil)

// NewStaticResources constructs a container. Templates are matched in the
// order given.
func NewStaticResources(resources []mcp.Resource, contents map[string][]mcp.ResourceContents, templates ...StaticTemplate) (*StaticResources, error) {
	sr := &StaticResources{pageSize: 50}
	for _, t := range templates {
		ct, err := compileTemplate(t)
		if err != nil {
			return nil, err
		}
		sr.templates = append(sr.templates, ct)
	}
	sr.store(resources, contents)
	return sr, nil
}

// SetPageSize sets the list page size. Values < 1 are ignored.
func (sr *StaticResources) SetPageSize(n int) {
	if n < 1 {
		return
	}
	sr.mu.Lock()
	sr.pageSize = n
	sr.mu.Unlock()
}

func (sr *StaticResources) store(resources []mcp.Resource, contents map[string][]mcp.ResourceContents) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.resources = append([]mcp.Resource(nil), resources...)
	sr.contents = make(map[string][]mcp.ResourceContents, len(contents))
	for uri, c := range contents {
		sr.contents[uri] = append([]mcp.ResourceContents(nil), c...)
	}
}

// Replace atomically swaps resources and contents, then notifies.
func (sr *StaticResources) Replace(ctx context.Context, resources []mcp.Resource, contents map[string][]mcp.ResourceContents) {
	sr.store(resources, contents)
	_ = sr.notifier.Notify(ctx)
}

func (sr *StaticResources) ListResources(_ context.Context, _ *sessions.Session, cursor *string) (Page[mcp.Resource], error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return pageSlice(sr.resources, sr.pageSize, cursor), nil
}

func (sr *StaticResources) ListResourceTemplates(_ context.Context, _ *sessions.Session, cursor *string) (Page[mcp.ResourceTemplate], error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	out := make([]mcp.ResourceTemplate, len(sr.templates))
	for i, t := range sr.templates {
		out[i] = t.Descriptor
	}
	return pageSlice(out, sr.pageSize, cursor), nil
}

func (sr *StaticResources) ReadResource(ctx context.Context, session *sessions.Session, uri string) ([]mcp.ResourceContents, error) {
	sr.mu.RLock()
	c, ok := sr.contents[uri]
	templates := sr.templates
	sr.mu.RUnlock()
	if ok {
		return append([]mcp.ResourceContents(nil), c...), nil
	}
	for _, t := range templates {
		if vars, ok := t.match(uri); ok && t.Read != nil {
			return t.Read(ctx, session, uri, vars)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, uri)
}

func (sr *StaticResources) GetListChangedCapability(context.Context, *sessions.Session) (ResourceListChangedCapability, bool, error) {
	return listChangedFromSubscriber{cn: &sr.notifier}, true, nil
}

// Subscriber implements ChangeSubscriber.
func (sr *StaticResources) Subscriber() <-chan struct{} { return sr.notifier.Subscriber() }
