package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ggoodman/dsp-mcp-go/mcp"
	"github.com/ggoodman/dsp-mcp-go/mcpservice"
	"github.com/ggoodman/dsp-mcp-go/sessions"
)

// Resource URIs.
const (
	SupportedRoutesURI = "mab://routes/supported"
	RouteCheckTemplate = "mab://routes/check/{origin}-{destination}"
)

// DefaultRoutes is the built-in route table.
var DefaultRoutes = []string{
	"KUL-SIN", "KUL-BKI", "KUL-MYY", "SIN-BKI",
	"BKI-TWU", "KUL-LBU", "SIN-MYY",
}

var (
	airportCodeRE = regexp.MustCompile(`^[A-Z]{3}$`)
	routeRE       = regexp.MustCompile(`^[A-Z]{3}-[A-Z]{3}$`)
)

// ErrInvalidRoute is returned when a route is not of the form "KUL-SIN".
var ErrInvalidRoute = errors.New("invalid route")

type routesFile struct {
	Routes []string `yaml:"routes"`
}

// LoadRoutes reads a YAML route table of the form
//
//	routes:
//	  - KUL-SIN
//	  - KUL-BKI
func LoadRoutes(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	var f routesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse routes file %s: %w", path, err)
	}
	routes := make([]string, 0, len(f.Routes))
	for _, r := range f.Routes {
		r = strings.ToUpper(strings.TrimSpace(r))
		if !routeRE.MatchString(r) {
			return nil, fmt.Errorf("%w: %q in %s", ErrInvalidRoute, r, path)
		}
		routes = append(routes, r)
	}
	return routes, nil
}

// RouteCatalog serves the supported route table as MCP resources. The table
// can be swapped at runtime; subscribers see a resources list-changed signal.
type RouteCatalog struct {
	mu     sync.RWMutex
	routes []string

	res *mcpservice.StaticResources
	now func() time.Time
}

// NewRouteCatalog constructs a catalog over routes.
func NewRouteCatalog(routes []string) (*RouteCatalog, error) {
	c := &RouteCatalog{now: time.Now}
	res, err := mcpservice.NewStaticResources(nil, nil, mcpservice.StaticTemplate{
		Descriptor: mcp.ResourceTemplate{
			URITemplate: RouteCheckTemplate,
			Name:        "route-check",
			Description: "Check if a specific route is supported by Malaysia Airlines",
			MimeType:    "application/json",
		},
		Read: c.readRouteCheck,
	})
	if err != nil {
		return nil, err
	}
	c.res = res
	if err := c.Replace(context.Background(), routes); err != nil {
		return nil, err
	}
	return c, nil
}

// Resources returns the resources capability backed by the catalog.
func (c *RouteCatalog) Resources() *mcpservice.StaticResources { return c.res }

// Routes returns a copy of the current table.
func (c *RouteCatalog) Routes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.routes...)
}

// Replace swaps the route table and signals list-changed.
func (c *RouteCatalog) Replace(ctx context.Context, routes []string) error {
	resources, contents, err := c.render(routes)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.routes = append([]string(nil), routes...)
	c.mu.Unlock()
	c.res.Replace(ctx, resources, contents)
	return nil
}

// render builds the supported-routes resource for routes.
func (c *RouteCatalog) render(routes []string) ([]mcp.Resource, map[string][]mcp.ResourceContents, error) {
	body, err := json.MarshalIndent(struct {
		Routes      []string `json:"routes"`
		LastUpdated string   `json:"lastUpdated"`
		Note        string   `json:"note"`
	}{
		Routes:      nonNil(routes),
		LastUpdated: c.now().UTC().Format(time.RFC3339),
		Note:        "These are all the routes Malaysia Airlines currently operates",
	}, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode supported routes: %w", err)
	}
	resources := []mcp.Resource{{
		URI:         SupportedRoutesURI,
		Name:        "supported-routes",
		Description: "All flight routes currently operated by Malaysia Airlines",
		MimeType:    "application/json",
	}}
	contents := map[string][]mcp.ResourceContents{
		SupportedRoutesURI: {{URI: SupportedRoutesURI, MimeType: "application/json", Text: string(body)}},
	}
	return resources, contents, nil
}

// Supported reports whether the route is flown in either direction.
func (c *RouteCatalog) Supported(origin, destination string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	there, back := origin+"-"+destination, destination+"-"+origin
	for _, r := range c.routes {
		if r == there || r == back {
			return true
		}
	}
	return false
}

// Alternatives lists routes touching either airport.
func (c *RouteCatalog) Alternatives(origin, destination string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := []string{}
	for _, r := range c.routes {
		if strings.HasPrefix(r, origin) || strings.HasSuffix(r, destination) ||
			strings.HasPrefix(r, destination) || strings.HasSuffix(r, origin) {
			out = append(out, r)
		}
	}
	return out
}

type routeCheck struct {
	Route        string   `json:"route"`
	Origin       string   `json:"origin"`
	Destination  string   `json:"destination"`
	Supported    bool     `json:"supported"`
	Alternatives []string `json:"alternatives"`
	Message      string   `json:"message"`
}

func (c *RouteCatalog) readRouteCheck(_ context.Context, _ *sessions.Session, uri string, vars map[string]string) ([]mcp.ResourceContents, error) {
	origin, destination := vars["origin"], vars["destination"]
	if !airportCodeRE.MatchString(origin) || !airportCodeRE.MatchString(destination) {
		return nil, fmt.Errorf("%w: %s: route check needs two 3-letter uppercase airport codes", mcpservice.ErrResourceNotFound, uri)
	}
	check := routeCheck{
		Route:        origin + "-" + destination,
		Origin:       origin,
		Destination:  destination,
		Supported:    c.Supported(origin, destination),
		Alternatives: []string{},
	}
	if check.Supported {
		check.Message = fmt.Sprintf("Malaysia Airlines operates flights from %s to %s", origin, destination)
	} else {
		check.Alternatives = c.Alternatives(origin, destination)
		check.Message = fmt.Sprintf("Malaysia Airlines does not operate flights from %s to %s", origin, destination)
	}
	body, err := json.MarshalIndent(check, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode route check: %w", err)
	}
	return []mcp.ResourceContents{{URI: uri, MimeType: "application/json", Text: string(body)}}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
