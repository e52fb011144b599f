package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ggoodman/dsp-mcp-go/booking"
	"github.com/ggoodman/dsp-mcp-go/config"
	"github.com/ggoodman/dsp-mcp-go/internal/engine"
	"github.com/ggoodman/dsp-mcp-go/mcp"
	"github.com/ggoodman/dsp-mcp-go/mcpservice"
	"github.com/ggoodman/dsp-mcp-go/security"
	"github.com/ggoodman/dsp-mcp-go/security/redisstore"
	"github.com/ggoodman/dsp-mcp-go/sessions"
	"github.com/ggoodman/dsp-mcp-go/stdio"
	"github.com/ggoodman/dsp-mcp-go/streaminghttp"
	"github.com/ggoodman/dsp-mcp-go/toolexec"
)

const shutdownTimeout = 10 * time.Second

// components is the process-wide object graph shared by every session.
type components struct {
	caps   mcpservice.ServerCapabilities
	routes *booking.RouteCatalog
	log    *slog.Logger
	close  func()
}

func (c *components) newServer() *engine.Server {
	return engine.New(c.caps, engine.WithLogger(c.log))
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*components, error) {
	var (
		store   security.Store = security.NewMemoryStore()
		closeFn                = func() {}
	)
	if cfg.CredentialStore == config.StoreRedis {
		rs, err := redisstore.New(ctx, redisstore.Config{Addr: cfg.RedisAddr, KeyPrefix: cfg.RedisKeyPrefix})
		if err != nil {
			return nil, fmt.Errorf("credential store: %w", err)
		}
		store = rs
		closeFn = func() { _ = rs.Close() }
	}

	values := cfg.SecurityValues()
	cacheOpts := []security.CacheOption{security.WithStore(store), security.WithCacheLogger(log)}
	if cfg.OAuthIssuer != "" {
		cacheOpts = append(cacheOpts, security.WithTokenURLDiscovery(security.NewIssuerDiscovery(cfg.OAuthIssuer)))
	}
	cache := security.NewCredentialCache(values, cacheOpts...)
	resolver := security.NewResolver(booking.Schemes(), values, cache, security.WithResolverLogger(log))

	toolReg, err := booking.NewRegistry()
	if err != nil {
		closeFn()
		return nil, fmt.Errorf("tool registry: %w", err)
	}
	exec := toolexec.NewExecutor(toolReg, resolver,
		toolexec.WithBaseURL(cfg.BaseURL),
		toolexec.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		toolexec.WithLogger(log),
	)
	if cfg.BaseURL == "" {
		log.WarnContext(ctx, "config.base_url.missing")
	}

	routes := booking.DefaultRoutes
	if cfg.RoutesFile != "" {
		if routes, err = booking.LoadRoutes(cfg.RoutesFile); err != nil {
			closeFn()
			return nil, err
		}
	}
	catalog, err := booking.NewRouteCatalog(routes)
	if err != nil {
		closeFn()
		return nil, err
	}

	caps := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: config.ServerName, Version: config.ServerVersion}),
		mcpservice.WithToolsCapability(mcpservice.NewExecutorTools(exec)),
		mcpservice.WithPromptsCapability(mcpservice.NewStaticPrompts(booking.Prompts()...)),
		mcpservice.WithResourcesCapability(catalog.Resources()),
	)

	log.InfoContext(ctx, "server.build.ok",
		slog.Int("tools", toolReg.Len()),
		slog.Int("routes", len(routes)),
		slog.String("credential_store", cfg.CredentialStore),
	)
	return &components{caps: caps, routes: catalog, log: log, close: closeFn}, nil
}

// watchRoutes follows the routes file, when one is configured, until ctx ends.
func (c *components) watchRoutes(ctx context.Context, cfg *config.Config) {
	if cfg.RoutesFile == "" {
		return
	}
	go func() {
		if err := booking.WatchRoutes(ctx, cfg.RoutesFile, c.routes, c.log); err != nil {
			c.log.ErrorContext(ctx, "booking.routes.watch.fail", slog.String("err", err.Error()))
		}
	}()
}

func runStdio(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	c, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.close()
	c.watchRoutes(ctx, cfg)

	err = stdio.NewHandler(c.newServer, stdio.WithLogger(log)).Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runHTTP(ctx context.Context, cfg *config.Config, log *slog.Logger, port int) error {
	c, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.close()
	c.watchRoutes(ctx, cfg)

	reg := sessions.NewRegistry(sessions.WithLogger(log))
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           newMux(c, cfg, reg, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Open SSE streams end with their sessions, which lets Shutdown drain.
	srv.RegisterOnShutdown(reg.CloseAll)

	errCh := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "http.listen",
			slog.String("addr", srv.Addr),
			slog.Bool("stateless", cfg.RunInLambda),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("http.shutdown.start")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	reg.CloseAll()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("http.shutdown.ok")
	return nil
}

func newMux(c *components, cfg *config.Config, reg *sessions.Registry, log *slog.Logger) *http.ServeMux {
	h := streaminghttp.New(reg, c.newServer,
		streaminghttp.WithLogger(log),
		streaminghttp.WithStateless(cfg.RunInLambda),
		streaminghttp.WithAllowedHosts(cfg.Hosts()),
	)
	mux := http.NewServeMux()
	mux.Handle("/mcp", h)
	mux.Handle("GET /health", healthHandler(reg, cfg.RunInLambda))
	return mux
}

type healthStatus struct {
	Status    string `json:"status"`
	Server    string `json:"server"`
	Version   string `json:"version"`
	Mode      string `json:"mode"`
	Transport string `json:"transport"`
	Sessions  int    `json:"sessions"`
}

func healthHandler(reg *sessions.Registry, stateless bool) http.Handler {
	mode := "stateful"
	if stateless {
		mode = "stateless-lambda"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthStatus{
			Status:    "healthy",
			Server:    config.ServerName,
			Version:   config.ServerVersion,
			Mode:      mode,
			Transport: "streamable-http",
			Sessions:  reg.Count(),
		})
	})
}
