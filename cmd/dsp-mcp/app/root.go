// Package app provides the dsp-mcp command-line application.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ggoodman/dsp-mcp-go/config"
	"github.com/ggoodman/dsp-mcp-go/internal/logctx"
)

// Transports accepted by --transport.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

const defaultPort = 3067

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	var (
		transport string
		port      int
	)
	cmd := &cobra.Command{
		Use:               "dsp-mcp",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Short:             "MCP server exposing DSP booking operations as tools",
		Long: `dsp-mcp serves the DSP booking API to MCP clients.
Tool calls are validated, authenticated with the configured API keys and
OAuth2 client credentials, and forwarded to DSP_BOOKING_BASE_URL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch transport {
			case TransportHTTP, TransportStdio:
			default:
				return fmt.Errorf("invalid transport %q: must be %q or %q", transport, TransportStdio, TransportHTTP)
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			lvl, _ := cfg.SlogLevel()
			log := slog.New(logctx.Handler{Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})})
			slog.SetDefault(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if transport == TransportStdio {
				return runStdio(ctx, cfg, log)
			}
			if cfg.LambdaPort > 0 {
				port = cfg.LambdaPort
			}
			return runHTTP(ctx, cfg, log, port)
		},
	}
	cmd.SetContext(context.Background())
	cmd.Flags().StringVarP(&transport, "transport", "t", TransportHTTP, "transport to serve: stdio or http")
	cmd.Flags().IntVarP(&port, "port", "p", defaultPort, "HTTP listen port (AWS_LWA_PORT takes precedence)")
	return cmd
}
