package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/aretw0/tradedesk/internal/cli"
	"github.com/aretw0/tradedesk/internal/config"
	"github.com/aretw0/tradedesk/internal/logging"
	"github.com/aretw0/tradedesk/internal/metrics"
	mcpadapter "github.com/aretw0/tradedesk/pkg/adapters/mcp"
	"github.com/aretw0/tradedesk/pkg/adapters/openalgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the OpenAlgo MCP tool server",
	Long: `Starts the MCP server that exposes the OpenAlgo API as tools.

Supported transports:
- sse (default): Server-Sent Events over HTTP on --port, used by 'web' and 'chat'.
- stdio: Standard Input/Output, for local MCP hosts such as desktop assistants.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("api-key") {
			cfg.Broker.APIKey, _ = flags.GetString("api-key")
		}
		if flags.Changed("host") {
			cfg.Broker.Host, _ = flags.GetString("host")
		}
		if flags.Changed("port") {
			cfg.Server.Port, _ = flags.GetInt("port")
		}
		if flags.Changed("mode") {
			cfg.Server.Mode, _ = flags.GetString("mode")
		}
		if flags.Changed("strategy") {
			cfg.Server.Strategy, _ = flags.GetString("strategy")
		}
		if err := cfg.ValidateServer(); err != nil {
			return err
		}

		logger := newLogger()
		logger.Info("broker configured",
			"host", cfg.Broker.Host,
			"api_key", logging.MaskSecret(cfg.Broker.APIKey))

		broker := openalgo.New(cfg.Broker.APIKey, cfg.Broker.Host,
			openalgo.WithTimeout(cfg.Broker.Timeout))

		reg := prometheus.NewRegistry()
		srv := mcpadapter.NewServer(broker,
			mcpadapter.WithLogger(logger),
			mcpadapter.WithMetrics(metrics.New(reg)),
			mcpadapter.WithGatherer(reg),
			mcpadapter.WithStrategy(cfg.Server.Strategy),
		)

		switch cfg.Server.Mode {
		case config.ModeStdio:
			// Keep JSON-RPC on stdout clean.
			log.SetOutput(os.Stderr)
			logger.Info("starting MCP server", "transport", "stdio", "tools", len(srv.ToolNames()))
			return srv.ServeStdio()
		default:
			ctx := cli.NewSignalContext(context.Background())
			defer ctx.Cancel()

			logger.Info("starting MCP server", "transport", "sse", "port", cfg.Server.Port, "tools", len(srv.ToolNames()))
			if err := srv.ServeSSE(ctx, cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			logger.Info("MCP server stopped gracefully", "signal", ctx.Signal())
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().String("api-key", "", "OpenAlgo API key (overrides OPENALGO_API_KEY)")
	serverCmd.Flags().String("host", "", "OpenAlgo API host (overrides OPENALGO_API_HOST)")
	serverCmd.Flags().Int("port", 0, "Port for the SSE transport (overrides SERVER_PORT)")
	serverCmd.Flags().String("mode", "", "Transport: 'sse' or 'stdio' (overrides SERVER_MODE)")
	serverCmd.Flags().String("strategy", "", "Strategy tag attached to orders (overrides STRATEGY)")
}
