package main

import (
	"context"

	"github.com/aretw0/tradedesk/internal/cli"
	"github.com/aretw0/tradedesk/internal/metrics"
	httpadapter "github.com/aretw0/tradedesk/pkg/adapters/http"
	"github.com/aretw0/tradedesk/pkg/agent"
	"github.com/aretw0/tradedesk/pkg/gateway"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Serve the browser chat",
	Long: `Starts the web gateway: a chat page, a websocket per browser tab, health
and status endpoints, and Prometheus metrics. Each connection gets its own
MCP session and agent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("port") {
			cfg.Web.Port, _ = flags.GetInt("port")
		}
		if flags.Changed("mcp-host") {
			cfg.Web.MCPHost, _ = flags.GetString("mcp-host")
		}
		if flags.Changed("mcp-port") {
			cfg.Web.MCPPort, _ = flags.GetInt("mcp-port")
		}

		logger := newLogger()
		ctx := cli.NewSignalContext(context.Background())
		defer ctx.Cancel()

		reg := prometheus.NewRegistry()
		m := metrics.New(reg)

		rt, err := newRuntime(ctx, logger, m, agent.StyleMarkdown)
		if err != nil {
			return err
		}
		defer rt.close()
		defer rt.sessions.ReleaseAll(context.Background())

		gw := gateway.New(rt.sessions, gateway.WithLogger(logger), gateway.WithMetrics(m))
		handler, err := httpadapter.NewHandler(gw, rt.connector,
			httpadapter.WithLogger(logger),
			httpadapter.WithGatherer(reg))
		if err != nil {
			return err
		}

		logger.Info("web gateway starting", "port", cfg.Web.Port, "mcp_server", rt.connector.Endpoint())
		if err := httpadapter.ListenAndServe(ctx, cfg.Web.Port, handler, logger); err != nil {
			return err
		}
		logger.Info("web gateway stopped", "signal", ctx.Signal(), "sessions", rt.sessions.Len())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(webCmd)

	webCmd.Flags().Int("port", 0, "Port for the web gateway (overrides WEB_PORT)")
	webCmd.Flags().String("mcp-host", "", "MCP server host (overrides MCP_HOST)")
	webCmd.Flags().Int("mcp-port", 0, "MCP server port (overrides MCP_PORT)")
}
