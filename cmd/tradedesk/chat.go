package main

import (
	"context"
	"os"
	"strings"

	"github.com/aretw0/tradedesk"
	"github.com/aretw0/tradedesk/internal/cli"
	"github.com/aretw0/tradedesk/internal/presentation/tui"
	"github.com/aretw0/tradedesk/pkg/agent"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the trading assistant in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("mcp-host") {
			cfg.Web.MCPHost, _ = flags.GetString("mcp-host")
		}
		if flags.Changed("mcp-port") {
			cfg.Web.MCPPort, _ = flags.GetInt("mcp-port")
		}
		renderMarkdown, _ := flags.GetBool("render")
		clientID, _ := flags.GetString("client-id")

		logger := newLogger()
		ctx := cli.NewSignalContext(context.Background())
		defer ctx.Cancel()

		outFd := int(os.Stdout.Fd())
		interactive := term.IsTerminal(outFd)

		style := agent.StylePlain
		var render tui.RenderFunc
		if renderMarkdown {
			style = agent.StyleMarkdown
			width := 0
			if interactive {
				if w, _, err := term.GetSize(outFd); err == nil {
					width = w
				}
			}
			r, err := tui.NewRenderer(width)
			if err != nil {
				return err
			}
			render = r
		}

		rt, err := newRuntime(ctx, logger, nil, style)
		if err != nil {
			return err
		}
		defer rt.close()

		return cli.RunChat(ctx, rt.sessions, cli.ChatOptions{
			In:       os.Stdin,
			Out:      cmd.OutOrStdout(),
			ClientID: clientID,
			Endpoint: rt.connector.Endpoint(),
			Version:  strings.TrimSpace(tradedesk.Version),
			Banner:   interactive,
			Render:   render,
			Logger:   logger,
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().Bool("render", false, "Render answers as Markdown instead of streaming raw text")
	chatCmd.Flags().String("client-id", "terminal", "Session identifier used for the terminal chat")
	chatCmd.Flags().String("mcp-host", "", "MCP server host (overrides MCP_HOST)")
	chatCmd.Flags().Int("mcp-port", 0, "MCP server port (overrides MCP_PORT)")
}
