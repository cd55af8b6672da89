package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/tradedesk/internal/config"
	"github.com/aretw0/tradedesk/internal/logging"
	"github.com/spf13/cobra"
)

// cfg is loaded once before any subcommand runs.
var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "tradedesk",
	Short: "Chat-driven trading assistant for OpenAlgo",
	Long: `tradedesk exposes the OpenAlgo broker API as MCP tools and lets an LLM agent
drive them from a browser chat or a terminal.

Run 'tradedesk server' first, then 'tradedesk web' or 'tradedesk chat'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		var candidates []string
		if envFile != "" {
			candidates = []string{envFile}
		}
		if _, err := config.LoadDotEnv(candidates...); err != nil {
			return err
		}

		path, _ := cmd.Flags().GetString("config")
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded

		if cmd.Flags().Changed("debug") {
			cfg.Server.Debug, _ = cmd.Flags().GetBool("debug")
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Optional YAML configuration file")
	rootCmd.PersistentFlags().String("env-file", "", "Load environment from this file instead of ./.env or ../.env")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

// newLogger writes to stderr so stdout stays free for the stdio transport
// and the terminal chat.
func newLogger() *slog.Logger {
	return logging.New(logging.Level(cfg.Server.Debug))
}
