package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/tradedesk"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of tradedesk",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tradedesk version %s\n", strings.TrimSpace(tradedesk.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
