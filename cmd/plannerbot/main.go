package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "plannerbot",
		Short:         "Telegram planner with daily digests and deadline reminders",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.Version = version
	root.AddCommand(serveCmd, tickCmd, versionCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}
