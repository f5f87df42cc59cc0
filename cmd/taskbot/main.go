package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "taskbot",
		Short: "Chat-driven task management for festival teams",
		Long:  `Taskbot parses inbound chat messages into task side effects: it creates tasks, completes tasks, resolves assignees, and answers status queries.`,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to config file")

	rootCmd.AddCommand(
		newStartCmd(),
		newProcessCmd(),
		newStatusCmd(),
		newInitCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show taskbot version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("taskbot v%s\n", version)
		},
	}
}
