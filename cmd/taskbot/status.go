package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matsurihq/taskbot/internal/config"
	"github.com/matsurihq/taskbot/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store totals for messages and tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			s, err := store.NewStore(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer func() { _ = s.Close() }()

			processed, unprocessed, err := s.MessageCounts()
			if err != nil {
				return fmt.Errorf("failed to count messages: %w", err)
			}
			taskCounts, err := s.TaskStatusCounts()
			if err != nil {
				return fmt.Errorf("failed to count tasks: %w", err)
			}

			fmt.Println("📊 Taskbot Status")
			fmt.Println("─────────────────")
			fmt.Printf("Messages: %d processed, %d unprocessed\n", processed, unprocessed)
			fmt.Println("Tasks:")
			for _, status := range []string{store.StatusPending, store.StatusInProgress, store.StatusCompleted, store.StatusCancelled} {
				fmt.Printf("  %-12s %d\n", status, taskCounts[status])
			}
			return nil
		},
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = config.DefaultConfigPath()
			}

			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}

			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Printf("🔧 Wrote default config to %s\n", path)
			return nil
		},
	}
}
