package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matsurihq/taskbot/internal/logging"
	"github.com/matsurihq/taskbot/internal/store"
)

func newProcessCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run the pipeline over unprocessed messages once",
		Long:  `Drains unprocessed messages from the store through the parsing pipeline. Useful for replaying a backlog after downtime.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := logging.Init(cfg.Logging); err != nil {
				return err
			}

			s, err := store.NewStore(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer func() { _ = s.Close() }()

			processor, _ := buildPipeline(cfg, s)

			messages, err := s.UnprocessedMessages(limit)
			if err != nil {
				return fmt.Errorf("failed to list messages: %w", err)
			}

			ctx := context.Background()
			succeeded, failed := 0, 0
			for _, msg := range messages {
				result := processor.Process(logging.ContextWithMessageID(ctx, msg.ID), msg)
				if result.Success {
					succeeded++
				} else {
					failed++
				}
				fmt.Printf("%s  intent=%s confidence=%.2f success=%t\n",
					msg.ID, result.Intent, result.Confidence, result.Success)
			}

			fmt.Printf("\nProcessed %d message(s): %d succeeded, %d failed\n",
				len(messages), succeeded, failed)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of messages to process")
	return cmd
}
