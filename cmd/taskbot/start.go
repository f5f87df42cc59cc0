package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matsurihq/taskbot/internal/channel"
	"github.com/matsurihq/taskbot/internal/config"
	"github.com/matsurihq/taskbot/internal/digest"
	"github.com/matsurihq/taskbot/internal/dispatch"
	"github.com/matsurihq/taskbot/internal/intent"
	"github.com/matsurihq/taskbot/internal/logging"
	"github.com/matsurihq/taskbot/internal/notify"
	"github.com/matsurihq/taskbot/internal/parse"
	"github.com/matsurihq/taskbot/internal/pipeline"
	"github.com/matsurihq/taskbot/internal/resolve"
	"github.com/matsurihq/taskbot/internal/source"
	"github.com/matsurihq/taskbot/internal/store"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the taskbot daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := logging.Init(cfg.Logging); err != nil {
				return fmt.Errorf("failed to initialize logging: %w", err)
			}

			s, err := store.NewStore(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer func() { _ = s.Close() }()

			processor, ch := buildPipeline(cfg, s)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			scheduler := digest.NewScheduler(digest.NewGenerator(s), ch, cfg.Digest)
			if err := scheduler.Start(ctx); err != nil {
				return fmt.Errorf("failed to start digest scheduler: %w", err)
			}
			defer scheduler.Stop()

			if !cfg.Source.Enabled {
				return fmt.Errorf("source is disabled; enable it in the config or use `taskbot process`")
			}

			fmt.Println("🚀 taskbot started")
			source.NewListener(cfg.Source, s, processor).Run(ctx)
			fmt.Println("👋 taskbot stopped")
			return nil
		},
	}
}

// buildPipeline wires the processing stages from configuration.
func buildPipeline(cfg *config.Config, s *store.Store) (*pipeline.Processor, dispatch.Channel) {
	var ch dispatch.Channel
	var notifier dispatch.Notifier = dispatch.NopNotifier{}
	if cfg.Channel != nil && cfg.Channel.BaseURL != "" {
		client := channel.NewClient(cfg.Channel)
		ch = client
		if cfg.Channel.NotifyChannel != "" {
			notifier = notify.NewChannelNotifier(client, cfg.Channel.NotifyChannel)
		}
	}

	kw := cfg.Keywords
	resolver := resolve.NewResolver(s, kw)
	dispatcher := dispatch.NewDispatcher(s, resolver, ch, notifier, kw)
	processor := pipeline.NewProcessor(s, parse.NewExtractor(kw), intent.NewClassifier(kw), dispatcher)
	return processor, ch
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
