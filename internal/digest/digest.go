// Package digest posts a scheduled per-workspace task summary into chat.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/matsurihq/taskbot/internal/config"
	"github.com/matsurihq/taskbot/internal/dispatch"
	"github.com/matsurihq/taskbot/internal/logging"
	"github.com/matsurihq/taskbot/internal/store"
)

// Generator builds the digest text for a workspace.
type Generator struct {
	store *store.Store
	now   func() time.Time
}

// NewGenerator creates a digest generator over the store.
func NewGenerator(s *store.Store) *Generator {
	return &Generator{store: s, now: time.Now}
}

// WithClock replaces the generator's clock. Intended for tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate renders the daily digest for one workspace.
func (g *Generator) Generate(workspaceID string) (string, error) {
	now := g.now()
	counts, err := g.store.CountTasks(workspaceID, now)
	if err != nil {
		return "", fmt.Errorf("failed to aggregate tasks: %w", err)
	}

	header := fmt.Sprintf("☀️ %s のタスクまとめ", now.Format("1月2日"))
	return header + "\n" + dispatch.FormatStatusSummary(counts), nil
}

// Scheduler delivers digests on a cron schedule.
type Scheduler struct {
	generator *Generator
	channel   dispatch.Channel
	config    *config.DigestConfig
	cron      *cron.Cron
	mu        sync.Mutex
	running   bool
	entryID   cron.EntryID
	log       *slog.Logger
}

// NewScheduler creates a digest scheduler.
func NewScheduler(generator *Generator, channel dispatch.Channel, cfg *config.DigestConfig) *Scheduler {
	log := logging.WithComponent("digest")

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Warn("invalid timezone, using UTC", slog.String("timezone", cfg.Timezone), slog.Any("error", err))
		loc = time.UTC
	}

	return &Scheduler{
		generator: generator,
		channel:   channel,
		config:    cfg,
		cron:      cron.New(cron.WithLocation(loc)),
		log:       log,
	}
}

// Start begins the scheduler. A disabled digest is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if !s.config.Enabled {
		s.log.Info("digest scheduler disabled")
		return nil
	}

	entryID, err := s.cron.AddFunc(s.config.Schedule, func() {
		s.runDigest(ctx)
	})
	if err != nil {
		return err
	}

	s.entryID = entryID
	s.cron.Start()
	s.running = true

	s.log.Info("digest scheduler started",
		slog.String("schedule", s.config.Schedule),
		slog.String("timezone", s.config.Timezone),
		slog.Time("next_run", s.cron.Entry(s.entryID).Next),
	)

	return nil
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.log.Info("digest scheduler stopped")
}

// IsRunning returns whether the scheduler is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow triggers an immediate digest delivery for every target.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.runDigest(ctx)
}

// runDigest generates and delivers the digest for each configured target.
// Delivery failure for one target does not stop the others.
func (s *Scheduler) runDigest(ctx context.Context) {
	for _, target := range s.config.Targets {
		text, err := s.generator.Generate(target.WorkspaceID)
		if err != nil {
			s.log.Error("failed to generate digest",
				slog.String("workspace", target.WorkspaceID),
				slog.Any("error", err))
			continue
		}

		if err := s.channel.SendMessage(ctx, target.ChannelID, text); err != nil {
			s.log.Warn("failed to deliver digest",
				slog.String("workspace", target.WorkspaceID),
				slog.String("channel_id", target.ChannelID),
				slog.Any("error", err))
			continue
		}

		s.log.Info("digest delivered", slog.String("workspace", target.WorkspaceID))
	}
}
