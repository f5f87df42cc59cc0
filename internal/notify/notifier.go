// Package notify sends task transition notifications into a chat channel.
// Notifications are fire-and-forget: failures are logged and never surfaced
// to the pipeline.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/matsurihq/taskbot/internal/dispatch"
	"github.com/matsurihq/taskbot/internal/logging"
	"github.com/matsurihq/taskbot/internal/store"
)

const sendTimeout = 10 * time.Second

// ChannelNotifier implements dispatch.Notifier on top of the chat channel.
type ChannelNotifier struct {
	channel   dispatch.Channel
	channelID string
	log       *slog.Logger
}

// NewChannelNotifier creates a notifier posting into the given channel.
func NewChannelNotifier(channel dispatch.Channel, channelID string) *ChannelNotifier {
	return &ChannelNotifier{
		channel:   channel,
		channelID: channelID,
		log:       logging.WithComponent("notify"),
	}
}

// TaskStatusChanged announces a task status transition.
func (n *ChannelNotifier) TaskStatusChanged(task *store.Task, previousStatus string) {
	text := fmt.Sprintf("✅ タスク「%s」が%sから%sになりました", task.Title, statusLabel(previousStatus), statusLabel(task.Status))
	n.send(text)
}

// TaskAssigned announces a task assignment.
func (n *ChannelNotifier) TaskAssigned(task *store.Task, senderID string) {
	text := fmt.Sprintf("👤 タスク「%s」の担当が設定されました", task.Title)
	n.send(text)
}

// send delivers the notification in the background.
func (n *ChannelNotifier) send(text string) {
	if n.channel == nil || n.channelID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := n.channel.SendMessage(ctx, n.channelID, text); err != nil {
			n.log.Warn("failed to deliver notification", slog.Any("error", err))
		}
	}()
}

func statusLabel(status string) string {
	switch status {
	case store.StatusPending:
		return "未着手"
	case store.StatusInProgress:
		return "進行中"
	case store.StatusCompleted:
		return "完了"
	case store.StatusCancelled:
		return "中止"
	default:
		return status
	}
}
