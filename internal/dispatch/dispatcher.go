// Package dispatch performs the single authoritative mutation for a
// classified message: create a task, complete a task, report an assignee,
// answer a status inquiry, or do nothing. The task mutation is committed
// before any reply is attempted; reply and notification delivery are
// fire-and-forget with respect to the result.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matsurihq/taskbot/internal/config"
	"github.com/matsurihq/taskbot/internal/intent"
	"github.com/matsurihq/taskbot/internal/logging"
	"github.com/matsurihq/taskbot/internal/parse"
	"github.com/matsurihq/taskbot/internal/resolve"
	"github.com/matsurihq/taskbot/internal/store"
)

// Code identifies the failure category of a dispatch or pipeline run.
type Code string

const (
	CodeNone             Code = ""
	CodeAlreadyProcessed Code = "already_processed"
	CodeMissingTitle     Code = "missing_title"
	CodeTaskNotFound     Code = "task_not_found"
	CodeUserNotFound     Code = "user_not_found"
	CodePersistence      Code = "persistence_failure"
	CodeUnexpected       Code = "unexpected_error"
)

// Channel sends replies into the originating chat channel. Delivery failure
// is non-fatal to dispatch.
type Channel interface {
	SendMessage(ctx context.Context, channelID, text string) error
}

// Notifier receives fire-and-forget task transition signals.
type Notifier interface {
	TaskStatusChanged(task *store.Task, previousStatus string)
	TaskAssigned(task *store.Task, senderID string)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) TaskStatusChanged(*store.Task, string) {}
func (NopNotifier) TaskAssigned(*store.Task, string)      {}

// Result is the outcome of dispatching one classified message.
type Result struct {
	Success  bool
	Task     *store.Task
	Assignee *store.Member
	Code     Code
	Err      string
}

func failure(code Code, format string, args ...any) Result {
	return Result{Code: code, Err: fmt.Sprintf(format, args...)}
}

// Dispatcher executes the mutation for a classified message.
type Dispatcher struct {
	store    *store.Store
	resolver *resolve.Resolver
	channel  Channel
	notifier Notifier
	keywords *config.Keywords
	log      *slog.Logger
	now      func() time.Time
}

// NewDispatcher wires a dispatcher. channel and notifier may be nil, in
// which case replies are skipped and notifications discarded.
func NewDispatcher(s *store.Store, r *resolve.Resolver, channel Channel, notifier Notifier, keywords *config.Keywords) *Dispatcher {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if keywords == nil {
		keywords = config.DefaultKeywords()
	}
	return &Dispatcher{
		store:    s,
		resolver: r,
		channel:  channel,
		notifier: notifier,
		keywords: keywords,
		log:      logging.WithComponent("dispatch"),
		now:      time.Now,
	}
}

// WithClock replaces the dispatcher's clock. Intended for tests.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Dispatch performs the mutation for the classified intent and returns a
// structured result. Anything that panics inside a handler is caught here
// and converted into an unexpected_error failure, never re-raised.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *store.Message, cls intent.Classification, ex parse.Extracted) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatch panicked",
				slog.String("message_id", msg.ID),
				slog.Any("panic", r))
			result = failure(CodeUnexpected, "unexpected error: %v", r)
		}
	}()

	switch cls.Intent {
	case intent.IntentTaskCreation:
		return d.createTask(msg, ex)
	case intent.IntentTaskCompletion:
		return d.completeTask(msg, ex)
	case intent.IntentTaskAssignment:
		return d.reportAssignee(msg, ex)
	case intent.IntentStatusInquiry:
		return d.sendStatusSummary(ctx, msg)
	default:
		// General messages are acknowledged and ignored: no mutation, no reply.
		return Result{Success: true}
	}
}

// createTask creates a task from the extracted entities. A creation intent
// without an extractable title fails without creating anything.
func (d *Dispatcher) createTask(msg *store.Message, ex parse.Extracted) Result {
	if strings.TrimSpace(ex.Title) == "" {
		return failure(CodeMissingTitle, "no task title could be extracted")
	}

	task := &store.Task{
		ID:          uuid.New().String(),
		WorkspaceID: msg.WorkspaceID,
		Title:       ex.Title,
		Description: msg.Text,
		DueDate:     ex.Deadline,
		Priority:    ex.Priority,
		Status:      store.StatusPending,
		CreatedBy:   d.senderUserID(msg),
		FromChat:    true,
		CreatedAt:   d.now(),
	}

	assignee, err := d.resolver.FindMentionedUser(msg.WorkspaceID, ex.Mentions)
	if err != nil {
		return failure(CodeUnexpected, "assignee lookup failed: %v", err)
	}
	if assignee != nil {
		task.AssigneeID = assignee.UserID
	}

	if err := d.store.CreateTask(task); err != nil {
		return failure(CodePersistence, "%v", err)
	}

	if assignee != nil {
		d.notifier.TaskAssigned(task, msg.SenderID)
	}

	d.log.Info("task created",
		slog.String("task_id", task.ID),
		slog.String("title", task.Title),
		slog.String("priority", task.Priority))

	return Result{Success: true, Task: task, Assignee: assignee}
}

// completeTask resolves the target task via the title fragment, falling back
// to the sender's most recent open task, and transitions it to completed.
func (d *Dispatcher) completeTask(msg *store.Message, ex parse.Extracted) Result {
	fragment := ex.Title
	if fragment == "" {
		fragment = d.completionFragment(msg.Text)
	}

	var task *store.Task
	var err error
	if fragment != "" {
		task, err = d.resolver.FindTaskByTitle(msg.WorkspaceID, fragment)
		if err != nil {
			return failure(CodeUnexpected, "task lookup failed: %v", err)
		}
	}
	if task == nil {
		task, err = d.resolver.FindRecentUserTask(msg.WorkspaceID, d.senderUserID(msg))
		if err != nil {
			return failure(CodeUnexpected, "task lookup failed: %v", err)
		}
	}
	if task == nil {
		return failure(CodeTaskNotFound, "no matching task to complete")
	}

	previous := task.Status
	completedAt := d.now()
	updated, err := d.store.CompleteTask(task.ID, completedAt)
	if err != nil {
		return failure(CodePersistence, "%v", err)
	}
	if !updated {
		return failure(CodeTaskNotFound, "task %q is already completed", task.Title)
	}

	task.Status = store.StatusCompleted
	task.CompletedAt = &completedAt

	d.notifier.TaskStatusChanged(task, previous)

	d.log.Info("task completed",
		slog.String("task_id", task.ID),
		slog.String("title", task.Title),
		slog.String("previous_status", previous))

	return Result{Success: true, Task: task}
}

// completionFragment derives the title lookup fragment from a completion
// message by deleting the completion keywords, so "音響チェック完了"
// resolves the task "音響チェック".
func (d *Dispatcher) completionFragment(text string) string {
	fragment := parse.Normalize(text)
	lower := strings.ToLower(fragment)
	for _, kw := range d.keywords.Completion {
		kwLower := strings.ToLower(kw)
		for {
			idx := strings.Index(lower, kwLower)
			if idx < 0 {
				break
			}
			fragment = fragment[:idx] + fragment[idx+len(kw):]
			lower = lower[:idx] + lower[idx+len(kwLower):]
		}
	}
	return strings.TrimSpace(fragment)
}

// reportAssignee resolves the mentioned user. The assignment intent is
// informational for this pipeline: it reports the resolved user without
// creating a task (creation with an assignee is handled by createTask).
func (d *Dispatcher) reportAssignee(msg *store.Message, ex parse.Extracted) Result {
	assignee, err := d.resolver.FindMentionedUser(msg.WorkspaceID, ex.Mentions)
	if err != nil {
		return failure(CodeUnexpected, "assignee lookup failed: %v", err)
	}
	if assignee == nil {
		return failure(CodeUserNotFound, "no member matched the mention")
	}

	d.log.Info("assignee resolved",
		slog.String("user_id", assignee.UserID),
		slog.String("display_name", assignee.DisplayName))

	return Result{Success: true, Assignee: assignee}
}

// sendStatusSummary aggregates workspace task counts and replies with the
// formatted summary. Reply delivery failure is logged, not fatal.
func (d *Dispatcher) sendStatusSummary(ctx context.Context, msg *store.Message) Result {
	counts, err := d.store.CountTasks(msg.WorkspaceID, d.now())
	if err != nil {
		return failure(CodeUnexpected, "status aggregation failed: %v", err)
	}

	text := FormatStatusSummary(counts)
	if d.channel != nil {
		if err := d.channel.SendMessage(ctx, msg.ChannelID, text); err != nil {
			d.log.Warn("failed to send status reply",
				slog.String("channel_id", msg.ChannelID),
				slog.Any("error", err))
		}
	}

	return Result{Success: true}
}

// senderUserID maps the external sender identity onto an internal user ID
// through the member directory, falling back to the external ID.
func (d *Dispatcher) senderUserID(msg *store.Message) string {
	member, err := d.store.MemberByExternalID(msg.WorkspaceID, msg.SenderID)
	if err != nil || member == nil {
		return msg.SenderID
	}
	return member.UserID
}

// FormatStatusSummary renders the fixed four-line status reply.
func FormatStatusSummary(counts *store.TaskCounts) string {
	return fmt.Sprintf(`📋 タスク状況
⏳ 未着手: %d件
🚧 進行中: %d件
✅ 完了: %d件
⚠️ 期限切れ: %d件`, counts.Pending, counts.InProgress, counts.Completed, counts.Overdue)
}
