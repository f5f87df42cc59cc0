package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/matsurihq/taskbot/internal/config"
	"github.com/matsurihq/taskbot/internal/dispatch"
	"github.com/matsurihq/taskbot/internal/intent"
	"github.com/matsurihq/taskbot/internal/parse"
	"github.com/matsurihq/taskbot/internal/resolve"
	"github.com/matsurihq/taskbot/internal/store"
)

func testProcessor(t *testing.T) (*Processor, *store.Store) {
	t.Helper()
	s, err := store.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	kw := config.DefaultKeywords()
	clock := func() time.Time {
		return time.Date(2026, time.July, 10, 9, 0, 0, 0, time.UTC)
	}
	dispatcher := dispatch.NewDispatcher(s, resolve.NewResolver(s, kw), nil, nil, kw).WithClock(clock)
	p := NewProcessor(s, parse.NewExtractor(kw).WithClock(clock), intent.NewClassifier(kw), dispatcher)
	return p, s
}

func insertMessage(t *testing.T, s *store.Store, text string) *store.Message {
	t.Helper()
	msg := &store.Message{
		ID:          "msg-1",
		ExternalID:  "ext-1",
		WorkspaceID: "ws-1",
		ChannelID:   "ch-1",
		SenderID:    "U1",
		Text:        text,
		ReceivedAt:  time.Now(),
	}
	if _, err := s.InsertMessage(msg); err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	return msg
}

func TestProcessCreatesTaskAndMarksProcessed(t *testing.T) {
	p, s := testProcessor(t)
	msg := insertMessage(t, s, "タスク: 会場設営 明日まで")

	res := p.Process(context.Background(), msg)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Intent != intent.IntentTaskCreation {
		t.Errorf("Intent = %q, want task_creation", res.Intent)
	}
	if res.Task == nil {
		t.Fatal("expected a created task")
	}

	saved, err := s.GetMessage(msg.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if !saved.Processed {
		t.Error("message not marked processed")
	}
	if saved.Intent != string(intent.IntentTaskCreation) {
		t.Errorf("persisted intent = %q, want task_creation", saved.Intent)
	}
	if saved.TaskID != res.Task.ID {
		t.Errorf("persisted task link = %q, want %q", saved.TaskID, res.Task.ID)
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	p, s := testProcessor(t)
	msg := insertMessage(t, s, "タスク: 会場設営")

	first := p.Process(context.Background(), msg)
	if !first.Success {
		t.Fatalf("first run failed: %+v", first)
	}

	second := p.Process(context.Background(), msg)
	if second.Success {
		t.Error("second run must not succeed")
	}
	if second.Code != dispatch.CodeAlreadyProcessed {
		t.Errorf("Code = %q, want already_processed", second.Code)
	}

	tasks, err := s.TasksByWorkspace("ws-1")
	if err != nil {
		t.Fatalf("TasksByWorkspace failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("expected exactly one task after duplicate delivery, got %d", len(tasks))
	}
}

func TestProcessPersistsFailure(t *testing.T) {
	p, s := testProcessor(t)
	msg := insertMessage(t, s, "タスク：")

	res := p.Process(context.Background(), msg)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Code != dispatch.CodeMissingTitle {
		t.Errorf("Code = %q, want missing_title", res.Code)
	}

	saved, err := s.GetMessage(msg.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if !saved.Processed {
		t.Error("failed messages are still marked processed")
	}
	if len(saved.ProcessingErrors) != 1 {
		t.Fatalf("expected one recorded error, got %d", len(saved.ProcessingErrors))
	}
	if saved.ProcessingErrors[0].Description == "" {
		t.Error("recorded error has no description")
	}
}

func TestProcessGeneralMessageLeavesNoTask(t *testing.T) {
	p, s := testProcessor(t)
	msg := insertMessage(t, s, "お疲れさまです")

	res := p.Process(context.Background(), msg)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Intent != intent.IntentGeneral {
		t.Errorf("Intent = %q, want general_message", res.Intent)
	}

	tasks, err := s.TasksByWorkspace("ws-1")
	if err != nil {
		t.Fatalf("TasksByWorkspace failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("expected no tasks, got %d", len(tasks))
	}
}
