// Package store provides persistent storage for taskbot using SQLite.
// It holds the inbound message log, the tasks the parser creates and
// completes, and the channel-member directory used for mention resolution.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Task status values. Status transitions performed by this package are
// conditional so a completed task is never completed twice.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Store wraps the SQLite database. Migrations run automatically on open.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a Store with a SQLite database at the given path.
// It creates the data directory if it does not exist and runs migrations.
func NewStore(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataPath, "taskbot.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:   db,
		path: dataPath,
	}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate creates necessary tables
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			external_id TEXT UNIQUE,
			workspace_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			text TEXT NOT NULL,
			received_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			processed INTEGER DEFAULT 0,
			intent_type TEXT,
			confidence REAL DEFAULT 0,
			processing_errors TEXT,
			task_id TEXT,
			processed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			due_date DATETIME,
			priority TEXT DEFAULT 'medium',
			status TEXT DEFAULT 'pending',
			assignee_id TEXT,
			created_by TEXT,
			from_chat INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS members (
			workspace_id TEXT NOT NULL,
			external_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			display_name TEXT NOT NULL,
			email TEXT,
			PRIMARY KEY (workspace_id, external_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_processed ON messages(processed)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_workspace ON messages(workspace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_workspace ON tasks(workspace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_members_workspace ON members(workspace_id)`,
	}

	for _, migration := range migrations {
		_, err := s.db.Exec(migration)
		if err != nil {
			errStr := err.Error()
			if strings.Contains(errStr, "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Close closes the database connection and releases resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// ProcessingError is one entry in a message's ordered error log.
type ProcessingError struct {
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
}

// Message is an inbound chat message record. Raw text and sender identity
// are immutable; the processing fields are set exactly once by the pipeline.
type Message struct {
	ID          string
	ExternalID  string
	WorkspaceID string
	ChannelID   string
	SenderID    string
	Text        string
	ReceivedAt  time.Time

	Processed        bool
	Intent           string
	Confidence       float64
	ProcessingErrors []ProcessingError
	TaskID           string
	ProcessedAt      *time.Time
}

// Task is a festival task. The parser creates tasks on a creation intent and
// transitions status to completed on a completion intent; everything else
// about tasks belongs to the surrounding system.
type Task struct {
	ID          string
	WorkspaceID string
	Title       string
	Description string
	DueDate     *time.Time
	Priority    string
	Status      string
	AssigneeID  string
	CreatedBy   string
	FromChat    bool
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Member maps an external chat identity to an internal user within a
// workspace. Read-only lookup table for the resolver.
type Member struct {
	WorkspaceID string
	ExternalID  string
	UserID      string
	DisplayName string
	Email       string
}

// TaskCounts aggregates workspace task counts for the status summary.
// A task counts once toward pending/in_progress/completed per its status,
// and additionally toward overdue when its due date has passed and it is
// not completed.
type TaskCounts struct {
	Pending    int
	InProgress int
	Completed  int
	Overdue    int
}

// InsertMessage stores an inbound message. Duplicate deliveries are dropped
// at the edge: a message whose external ID already exists is ignored and
// inserted=false is returned.
func (s *Store) InsertMessage(msg *Message) (bool, error) {
	res, err := s.db.Exec(`
		INSERT INTO messages (id, external_id, workspace_id, channel_id, sender_id, text, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO NOTHING
	`, msg.ID, msg.ExternalID, msg.WorkspaceID, msg.ChannelID, msg.SenderID, msg.Text, msg.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// GetMessage retrieves a message by ID. Returns sql.ErrNoRows if not found.
func (s *Store) GetMessage(id string) (*Message, error) {
	row := s.db.QueryRow(`
		SELECT id, COALESCE(external_id, ''), workspace_id, channel_id, sender_id, text, received_at,
			processed, COALESCE(intent_type, ''), COALESCE(confidence, 0),
			COALESCE(processing_errors, ''), COALESCE(task_id, ''), processed_at
		FROM messages WHERE id = ?
	`, id)
	return scanMessage(row)
}

// UnprocessedMessages returns messages not yet claimed by the pipeline, in
// arrival order, up to limit.
func (s *Store) UnprocessedMessages(limit int) ([]*Message, error) {
	rows, err := s.db.Query(`
		SELECT id, COALESCE(external_id, ''), workspace_id, channel_id, sender_id, text, received_at,
			processed, COALESCE(intent_type, ''), COALESCE(confidence, 0),
			COALESCE(processing_errors, ''), COALESCE(task_id, ''), processed_at
		FROM messages WHERE processed = 0 ORDER BY received_at ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var processed int
	var errsJSON string
	var processedAt sql.NullTime
	err := row.Scan(&msg.ID, &msg.ExternalID, &msg.WorkspaceID, &msg.ChannelID, &msg.SenderID,
		&msg.Text, &msg.ReceivedAt, &processed, &msg.Intent, &msg.Confidence,
		&errsJSON, &msg.TaskID, &processedAt)
	if err != nil {
		return nil, err
	}
	msg.Processed = processed != 0
	if processedAt.Valid {
		msg.ProcessedAt = &processedAt.Time
	}
	if errsJSON != "" {
		if err := json.Unmarshal([]byte(errsJSON), &msg.ProcessingErrors); err != nil {
			return nil, fmt.Errorf("failed to decode processing errors: %w", err)
		}
	}
	return &msg, nil
}

// ClaimMessage atomically flips a message from unprocessed to processed.
// Returns false when the message was already claimed, so two concurrent
// deliveries of the same message cannot both proceed past the guard.
func (s *Store) ClaimMessage(id string) (bool, error) {
	res, err := s.db.Exec(`UPDATE messages SET processed = 1 WHERE id = ? AND processed = 0`, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim message: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// FinishMessage persists the outcome of one pipeline run onto the message.
func (s *Store) FinishMessage(id, intentType string, confidence float64, taskID string, errs []ProcessingError) error {
	var errsJSON string
	if len(errs) > 0 {
		data, err := json.Marshal(errs)
		if err != nil {
			return fmt.Errorf("failed to encode processing errors: %w", err)
		}
		errsJSON = string(data)
	}

	_, err := s.db.Exec(`
		UPDATE messages
		SET intent_type = ?, confidence = ?, task_id = ?, processing_errors = ?, processed_at = ?
		WHERE id = ?
	`, intentType, confidence, taskID, errsJSON, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}
	return nil
}

// MessageCounts returns (processed, unprocessed) message totals.
func (s *Store) MessageCounts() (int, int, error) {
	var processed, unprocessed int
	row := s.db.QueryRow(`SELECT
		COUNT(CASE WHEN processed = 1 THEN 1 END),
		COUNT(CASE WHEN processed = 0 THEN 1 END)
		FROM messages`)
	if err := row.Scan(&processed, &unprocessed); err != nil {
		return 0, 0, err
	}
	return processed, unprocessed, nil
}

// CreateTask saves a new task. Title is required; the store rejects a
// titleless task the way the surrounding system's validations would.
func (s *Store) CreateTask(t *Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task validation failed: title is required")
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, workspace_id, title, description, due_date, priority, status, assignee_id, created_by, from_chat, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.WorkspaceID, t.Title, t.Description, t.DueDate, t.Priority, t.Status, t.AssigneeID, t.CreatedBy, t.FromChat, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID. Returns sql.ErrNoRows if not found.
func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(taskSelect+` WHERE id = ?`, id)
	return scanTask(row)
}

// CompleteTask conditionally transitions a task to completed and stamps the
// completion time. Returns false when the task was already completed (or does
// not exist), in which case nothing changes.
func (s *Store) CompleteTask(id string, completedAt time.Time) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, completed_at = ?
		WHERE id = ? AND status != ?
	`, StatusCompleted, completedAt, id, StatusCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to complete task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// TasksByWorkspace returns every task in a workspace, most recent first.
func (s *Store) TasksByWorkspace(workspaceID string) ([]*Task, error) {
	rows, err := s.db.Query(taskSelect+` WHERE workspace_id = ? ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// RecentOpenTaskFor returns the most recently created task in the workspace
// that is owned by the given user and not completed, or nil.
func (s *Store) RecentOpenTaskFor(workspaceID, userID string) (*Task, error) {
	row := s.db.QueryRow(taskSelect+`
		WHERE workspace_id = ? AND status != ? AND (assignee_id = ? OR created_by = ?)
		ORDER BY created_at DESC LIMIT 1
	`, workspaceID, StatusCompleted, userID, userID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// CountTasks aggregates workspace task counts for the status summary.
func (s *Store) CountTasks(workspaceID string, now time.Time) (*TaskCounts, error) {
	row := s.db.QueryRow(`SELECT
		COUNT(CASE WHEN status = ? THEN 1 END),
		COUNT(CASE WHEN status = ? THEN 1 END),
		COUNT(CASE WHEN status = ? THEN 1 END),
		COUNT(CASE WHEN due_date IS NOT NULL AND due_date < ? AND status != ? THEN 1 END)
		FROM tasks WHERE workspace_id = ?
	`, StatusPending, StatusInProgress, StatusCompleted, now, StatusCompleted, workspaceID)

	var counts TaskCounts
	if err := row.Scan(&counts.Pending, &counts.InProgress, &counts.Completed, &counts.Overdue); err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	return &counts, nil
}

const taskSelect = `
	SELECT id, workspace_id, title, COALESCE(description, ''), due_date,
		COALESCE(priority, 'medium'), COALESCE(status, 'pending'),
		COALESCE(assignee_id, ''), COALESCE(created_by, ''), from_chat,
		created_at, completed_at
	FROM tasks`

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var dueDate, completedAt sql.NullTime
	var fromChat int
	err := row.Scan(&t.ID, &t.WorkspaceID, &t.Title, &t.Description, &dueDate,
		&t.Priority, &t.Status, &t.AssigneeID, &t.CreatedBy, &fromChat,
		&t.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	t.FromChat = fromChat != 0
	if dueDate.Valid {
		t.DueDate = &dueDate.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

// SaveMember upserts a channel-member directory entry.
func (s *Store) SaveMember(m *Member) error {
	_, err := s.db.Exec(`
		INSERT INTO members (workspace_id, external_id, user_id, display_name, email)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id, external_id) DO UPDATE SET
			user_id = excluded.user_id,
			display_name = excluded.display_name,
			email = excluded.email
	`, m.WorkspaceID, m.ExternalID, m.UserID, m.DisplayName, m.Email)
	if err != nil {
		return fmt.Errorf("failed to save member: %w", err)
	}
	return nil
}

// MembersByWorkspace returns the member directory for a workspace.
func (s *Store) MembersByWorkspace(workspaceID string) ([]*Member, error) {
	rows, err := s.db.Query(`
		SELECT workspace_id, external_id, user_id, display_name, COALESCE(email, '')
		FROM members WHERE workspace_id = ?
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var members []*Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.WorkspaceID, &m.ExternalID, &m.UserID, &m.DisplayName, &m.Email); err != nil {
			return nil, err
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

// MemberByExternalID looks up a member by external chat identity, or nil.
func (s *Store) MemberByExternalID(workspaceID, externalID string) (*Member, error) {
	row := s.db.QueryRow(`
		SELECT workspace_id, external_id, user_id, display_name, COALESCE(email, '')
		FROM members WHERE workspace_id = ? AND external_id = ?
	`, workspaceID, externalID)

	var m Member
	err := row.Scan(&m.WorkspaceID, &m.ExternalID, &m.UserID, &m.DisplayName, &m.Email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// TaskStatusCounts returns task totals grouped by status, for the status CLI.
func (s *Store) TaskStatusCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
