package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/prism/atelier/internal/logging"
)

// InterruptedReason is stamped on tasks found in-flight at startup.
// Cancellation tokens do not survive a restart, and silently resuming
// would risk duplicate provider side effects.
const InterruptedReason = "interrupted by restart"

// Store is the single durable writer of truth for task status.
type Store struct {
	db  *sql.DB
	log *logging.Logger
}

// NewStore opens (or creates) the task ledger at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, log: logging.New("taskstore")}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		resource_class TEXT NOT NULL,
		status TEXT NOT NULL,
		submitted_at DATETIME NOT NULL,
		execution_started_at DATETIME,
		request_json TEXT,
		error_detail TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_submitted ON tasks(submitted_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create persists a new task in queued state. This happens before the
// first execution attempt so a task is never lost between submission
// and execution start; a failure here must propagate to the caller.
func (s *Store) Create(ctx context.Context, t *Task) error {
	requestJSON, _ := json.Marshal(t.Request)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, resource_class, status, submitted_at, request_json, error_detail)
		VALUES (?, ?, ?, ?, ?, '')
	`, t.ID, t.ResourceClass, StatusQueued, t.SubmittedAt, string(requestJSON))
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	t.Status = StatusQueued
	return nil
}

// MarkGenerating records that a task was admitted for execution.
// Idempotent: only a queued task transitions.
func (s *Store) MarkGenerating(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, execution_started_at = ?
		WHERE id = ? AND status = ?
	`, StatusGenerating, now, id, StatusQueued)
	if err != nil {
		return fmt.Errorf("mark generating %s: %w", id, err)
	}
	return nil
}

// MarkCompleted records a successful outcome. Idempotent: a task
// already terminal is left untouched.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, error_detail = ''
		WHERE id = ? AND status IN (?, ?)
	`, StatusCompleted, id, StatusQueued, StatusGenerating)
	if err != nil {
		return fmt.Errorf("mark completed %s: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed outcome with its normalized error.
// Idempotent: a task already terminal is left untouched.
func (s *Store) MarkFailed(ctx context.Context, id, errorDetail string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, error_detail = ?
		WHERE id = ? AND status IN (?, ?)
	`, StatusFailed, errorDetail, id, StatusQueued, StatusGenerating)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", id, err)
	}
	return nil
}

// Delete removes a task record permanently. Used for user-cancelled
// tasks (cancelled work is removed, not marked failed) and for
// housekeeping of acknowledged terminal tasks.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// Get retrieves one task by ID.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, resource_class, status, submitted_at, execution_started_at, request_json, error_detail
		FROM tasks WHERE id = ?
	`, id)
	return scanTask(row)
}

// List returns all tasks, newest first.
func (s *Store) List(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_class, status, submitted_at, execution_started_at, request_json, error_detail
		FROM tasks ORDER BY submitted_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

// PruneTerminal deletes all completed and failed tasks, returning
// how many were removed.
func (s *Store) PruneTerminal(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks WHERE status IN (?, ?)
	`, StatusCompleted, StatusFailed)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecoverOnStartup loads all persisted tasks, reclassifying any found
// still queued or generating to failed with an "interrupted" reason.
// The reclassification is durably written before the tasks are
// returned, so a second call observes the same failed records rather
// than re-deriving them.
func (s *Store) RecoverOnStartup(ctx context.Context) ([]*Task, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, error_detail = ?
		WHERE status IN (?, ?)
	`, StatusFailed, InterruptedReason, StatusQueued, StatusGenerating)
	if err != nil {
		return nil, fmt.Errorf("reclassify interrupted tasks: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Warn("tasks_interrupted", map[string]interface{}{"count": n}, nil)
	}
	return s.List(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*Task, error) {
	var t Task
	var startedAt sql.NullTime
	var requestJSON sql.NullString

	err := row.Scan(&t.ID, &t.ResourceClass, &t.Status, &t.SubmittedAt, &startedAt, &requestJSON, &t.ErrorDetail)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		ts := startedAt.Time
		t.ExecutionStartedAt = &ts
	}
	if requestJSON.Valid && requestJSON.String != "" && requestJSON.String != "null" {
		_ = json.Unmarshal([]byte(requestJSON.String), &t.Request)
	}
	return &t, nil
}
