// Package asset stores finished generation artifacts. The engine
// writes a pending record before generation starts and resolves it
// to ready or failed afterwards; it never constructs artifact
// content itself.
package asset

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Status of an asset record.
type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// Asset is one stored artifact record.
type Asset struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Kind      string    `json:"kind"` // image, video
	Status    Status    `json:"status"`
	Prompt    string    `json:"prompt,omitempty"`
	MIMEType  string    `json:"mime_type,omitempty"`
	Path      string    `json:"path,omitempty"` // file under the asset dir, set when ready
	URI       string    `json:"uri,omitempty"`  // remote reference, when the provider returns one
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists asset records in SQLite next to the task ledger.
type Store struct {
	db       *sql.DB
	assetDir string
}

// NewStore opens the asset store at dbPath and ensures assetDir
// exists for artifact files.
func NewStore(dbPath, assetDir string) (*Store, error) {
	if err := os.MkdirAll(assetDir, 0755); err != nil {
		return nil, fmt.Errorf("create asset dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, assetDir: assetDir}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		prompt TEXT NOT NULL DEFAULT '',
		mime_type TEXT NOT NULL DEFAULT '',
		path TEXT NOT NULL DEFAULT '',
		uri TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assets_task ON assets(task_id);
	CREATE INDEX IF NOT EXISTS idx_assets_updated ON assets(updated_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreatePending inserts a placeholder record for a task whose
// generation has been submitted but not finished.
func (s *Store) CreatePending(ctx context.Context, taskID, kind, prompt string) (*Asset, error) {
	now := time.Now().UTC()
	a := &Asset{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Kind:      kind,
		Status:    StatusPending,
		Prompt:    prompt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (id, task_id, kind, status, prompt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.TaskID, a.Kind, a.Status, a.Prompt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create pending asset: %w", err)
	}
	return a, nil
}

// MarkReady resolves a task's pending asset, writing the artifact
// bytes (if any) under the asset dir and recording the reference.
func (s *Store) MarkReady(ctx context.Context, taskID, mimeType, uri string, data []byte) (*Asset, error) {
	a, err := s.GetByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var path string
	if len(data) > 0 {
		path = filepath.Join(s.assetDir, a.ID+extForMIME(mimeType))
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("write artifact: %w", err)
		}
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE assets SET status = ?, mime_type = ?, path = ?, uri = ?, updated_at = ?
		WHERE task_id = ? AND status = ?
	`, StatusReady, mimeType, path, uri, now, taskID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("mark asset ready: %w", err)
	}
	return s.GetByTask(ctx, taskID)
}

// MarkFailed flags a task's pending asset as failed.
func (s *Store) MarkFailed(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE assets SET status = ?, updated_at = ?
		WHERE task_id = ? AND status = ?
	`, StatusFailed, time.Now().UTC(), taskID, StatusPending)
	if err != nil {
		return fmt.Errorf("mark asset failed: %w", err)
	}
	return nil
}

// DeleteByTask removes a task's asset records, e.g. on cancellation.
func (s *Store) DeleteByTask(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE task_id = ?`, taskID)
	return err
}

// GetByTask returns the asset record for a task.
func (s *Store) GetByTask(ctx context.Context, taskID string) (*Asset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, kind, status, prompt, mime_type, path, uri, created_at, updated_at
		FROM assets WHERE task_id = ?
	`, taskID)

	var a Asset
	err := row.Scan(&a.ID, &a.TaskID, &a.Kind, &a.Status, &a.Prompt, &a.MIMEType, &a.Path, &a.URI, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("asset for task %s: %w", taskID, err)
	}
	return &a, nil
}

// List returns all assets, newest first.
func (s *Store) List(ctx context.Context) ([]*Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, kind, status, prompt, mime_type, path, uri, created_at, updated_at
		FROM assets ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Kind, &a.Status, &a.Prompt, &a.MIMEType, &a.Path, &a.URI, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		assets = append(assets, &a)
	}
	return assets, rows.Err()
}

func extForMIME(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	default:
		return ".bin"
	}
}
