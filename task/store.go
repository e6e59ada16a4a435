package task

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	status       TEXT NOT NULL,
	result       TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	completed_at DATETIME
);
`

// SQLiteStore persists terminal task records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the tasks table exists. The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save upserts a task record. Records are written only once a task reaches
// a terminal state, so an existing row is simply replaced.
func (s *SQLiteStore) Save(t *Task) error {
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, kind, status, result, error, created_at, completed_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, result=excluded.result, error=excluded.error,
			completed_at=excluded.completed_at`,
		t.ID, string(t.Kind), string(t.Status), string(t.Result), t.Error,
		t.CreatedAt, nullTime(t.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// Get retrieves a task record by id.
func (s *SQLiteStore) Get(id string) (*Task, error) {
	row := s.db.QueryRow(
		`SELECT id, kind, status, result, error, created_at, completed_at FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, err
}

// List returns task records, newest first. limit <= 0 means no limit.
func (s *SQLiteStore) List(limit int) ([]*Task, error) {
	q := `SELECT id, kind, status, result, error, created_at, completed_at
		FROM tasks ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
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

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var kind, status, result string
	var completedAt sql.NullTime

	err := s.Scan(&t.ID, &kind, &status, &result, &t.Error, &t.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	t.Kind = Kind(kind)
	t.Status = Status(status)
	if result != "" {
		t.Result = []byte(result)
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
