// ///////////////////////////////////////////////////////////////////////////
//
// # CrateFlow - CrateDB query and ingest nodes
//
// Copyright (C) 2023 - 2026, pgEdge (https://www.pgedge.com/)
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package taskstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS crateflow_tasks (
    task_id      TEXT PRIMARY KEY,
    node_name    TEXT NOT NULL,
    node_type    TEXT NOT NULL,
    task_status  TEXT NOT NULL,
    cluster_name TEXT NOT NULL,
    table_name   TEXT,
    total        INTEGER NOT NULL DEFAULT 0,
    errors       INTEGER NOT NULL DEFAULT 0,
    task_context TEXT,
    started_at   TEXT,
    finished_at  TEXT,
    time_taken   REAL
);`

var ErrNotFound = errors.New("task not found")

type Store struct {
	db *sql.DB
}

type Record struct {
	TaskID         string
	NodeName       string
	NodeType       string
	Status         string
	ClusterName    string
	TableName      string
	Total          int
	Errors         int
	StartedAt      time.Time
	FinishedAt     time.Time
	TimeTaken      float64
	TaskContext    map[string]any
	RawTaskContext string
}

// Recorder writes task records when a store is available and is a no-op
// otherwise, so callers need not care whether tracking is enabled.
type Recorder struct {
	store     *Store
	ownsStore bool
	created   bool
}

func NewRecorder(existing *Store, path string) (*Recorder, error) {
	if existing != nil {
		return &Recorder{store: existing}, nil
	}
	store, err := New(path)
	if err != nil {
		return nil, err
	}
	return &Recorder{store: store, ownsStore: true}, nil
}

func (r *Recorder) Store() *Store {
	if r == nil {
		return nil
	}
	return r.store
}

func (r *Recorder) OwnsStore() bool {
	if r == nil {
		return false
	}
	return r.ownsStore
}

func (r *Recorder) HasStore() bool {
	return r != nil && r.store != nil
}

func (r *Recorder) Created() bool {
	return r != nil && r.created
}

func (r *Recorder) Create(rec Record) error {
	if !r.HasStore() {
		return nil
	}
	if err := r.store.Create(rec); err != nil {
		return err
	}
	r.created = true
	return nil
}

func (r *Recorder) Update(rec Record) error {
	if !r.HasStore() || !r.created {
		return nil
	}
	return r.store.Update(rec)
}

func (r *Recorder) Close() error {
	if !r.OwnsStore() || r.store == nil {
		return nil
	}
	err := r.store.Close()
	r.store = nil
	return err
}

func New(path string) (*Store, error) {
	sqlitePath := resolvePath(path)
	if err := ensureDir(sqlitePath); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite3", sqlitePath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(taskID string) (Record, error) {
	var rec Record
	if strings.TrimSpace(taskID) == "" {
		return rec, fmt.Errorf("task id is required")
	}
	row := s.db.QueryRow(
		`SELECT task_id, node_name, node_type, task_status, cluster_name,
                table_name, total, errors, task_context,
                started_at, finished_at, time_taken
         FROM crateflow_tasks WHERE task_id = ?`, taskID)

	var (
		tableName   sql.NullString
		ctxVal      sql.NullString
		startedAt   sql.NullString
		finishedAt  sql.NullString
		timeTaken   sql.NullFloat64
		taskContext map[string]any
	)
	if err := row.Scan(
		&rec.TaskID,
		&rec.NodeName,
		&rec.NodeType,
		&rec.Status,
		&rec.ClusterName,
		&tableName,
		&rec.Total,
		&rec.Errors,
		&ctxVal,
		&startedAt,
		&finishedAt,
		&timeTaken,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("fetch task %s: %w", taskID, err)
	}

	if tableName.Valid {
		rec.TableName = tableName.String
	}
	if timeTaken.Valid {
		rec.TimeTaken = timeTaken.Float64
	}
	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAt.String); err == nil {
			rec.StartedAt = t
		}
	}
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAt.String); err == nil {
			rec.FinishedAt = t
		}
	}
	if ctxVal.Valid && strings.TrimSpace(ctxVal.String) != "" {
		rec.RawTaskContext = ctxVal.String
		if err := json.Unmarshal([]byte(ctxVal.String), &taskContext); err == nil {
			rec.TaskContext = taskContext
		}
	}

	return rec, nil
}

func (s *Store) Create(rec Record) error {
	if err := rec.validateForCreate(); err != nil {
		return err
	}
	ctxVal, err := rec.contextValue()
	if err != nil {
		return fmt.Errorf("marshal task context: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO crateflow_tasks (
            task_id, node_name, node_type, task_status, cluster_name,
            table_name, total, errors, task_context,
            started_at, finished_at, time_taken
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID,
		rec.NodeName,
		rec.NodeType,
		rec.Status,
		rec.ClusterName,
		nullableString(rec.TableName),
		rec.Total,
		rec.Errors,
		ctxVal,
		timeOrNil(rec.StartedAt),
		timeOrNil(rec.FinishedAt),
		rec.TimeTaken,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) Update(rec Record) error {
	if strings.TrimSpace(rec.TaskID) == "" {
		return errors.New("task id is required")
	}
	ctxVal, err := rec.contextValue()
	if err != nil {
		return fmt.Errorf("marshal task context: %w", err)
	}

	res, err := s.db.Exec(
		`UPDATE crateflow_tasks SET
            task_status = ?,
            total = ?,
            errors = ?,
            task_context = ?,
            finished_at = ?,
            time_taken = ?
        WHERE task_id = ?`,
		rec.Status,
		rec.Total,
		rec.Errors,
		ctxVal,
		timeOrNil(rec.FinishedAt),
		rec.TimeTaken,
		rec.TaskID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ensureSchema() error {
	if _, err := s.db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("ensure crateflow_tasks schema: %w", err)
	}
	return nil
}

func (r Record) validateForCreate() error {
	if strings.TrimSpace(r.TaskID) == "" {
		return errors.New("task id is required")
	}
	if strings.TrimSpace(r.NodeName) == "" {
		return errors.New("node name is required")
	}
	if strings.TrimSpace(r.NodeType) == "" {
		return errors.New("node type is required")
	}
	if strings.TrimSpace(r.Status) == "" {
		return errors.New("task status is required")
	}
	if strings.TrimSpace(r.ClusterName) == "" {
		return errors.New("cluster name is required")
	}
	return nil
}

func (r Record) contextValue() (any, error) {
	if len(r.TaskContext) > 0 {
		blob, err := json.Marshal(r.TaskContext)
		if err != nil {
			return nil, err
		}
		return string(blob), nil
	}
	if strings.TrimSpace(r.RawTaskContext) != "" {
		return r.RawTaskContext, nil
	}
	return nil, nil
}

func resolvePath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := os.Getenv("CRATEFLOW_TASKS_DB"); strings.TrimSpace(env) != "" {
		return env
	}
	return filepath.Join(".", "crateflow_tasks.db")
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func nullableString(val string) any {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return val
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
