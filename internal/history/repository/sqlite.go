package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	v1 "github.com/mystorage/mystorage/pkg/api/v1"
)

// SQLiteRepository provides SQLite-based history storage operations
type SQLiteRepository struct {
	db *sql.DB
}

// Ensure SQLiteRepository implements Repository interface
var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a new SQLite history repository
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &SQLiteRepository{db: db}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// initSchema creates the database tables if they don't exist
func (r *SQLiteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		source_path TEXT NOT NULL,
		destination_path TEXT NOT NULL,
		state TEXT NOT NULL,
		success INTEGER NOT NULL DEFAULT 0,
		stopped INTEGER NOT NULL DEFAULT 0,
		exit_code INTEGER NOT NULL DEFAULT 0,
		diagnostic TEXT DEFAULT '',
		stats TEXT DEFAULT '{}',
		started_at DATETIME,
		finished_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pushes (
		id TEXT PRIMARY KEY,
		commit_message TEXT NOT NULL,
		success INTEGER NOT NULL DEFAULT 0,
		failed_step TEXT DEFAULT '',
		message TEXT DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);
	CREATE INDEX IF NOT EXISTS idx_pushes_created_at ON pushes(created_at);
	`

	_, err := r.db.Exec(schema)
	return err
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// RecordSession stores a finished session record
func (r *SQLiteRepository) RecordSession(ctx context.Context, record *SessionRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.CreatedAt = time.Now().UTC()

	stats, err := json.Marshal(record.Stats)
	if err != nil {
		stats = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, source_path, destination_path, state, success, stopped, exit_code, diagnostic, stats, started_at, finished_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.ID, record.SourcePath, record.DestinationPath, record.State,
		record.Outcome.Success, record.Outcome.Stopped, record.Outcome.ExitCode, record.Outcome.Diagnostic,
		string(stats), record.StartedAt, record.FinishedAt, record.CreatedAt)

	return err
}

// GetSession retrieves a session record by ID
func (r *SQLiteRepository) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, source_path, destination_path, state, success, stopped, exit_code, diagnostic, stats, started_at, finished_at, created_at
		FROM sessions WHERE id = ?
	`, id)

	record, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session record not found: %s", id)
	}
	return record, err
}

// ListSessions returns session records newest first, up to limit (0 = all)
func (r *SQLiteRepository) ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	query := `
		SELECT id, source_path, destination_path, state, success, stopped, exit_code, diagnostic, stats, started_at, finished_at, created_at
		FROM sessions ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*SessionRecord
	for rows.Next() {
		record, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

// scanner covers both sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(s scanner) (*SessionRecord, error) {
	record := &SessionRecord{}
	var stats string
	err := s.Scan(&record.ID, &record.SourcePath, &record.DestinationPath, &record.State,
		&record.Outcome.Success, &record.Outcome.Stopped, &record.Outcome.ExitCode, &record.Outcome.Diagnostic,
		&stats, &record.StartedAt, &record.FinishedAt, &record.CreatedAt)
	if err != nil {
		return nil, err
	}
	if unmarshalErr := json.Unmarshal([]byte(stats), &record.Stats); unmarshalErr != nil {
		record.Stats = v1.StatsSnapshot{}
	}
	return record, nil
}

// RecordPush stores a publish attempt
func (r *SQLiteRepository) RecordPush(ctx context.Context, record *PushRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pushes (id, commit_message, success, failed_step, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, record.ID, record.CommitMessage, record.Success, record.FailedStep, record.Message, record.CreatedAt)

	return err
}

// ListPushes returns push records newest first, up to limit (0 = all)
func (r *SQLiteRepository) ListPushes(ctx context.Context, limit int) ([]*PushRecord, error) {
	query := `
		SELECT id, commit_message, success, failed_step, message, created_at
		FROM pushes ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*PushRecord
	for rows.Next() {
		record := &PushRecord{}
		err := rows.Scan(&record.ID, &record.CommitMessage, &record.Success, &record.FailedStep, &record.Message, &record.CreatedAt)
		if err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, rows.Err()
}
