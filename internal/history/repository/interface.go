// Package repository persists session and push history. Two backends are
// provided: an in-memory store for tests and ephemeral runs, and a SQLite
// store for durable history.
package repository

import (
	"context"
	"time"

	v1 "github.com/mystorage/mystorage/pkg/api/v1"
)

// SessionRecord is the durable trace of one finished worker session.
// It never contains the session's secret.
type SessionRecord struct {
	ID              string            `json:"id"`
	SourcePath      string            `json:"source_path"`
	DestinationPath string            `json:"destination_path"`
	State           string            `json:"state"`
	Outcome         v1.SessionOutcome `json:"outcome"`
	Stats           v1.StatsSnapshot  `json:"stats"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// PushRecord is the durable trace of one publish attempt.
type PushRecord struct {
	ID            string    `json:"id"`
	CommitMessage string    `json:"commit_message"`
	Success       bool      `json:"success"`
	FailedStep    string    `json:"failed_step,omitempty"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"created_at"`
}

// Repository provides history storage operations.
type Repository interface {
	// RecordSession stores a finished session. An empty ID is assigned one.
	RecordSession(ctx context.Context, record *SessionRecord) error

	// GetSession retrieves a session record by ID
	GetSession(ctx context.Context, id string) (*SessionRecord, error)

	// ListSessions returns records newest first, up to limit (0 = all)
	ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error)

	// RecordPush stores a publish attempt. An empty ID is assigned one.
	RecordPush(ctx context.Context, record *PushRecord) error

	// ListPushes returns push records newest first, up to limit (0 = all)
	ListPushes(ctx context.Context, limit int) ([]*PushRecord, error)

	// Close releases backend resources
	Close() error
}
