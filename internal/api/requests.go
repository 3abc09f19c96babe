// Package api provides HTTP handlers for the zipper manager API.
package api

import "time"

// StartSessionRequest starts a worker session. Secret is passed to the
// worker through its environment and is never echoed back.
type StartSessionRequest struct {
	SourcePath      string   `json:"source_path"`
	DestinationPath string   `json:"destination_path" binding:"required"`
	Secret          string   `json:"secret" binding:"required"`
	Parallelism     int      `json:"parallelism"`
	SelectedFiles   []string `json:"selected_files,omitempty"`
}

// PublishRequest commits and pushes the repository's pending changes.
// UserName and UserEmail override the configured credentials when set.
type PublishRequest struct {
	CommitMessage string `json:"commit_message" binding:"required"`
	UserName      string `json:"user_name,omitempty"`
	UserEmail     string `json:"user_email,omitempty"`
}

// SessionHistoryResponse for listing past sessions
type SessionHistoryResponse struct {
	Sessions []SessionRecordResponse `json:"sessions"`
	Total    int                     `json:"total"`
}

// SessionRecordResponse is one persisted session in history listings
type SessionRecordResponse struct {
	ID              string     `json:"id"`
	SourcePath      string     `json:"source_path"`
	DestinationPath string     `json:"destination_path"`
	State           string     `json:"state"`
	Success         bool       `json:"success"`
	Stopped         bool       `json:"stopped"`
	ExitCode        int        `json:"exit_code"`
	Diagnostic      string     `json:"diagnostic,omitempty"`
	FilesProcessed  int        `json:"files_processed"`
	FilesFailed     int        `json:"files_failed"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// PushHistoryResponse for listing past publish attempts
type PushHistoryResponse struct {
	Pushes []PushRecordResponse `json:"pushes"`
	Total  int                  `json:"total"`
}

// PushRecordResponse is one persisted publish attempt
type PushRecordResponse struct {
	ID            string    `json:"id"`
	CommitMessage string    `json:"commit_message"`
	Success       bool      `json:"success"`
	FailedStep    string    `json:"failed_step,omitempty"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"created_at"`
}

// HealthResponse for health check
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
