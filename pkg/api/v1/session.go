package v1

import "time"

// SessionState represents the state of a zipper session
type SessionState string

const (
	SessionStateIdle      SessionState = "IDLE"
	SessionStateStarting  SessionState = "STARTING"
	SessionStateRunning   SessionState = "RUNNING"
	SessionStateStopping  SessionState = "STOPPING"
	SessionStateCompleted SessionState = "COMPLETED"
	SessionStateFailed    SessionState = "FAILED"
)

// Terminal reports whether the state is a terminal state.
func (s SessionState) Terminal() bool {
	return s == SessionStateCompleted || s == SessionStateFailed
}

// StatsSnapshot is an immutable copy of the accumulated processing statistics
// at one point in time. Counters are raw values parsed from worker output;
// CompressionRatio is derived, never accumulated.
type StatsSnapshot struct {
	FilesProcessed   int           `json:"files_processed"`
	FilesFailed      int           `json:"files_failed"`
	TotalFiles       int           `json:"total_files"`
	TotalInputBytes  uint64        `json:"total_input_bytes"`
	TotalOutputBytes uint64        `json:"total_output_bytes"`
	ProcessingTime   time.Duration `json:"processing_time_ns"`
	ThroughputBps    float64       `json:"throughput_bps"`
	CompressionRatio float64       `json:"compression_ratio"`
}

// SessionOutcome is the exit outcome of a worker session.
type SessionOutcome struct {
	Success    bool   `json:"success"`
	Stopped    bool   `json:"stopped"` // terminated by a stop request, not by the worker
	ExitCode   int    `json:"exit_code"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Session represents one worker execution. The secret used to start the
// session is deliberately absent from this type.
type Session struct {
	ID              string          `json:"id"`
	State           SessionState    `json:"state"`
	SourcePath      string          `json:"source_path"`
	DestinationPath string          `json:"destination_path"`
	Parallelism     int             `json:"parallelism"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
	Outcome         *SessionOutcome `json:"outcome,omitempty"`
	Stats           StatsSnapshot   `json:"stats"`
}

// RepositoryStatus is a point-in-time snapshot of the storage repository.
// A path can appear in more than one category (e.g. staged and then further
// modified); that is intentional and preserved as-is.
type RepositoryStatus struct {
	Branch           string   `json:"branch"`
	HasChanges       bool     `json:"has_changes"`
	Modified         []string `json:"modified"`
	Untracked        []string `json:"untracked"`
	Staged           []string `json:"staged"`
	Deleted          []string `json:"deleted"`
	RevertInProgress bool     `json:"revert_in_progress"`
}

// PushOutcome is the fully resolved result of one commit+publish attempt.
type PushOutcome struct {
	Success    bool   `json:"success"`
	FailedStep string `json:"failed_step,omitempty"` // identity, add, commit, push
	Message    string `json:"message"`
}

// StagedFile is one entry in a collision-safe staging set.
type StagedFile struct {
	SourcePath string `json:"source_path"`
	StagedName string `json:"staged_name"`
	StagingDir string `json:"staging_dir"`
}
