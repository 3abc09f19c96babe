// Package events provides event types and utilities for the zipper manager
// event system.
package events

// Event types for worker sessions
const (
	SessionStarted   = "session.started"
	SessionLog       = "session.log"
	SessionStats     = "session.stats"
	SessionStopping  = "session.stopping"
	SessionCompleted = "session.completed"
	SessionFailed    = "session.failed"
)

// Event types for the storage repository
const (
	RepositoryStatusChecked = "repository.status"
	RepositoryPublished     = "repository.published"
)

// SubjectSessions matches every session event.
const SubjectSessions = "session.>"
