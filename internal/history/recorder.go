// Package history persists completed sessions and publish attempts.
package history

import (
	"context"

	"go.uber.org/zap"

	"github.com/mystorage/mystorage/internal/common/logger"
	"github.com/mystorage/mystorage/internal/events"
	"github.com/mystorage/mystorage/internal/events/bus"
	"github.com/mystorage/mystorage/internal/history/repository"
	v1 "github.com/mystorage/mystorage/pkg/api/v1"
)

// SessionSource exposes the current session snapshot. The snapshot never
// contains the worker secret, so neither does anything recorded here.
type SessionSource interface {
	Current() (*v1.Session, bool)
}

// Recorder writes a history record whenever a session reaches a terminal
// state.
type Recorder struct {
	repo   repository.Repository
	source SessionSource
	logger *logger.Logger
}

// NewRecorder creates a recorder backed by the given repository.
func NewRecorder(repo repository.Repository, source SessionSource, log *logger.Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		source: source,
		logger: log.WithFields(zap.String("component", "history-recorder")),
	}
}

// Attach subscribes the recorder to terminal session events on the bus.
func (r *Recorder) Attach(eventBus bus.EventBus) error {
	handler := func(ctx context.Context, event *bus.Event) error {
		r.record(ctx, event)
		return nil
	}

	if _, err := eventBus.Subscribe(events.SessionCompleted, handler); err != nil {
		return err
	}
	if _, err := eventBus.Subscribe(events.SessionFailed, handler); err != nil {
		return err
	}
	return nil
}

func (r *Recorder) record(ctx context.Context, event *bus.Event) {
	session, ok := r.source.Current()
	if !ok {
		return
	}

	eventSessionID, _ := event.Data["session_id"].(string)
	if eventSessionID != "" && eventSessionID != session.ID {
		// The event is for a session the supervisor no longer holds.
		r.logger.Warn("skipping history record for stale session",
			zap.String("event_session_id", eventSessionID),
			zap.String("current_session_id", session.ID))
		return
	}

	record := &repository.SessionRecord{
		ID:              session.ID,
		SourcePath:      session.SourcePath,
		DestinationPath: session.DestinationPath,
		State:           string(session.State),
		Stats:           session.Stats,
		StartedAt:       session.StartedAt,
		FinishedAt:      session.FinishedAt,
	}
	if session.Outcome != nil {
		record.Outcome = *session.Outcome
	}

	if err := r.repo.RecordSession(ctx, record); err != nil {
		r.logger.Error("failed to record session",
			zap.String("session_id", session.ID),
			zap.Error(err))
	}
}
