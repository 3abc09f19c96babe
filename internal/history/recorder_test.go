package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mystorage/mystorage/internal/common/logger"
	"github.com/mystorage/mystorage/internal/events"
	"github.com/mystorage/mystorage/internal/events/bus"
	"github.com/mystorage/mystorage/internal/history/repository"
	v1 "github.com/mystorage/mystorage/pkg/api/v1"
)

type stubSource struct {
	session *v1.Session
}

func (s *stubSource) Current() (*v1.Session, bool) {
	if s.session == nil {
		return nil, false
	}
	return s.session, true
}

func newRecorderFixture(t *testing.T, source *stubSource) (*repository.MemoryRepository, bus.EventBus) {
	t.Helper()

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)

	repo := repository.NewMemoryRepository()
	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	recorder := NewRecorder(repo, source, log)
	require.NoError(t, recorder.Attach(eventBus))
	return repo, eventBus
}

func TestRecorderPersistsCompletedSession(t *testing.T) {
	started := time.Now().Add(-time.Minute).UTC()
	finished := time.Now().UTC()
	source := &stubSource{session: &v1.Session{
		ID:              "sess-1",
		State:           v1.SessionStateCompleted,
		SourcePath:      "/data/in",
		DestinationPath: "/data/out",
		StartedAt:       &started,
		FinishedAt:      &finished,
		Outcome:         &v1.SessionOutcome{Success: true},
		Stats:           v1.StatsSnapshot{FilesProcessed: 5, TotalFiles: 5},
	}}
	repo, eventBus := newRecorderFixture(t, source)

	err := eventBus.Publish(context.Background(), events.SessionCompleted,
		bus.NewEvent(events.SessionCompleted, "test", map[string]interface{}{
			"session_id": "sess-1",
		}))
	require.NoError(t, err)

	record, err := repo.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", record.State)
	assert.True(t, record.Outcome.Success)
	assert.Equal(t, 5, record.Stats.FilesProcessed)
	require.NotNil(t, record.FinishedAt)
}

func TestRecorderPersistsFailedSession(t *testing.T) {
	source := &stubSource{session: &v1.Session{
		ID:      "sess-2",
		State:   v1.SessionStateFailed,
		Outcome: &v1.SessionOutcome{Success: false, ExitCode: 3, Diagnostic: "worker crashed"},
	}}
	repo, eventBus := newRecorderFixture(t, source)

	err := eventBus.Publish(context.Background(), events.SessionFailed,
		bus.NewEvent(events.SessionFailed, "test", map[string]interface{}{
			"session_id": "sess-2",
		}))
	require.NoError(t, err)

	record, err := repo.GetSession(context.Background(), "sess-2")
	require.NoError(t, err)
	assert.Equal(t, 3, record.Outcome.ExitCode)
	assert.Equal(t, "worker crashed", record.Outcome.Diagnostic)
}

func TestRecorderIgnoresNonTerminalEvents(t *testing.T) {
	source := &stubSource{session: &v1.Session{ID: "sess-3", State: v1.SessionStateRunning}}
	repo, eventBus := newRecorderFixture(t, source)

	err := eventBus.Publish(context.Background(), events.SessionLog,
		bus.NewEvent(events.SessionLog, "test", map[string]interface{}{
			"session_id": "sess-3",
			"line":       "working",
		}))
	require.NoError(t, err)

	_, err = repo.GetSession(context.Background(), "sess-3")
	assert.Error(t, err)
}

func TestRecorderSkipsStaleEvents(t *testing.T) {
	source := &stubSource{session: &v1.Session{ID: "sess-current", State: v1.SessionStateCompleted}}
	repo, eventBus := newRecorderFixture(t, source)

	err := eventBus.Publish(context.Background(), events.SessionCompleted,
		bus.NewEvent(events.SessionCompleted, "test", map[string]interface{}{
			"session_id": "sess-old",
		}))
	require.NoError(t, err)

	records, err := repo.ListSessions(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}
