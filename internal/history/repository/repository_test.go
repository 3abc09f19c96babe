package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	v1 "github.com/mystorage/mystorage/pkg/api/v1"
)

// backends runs a subtest against each repository implementation.
func backends(t *testing.T, fn func(t *testing.T, repo Repository)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		repo := NewMemoryRepository()
		defer repo.Close()
		fn(t, repo)
	})

	t.Run("sqlite", func(t *testing.T) {
		repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "history.db"))
		if err != nil {
			t.Fatalf("NewSQLiteRepository() error = %v", err)
		}
		defer repo.Close()
		fn(t, repo)
	})
}

func TestRecordAndGetSession(t *testing.T) {
	backends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		started := time.Now().UTC().Add(-time.Minute)
		finished := time.Now().UTC()

		record := &SessionRecord{
			SourcePath:      "/data/input",
			DestinationPath: "/data/output",
			State:           "COMPLETED",
			Outcome:         v1.SessionOutcome{Success: true},
			Stats: v1.StatsSnapshot{
				FilesProcessed:  10,
				TotalFiles:      12,
				FilesFailed:     2,
				TotalInputBytes: 2000000,
			},
			StartedAt:  &started,
			FinishedAt: &finished,
		}
		if err := repo.RecordSession(ctx, record); err != nil {
			t.Fatalf("RecordSession() error = %v", err)
		}
		if record.ID == "" {
			t.Fatal("RecordSession() did not assign an ID")
		}

		got, err := repo.GetSession(ctx, record.ID)
		if err != nil {
			t.Fatalf("GetSession() error = %v", err)
		}
		if got.State != "COMPLETED" {
			t.Errorf("State = %q, want COMPLETED", got.State)
		}
		if !got.Outcome.Success {
			t.Error("Outcome.Success = false, want true")
		}
		if got.Stats.FilesProcessed != 10 || got.Stats.TotalInputBytes != 2000000 {
			t.Errorf("Stats = %+v, want files_processed=10 input_bytes=2000000", got.Stats)
		}
		if got.StartedAt == nil || got.FinishedAt == nil {
			t.Error("timestamps not round-tripped")
		}
	})
}

func TestGetSessionNotFound(t *testing.T) {
	backends(t, func(t *testing.T, repo Repository) {
		if _, err := repo.GetSession(context.Background(), "no-such-id"); err == nil {
			t.Fatal("GetSession() error = nil, want not-found")
		}
	})
}

func TestListSessionsNewestFirst(t *testing.T) {
	backends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		for _, state := range []string{"FAILED", "COMPLETED", "COMPLETED"} {
			if err := repo.RecordSession(ctx, &SessionRecord{State: state}); err != nil {
				t.Fatalf("RecordSession() error = %v", err)
			}
			time.Sleep(2 * time.Millisecond)
		}

		all, err := repo.ListSessions(ctx, 0)
		if err != nil {
			t.Fatalf("ListSessions() error = %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("ListSessions(0) count = %d, want 3", len(all))
		}
		if all[2].State != "FAILED" {
			t.Errorf("oldest record State = %q, want FAILED", all[2].State)
		}

		limited, err := repo.ListSessions(ctx, 2)
		if err != nil {
			t.Fatalf("ListSessions(2) error = %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("ListSessions(2) count = %d, want 2", len(limited))
		}
	})
}

func TestRecordAndListPushes(t *testing.T) {
	backends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		if err := repo.RecordPush(ctx, &PushRecord{
			CommitMessage: "backup 2026-08-31",
			Success:       true,
			Message:       "push successful",
		}); err != nil {
			t.Fatalf("RecordPush() error = %v", err)
		}
		time.Sleep(2 * time.Millisecond)
		if err := repo.RecordPush(ctx, &PushRecord{
			CommitMessage: "backup again",
			Success:       false,
			FailedStep:    "commit",
			Message:       "nothing to commit",
		}); err != nil {
			t.Fatalf("RecordPush() error = %v", err)
		}

		pushes, err := repo.ListPushes(ctx, 0)
		if err != nil {
			t.Fatalf("ListPushes() error = %v", err)
		}
		if len(pushes) != 2 {
			t.Fatalf("ListPushes() count = %d, want 2", len(pushes))
		}
		if pushes[0].FailedStep != "commit" {
			t.Errorf("newest push FailedStep = %q, want commit", pushes[0].FailedStep)
		}
		if !pushes[1].Success {
			t.Error("oldest push Success = false, want true")
		}
	})
}
