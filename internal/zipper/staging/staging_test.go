package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mystorage/mystorage/internal/common/logger"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	return NewManager(log)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestStageCopiesFiles(t *testing.T) {
	m := newTestManager(t)
	srcDir := t.TempDir()
	destDir := filepath.Join(t.TempDir(), "temp_input")

	a := filepath.Join(srcDir, "a.txt")
	b := filepath.Join(srcDir, "b.txt")
	writeFile(t, a, "alpha")
	writeFile(t, b, "beta")

	result, err := m.Stage(context.Background(), []string{a, b}, destDir)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if len(result.Staged) != 2 {
		t.Fatalf("Staged count = %d, want 2", len(result.Staged))
	}
	if len(result.Skipped) != 0 {
		t.Errorf("Skipped count = %d, want 0", len(result.Skipped))
	}

	content, err := os.ReadFile(filepath.Join(destDir, "a.txt"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(content) != "alpha" {
		t.Errorf("staged content = %q, want %q", content, "alpha")
	}
}

func TestStageNameCollisions(t *testing.T) {
	m := newTestManager(t)
	srcA := t.TempDir()
	srcB := t.TempDir()
	srcC := t.TempDir()
	destDir := filepath.Join(t.TempDir(), "temp_input")

	first := filepath.Join(srcA, "report.txt")
	second := filepath.Join(srcB, "report.txt")
	third := filepath.Join(srcC, "report.txt")
	writeFile(t, first, "one")
	writeFile(t, second, "two")
	writeFile(t, third, "three")

	result, err := m.Stage(context.Background(), []string{first, second, third}, destDir)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	want := []string{"report.txt", "report_1.txt", "report_2.txt"}
	if len(result.Staged) != len(want) {
		t.Fatalf("Staged count = %d, want %d", len(result.Staged), len(want))
	}
	for i, staged := range result.Staged {
		if staged.StagedName != want[i] {
			t.Errorf("Staged[%d].StagedName = %q, want %q", i, staged.StagedName, want[i])
		}
	}

	content, err := os.ReadFile(filepath.Join(destDir, "report_2.txt"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(content) != "three" {
		t.Errorf("report_2.txt content = %q, want %q", content, "three")
	}
}

func TestStageCollisionKeepsExtension(t *testing.T) {
	destDir := t.TempDir()
	writeFile(t, filepath.Join(destDir, "archive.tar.gz"), "existing")

	got := uniqueName(destDir, "archive.tar.gz")
	if got != "archive.tar_1.gz" {
		t.Errorf("uniqueName() = %q, want %q", got, "archive.tar_1.gz")
	}
}

func TestStageFlattensDirectories(t *testing.T) {
	m := newTestManager(t)
	srcDir := t.TempDir()
	destDir := filepath.Join(t.TempDir(), "temp_input")

	writeFile(t, filepath.Join(srcDir, "top.txt"), "top")
	writeFile(t, filepath.Join(srcDir, "nested", "deep", "leaf.txt"), "leaf")

	result, err := m.Stage(context.Background(), []string{srcDir}, destDir)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if len(result.Staged) != 2 {
		t.Fatalf("Staged count = %d, want 2", len(result.Staged))
	}

	for _, name := range []string{"top.txt", "leaf.txt"} {
		if _, err := os.Stat(filepath.Join(destDir, name)); err != nil {
			t.Errorf("expected %s in staging dir: %v", name, err)
		}
	}
	entries, err := os.ReadDir(destDir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			t.Errorf("staging dir contains subdirectory %s, want flat layout", e.Name())
		}
	}
}

func TestStageSkipsVanishedSources(t *testing.T) {
	m := newTestManager(t)
	srcDir := t.TempDir()
	destDir := filepath.Join(t.TempDir(), "temp_input")

	present := filepath.Join(srcDir, "present.txt")
	writeFile(t, present, "here")
	missing := filepath.Join(srcDir, "missing.txt")

	result, err := m.Stage(context.Background(), []string{missing, present}, destDir)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if len(result.Staged) != 1 {
		t.Fatalf("Staged count = %d, want 1", len(result.Staged))
	}
	if result.Staged[0].StagedName != "present.txt" {
		t.Errorf("StagedName = %q, want %q", result.Staged[0].StagedName, "present.txt")
	}
	if len(result.Skipped) != 1 {
		t.Fatalf("Skipped count = %d, want 1", len(result.Skipped))
	}
	if result.Skipped[0].SourcePath != missing {
		t.Errorf("Skipped[0].SourcePath = %q, want %q", result.Skipped[0].SourcePath, missing)
	}
}

func TestUnstageRemovesDirectory(t *testing.T) {
	m := newTestManager(t)
	srcDir := t.TempDir()
	destDir := filepath.Join(t.TempDir(), "temp_input")

	f := filepath.Join(srcDir, "a.txt")
	writeFile(t, f, "alpha")
	if _, err := m.Stage(context.Background(), []string{f}, destDir); err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	m.Unstage(destDir)
	if _, err := os.Stat(destDir); !os.IsNotExist(err) {
		t.Errorf("staging dir still exists after Unstage, stat err = %v", err)
	}

	// idempotent on a missing directory
	m.Unstage(destDir)
}

func TestStageCanceledContext(t *testing.T) {
	m := newTestManager(t)
	srcDir := t.TempDir()
	destDir := filepath.Join(t.TempDir(), "temp_input")

	f := filepath.Join(srcDir, "a.txt")
	writeFile(t, f, "alpha")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Stage(ctx, []string{f}, destDir)
	if err == nil {
		t.Fatal("Stage() with canceled context, want error")
	}
}
